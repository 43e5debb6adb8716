package frontrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/council-daemon/internal/domain"
)

type fakeFinder struct {
	owned map[[48]byte]bool
}

func (f *fakeFinder) FindKeys(ctx context.Context, pubkeys []string) (map[[48]byte]bool, error) {
	return f.owned, nil
}

func depositEvent(pubkey byte, blockNumber, logIndex uint64, wc byte, valid bool) *domain.VerifiedDepositEvent {
	e := &domain.VerifiedDepositEvent{BlockNumber: blockNumber, LogIndex: logIndex, Valid: valid}
	e.Pubkey[0] = pubkey
	e.WithdrawalCredentials[0] = wc
	return e
}

func TestOnChainFrontRunFiltersByWCAndValidity(t *testing.T) {
	var lidoWC [32]byte
	lidoWC[0] = 0x01

	key := &domain.RegistryKey{}
	key.Key[0] = 0xAA

	frontRunDeposit := depositEvent(0xAA, 1, 0, 0x02, true) // wrong WC, valid sig
	invalidDeposit := depositEvent(0xAA, 1, 1, 0x02, false) // wrong WC, invalid sig: excluded

	events := []*domain.VerifiedDepositEvent{frontRunDeposit, invalidDeposit}
	vetted := map[uint32][]*domain.RegistryKey{1: {key}}

	result := OnChainFrontRun(events, lidoWC, vetted)
	require.Len(t, result[1], 1)
	require.Equal(t, key, result[1][0])
}

func TestOnChainFrontRunIgnoresLidoWCDeposits(t *testing.T) {
	var lidoWC [32]byte
	lidoWC[0] = 0x01

	key := &domain.RegistryKey{}
	key.Key[0] = 0xBB

	legit := depositEvent(0xBB, 1, 0, 0x01, true)
	events := []*domain.VerifiedDepositEvent{legit}
	vetted := map[uint32][]*domain.RegistryKey{1: {key}}

	result := OnChainFrontRun(events, lidoWC, vetted)
	require.Empty(t, result)
}

// TestHistoricalFrontRunDetectsTheft is testable property 6 from
// spec.md §8: a bad-WC deposit at block N-1 and a Lido-WC deposit at block N
// for the same pubkey, confirmed Lido-owned by /v1/keys/find, must set
// theftHappened=true.
func TestHistoricalFrontRunDetectsTheft(t *testing.T) {
	var lidoWC [32]byte
	lidoWC[0] = 0x01

	badDeposit := depositEvent(0xCC, 10, 0, 0x02, true)  // earlier, wrong WC
	lidoDeposit := depositEvent(0xCC, 11, 0, 0x01, true) // later, Lido WC

	finder := &fakeFinder{owned: map[[48]byte]bool{badDeposit.Pubkey: true}}

	theft, err := HistoricalFrontRun(context.Background(), finder, []*domain.VerifiedDepositEvent{badDeposit, lidoDeposit}, lidoWC)
	require.NoError(t, err)
	require.True(t, theft)
}

func TestHistoricalFrontRunRequiresEarlierBadDeposit(t *testing.T) {
	var lidoWC [32]byte
	lidoWC[0] = 0x01

	lidoDeposit := depositEvent(0xDD, 10, 0, 0x01, true)
	laterBadDeposit := depositEvent(0xDD, 11, 0, 0x02, true) // after the Lido deposit: not theft

	finder := &fakeFinder{owned: map[[48]byte]bool{lidoDeposit.Pubkey: true}}

	theft, err := HistoricalFrontRun(context.Background(), finder, []*domain.VerifiedDepositEvent{lidoDeposit, laterBadDeposit}, lidoWC)
	require.NoError(t, err)
	require.False(t, theft)
}

func TestHistoricalFrontRunRequiresKeysIndexConfirmation(t *testing.T) {
	var lidoWC [32]byte
	lidoWC[0] = 0x01

	badDeposit := depositEvent(0xEE, 10, 0, 0x02, true)
	lidoDeposit := depositEvent(0xEE, 11, 0, 0x01, true)

	finder := &fakeFinder{owned: map[[48]byte]bool{}} // keys-index says not Lido's

	theft, err := HistoricalFrontRun(context.Background(), finder, []*domain.VerifiedDepositEvent{badDeposit, lidoDeposit}, lidoWC)
	require.NoError(t, err)
	require.False(t, theft)
}

func TestSameBlockOrderingUsesLogIndex(t *testing.T) {
	a := depositEvent(0x11, 5, 2, 0, true)
	b := depositEvent(0x11, 5, 3, 0, true)
	require.True(t, isEarlier(a, b))
	require.False(t, isEarlier(b, a))
}
