package depositindexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/merkletree"
)

func depositEvent(wc [32]byte, pubkey byte, amount uint64) *domain.VerifiedDepositEvent {
	e := &domain.VerifiedDepositEvent{WithdrawalCredentials: wc, AmountGwei: amount, Valid: true}
	e.Pubkey[0] = pubkey
	e.DepositDataRoot = merkletree.FormDepositNode(e.WithdrawalCredentials, e.Pubkey, e.Signature, e.AmountGwei)
	return e
}

func TestCheckIntegrityAcceptsMatchingRootAndCount(t *testing.T) {
	var wc [32]byte
	wc[0] = 1

	events := []*domain.VerifiedDepositEvent{
		depositEvent(wc, 0x01, 32_000_000_000),
		depositEvent(wc, 0x02, 32_000_000_000),
	}

	tree := merkletree.New()
	for _, e := range events {
		tree.Insert(e.DepositDataRoot)
	}

	ok, err := CheckIntegrity(events, tree.Root(), tree.NodeCount())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckIntegrityRejectsCountMismatch(t *testing.T) {
	var wc [32]byte
	events := []*domain.VerifiedDepositEvent{depositEvent(wc, 0x01, 32_000_000_000)}

	ok, err := CheckIntegrity(events, merkletree.New().Root(), 5)
	require.Error(t, err)
	require.False(t, ok)
}

func TestCheckIntegrityRejectsRootMismatch(t *testing.T) {
	var wc [32]byte
	events := []*domain.VerifiedDepositEvent{depositEvent(wc, 0x01, 32_000_000_000)}

	tree := merkletree.New()
	tree.Insert(events[0].DepositDataRoot)

	var wrongRoot [32]byte
	wrongRoot[0] = 0xFF

	ok, err := CheckIntegrity(events, wrongRoot, tree.NodeCount())
	require.Error(t, err)
	require.False(t, ok)
}

func TestDepositEventTopicIsStable(t *testing.T) {
	a := DepositEventTopic()
	b := DepositEventTopic()
	require.Equal(t, a, b)
	require.NotEqual(t, [32]byte{}, [32]byte(a))
}
