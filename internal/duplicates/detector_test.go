package duplicates

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/council-daemon/internal/domain"
)

type fakeHistory struct {
	earliest map[[48]byte]*domain.SigningKeyAddedEvent
}

func (f *fakeHistory) EarliestForPubkey(pubkey [48]byte) (*domain.SigningKeyAddedEvent, error) {
	return f.earliest[pubkey], nil
}

func keyAt(pubkey byte, operatorIndex, index uint32) *domain.RegistryKey {
	k := &domain.RegistryKey{OperatorIndex: operatorIndex, Index: index}
	k.Key[0] = pubkey
	k.DepositSignature[0] = pubkey // same signature by default
	return k
}

// TestNoHistoryFallsBackToLexicographic is testable property 5 from
// spec.md §8: two operators of one module share a pubkey, no SigningKeyAdded
// history exists for it, so the lowest (moduleId, operatorIndex, index)
// instance wins and the other becomes a duplicate.
func TestNoHistoryFallsBackToLexicographic(t *testing.T) {
	h := &fakeHistory{earliest: map[[48]byte]*domain.SigningKeyAddedEvent{}}

	keyOp1 := keyAt(0xAA, 1, 0)
	keyOp2 := keyAt(0xAA, 2, 0)

	vetted := map[uint32][]*domain.RegistryKey{
		1: {keyOp1, keyOp2},
	}

	result, err := Detect(h, vetted)
	require.NoError(t, err)
	require.Len(t, result[1], 1)
	require.Equal(t, keyOp2, result[1][0]) // operator 2's copy is the duplicate
}

func TestHistoryPicksCanonicalAcrossModules(t *testing.T) {
	pubkey := [48]byte{0xBB}
	h := &fakeHistory{earliest: map[[48]byte]*domain.SigningKeyAddedEvent{
		pubkey: {ModuleID: 2, OperatorIndex: 5},
	}}

	keyModule1 := &domain.RegistryKey{Key: pubkey, OperatorIndex: 1}
	keyModule2 := &domain.RegistryKey{Key: pubkey, OperatorIndex: 5}

	vetted := map[uint32][]*domain.RegistryKey{
		1: {keyModule1},
		2: {keyModule2},
	}

	result, err := Detect(h, vetted)
	require.NoError(t, err)
	require.Len(t, result[1], 1)
	require.Equal(t, keyModule1, result[1][0])
	require.Empty(t, result[2])
}

func TestDifferingSignaturesMarksAllUnsafe(t *testing.T) {
	h := &fakeHistory{earliest: map[[48]byte]*domain.SigningKeyAddedEvent{}}

	keyA := &domain.RegistryKey{OperatorIndex: 1}
	keyA.Key[0] = 0xCC
	keyA.DepositSignature[0] = 0x01

	keyB := &domain.RegistryKey{OperatorIndex: 2}
	keyB.Key[0] = 0xCC
	keyB.DepositSignature[0] = 0x02

	vetted := map[uint32][]*domain.RegistryKey{1: {keyA, keyB}}

	result, err := Detect(h, vetted)
	require.NoError(t, err)
	require.ElementsMatch(t, []*domain.RegistryKey{keyA, keyB}, result[1])
}

func TestUniqueKeyNeverFlagged(t *testing.T) {
	h := &fakeHistory{earliest: map[[48]byte]*domain.SigningKeyAddedEvent{}}
	key := keyAt(0xDD, 0, 0)

	result, err := Detect(h, map[uint32][]*domain.RegistryKey{1: {key}})
	require.NoError(t, err)
	require.Empty(t, result)
}
