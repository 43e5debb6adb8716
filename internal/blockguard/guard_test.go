package blockguard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/council-daemon/internal/domain"
)

func meta(number uint64, hash byte) domain.StateMeta {
	m := domain.StateMeta{BlockNumber: number}
	m.BlockHash[0] = hash
	return m
}

func TestFreshGuardNeedsProcessing(t *testing.T) {
	g := New()
	require.True(t, g.IsNeedToProcessNewState(meta(1, 0x01)))
}

func TestLowerOrEqualBlockNumberSkipped(t *testing.T) {
	g := New()
	g.MarkProcessed(meta(10, 0x0A))

	require.False(t, g.IsNeedToProcessNewState(meta(10, 0x0A)))
	require.False(t, g.IsNeedToProcessNewState(meta(9, 0x09)))
}

func TestSameBlockHashSkippedEvenAtHigherNumber(t *testing.T) {
	g := New()
	g.MarkProcessed(meta(10, 0x0A))

	// pathological but spec-mandated: identical hash short-circuits
	require.False(t, g.IsNeedToProcessNewState(meta(10, 0x0A)))
}

func TestNewerBlockNeedsProcessing(t *testing.T) {
	g := New()
	g.MarkProcessed(meta(10, 0x0A))
	require.True(t, g.IsNeedToProcessNewState(meta(11, 0x0B)))
}

func TestReorgDetection(t *testing.T) {
	g := New()
	g.ObserveBlock(100, [32]byte{0xAA})

	require.False(t, g.WasSeenAsDifferentHash(100, [32]byte{0xAA}))
	require.True(t, g.WasSeenAsDifferentHash(100, [32]byte{0xBB}))
	require.False(t, g.WasSeenAsDifferentHash(101, [32]byte{0xCC})) // never seen
}

func TestMarkProcessedOnlyOnSuccessNotSkippedOnAbort(t *testing.T) {
	g := New()
	g.MarkProcessed(meta(5, 0x05))
	// simulate an aborted tick for block 6: caller never calls MarkProcessed
	require.True(t, g.IsNeedToProcessNewState(meta(6, 0x06)))
	require.Equal(t, uint64(5), g.LastProcessed().BlockNumber)
}
