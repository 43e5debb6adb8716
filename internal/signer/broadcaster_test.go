package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInFlightGuardOnlyAllowsOneHolderAtATime(t *testing.T) {
	var g inFlightGuard

	require.True(t, g.tryAcquire())
	require.False(t, g.tryAcquire(), "a second acquire must fail while the first is held")

	g.release()
	require.True(t, g.tryAcquire(), "after release, acquire must succeed again")
}

func TestParseDSMABIExposesBothStateChangingMethods(t *testing.T) {
	a, err := parseDSMABI()
	require.NoError(t, err)
	require.Contains(t, a.Methods, "pauseDeposits")
	require.Contains(t, a.Methods, "unvetSigningKeys")
}
