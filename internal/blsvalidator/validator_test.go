package blsvalidator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/council-daemon/internal/domain"
)

func keyWithSig(pubkey byte, sig byte) *domain.RegistryKey {
	k := &domain.RegistryKey{}
	k.Key[0] = pubkey
	k.DepositSignature[0] = sig
	return k
}

// TestCacheReusesResultWhenUnchanged is testable property 4 from spec.md §8.
func TestCacheReusesResultWhenUnchanged(t *testing.T) {
	v := New([4]byte{})

	var calls [][48]byte
	v.SetVerifyFuncForTesting(func(pubkey [48]byte, wc [32]byte, sig [96]byte) bool {
		calls = append(calls, pubkey)
		return true
	})

	keys := []*domain.RegistryKey{keyWithSig(1, 1), keyWithSig(2, 2)}
	var wc [32]byte

	invalid := v.GetInvalidKeys(keys, wc)
	require.Empty(t, invalid)
	require.Len(t, calls, 2)

	// Identical call: verifier must not be invoked again for either key.
	calls = nil
	invalid = v.GetInvalidKeys(keys, wc)
	require.Empty(t, invalid)
	require.Empty(t, calls)
}

func TestCacheRevalidatesOnlyChangedKey(t *testing.T) {
	v := New([4]byte{})
	v.SetVerifyFuncForTesting(func(pubkey [48]byte, wc [32]byte, sig [96]byte) bool { return true })

	keys := []*domain.RegistryKey{keyWithSig(1, 1), keyWithSig(2, 2)}
	var wc [32]byte
	v.GetInvalidKeys(keys, wc)

	var calls [][48]byte
	v.SetVerifyFuncForTesting(func(pubkey [48]byte, wc [32]byte, sig [96]byte) bool {
		calls = append(calls, pubkey)
		return true
	})

	keys[0].DepositSignature[0] = 0xFF // key 1's signature changed
	v.GetInvalidKeys(keys, wc)

	require.Len(t, calls, 1)
	require.Equal(t, keys[0].Key, calls[0])
}

func TestWCChangeInvalidatesEveryEntry(t *testing.T) {
	v := New([4]byte{})
	callCount := 0
	v.SetVerifyFuncForTesting(func(pubkey [48]byte, wc [32]byte, sig [96]byte) bool {
		callCount++
		return true
	})

	keys := []*domain.RegistryKey{keyWithSig(1, 1), keyWithSig(2, 2)}
	var wc [32]byte
	v.GetInvalidKeys(keys, wc)
	require.Equal(t, 2, callCount)

	callCount = 0
	wc[0] = 0x01 // lidoWC rotated
	v.GetInvalidKeys(keys, wc)
	require.Equal(t, 2, callCount)
}

func TestGetInvalidKeysReturnsOnlyFailures(t *testing.T) {
	v := New([4]byte{})
	v.SetVerifyFuncForTesting(func(pubkey [48]byte, wc [32]byte, sig [96]byte) bool {
		return pubkey[0] != 2 // key 2 always fails
	})

	keys := []*domain.RegistryKey{keyWithSig(1, 1), keyWithSig(2, 2), keyWithSig(3, 3)}
	var wc [32]byte

	invalid := v.GetInvalidKeys(keys, wc)
	require.Len(t, invalid, 1)
	require.Equal(t, keys[1], invalid[0])
}
