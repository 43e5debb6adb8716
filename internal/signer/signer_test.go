package signer

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestSignDepositProducesRecoverableSignature(t *testing.T) {
	key := testKey(t)

	var prefix, blockHash, depositRoot [32]byte
	prefix[0] = 1

	signed, err := SignDeposit(key, prefix, 100, blockHash, depositRoot, 1, 5)
	require.NoError(t, err)
	require.Len(t, signed.Signature, 65)

	pub, err := crypto.SigToPub(signed.Hash.Bytes(), signed.Signature)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestSignPauseV3Deterministic(t *testing.T) {
	key := testKey(t)
	var prefix [32]byte
	prefix[0] = 2

	a, err := SignPauseV3(key, prefix, 42)
	require.NoError(t, err)
	b, err := SignPauseV3(key, prefix, 42)
	require.NoError(t, err)
	require.Equal(t, a.Hash, b.Hash)
}

func TestSignPauseV3DiffersByBlockNumber(t *testing.T) {
	key := testKey(t)
	var prefix [32]byte

	a, err := SignPauseV3(key, prefix, 1)
	require.NoError(t, err)
	b, err := SignPauseV3(key, prefix, 2)
	require.NoError(t, err)
	require.NotEqual(t, a.Hash, b.Hash)
}

func TestPackUnvetPayloadLayout(t *testing.T) {
	operatorIDs, vetted, err := PackUnvetPayload([]uint64{1, 2}, []uint64{10, 20})
	require.NoError(t, err)

	require.Len(t, operatorIDs, 16)
	require.Len(t, vetted, 32)

	// operator 1 as 8-byte big-endian
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, operatorIDs[0:8])
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 2}, operatorIDs[8:16])

	// vetted count 10 as 16-byte big-endian
	want10 := make([]byte, 16)
	want10[15] = 10
	require.Equal(t, want10, vetted[0:16])
}

func TestPackUnvetPayloadRejectsMismatchedLengths(t *testing.T) {
	_, _, err := PackUnvetPayload([]uint64{1}, []uint64{1, 2})
	require.Error(t, err)
}

func TestSignUnvetIncludesAllFields(t *testing.T) {
	key := testKey(t)
	var prefix, blockHash [32]byte
	operatorIDs, vetted, err := PackUnvetPayload([]uint64{0}, []uint64{3})
	require.NoError(t, err)

	a, err := SignUnvet(key, prefix, 1, blockHash, 7, 9, operatorIDs, vetted)
	require.NoError(t, err)

	blockHash[0] = 0xFF
	b, err := SignUnvet(key, prefix, 1, blockHash, 7, 9, operatorIDs, vetted)
	require.NoError(t, err)

	require.NotEqual(t, a.Hash, b.Hash)
}
