// Package signer implements C11's message-building and signing half: it
// ABI-encodes the four message shapes from spec.md §6, keccak256-hashes
// them, and signs with the guardian's own ECDSA key — never the RPC node's
// signer, matching spec.md §4.11.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
)

func arg(t abi.Type) abi.Argument { return abi.Argument{Type: t} }

// DepositMessageArgs returns the ABI tuple for the deposit message:
// (bytes32 prefix, uint256 blockNumber, bytes32 blockHash, bytes32
// depositRoot, uint256 stakingModuleId, uint256 keysOpIndex).
func depositArguments() abi.Arguments {
	return abi.Arguments{arg(bytes32Type), arg(uint256Type), arg(bytes32Type), arg(bytes32Type), arg(uint256Type), arg(uint256Type)}
}

// pauseV2Arguments returns the ABI tuple for a per-module pause message:
// (bytes32 prefix, uint256 blockNumber, uint256 stakingModuleId).
func pauseV2Arguments() abi.Arguments {
	return abi.Arguments{arg(bytes32Type), arg(uint256Type), arg(uint256Type)}
}

// pauseV3Arguments returns the ABI tuple for a global pause message:
// (bytes32 prefix, uint256 blockNumber).
func pauseV3Arguments() abi.Arguments {
	return abi.Arguments{arg(bytes32Type), arg(uint256Type)}
}

// unvetArguments returns the ABI tuple for an unvet message:
// (bytes32 prefix, uint256 blockNumber, bytes32 blockHash, uint256
// stakingModuleId, uint256 nonce, bytes operatorIds, bytes
// vettedKeysByOperator).
func unvetArguments() abi.Arguments {
	return abi.Arguments{arg(bytes32Type), arg(uint256Type), arg(bytes32Type), arg(uint256Type), arg(uint256Type), arg(bytesType), arg(bytesType)}
}

// Signed is an ABI-encoded, keccak256-hashed, ECDSA-signed message ready
// for bus publication (and, for pause/unvet, on-chain submission).
type Signed struct {
	Hash      common.Hash
	Signature []byte // 65 bytes: r || s || v
}

func sign(hash common.Hash, key *ecdsa.PrivateKey) (*Signed, error) {
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("could not sign message: %v", err)
	}
	return &Signed{Hash: hash, Signature: sig}, nil
}

// SignDeposit builds and signs a deposit-allow message.
func SignDeposit(key *ecdsa.PrivateKey, prefix [32]byte, blockNumber uint64, blockHash [32]byte, depositRoot [32]byte, stakingModuleID uint64, keysOpIndex uint64) (*Signed, error) {
	packed, err := depositArguments().Pack(prefix, new(big.Int).SetUint64(blockNumber), blockHash, depositRoot, new(big.Int).SetUint64(stakingModuleID), new(big.Int).SetUint64(keysOpIndex))
	if err != nil {
		return nil, fmt.Errorf("could not encode deposit message: %v", err)
	}
	return sign(crypto.Keccak256Hash(packed), key)
}

// SignPauseV2 builds and signs a per-module pause message.
func SignPauseV2(key *ecdsa.PrivateKey, prefix [32]byte, blockNumber uint64, stakingModuleID uint64) (*Signed, error) {
	packed, err := pauseV2Arguments().Pack(prefix, new(big.Int).SetUint64(blockNumber), new(big.Int).SetUint64(stakingModuleID))
	if err != nil {
		return nil, fmt.Errorf("could not encode pause-v2 message: %v", err)
	}
	return sign(crypto.Keccak256Hash(packed), key)
}

// SignPauseV3 builds and signs a global pause message.
func SignPauseV3(key *ecdsa.PrivateKey, prefix [32]byte, blockNumber uint64) (*Signed, error) {
	packed, err := pauseV3Arguments().Pack(prefix, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("could not encode pause-v3 message: %v", err)
	}
	return sign(crypto.Keccak256Hash(packed), key)
}

// SignUnvet builds and signs an unvet message. operatorIDs and
// vettedKeysByOperator must already be packed per spec.md §6 (8-byte BE
// operator indices; 16-byte BE vetted counts), see PackUnvetPayload.
func SignUnvet(key *ecdsa.PrivateKey, prefix [32]byte, blockNumber uint64, blockHash [32]byte, stakingModuleID uint64, nonce uint64, operatorIDs []byte, vettedKeysByOperator []byte) (*Signed, error) {
	packed, err := unvetArguments().Pack(prefix, new(big.Int).SetUint64(blockNumber), blockHash, new(big.Int).SetUint64(stakingModuleID), new(big.Int).SetUint64(nonce), operatorIDs, vettedKeysByOperator)
	if err != nil {
		return nil, fmt.Errorf("could not encode unvet message: %v", err)
	}
	return sign(crypto.Keccak256Hash(packed), key)
}

// PackUnvetPayload implements spec.md §6's operatorIds/vettedKeysByOperator
// encoding: operatorIds is the concatenation of 8-byte big-endian operator
// indices; vettedKeysByOperator is the concatenation of 16-byte big-endian
// vetted-key counts in the same order.
func PackUnvetPayload(operatorIndices []uint64, vettedCounts []uint64) (operatorIDs []byte, vettedKeysByOperator []byte, err error) {
	if len(operatorIndices) != len(vettedCounts) {
		return nil, nil, fmt.Errorf("operatorIndices/vettedCounts length mismatch: %d != %d", len(operatorIndices), len(vettedCounts))
	}

	operatorIDs = make([]byte, 8*len(operatorIndices))
	vettedKeysByOperator = make([]byte, 16*len(vettedCounts))

	for i, idx := range operatorIndices {
		putUint64BE(operatorIDs[i*8:(i+1)*8], idx)
		putUint128BE(vettedKeysByOperator[i*16:(i+1)*16], vettedCounts[i])
	}

	return operatorIDs, vettedKeysByOperator, nil
}

func putUint64BE(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

func putUint128BE(dst []byte, v uint64) {
	// high 8 bytes are always zero for a uint64 count
	putUint64BE(dst[8:16], v)
}
