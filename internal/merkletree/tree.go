// Package merkletree implements the incremental Merkle accumulator used by
// the beacon-chain deposit contract, so that a guardian can independently
// recompute the contract's deposit_root from the raw DepositEvent stream and
// catch any divergence (spec.md §4.1).
package merkletree

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
)

// Depth is DEPOSIT_CONTRACT_TREE_DEPTH from the beacon-chain spec.
const Depth = 32

var zeroHashes [Depth + 1][32]byte

func init() {
	// zh[0] = 0^32, zh[i+1] = sha256(zh[i] || zh[i])
	for i := 0; i < Depth; i++ {
		h := sha256.Sum256(append(append([]byte{}, zeroHashes[i][:]...), zeroHashes[i][:]...))
		zeroHashes[i+1] = h
	}
}

// Tree is an in-memory incremental Merkle accumulator matching the deposit
// contract's on-chain algorithm bit-for-bit.
type Tree struct {
	branch    [Depth][32]byte
	nodeCount uint64
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Clone deep-copies the tree so that mutating the clone's branch slots can
// never alias-corrupt the original (spec.md §4.1, testable property 3).
func (t *Tree) Clone() *Tree {
	c := &Tree{nodeCount: t.nodeCount}
	for i := range t.branch {
		c.branch[i] = t.branch[i]
	}
	return c
}

// NodeCount reports how many leaves have been inserted.
func (t *Tree) NodeCount() uint64 {
	return t.nodeCount
}

// Insert adds a 32-byte leaf to the accumulator.
func (t *Tree) Insert(leaf [32]byte) {
	t.nodeCount++
	size := t.nodeCount
	node := leaf

	for h := 0; h < Depth; h++ {
		if size&1 == 1 {
			t.branch[h] = node
			return
		}
		node = sha256.Sum256(append(append([]byte{}, t.branch[h][:]...), node[:]...))
		size >>= 1
	}
}

// Root computes the current Merkle root, mixing in the node count as the
// list-length field the same way the deposit contract does.
func (t *Tree) Root() [32]byte {
	node := zeroHashes[0]

	for h := 0; h < Depth; h++ {
		if (t.nodeCount>>uint(h))&1 == 1 {
			node = sha256.Sum256(append(append([]byte{}, t.branch[h][:]...), node[:]...))
		} else {
			node = sha256.Sum256(append(append([]byte{}, node[:]...), zeroHashes[h][:]...))
		}
	}

	var countMixin [32]byte
	binary.LittleEndian.PutUint64(countMixin[:8], t.nodeCount)

	return sha256.Sum256(append(append([]byte{}, node[:]...), countMixin[:]...))
}

// FormDepositNode computes the deposit contract's deposit_data_root leaf
// from its four constituent fields, matching spec.md §4.1 exactly:
//
//	sha256( sha256(pubkey_pad64 || wc) || sha256(amount_LE_8B_pad32 || sha256(signature_pad128)) )
func FormDepositNode(wc [32]byte, pubkey [48]byte, signature [96]byte, amountGwei uint64) [32]byte {
	var pubkeyPad [64]byte
	copy(pubkeyPad[:], pubkey[:])

	var amountPad [32]byte
	binary.LittleEndian.PutUint64(amountPad[:8], amountGwei)

	var sigPadA, sigPadB [64]byte
	copy(sigPadA[:], signature[:64])
	copy(sigPadB[:], signature[64:])
	sigHash := sha256.Sum256(append(append([]byte{}, sigPadA[:]...), sigPadB[:]...))

	pubkeyWcHash := sha256.Sum256(append(append([]byte{}, pubkeyPad[:]...), wc[:]...))
	amountSigHash := sha256.Sum256(append(append([]byte{}, amountPad[:]...), sigHash[:]...))

	return sha256.Sum256(append(append([]byte{}, pubkeyWcHash[:]...), amountSigHash[:]...))
}

// ParseHex decodes a 0x-prefixed or bare hex string, rejecting malformed
// input as spec.md §4.1 requires.
func ParseHex(s string, want int) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if want > 0 && len(b) != want {
		return nil, errors.New("merkletree: unexpected hex length")
	}
	return b, nil
}
