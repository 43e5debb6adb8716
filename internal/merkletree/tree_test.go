package merkletree

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyTreeRootIsDeterministic(t *testing.T) {
	tr := New()
	root1 := tr.Root()
	root2 := tr.Root()
	require.Equal(t, root1, root2)
}

func TestInsertChangesRoot(t *testing.T) {
	tr := New()
	before := tr.Root()

	var leaf [32]byte
	leaf[0] = 0x01
	tr.Insert(leaf)

	after := tr.Root()
	require.NotEqual(t, before, after)
	require.EqualValues(t, 1, tr.NodeCount())
}

func TestInsertSingleLeafMatchesHandRolledFormula(t *testing.T) {
	tr := New()
	var leaf [32]byte
	for i := range leaf {
		leaf[i] = byte(i)
	}
	tr.Insert(leaf)

	node := zeroHashes[0]
	for h := 0; h < Depth; h++ {
		if h == 0 {
			node = sha256.Sum256(append(append([]byte{}, leaf[:]...), zeroHashes[0][:]...))
		} else {
			node = sha256.Sum256(append(append([]byte{}, node[:]...), zeroHashes[h][:]...))
		}
	}
	var countMixin [32]byte
	countMixin[0] = 1
	want := sha256.Sum256(append(append([]byte{}, node[:]...), countMixin[:]...))

	require.Equal(t, want, tr.Root())
}

// TestCloneIsolation is testable property 3 from spec.md §8: mutating a
// clone's branch slots must never affect the original.
func TestCloneIsolation(t *testing.T) {
	tr := New()
	var leaf [32]byte
	leaf[0] = 0xAA
	tr.Insert(leaf)

	clone := tr.Clone()
	clone.branch[0][1] = 0xFF

	require.NotEqual(t, byte(0xFF), tr.branch[0][1])
}

func TestFormDepositNodeIsDeterministicAndSensitiveToEachField(t *testing.T) {
	var wc [32]byte
	wc[0] = 1
	var pubkey [48]byte
	for i := range pubkey {
		pubkey[i] = byte(i)
	}
	var sig [96]byte
	for i := range sig {
		sig[i] = byte(255 - i)
	}
	amount := uint64(32_000_000_000)

	root1 := FormDepositNode(wc, pubkey, sig, amount)
	root2 := FormDepositNode(wc, pubkey, sig, amount)
	require.Equal(t, root1, root2)

	wc2 := wc
	wc2[1] = 9
	root3 := FormDepositNode(wc2, pubkey, sig, amount)
	require.NotEqual(t, root1, root3)

	root4 := FormDepositNode(wc, pubkey, sig, amount+1)
	require.NotEqual(t, root1, root4)
}

func TestParseHexRejectsMalformedInput(t *testing.T) {
	_, err := ParseHex("0xzz", 0)
	require.Error(t, err)

	b, err := ParseHex("0x0102", 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, b)

	_, err = ParseHex("0x0102", 3)
	require.Error(t, err)
}

func TestZeroHashesChain(t *testing.T) {
	require.Equal(t, [32]byte{}, zeroHashes[0])
	expected := sha256.Sum256(append(append([]byte{}, zeroHashes[0][:]...), zeroHashes[0][:]...))
	require.Equal(t, expected, zeroHashes[1])
}
