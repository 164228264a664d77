package trieutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/shared/bytesutil"
	"github.com/shardbeacon/client/shared/hashutil"
)

// depositLeaf builds a deterministic 32-byte leaf the way deposit data
// roots arrive at the trie.
func depositLeaf(seed uint64) []byte {
	leaf := hashutil.Hash(bytesutil.Bytes8(seed))
	return leaf[:]
}

func TestGenerateTrieFromItems_ProofRoundTrip(t *testing.T) {
	items := [][]byte{
		depositLeaf(1),
		depositLeaf(2),
		depositLeaf(3),
	}
	trie, err := GenerateTrieFromItems(items, 32)
	require.NoError(t, err)

	root := trie.Root()
	for i, item := range items {
		proof, err := trie.MerkleProof(i)
		require.NoError(t, err)
		require.Len(t, proof, 32)
		assert.True(t, VerifyMerkleProof(root[:], item, i, proof), "proof %d did not verify", i)
	}
}

func TestVerifyMerkleProof_RejectsTampering(t *testing.T) {
	items := [][]byte{depositLeaf(1), depositLeaf(2)}
	trie, err := GenerateTrieFromItems(items, 32)
	require.NoError(t, err)
	root := trie.Root()

	proof, err := trie.MerkleProof(0)
	require.NoError(t, err)

	// Wrong leaf.
	assert.False(t, VerifyMerkleProof(root[:], depositLeaf(99), 0, proof))
	// Wrong index.
	assert.False(t, VerifyMerkleProof(root[:], items[0], 1, proof))
	// Corrupted proof element.
	proof[3] = depositLeaf(77)
	assert.False(t, VerifyMerkleProof(root[:], items[0], 0, proof))
}

func TestInsertIntoTrie_UpdatesRoot(t *testing.T) {
	trie, err := GenerateTrieFromItems([][]byte{depositLeaf(1)}, 32)
	require.NoError(t, err)
	rootBefore := trie.Root()

	require.NoError(t, trie.InsertIntoTrie(depositLeaf(2), 1))
	require.NotEqual(t, rootBefore, trie.Root())

	// Appends must be contiguous.
	require.Error(t, trie.InsertIntoTrie(depositLeaf(3), 7))

	proof, err := trie.MerkleProof(1)
	require.NoError(t, err)
	root := trie.Root()
	assert.True(t, VerifyMerkleProof(root[:], depositLeaf(2), 1, proof))
}

func TestHashTreeRoot_MixesInDepositCount(t *testing.T) {
	// The deposit-contract root commits to the leaf count; a proof
	// extended with the count leaf verifies against it, matching how
	// in-block deposits are checked.
	items := [][]byte{depositLeaf(1), depositLeaf(2), depositLeaf(3)}
	trie, err := GenerateTrieFromItems(items, 32)
	require.NoError(t, err)

	contractRoot := trie.HashTreeRoot()
	plainRoot := trie.Root()
	require.NotEqual(t, plainRoot, contractRoot)

	countLeaf := make([]byte, 32)
	copy(countLeaf, bytesutil.Bytes8(uint64(len(items))))
	for i, item := range items {
		proof, err := trie.MerkleProof(i)
		require.NoError(t, err)
		proof = append(proof, countLeaf)
		assert.True(t, VerifyMerkleProof(contractRoot[:], item, i, proof), "contract-root proof %d did not verify", i)
	}
}

func TestNewTrie_EmptyCountsAsZeroDeposits(t *testing.T) {
	trie, err := NewTrie(32)
	require.NoError(t, err)

	countLeaf := make([]byte, 32)
	root := trie.HashTreeRoot()
	proof, err := trie.MerkleProof(0)
	require.NoError(t, err)
	proof = append(proof, countLeaf)

	var zero [32]byte
	assert.True(t, VerifyMerkleProof(root[:], zero[:], 0, proof))
}
