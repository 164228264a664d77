package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerkleRoot_PairwiseHashing(t *testing.T) {
	leaves := [][32]byte{
		{'a'},
		{'b'},
		{'c'},
		{'d'},
	}

	left := Hash(append(leaves[0][:], leaves[1][:]...))
	right := Hash(append(leaves[2][:], leaves[3][:]...))
	want := Hash(append(left[:], right[:]...))

	require.Equal(t, want, MerkleRoot(leaves))
}

func TestMerkleRoot_Degenerate(t *testing.T) {
	assert.Equal(t, [32]byte{}, MerkleRoot(nil))

	single := [][32]byte{{'x'}}
	assert.Equal(t, single[0], MerkleRoot(single))
}

func TestRepeatHash(t *testing.T) {
	seed := [32]byte{1, 2, 3}
	assert.Equal(t, seed, RepeatHash(seed, 0))
	assert.Equal(t, Hash(seed[:]), RepeatHash(seed, 1))
	assert.Equal(t, RepeatHash(Hash(seed[:]), 1), RepeatHash(seed, 2))
}
