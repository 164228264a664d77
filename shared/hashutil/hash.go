// Package hashutil centralizes the hash functions used across the node:
// Hash/RepeatHash for raw-bytes hashing and MerkleRoot for hashing a fixed
// list of 32-byte leaves, plus HashTreeRoot/HashTreeRootWithSignature for
// the canonical SSZ tree-hash of structured objects (blocks, state,
// attestation data) used everywhere a signed or committed root is needed.
package hashutil

import (
	"github.com/pkg/errors"
	ssz "github.com/prysmaticlabs/go-ssz"
	"golang.org/x/crypto/sha3"
)

// Hash defines a function that returns the
// Keccak-256/SHA3 hash of the data passed in.
// https://github.com/ethereum/eth2.0-specs/blob/master/specs/core/0_beacon-chain.md#appendix
func Hash(data []byte) [32]byte {
	var hash [32]byte

	h := sha3.NewLegacyKeccak256()

	// The hash interface never returns an error, for that reason
	// we are not handling the error below. For reference, it is
	// stated here https://golang.org/pkg/hash/#Hash

	// #nosec G104
	h.Write(data)
	h.Sum(hash[:0])

	return hash
}

// RepeatHash applies the Keccak-256/SHA3 hash function repeatedly
// numTimes on a [32]byte array.
func RepeatHash(data [32]byte, numTimes uint64) [32]byte {
	if numTimes == 0 {
		return data
	}
	return RepeatHash(Hash(data[:]), numTimes-1)
}

// MerkleRoot computes the root of a perfectly-balanced binary tree over the
// given leaves by pairwise hashing, halving the working set each round.
// Callers are responsible for passing a power-of-two number of leaves; this
// is the plain merkleization used for small fixed-size lists, distinct from
// the SSZ chunked tree-hash used by HashTreeRoot.
func MerkleRoot(values [][32]byte) [32]byte {
	switch len(values) {
	case 0:
		return [32]byte{}
	case 1:
		return values[0]
	}
	layer := values
	for len(layer) > 1 {
		next := make([][32]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, Hash(append(layer[i][:], layer[i+1][:]...)))
		}
		layer = next
	}
	return layer[0]
}

// HashTreeRoot returns the canonical SSZ hash tree root of obj, used for
// computing block roots, state roots, and any other struct committed to by
// a signature or by inclusion in a parent container.
func HashTreeRoot(obj interface{}) ([32]byte, error) {
	root, err := ssz.HashTreeRoot(obj)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "could not compute hash tree root")
	}
	return root, nil
}

// HashTreeRootWithSignature returns the hash tree root of obj after zeroing
// out its Signature field, the root that a proposer or attester actually
// signs over.
func HashTreeRootWithSignature(obj interface{}) ([32]byte, error) {
	root, err := ssz.SigningRoot(obj)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "could not compute signing root")
	}
	return root, nil
}
