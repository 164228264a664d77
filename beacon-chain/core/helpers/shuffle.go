package helpers

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// ComputeShuffledIndex returns the permuted index of a single element under
// the "swap-or-not" shuffle, without materializing the full permutation.
//
// Spec pseudocode definition:
//  def compute_shuffled_index(index: ValidatorIndex, index_count: uint64, seed: Bytes32) -> ValidatorIndex:
//    assert index < index_count
//    for current_round in range(SHUFFLE_ROUND_COUNT):
//        pivot = bytes_to_int(hash(seed + int_to_bytes1(current_round))[0:8]) % index_count
//        flip = (pivot + index_count - index) % index_count
//        position = max(index, flip)
//        source = hash(seed + int_to_bytes1(current_round) + int_to_bytes4(position // 256))
//        byte_value = source[(position % 256) // 8]
//        bit = (byte_value >> (position % 8)) % 2
//        index = flip if bit else index
//    return index
func ComputeShuffledIndex(index, indexCount uint64, seed [32]byte) (uint64, error) {
	if index >= indexCount {
		return 0, errors.Errorf("index %d out of bound %d", index, indexCount)
	}

	rounds := params.BeaconConfig().ShuffleRoundCount
	for round := uint64(0); round < rounds; round++ {
		hashInput := append(seed[:], byte(round))
		hashed := hashutil.Hash(hashInput)
		pivot := binary.LittleEndian.Uint64(hashed[:8]) % indexCount

		flip := (pivot + indexCount - index) % indexCount
		position := index
		if flip > position {
			position = flip
		}

		source := hashutil.Hash(append(append(seed[:], byte(round)), positionBytes(position)...))
		byteValue := source[(position%256)/8]
		bit := (byteValue >> (position % 8)) % 2
		if bit == 1 {
			index = flip
		}
	}
	return index, nil
}

func positionBytes(position uint64) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(position/256))
	return b
}

// ShuffledIndex is a thin, already-seeded wrapper over ComputeShuffledIndex.
// Committee and proposer derivation call ComputeShuffledIndex directly.
func ShuffledIndex(index, indexCount uint64, seed [32]byte) (uint64, error) {
	return ComputeShuffledIndex(index, indexCount, seed)
}
