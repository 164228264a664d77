// Package sliceutil holds the small slice computations the committee
// machinery leans on.
package sliceutil

// SplitOffset returns the start index of the index'th chunk of a list of
// length listSize split into chunkCount equal-ish pieces, i.e.
// floor(listSize * index / chunkCount). Used to derive committee
// boundaries from a shuffled validator index list.
//
// Spec pseudocode definition:
//  def compute_committee(...):
//    start = (len(indices) * index) // count
//    end = (len(indices) * (index + 1)) // count
func SplitOffset(listSize, chunkCount, index uint64) uint64 {
	return (listSize * index) / chunkCount
}
