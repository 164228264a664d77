package helpers

import (
	"github.com/pkg/errors"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
	"github.com/shardbeacon/client/shared/sliceutil"
	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/prysmaticlabs/go-bitfield"
)

// CommitteeCountAtSlot returns the number of committees at slot.
//
// Spec pseudocode definition:
//  def get_committee_count_at_slot(state: BeaconState, slot: Slot) -> uint64:
//    epoch = compute_epoch_at_slot(slot)
//    return max(1, min(
//        MAX_COMMITTEES_PER_SLOT,
//        uint64(len(get_active_validator_indices(state, epoch))) // SLOTS_PER_EPOCH // TARGET_COMMITTEE_SIZE,
//    ))
func CommitteeCountAtSlot(state *beacontypes.BeaconState, slot eth2types.Slot) uint64 {
	epoch := SlotToEpoch(slot)
	activeCount := ActiveValidatorCount(state, epoch)

	perSlot := activeCount / params.BeaconConfig().SlotsPerEpoch / params.BeaconConfig().TargetCommitteeSize
	if perSlot > params.BeaconConfig().MaxCommitteesPerSlot {
		return params.BeaconConfig().MaxCommitteesPerSlot
	}
	if perSlot == 0 {
		return 1
	}
	return perSlot
}

// BeaconCommittee returns the committee assigned to (slot, index).
//
// Spec pseudocode definition:
//  def get_beacon_committee(state: BeaconState, slot: Slot, index: CommitteeIndex) -> Sequence[ValidatorIndex]:
//    epoch = compute_epoch_at_slot(slot)
//    committees_per_slot = get_committee_count_at_slot(state, slot)
//    epoch_offset = index + (slot % SLOTS_PER_EPOCH) * committees_per_slot
//    return compute_committee(
//        indices=get_active_validator_indices(state, epoch),
//        seed=get_seed(state, epoch, DOMAIN_BEACON_ATTESTER),
//        index=epoch_offset,
//        count=committees_per_slot * SLOTS_PER_EPOCH,
//    )
func BeaconCommittee(state *beacontypes.BeaconState, slot eth2types.Slot, index eth2types.CommitteeIndex) ([]eth2types.ValidatorIndex, error) {
	epoch := SlotToEpoch(slot)
	committeesPerSlot := CommitteeCountAtSlot(state, slot)
	epochOffset := uint64(index) + (uint64(slot)%params.BeaconConfig().SlotsPerEpoch)*committeesPerSlot
	count := committeesPerSlot * params.BeaconConfig().SlotsPerEpoch

	seed, err := Seed(state, epoch, params.DomainAttestation)
	if err != nil {
		return nil, errors.Wrap(err, "could not get seed")
	}

	indices := ActiveValidatorIndices(state, epoch)
	return ComputeCommittee(indices, seed, epochOffset, count)
}

// ComputeCommittee returns the slice of indices assigned to committee index
// out of count total committees over the shuffled indices.
//
// Spec pseudocode definition:
//  def compute_committee(indices: Sequence[ValidatorIndex], seed: Bytes32, index: uint64, count: uint64) -> Sequence[ValidatorIndex]:
//    start = (len(indices) * index) // count
//    end = (len(indices) * (index + 1)) // count
//    return [indices[compute_shuffled_index(ValidatorIndex(i), len(indices), seed)] for i in range(start, end)]
func ComputeCommittee(indices []eth2types.ValidatorIndex, seed [32]byte, index, count uint64) ([]eth2types.ValidatorIndex, error) {
	validatorCount := uint64(len(indices))
	start := sliceutil.SplitOffset(validatorCount, count, index)
	end := sliceutil.SplitOffset(validatorCount, count, index+1)

	committee := make([]eth2types.ValidatorIndex, end-start)
	for i := start; i < end; i++ {
		permuted, err := ComputeShuffledIndex(i, validatorCount, seed)
		if err != nil {
			return nil, errors.Wrapf(err, "could not compute shuffled index at %d", i)
		}
		committee[i-start] = indices[permuted]
	}
	return committee, nil
}

// AttestingIndices returns the subset of committee that set a bit in bits.
//
// Spec pseudocode definition:
//  def get_attesting_indices(state: BeaconState, data: AttestationData, bits: Bitlist) -> Set[ValidatorIndex]:
//    committee = get_beacon_committee(state, data.slot, data.index)
//    return set(index for i, index in enumerate(committee) if bits[i])
func AttestingIndices(bits bitfield.Bitlist, committee []eth2types.ValidatorIndex) []eth2types.ValidatorIndex {
	indices := make([]eth2types.ValidatorIndex, 0, len(committee))
	for i, idx := range committee {
		if bits.BitAt(uint64(i)) {
			indices = append(indices, idx)
		}
	}
	return indices
}

// VerifyBitfieldLength checks that bits is sized exactly to committeeSize.
func VerifyBitfieldLength(bits bitfield.Bitlist, committeeSize uint64) error {
	if bits.Len() != committeeSize {
		return errors.Errorf("wanted bitfield length %d, got %d", committeeSize, bits.Len())
	}
	return nil
}
