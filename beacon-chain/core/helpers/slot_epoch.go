// Package helpers implements the small pure functions the state transition
// and fork choice lean on repeatedly: slot/epoch arithmetic, committee
// derivation, and validator registry queries. None of it holds state; every
// function is a deterministic computation over its arguments.
package helpers

import (
	eth2types "github.com/prysmaticlabs/eth2-types"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
)

// SlotToEpoch returns the epoch number of the input slot.
//
// Spec pseudocode definition:
//  def slot_to_epoch(slot: Slot) -> Epoch:
//    return slot // SLOTS_PER_EPOCH
func SlotToEpoch(slot eth2types.Slot) eth2types.Epoch {
	return eth2types.Epoch(uint64(slot) / params.BeaconConfig().SlotsPerEpoch)
}

// CurrentEpoch returns the current epoch number calculated from the slot
// number stored in beacon state.
//
// Spec pseudocode definition:
//  def get_current_epoch(state: BeaconState) -> Epoch:
//    return slot_to_epoch(state.slot)
func CurrentEpoch(state *beacontypes.BeaconState) eth2types.Epoch {
	return SlotToEpoch(state.Slot)
}

// PrevEpoch returns the previous epoch number calculated from the slot
// number stored in beacon state, returning the genesis epoch instead of
// underflowing.
//
// Spec pseudocode definition:
//  def get_previous_epoch(state: BeaconState) -> Epoch:
//    current_epoch = get_current_epoch(state)
//    return (current_epoch - 1) if current_epoch > GENESIS_EPOCH else current_epoch
func PrevEpoch(state *beacontypes.BeaconState) eth2types.Epoch {
	current := CurrentEpoch(state)
	if current > 0 {
		return current - 1
	}
	return 0
}

// NextEpoch returns the epoch number immediately following the current
// epoch calculated from state.
func NextEpoch(state *beacontypes.BeaconState) eth2types.Epoch {
	return SlotToEpoch(state.Slot) + 1
}

// StartSlot returns the first slot number of the given epoch.
//
// Spec pseudocode definition:
//  def get_epoch_start_slot(epoch: Epoch) -> Slot:
//    return epoch * SLOTS_PER_EPOCH
func StartSlot(epoch eth2types.Epoch) eth2types.Slot {
	return eth2types.Slot(uint64(epoch) * params.BeaconConfig().SlotsPerEpoch)
}

// IsEpochStart returns true if the given slot is the first slot of its
// epoch.
func IsEpochStart(slot eth2types.Slot) bool {
	return uint64(slot)%params.BeaconConfig().SlotsPerEpoch == 0
}

// IsEpochEnd returns true if the given slot is the last slot of its epoch.
func IsEpochEnd(slot eth2types.Slot) bool {
	return IsEpochStart(slot + 1)
}
