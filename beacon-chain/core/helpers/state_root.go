package helpers

import (
	"github.com/pkg/errors"

	eth2types "github.com/prysmaticlabs/eth2-types"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
)

// BlockRoot returns the block root recorded in state's ring buffer for the
// first slot of epoch, i.e. the root an attestation targeting epoch must
// match to be considered a correct target vote.
//
// Spec pseudocode definition:
//  def get_block_root(state: BeaconState, epoch: Epoch) -> Root:
//    return get_block_root_at_slot(state, compute_start_slot_at_epoch(epoch))
func BlockRoot(state *beacontypes.BeaconState, epoch eth2types.Epoch) ([32]byte, error) {
	return BlockRootAtSlot(state, StartSlot(epoch))
}

// BlockRootAtSlot returns the block root recorded in state's ring buffer for
// slot, which must lie within the last SlotsPerHistoricalRoot slots and
// strictly before state.Slot.
//
// Spec pseudocode definition:
//  def get_block_root_at_slot(state: BeaconState, slot: Slot) -> Root:
//    assert slot < state.slot <= slot + SLOTS_PER_HISTORICAL_ROOT
//    return state.block_roots[slot % SLOTS_PER_HISTORICAL_ROOT]
func BlockRootAtSlot(state *beacontypes.BeaconState, slot eth2types.Slot) ([32]byte, error) {
	ringSize := eth2types.Slot(params.BeaconConfig().SlotsPerHistoricalRoot)
	if !(slot < state.Slot && state.Slot <= slot+ringSize) {
		return [32]byte{}, errors.Errorf("slot %d is outside the historical root window ending at state slot %d", slot, state.Slot)
	}
	return state.BlockRoots[uint64(slot)%uint64(ringSize)], nil
}
