package helpers

import (
	eth2types "github.com/prysmaticlabs/eth2-types"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

// TotalBalance returns the combined effective balance of the given
// validator indices.
//
// Spec pseudocode definition:
//  def get_total_balance(state: BeaconState, indices: Set[ValidatorIndex]) -> Gwei:
//    return Gwei(max(1, sum([state.validators[index].effective_balance for index in indices])))
func TotalBalance(state *beacontypes.BeaconState, indices []eth2types.ValidatorIndex) uint64 {
	var total uint64
	for _, idx := range indices {
		total += state.Validators[idx].EffectiveBalance
	}
	if total < 1 {
		total = 1
	}
	return total
}

// TotalActiveBalance returns the combined effective balance of every
// validator active at the state's current epoch.
func TotalActiveBalance(state *beacontypes.BeaconState) uint64 {
	return TotalBalance(state, ActiveValidatorIndices(state, CurrentEpoch(state)))
}
