package helpers

import (
	"github.com/pkg/errors"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bytesutil"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// IsActiveValidator returns whether validator is active at epoch.
//
// Spec pseudocode definition:
//  def is_active_validator(validator: Validator, epoch: Epoch) -> bool:
//    return validator.activation_epoch <= epoch < validator.exit_epoch
func IsActiveValidator(validator *beacontypes.Validator, epoch eth2types.Epoch) bool {
	return validator.ActivationEpoch <= epoch && epoch < validator.ExitEpoch
}

// IsSlashableValidator returns whether validator can still be slashed at
// epoch.
//
// Spec pseudocode definition:
//  def is_slashable_validator(validator: Validator, epoch: Epoch) -> bool:
//    return (not validator.slashed) and (validator.activation_epoch <= epoch < validator.withdrawable_epoch)
func IsSlashableValidator(validator *beacontypes.Validator, epoch eth2types.Epoch) bool {
	return !validator.Slashed &&
		validator.ActivationEpoch <= epoch &&
		epoch < validator.WithdrawableEpoch
}

// ActiveValidatorIndices returns the indices of every active validator at
// the given epoch.
//
// Spec pseudocode definition:
//  def get_active_validator_indices(state: BeaconState, epoch: Epoch) -> Sequence[ValidatorIndex]:
//    return [ValidatorIndex(i) for i, v in enumerate(state.validators) if is_active_validator(v, epoch)]
func ActiveValidatorIndices(state *beacontypes.BeaconState, epoch eth2types.Epoch) []eth2types.ValidatorIndex {
	indices := make([]eth2types.ValidatorIndex, 0, len(state.Validators))
	for i, v := range state.Validators {
		if IsActiveValidator(v, epoch) {
			indices = append(indices, eth2types.ValidatorIndex(i))
		}
	}
	return indices
}

// ActiveValidatorCount returns the number of active validators at epoch.
func ActiveValidatorCount(state *beacontypes.BeaconState, epoch eth2types.Epoch) uint64 {
	count := uint64(0)
	for _, v := range state.Validators {
		if IsActiveValidator(v, epoch) {
			count++
		}
	}
	return count
}

// DelayedActivationExitEpoch returns the epoch at which a validator
// activation or exit initiated in epoch takes effect.
//
// Spec pseudocode definition:
//  def compute_activation_exit_epoch(epoch: Epoch) -> Epoch:
//    return Epoch(epoch + 1 + MAX_SEED_LOOKAHEAD)
func DelayedActivationExitEpoch(epoch eth2types.Epoch) eth2types.Epoch {
	return epoch + 1 + eth2types.Epoch(params.BeaconConfig().MaxSeedLookahead)
}

// ValidatorChurnLimit returns the number of validators allowed to enter or
// exit the active set in one epoch.
//
// Spec pseudocode definition:
//  def get_validator_churn_limit(state: BeaconState) -> uint64:
//    active_validator_indices = get_active_validator_indices(state, get_current_epoch(state))
//    return max(MIN_PER_EPOCH_CHURN_LIMIT, len(active_validator_indices) // CHURN_LIMIT_QUOTIENT)
func ValidatorChurnLimit(activeValidatorCount uint64) uint64 {
	limit := activeValidatorCount / params.BeaconConfig().ChurnLimitQuotient
	if limit < params.BeaconConfig().MinPerEpochChurnLimit {
		return params.BeaconConfig().MinPerEpochChurnLimit
	}
	return limit
}

// BeaconProposerIndex returns the proposer index for state.Slot.
//
// Spec pseudocode definition:
//  def get_beacon_proposer_index(state: BeaconState) -> ValidatorIndex:
//    epoch = get_current_epoch(state)
//    seed = hash(get_seed(state, epoch, DOMAIN_BEACON_PROPOSER) + int_to_bytes(state.slot, length=8))
//    indices = get_active_validator_indices(state, epoch)
//    return compute_proposer_index(state, indices, seed)
func BeaconProposerIndex(state *beacontypes.BeaconState) (eth2types.ValidatorIndex, error) {
	epoch := CurrentEpoch(state)

	seed, err := Seed(state, epoch, params.DomainBeaconProposer)
	if err != nil {
		return 0, errors.Wrap(err, "could not generate seed")
	}
	seedWithSlot := append(seed[:], bytesutil.Bytes8(uint64(state.Slot))...)
	seedWithSlotHash := hashutil.Hash(seedWithSlot)

	indices := ActiveValidatorIndices(state, epoch)
	return ComputeProposerIndex(state, indices, seedWithSlotHash)
}

// ComputeProposerIndex samples indices by effective balance until one
// passes the random-byte acceptance test.
//
// Spec pseudocode definition:
//  def compute_proposer_index(state: BeaconState, indices: Sequence[ValidatorIndex], seed: Bytes32) -> ValidatorIndex:
//    assert len(indices) > 0
//    MAX_RANDOM_BYTE = 2**8 - 1
//    i = 0
//    while True:
//        candidate_index = indices[compute_shuffled_index(i % len(indices), len(indices), seed)]
//        random_byte = hash(seed + int_to_bytes(i // 32, length=8))[i % 32]
//        effective_balance = state.validators[candidate_index].effective_balance
//        if effective_balance * MAX_RANDOM_BYTE >= MAX_EFFECTIVE_BALANCE * random_byte:
//            return ValidatorIndex(candidate_index)
//        i += 1
func ComputeProposerIndex(state *beacontypes.BeaconState, indices []eth2types.ValidatorIndex, seed [32]byte) (eth2types.ValidatorIndex, error) {
	length := uint64(len(indices))
	if length == 0 {
		return 0, errors.New("empty active validator indices")
	}
	const maxRandomByte = uint64(1<<8 - 1)

	for i := uint64(0); ; i++ {
		shuffledIndex, err := ComputeShuffledIndex(i%length, length, seed)
		if err != nil {
			return 0, err
		}
		candidateIndex := indices[shuffledIndex]
		b := append(append([]byte{}, seed[:]...), bytesutil.Bytes8(i/32)...)
		randomByte := uint64(hashutil.Hash(b)[i%32])
		effectiveBalance := state.Validators[candidateIndex].EffectiveBalance
		if effectiveBalance*maxRandomByte >= params.BeaconConfig().MaxEffectiveBalance*randomByte {
			return candidateIndex, nil
		}
	}
}
