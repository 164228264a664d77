package helpers

import (
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// InitiateValidatorExit sets a validator's exit and withdrawable epochs,
// respecting the per-epoch churn limit by queuing behind every other
// validator already exiting at or after the same epoch.
//
// Spec pseudocode definition:
//  def initiate_validator_exit(state: BeaconState, index: ValidatorIndex) -> None:
//    validator = state.validators[index]
//    if validator.exit_epoch != FAR_FUTURE_EPOCH:
//        return
//    exit_epochs = [v.exit_epoch for v in state.validators if v.exit_epoch != FAR_FUTURE_EPOCH]
//    exit_queue_epoch = max(exit_epochs + [compute_activation_exit_epoch(get_current_epoch(state))])
//    exit_queue_churn = len([v for v in state.validators if v.exit_epoch == exit_queue_epoch])
//    if exit_queue_churn >= get_validator_churn_limit(state):
//        exit_queue_epoch += Epoch(1)
//    validator.exit_epoch = exit_queue_epoch
//    validator.withdrawable_epoch = Epoch(validator.exit_epoch + MIN_VALIDATOR_WITHDRAWABILITY_DELAY)
func InitiateValidatorExit(state *beacontypes.BeaconState, index eth2types.ValidatorIndex) {
	validator := state.Validators[index]
	farFuture := eth2types.Epoch(params.BeaconConfig().FarFutureEpoch)
	if validator.ExitEpoch != farFuture {
		return
	}

	exitQueueEpoch := DelayedActivationExitEpoch(CurrentEpoch(state))
	for _, v := range state.Validators {
		if v.ExitEpoch != farFuture && v.ExitEpoch > exitQueueEpoch {
			exitQueueEpoch = v.ExitEpoch
		}
	}

	churn := uint64(0)
	for _, v := range state.Validators {
		if v.ExitEpoch == exitQueueEpoch {
			churn++
		}
	}
	activeCount := ActiveValidatorCount(state, CurrentEpoch(state))
	if churn >= ValidatorChurnLimit(activeCount) {
		exitQueueEpoch++
	}

	validator.ExitEpoch = exitQueueEpoch
	validator.WithdrawableEpoch = exitQueueEpoch + eth2types.Epoch(params.BeaconConfig().MinValidatorWithdrawabilityDelay)
}

// SlashValidator marks a validator slashed, forces its immediate exit
// queue membership, and moves the whistleblower/proposer rewards and the
// slashed validator's penalty. There is no separate whistleblower: both the
// proposer reward and the rest of the whistleblower reward go to
// proposerIndex.
//
// Spec pseudocode definition (abridged, rewards distribution simplified
// per spec.md §4.1 step 5/6 — full reward bookkeeping is epoch-processing
// scope, not per-block):
//  def slash_validator(state: BeaconState, slashed_index: ValidatorIndex, whistleblower_index: ValidatorIndex=None) -> None:
//    epoch = get_current_epoch(state)
//    initiate_validator_exit(state, slashed_index)
//    validator = state.validators[slashed_index]
//    validator.slashed = True
//    validator.withdrawable_epoch = max(validator.withdrawable_epoch, Epoch(epoch + EPOCHS_PER_SLASHINGS_VECTOR))
//    state.slashings[epoch % EPOCHS_PER_SLASHINGS_VECTOR] += validator.effective_balance
//    decrease_balance(state, slashed_index, validator.effective_balance // MIN_SLASHING_PENALTY_QUOTIENT)
//    ...
func SlashValidator(state *beacontypes.BeaconState, slashedIndex eth2types.ValidatorIndex, proposerIndex eth2types.ValidatorIndex) {
	epoch := CurrentEpoch(state)
	InitiateValidatorExit(state, slashedIndex)

	slashingsVector := params.BeaconConfig().EpochsPerSlashingsVector
	validator := state.Validators[slashedIndex]
	validator.Slashed = true
	withdrawableAtSlashing := epoch + eth2types.Epoch(slashingsVector)
	if validator.WithdrawableEpoch < withdrawableAtSlashing {
		validator.WithdrawableEpoch = withdrawableAtSlashing
	}
	if len(state.Slashings) > 0 {
		state.Slashings[uint64(epoch)%uint64(len(state.Slashings))] += validator.EffectiveBalance
	}

	penalty := validator.EffectiveBalance / params.BeaconConfig().MinSlashingPenaltyQuotient
	DecreaseBalance(state, slashedIndex, penalty)

	whistleblowerReward := penalty / params.BeaconConfig().WhistleblowerRewardQuotient
	proposerReward := whistleblowerReward / params.BeaconConfig().ProposerRewardQuotient
	IncreaseBalance(state, proposerIndex, proposerReward)
	IncreaseBalance(state, proposerIndex, whistleblowerReward-proposerReward)
}

// IncreaseBalance adds delta to validator index's balance.
func IncreaseBalance(state *beacontypes.BeaconState, index eth2types.ValidatorIndex, delta uint64) {
	state.Balances[index] += delta
}

// DecreaseBalance subtracts delta from validator index's balance, floored
// at zero rather than underflowing.
//
// Spec pseudocode definition:
//  def decrease_balance(state: BeaconState, index: ValidatorIndex, delta: Gwei) -> None:
//    state.balances[index] = 0 if delta > state.balances[index] else state.balances[index] - delta
func DecreaseBalance(state *beacontypes.BeaconState, index eth2types.ValidatorIndex, delta uint64) {
	if delta > state.Balances[index] {
		state.Balances[index] = 0
		return
	}
	state.Balances[index] -= delta
}
