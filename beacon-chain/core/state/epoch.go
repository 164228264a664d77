package state

import (
	"bytes"
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// matchedAttestations buckets one epoch's PendingAttestations by which of
// source, target, and head they correctly voted for.
type matchedAttestations struct {
	source []*beacontypes.PendingAttestation
	target []*beacontypes.PendingAttestation
	head   []*beacontypes.PendingAttestation
}

// matchAttestations classifies epoch's attestation buffer (current or
// previous, whichever epoch names) into source/target/head matches.
//
// Spec pseudocode definition:
//  def get_matching_source_attestations(state, epoch) -> Sequence[PendingAttestation]:
//    return state.current_epoch_attestations if epoch == get_current_epoch(state) else state.previous_epoch_attestations
//  def get_matching_target_attestations(state, epoch) -> Sequence[PendingAttestation]:
//    return [a for a in get_matching_source_attestations(state, epoch) if a.data.target.root == get_block_root(state, epoch)]
//  def get_matching_head_attestations(state, epoch) -> Sequence[PendingAttestation]:
//    return [a for a in get_matching_source_attestations(state, epoch) if a.data.beacon_block_root == get_block_root_at_slot(state, a.data.slot)]
func matchAttestations(state *beacontypes.BeaconState, epoch eth2types.Epoch) (*matchedAttestations, error) {
	current := helpers.CurrentEpoch(state)
	previous := helpers.PrevEpoch(state)
	if epoch != current && epoch != previous {
		return nil, errors.Errorf("epoch %d is neither the current epoch %d nor the previous epoch %d", epoch, current, previous)
	}

	source := state.PreviousEpochAttestations
	if epoch == current {
		source = state.CurrentEpochAttestations
	}

	targetRoot, err := helpers.BlockRoot(state, epoch)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve target root")
	}

	target := make([]*beacontypes.PendingAttestation, 0, len(source))
	head := make([]*beacontypes.PendingAttestation, 0, len(source))
	for _, att := range source {
		if att.Data.Target.Root == targetRoot {
			target = append(target, att)
		}
		headRoot, err := helpers.BlockRootAtSlot(state, att.Data.Slot)
		if err != nil {
			continue
		}
		if att.Data.BeaconBlockRoot == headRoot {
			head = append(head, att)
		}
	}

	return &matchedAttestations{source: source, target: target, head: head}, nil
}

// unslashedAttestingIndices returns the deduplicated, sorted set of signer
// indices behind atts, excluding any validator already slashed.
func unslashedAttestingIndices(state *beacontypes.BeaconState, atts []*beacontypes.PendingAttestation) ([]eth2types.ValidatorIndex, error) {
	seen := make(map[eth2types.ValidatorIndex]bool)
	for _, att := range atts {
		committee, err := helpers.BeaconCommittee(state, att.Data.Slot, att.Data.CommitteeIndex)
		if err != nil {
			return nil, errors.Wrap(err, "could not compute committee")
		}
		for _, idx := range helpers.AttestingIndices(att.AggregationBits, committee) {
			if !state.Validators[idx].Slashed {
				seen[idx] = true
			}
		}
	}
	out := make([]eth2types.ValidatorIndex, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// ProcessEpoch runs the full epoch transition: justification/finalization,
// reward and penalty application, registry updates, slashings, and the
// final per-epoch resets. Called by ProcessSlots on the last slot of every
// epoch, before the slot counter rolls into the next epoch.
//
// Spec pseudocode definition:
//  def process_epoch(state: BeaconState) -> None:
//    process_justification_and_finalization(state)
//    process_rewards_and_penalties(state)
//    process_registry_updates(state)
//    process_slashings(state)
//    process_final_updates(state)
func ProcessEpoch(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	ctx, span := trace.StartSpan(ctx, "core.state.ProcessEpoch")
	defer span.End()

	state, err := processJustificationAndFinalization(ctx, state)
	if err != nil {
		return nil, errors.Wrap(err, "could not process justification and finalization")
	}
	state, err = processRewardsAndPenalties(ctx, state)
	if err != nil {
		return nil, errors.Wrap(err, "could not process rewards and penalties")
	}
	state, err = processRegistryUpdates(ctx, state)
	if err != nil {
		return nil, errors.Wrap(err, "could not process registry updates")
	}
	state, err = processSlashings(ctx, state)
	if err != nil {
		return nil, errors.Wrap(err, "could not process slashings")
	}
	state, err = processFinalUpdates(ctx, state)
	if err != nil {
		return nil, errors.Wrap(err, "could not process final updates")
	}
	return state, nil
}

// processJustificationAndFinalization updates the justification bitfield
// and current/previous justified checkpoints from this epoch's and last
// epoch's target-vote weight, then derives finality from the resulting
// 2-of-4 / 2-of-3 / 2-of-2 justified-epoch patterns.
func processJustificationAndFinalization(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.processJustificationAndFinalization")
	defer span.End()

	currentEpoch := helpers.CurrentEpoch(state)
	if currentEpoch <= 1 {
		return state, nil
	}
	previousEpoch := helpers.PrevEpoch(state)
	totalBalance := helpers.TotalActiveBalance(state)

	prevMatched, err := matchAttestations(state, previousEpoch)
	if err != nil {
		return nil, err
	}
	prevTargetIndices, err := unslashedAttestingIndices(state, prevMatched.target)
	if err != nil {
		return nil, err
	}
	prevTargetBalance := helpers.TotalBalance(state, prevTargetIndices)

	currMatched, err := matchAttestations(state, currentEpoch)
	if err != nil {
		return nil, err
	}
	currTargetIndices, err := unslashedAttestingIndices(state, currMatched.target)
	if err != nil {
		return nil, err
	}
	currTargetBalance := helpers.TotalBalance(state, currTargetIndices)

	oldPrevJustified := state.PreviousJustifiedCheckpoint
	oldCurrJustified := state.CurrentJustifiedCheckpoint
	state.PreviousJustifiedCheckpoint = state.CurrentJustifiedCheckpoint

	state.JustificationBits[0] <<= 1
	state.JustificationBits[0] &= 0x0F

	if 3*prevTargetBalance >= 2*totalBalance {
		root, err := helpers.BlockRoot(state, previousEpoch)
		if err != nil {
			return nil, err
		}
		state.CurrentJustifiedCheckpoint = &beacontypes.Checkpoint{Epoch: previousEpoch, Root: root}
		state.JustificationBits[0] |= 1 << 1
	}
	if 3*currTargetBalance >= 2*totalBalance {
		root, err := helpers.BlockRoot(state, currentEpoch)
		if err != nil {
			return nil, err
		}
		state.CurrentJustifiedCheckpoint = &beacontypes.Checkpoint{Epoch: currentEpoch, Root: root}
		state.JustificationBits[0] |= 1 << 0
	}

	bits := state.JustificationBits[0]
	if (bits>>1)%8 == 0b111 && oldPrevJustified.Epoch+3 == currentEpoch {
		state.FinalizedCheckpoint = oldPrevJustified
	}
	if (bits>>1)%4 == 0b11 && oldPrevJustified.Epoch+2 == currentEpoch {
		state.FinalizedCheckpoint = oldPrevJustified
	}
	if (bits>>0)%8 == 0b111 && oldCurrJustified.Epoch+2 == currentEpoch {
		state.FinalizedCheckpoint = oldCurrJustified
	}
	if (bits>>0)%4 == 0b11 && oldCurrJustified.Epoch+1 == currentEpoch {
		state.FinalizedCheckpoint = oldCurrJustified
	}

	return state, nil
}

// processRewardsAndPenalties credits previous-epoch source/target/head
// attesters proportionally to their share of the matching balance, and
// charges every previous-epoch active validator outside a component's
// unslashed attesting set one base reward for that component.
func processRewardsAndPenalties(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.processRewardsAndPenalties")
	defer span.End()

	if uint64(helpers.CurrentEpoch(state)) == params.BeaconConfig().GenesisEpoch {
		return state, nil
	}

	previousEpoch := helpers.PrevEpoch(state)
	matched, err := matchAttestations(state, previousEpoch)
	if err != nil {
		return nil, err
	}
	sourceIndices, err := unslashedAttestingIndices(state, matched.source)
	if err != nil {
		return nil, err
	}
	targetIndices, err := unslashedAttestingIndices(state, matched.target)
	if err != nil {
		return nil, err
	}
	headIndices, err := unslashedAttestingIndices(state, matched.head)
	if err != nil {
		return nil, err
	}
	sourceSet := toSet(sourceIndices)
	targetSet := toSet(targetIndices)
	headSet := toSet(headIndices)

	sourceBalance := helpers.TotalBalance(state, sourceIndices)
	targetBalance := helpers.TotalBalance(state, targetIndices)
	headBalance := helpers.TotalBalance(state, headIndices)
	totalActive := helpers.TotalActiveBalance(state)

	for _, idx := range helpers.ActiveValidatorIndices(state, previousEpoch) {
		reward := baseReward(state, idx, totalActive)
		if sourceSet[idx] {
			helpers.IncreaseBalance(state, idx, reward*sourceBalance/totalActive)
		} else {
			helpers.DecreaseBalance(state, idx, reward)
		}
		if targetSet[idx] {
			helpers.IncreaseBalance(state, idx, reward*targetBalance/totalActive)
		} else {
			helpers.DecreaseBalance(state, idx, reward)
		}
		if headSet[idx] {
			helpers.IncreaseBalance(state, idx, reward*headBalance/totalActive)
		} else {
			helpers.DecreaseBalance(state, idx, reward)
		}
	}
	return state, nil
}

func toSet(indices []eth2types.ValidatorIndex) map[eth2types.ValidatorIndex]bool {
	set := make(map[eth2types.ValidatorIndex]bool, len(indices))
	for _, idx := range indices {
		set[idx] = true
	}
	return set
}

// baseReward is the per-validator, per-epoch reward unit that every
// source/target/head credit and penalty is scaled from: proportional to the
// validator's own effective balance and inversely proportional to the
// square root of total active balance, damping rewards as the validator set
// grows.
func baseReward(state *beacontypes.BeaconState, index eth2types.ValidatorIndex, totalActiveBalance uint64) uint64 {
	cfg := params.BeaconConfig()
	effectiveBalance := state.Validators[index].EffectiveBalance
	return effectiveBalance * cfg.BaseRewardFactor / isqrt(totalActiveBalance) / cfg.BaseRewardsPerEpoch
}

func isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// processRegistryUpdates advances validators through activation
// eligibility and activation, and ejects any active validator whose
// effective balance has fallen to or below the ejection threshold.
//
// Spec pseudocode definition:
//  def process_registry_updates(state: BeaconState) -> None:
//    for index, validator in enumerate(state.validators):
//        if is_eligible_for_activation_queue(validator):
//            validator.activation_eligibility_epoch = get_current_epoch(state) + 1
//        if is_active_validator(validator, get_current_epoch(state)) and validator.effective_balance <= EJECTION_BALANCE:
//            initiate_validator_exit(state, index)
//    activation_queue = sorted eligible validators by activation_eligibility_epoch
//    for validator in activation_queue[:get_validator_churn_limit(state)]:
//        validator.activation_epoch = compute_activation_exit_epoch(get_current_epoch(state))
func processRegistryUpdates(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.processRegistryUpdates")
	defer span.End()

	cfg := params.BeaconConfig()
	currentEpoch := helpers.CurrentEpoch(state)
	farFuture := eth2types.Epoch(cfg.FarFutureEpoch)

	var queue []eth2types.ValidatorIndex
	for i, v := range state.Validators {
		idx := eth2types.ValidatorIndex(i)
		if v.ActivationEligibilityEpoch == farFuture && v.EffectiveBalance >= cfg.MaxEffectiveBalance {
			v.ActivationEligibilityEpoch = currentEpoch + 1
		}
		if helpers.IsActiveValidator(v, currentEpoch) && v.EffectiveBalance <= cfg.EjectionBalance {
			helpers.InitiateValidatorExit(state, idx)
		}
		if v.ActivationEligibilityEpoch != farFuture && v.ActivationEpoch == farFuture {
			queue = append(queue, idx)
		}
	}

	for i := 1; i < len(queue); i++ {
		for j := i; j > 0 && state.Validators[queue[j-1]].ActivationEligibilityEpoch > state.Validators[queue[j]].ActivationEligibilityEpoch; j-- {
			queue[j-1], queue[j] = queue[j], queue[j-1]
		}
	}

	churnLimit := helpers.ValidatorChurnLimit(helpers.ActiveValidatorCount(state, currentEpoch))
	if uint64(len(queue)) < churnLimit {
		churnLimit = uint64(len(queue))
	}
	activationExitEpoch := helpers.DelayedActivationExitEpoch(currentEpoch)
	for _, idx := range queue[:churnLimit] {
		state.Validators[idx].ActivationEpoch = activationExitEpoch
	}
	return state, nil
}

// processSlashings burns, from each slashed validator whose withdrawable
// epoch lies exactly half a slashings vector ahead, a penalty proportional
// to its share of aggregate slashed balance relative to total active
// balance.
//
// Spec pseudocode definition:
//  def process_slashings(state: BeaconState) -> None:
//    epoch = get_current_epoch(state)
//    total_balance = get_total_active_balance(state)
//    for index, validator in enumerate(state.validators):
//        if validator.slashed and epoch + EPOCHS_PER_SLASHINGS_VECTOR // 2 == validator.withdrawable_epoch:
//            penalty = validator.effective_balance // EFFECTIVE_BALANCE_INCREMENT * min(sum(state.slashings) * 3, total_balance) // total_balance * EFFECTIVE_BALANCE_INCREMENT
//            decrease_balance(state, ValidatorIndex(index), penalty)
func processSlashings(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.processSlashings")
	defer span.End()

	cfg := params.BeaconConfig()
	epoch := helpers.CurrentEpoch(state)
	totalBalance := helpers.TotalActiveBalance(state)

	totalSlashed := uint64(0)
	for _, b := range state.Slashings {
		totalSlashed += b
	}

	// The penalty lands exactly once, halfway through the validator's
	// slashing withdrawability delay, when the accumulator has seen every
	// slashing that can still affect it.
	payoutEpoch := epoch + eth2types.Epoch(cfg.EpochsPerSlashingsVector/2)
	for i, v := range state.Validators {
		if !v.Slashed || payoutEpoch != v.WithdrawableEpoch {
			continue
		}
		increment := cfg.EffectiveBalanceIncrement
		penalty := v.EffectiveBalance / increment * min64(totalSlashed*3, totalBalance) / totalBalance * increment
		helpers.DecreaseBalance(state, eth2types.ValidatorIndex(i), penalty)
	}
	return state, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// processFinalUpdates rolls the per-epoch state forward: it retargets a
// stale eth1 data vote window, rotates the randao mix and the slashings
// accumulator slot for the upcoming epoch, appends a fresh historical root
// every SlotsPerHistoricalRoot slots, and swaps the current/previous
// epoch attestation buffers.
func processFinalUpdates(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.processFinalUpdates")
	defer span.End()

	cfg := params.BeaconConfig()
	nextEpoch := helpers.NextEpoch(state)

	votingPeriodSlots := cfg.EpochsPerEth1VotingPeriod * cfg.SlotsPerEpoch
	if (uint64(state.Slot)+1)%votingPeriodSlots == 0 {
		state.Eth1DataVotes = nil
	}

	mixes := len(state.RandaoMixes)
	if mixes > 0 {
		mix, err := helpers.RandaoMix(state, helpers.CurrentEpoch(state))
		if err == nil {
			state.RandaoMixes[uint64(nextEpoch)%uint64(mixes)] = mix
		}
	}

	if len(state.Slashings) > 0 {
		state.Slashings[uint64(nextEpoch)%uint64(len(state.Slashings))] = 0
	}

	if uint64(nextEpoch)%(cfg.SlotsPerHistoricalRoot/cfg.SlotsPerEpoch) == 0 {
		var roots bytes.Buffer
		for _, r := range state.BlockRoots {
			roots.Write(r[:])
		}
		historicalRoot := params.BeaconConfig().ZeroHash
		if roots.Len() > 0 {
			historicalRoot = hashutil.Hash(roots.Bytes())
		}
		state.HistoricalRoots = append(state.HistoricalRoots, historicalRoot)
	}

	state.PreviousEpochAttestations = state.CurrentEpochAttestations
	state.CurrentEpochAttestations = nil

	return state, nil
}
