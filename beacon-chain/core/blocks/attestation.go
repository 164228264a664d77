package blocks

import (
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
)

// ProcessAttestations verifies, in parallel, every Attestation in body
// bounded by MaxAttestations and folds each into the matching epoch's
// PendingAttestation accumulator for reward processing at the epoch
// boundary.
//
// Spec pseudocode definition:
//  def process_attestation(state: BeaconState, attestation: Attestation) -> None:
//    data = attestation.data
//    assert data.target.epoch in (get_previous_epoch(state), get_current_epoch(state))
//    assert data.target.epoch == compute_epoch_at_slot(data.slot)
//    assert data.slot + MIN_ATTESTATION_INCLUSION_DELAY <= state.slot <= data.slot + SLOTS_PER_EPOCH
//    committee = get_beacon_committee(state, data.slot, data.index)
//    assert len(attestation.aggregation_bits) == len(committee)
//    pending_attestation = PendingAttestation(
//        data=data, aggregation_bits=attestation.aggregation_bits,
//        inclusion_delay=state.slot - data.slot, proposer_index=get_beacon_proposer_index(state))
//    if data.target.epoch == get_current_epoch(state):
//        state.current_epoch_attestations.append(pending_attestation)
//    else:
//        state.previous_epoch_attestations.append(pending_attestation)
//    assert is_valid_indexed_attestation(state, get_indexed_attestation(state, attestation))
func ProcessAttestations(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, verifySignatures bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessAttestations")
	defer span.End()

	if uint64(len(body.Attestations)) > params.BeaconConfig().MaxAttestations {
		return nil, errors.Errorf("number of attestations (%d) exceeds allowed threshold of %d",
			len(body.Attestations), params.BeaconConfig().MaxAttestations)
	}

	proposerIndex, err := helpers.BeaconProposerIndex(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve proposer index")
	}

	indexed := make([]*beacontypes.IndexedAttestation, len(body.Attestations))
	for i, att := range body.Attestations {
		idx, err := verifyAttestationConsistency(state, att)
		if err != nil {
			return nil, errors.Wrapf(err, "attestation %d invalid", i)
		}
		indexed[i] = idx

		pending := &beacontypes.PendingAttestation{
			AggregationBits: att.AggregationBits,
			Data:            att.Data,
			InclusionDelay:  state.Slot - att.Data.Slot,
			ProposerIndex:   proposerIndex,
		}
		if att.Data.Target.Epoch == helpers.CurrentEpoch(state) {
			state.CurrentEpochAttestations = append(state.CurrentEpochAttestations, pending)
		} else {
			state.PreviousEpochAttestations = append(state.PreviousEpochAttestations, pending)
		}
	}

	if verifySignatures {
		g, _ := errgroup.WithContext(ctx)
		for i, att := range indexed {
			att := att
			i := i
			g.Go(func() error {
				if err := VerifyIndexedAttestation(state, att); err != nil {
					return errors.Wrapf(err, "attestation %d signature invalid", i)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return state, nil
}

// verifyAttestationConsistency checks the slot/epoch/committee-size
// invariants an Attestation must satisfy before it can be folded into the
// state, and returns its IndexedAttestation expansion for later signature
// verification.
func verifyAttestationConsistency(state *beacontypes.BeaconState, att *beacontypes.Attestation) (*beacontypes.IndexedAttestation, error) {
	data := att.Data
	currentEpoch := helpers.CurrentEpoch(state)
	previousEpoch := helpers.PrevEpoch(state)
	if data.Target.Epoch != currentEpoch && data.Target.Epoch != previousEpoch {
		return nil, errors.Errorf("target epoch %d is neither the current epoch %d nor the previous epoch %d",
			data.Target.Epoch, currentEpoch, previousEpoch)
	}
	if data.Target.Epoch != helpers.SlotToEpoch(data.Slot) {
		return nil, errors.Errorf("target epoch %d does not match slot %d's epoch", data.Target.Epoch, data.Slot)
	}

	minInclusion := data.Slot + eth2types.Slot(params.BeaconConfig().MinAttestationInclusionDelay)
	maxInclusion := data.Slot + eth2types.Slot(params.BeaconConfig().SlotsPerEpoch)
	if state.Slot < minInclusion || state.Slot > maxInclusion {
		return nil, errors.Errorf("state slot %d is outside attestation inclusion window [%d, %d]", state.Slot, minInclusion, maxInclusion)
	}

	committee, err := helpers.BeaconCommittee(state, data.Slot, data.CommitteeIndex)
	if err != nil {
		return nil, errors.Wrap(err, "could not compute beacon committee")
	}
	if err := helpers.VerifyBitfieldLength(att.AggregationBits, uint64(len(committee))); err != nil {
		return nil, errors.Wrap(err, "attestation aggregation bits do not match committee size")
	}

	attestingIndices := helpers.AttestingIndices(att.AggregationBits, committee)
	return &beacontypes.IndexedAttestation{
		AttestingIndices: attestingIndices,
		Data:             data,
		Signature:        att.Signature,
	}, nil
}

