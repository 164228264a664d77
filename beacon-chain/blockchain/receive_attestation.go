package blockchain

import (
	"context"
	"sort"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	sharedevent "github.com/shardbeacon/client/shared/event"
	"github.com/shardbeacon/client/shared/hashutil"
)

// AttestationProcessingOutcome classifies what happened to an attestation
// handed to the chain.
type AttestationProcessingOutcome int

const (
	// AttestationProcessed means the attestation entered the pool and its
	// signers' votes were counted by fork choice.
	AttestationProcessed AttestationProcessingOutcome = iota
	// AttestationUnknownBlock means the attested block is not in the
	// store; the vote cannot be weighed yet.
	AttestationUnknownBlock
	// AttestationInvalid means the attestation failed validation.
	AttestationInvalid
)

// AttestationProcessingResult carries the outcome and, for invalid
// attestations, the reason.
type AttestationProcessingResult struct {
	Outcome AttestationProcessingOutcome
	Reason  string
}

// ProcessAttestation validates an attestation against the current head
// state, inserts it into the aggregation pool, and feeds its resolved
// signers into fork choice.
func (s *Service) ProcessAttestation(ctx context.Context, att *beacontypes.Attestation) (*AttestationProcessingResult, error) {
	ctx, span := trace.StartSpan(ctx, "blockchain.ProcessAttestation")
	defer span.End()

	if att.Data == nil {
		return &AttestationProcessingResult{Outcome: AttestationInvalid, Reason: "attestation has no data"}, nil
	}
	headState := s.headRef().state

	targetEpoch := att.Data.Target.Epoch
	currentEpoch := helpers.CurrentEpoch(headState)
	previousEpoch := helpers.PrevEpoch(headState)
	if targetEpoch != currentEpoch && targetEpoch != previousEpoch {
		return &AttestationProcessingResult{
			Outcome: AttestationInvalid,
			Reason:  "target epoch is neither the current nor previous epoch",
		}, nil
	}

	committee, err := helpers.BeaconCommittee(headState, att.Data.Slot, att.Data.CommitteeIndex)
	if err != nil {
		return &AttestationProcessingResult{Outcome: AttestationInvalid, Reason: err.Error()}, nil
	}
	if err := helpers.VerifyBitfieldLength(att.AggregationBits, uint64(len(committee))); err != nil {
		return &AttestationProcessingResult{Outcome: AttestationInvalid, Reason: err.Error()}, nil
	}
	indices := helpers.AttestingIndices(att.AggregationBits, committee)
	if len(indices) == 0 {
		return &AttestationProcessingResult{Outcome: AttestationInvalid, Reason: "attestation has no participants"}, nil
	}

	if s.transitionCfg.VerifySignatures {
		sorted := append([]eth2types.ValidatorIndex(nil), indices...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		indexed := &beacontypes.IndexedAttestation{
			AttestingIndices: sorted,
			Data:             att.Data,
			Signature:        att.Signature,
		}
		if err := blocks.VerifyIndexedAttestation(headState, indexed); err != nil {
			return &AttestationProcessingResult{Outcome: AttestationInvalid, Reason: err.Error()}, nil
		}
	}

	attestedBlock, err := s.beaconDB.Block(ctx, att.Data.BeaconBlockRoot)
	if err != nil {
		return nil, errors.Wrap(err, "could not read attested block")
	}
	if attestedBlock == nil {
		return &AttestationProcessingResult{Outcome: AttestationUnknownBlock}, nil
	}

	if err := s.opsPool.InsertAttestation(att, headState); err != nil {
		return &AttestationProcessingResult{Outcome: AttestationInvalid, Reason: err.Error()}, nil
	}

	// The attested block was inserted into fork choice when it was
	// imported, so counting these votes can never reference a missing
	// node.
	for _, validatorIndex := range indices {
		if err := s.forkChoice.ProcessAttestation(ctx, uint64(validatorIndex), att.Data.BeaconBlockRoot, attestedBlock.Block.Slot); err != nil {
			return nil, errors.Wrap(err, "could not count attestation in fork choice")
		}
	}

	dataRoot, _ := hashutil.HashTreeRoot(att.Data)
	s.feeds.AttestationFeed().Send(&sharedevent.AttestationImportedData{
		DataRoot: dataRoot,
		Slot:     uint64(att.Data.Slot),
	})
	return &AttestationProcessingResult{Outcome: AttestationProcessed}, nil
}
