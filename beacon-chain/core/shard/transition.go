// Package shard implements the per-slot and per-block state transition for
// a single shard chain. It mirrors core/state's beacon transition shape:
// ProcessShardSlots drives the slot counter (running period-boundary
// bookkeeping every EpochsPerShardPeriod epochs), ProcessShardBlock applies
// one block's header, attestations, and body on top.
package shard

import (
	"bytes"
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

var log = logrus.WithField("prefix", "core/shard")

// GenesisShardState returns the state a shard chain starts from, anchored
// to the beacon chain's genesis time.
func GenesisShardState(shard uint64, genesisTime uint64) *beacontypes.ShardState {
	cfg := params.BeaconConfig()
	return &beacontypes.ShardState{
		Shard:             shard,
		Slot:              eth2types.Slot(cfg.GenesisSlot),
		GenesisTime:       genesisTime,
		LatestBlockHeader: &beacontypes.ShardBlockHeader{Shard: shard},
		BlockRoots:        make([][32]byte, cfg.SlotsPerHistoricalRoot),
		StateRoots:        make([][32]byte, cfg.SlotsPerHistoricalRoot),
		HistoricalRoots:   [][32]byte{},
		PeriodCommittees:  []*beacontypes.PeriodCommittee{},
	}
}

// ProcessShardSlots advances state one slot at a time up to slot. At every
// shard-period boundary the period committee is rotated from the supplied
// beacon state before the slot counter increments.
//
// Original pseudocode definition:
//  def per_shard_slot_processing(state: ShardState) -> None:
//    if (epoch(state.slot) + 1) % EPOCHS_PER_SHARD_PERIOD == 0:
//        process_shard_period(state)
//    process_shard_slot(state)
//    state.slot += 1
func ProcessShardSlots(ctx context.Context, state *beacontypes.ShardState, beaconState *beacontypes.BeaconState, slot eth2types.Slot) (*beacontypes.ShardState, error) {
	_, span := trace.StartSpan(ctx, "core.shard.ProcessShardSlots")
	defer span.End()

	if state.Slot > slot {
		return nil, errors.Errorf("expected shard state slot %d <= slot %d", state.Slot, slot)
	}

	for state.Slot < slot {
		if canProcessShardPeriod(state.Slot) {
			if err := processShardPeriod(state, beaconState); err != nil {
				return nil, errors.Wrap(err, "could not process shard period")
			}
		}
		if err := processShardSlot(state); err != nil {
			return nil, errors.Wrap(err, "could not process shard slot")
		}
		state.Slot++
	}
	return state, nil
}

// canProcessShardPeriod reports whether slot sits on the last slot before a
// shard-period boundary.
func canProcessShardPeriod(slot eth2types.Slot) bool {
	epochsPerPeriod := params.ShardConfig().EpochsPerShardPeriod
	epoch := uint64(helpers.SlotToEpoch(slot))
	if !helpers.IsEpochEnd(slot) {
		return false
	}
	return (epoch+1)%epochsPerPeriod == 0
}

// processShardPeriod rotates the shard's period committee from the beacon
// state's current committee assignment. The committee is truncated to the
// target period committee size so light clients can track it cheaply.
func processShardPeriod(state *beacontypes.ShardState, beaconState *beacontypes.BeaconState) error {
	if beaconState == nil {
		return errors.New("no beacon state available at shard period boundary")
	}
	shardCfg := params.ShardConfig()
	epoch := helpers.CurrentEpoch(beaconState)
	period := uint64(epoch) / shardCfg.EpochsPerShardPeriod

	committeesPerSlot := helpers.CommitteeCountAtSlot(beaconState, beaconState.Slot)
	committeeIndex := eth2types.CommitteeIndex(state.Shard % committeesPerSlot)
	committee, err := helpers.BeaconCommittee(beaconState, beaconState.Slot, committeeIndex)
	if err != nil {
		return errors.Wrap(err, "could not compute period committee")
	}
	if uint64(len(committee)) > shardCfg.TargetPeriodCommitteeSize {
		committee = committee[:shardCfg.TargetPeriodCommitteeSize]
	}

	state.PeriodCommittees = append(state.PeriodCommittees, &beacontypes.PeriodCommittee{
		Shard:     state.Shard,
		Period:    period,
		Committee: committee,
	})
	// Only the two most recent period committees stay live.
	if len(state.PeriodCommittees) > 2 {
		state.PeriodCommittees = state.PeriodCommittees[len(state.PeriodCommittees)-2:]
	}
	return nil
}

// processShardSlot caches the pre-transition state root and block root in
// the historical ring buffers, the shard analogue of core/state.ProcessSlot.
func processShardSlot(state *beacontypes.ShardState) error {
	prevStateRoot, err := hashutil.HashTreeRoot(state)
	if err != nil {
		return errors.Wrap(err, "could not tree hash previous shard state")
	}
	ringSize := params.BeaconConfig().SlotsPerHistoricalRoot
	state.StateRoots[uint64(state.Slot)%ringSize] = prevStateRoot

	if state.LatestBlockHeader.StateRoot == params.BeaconConfig().ZeroHash {
		state.LatestBlockHeader.StateRoot = prevStateRoot
	}

	prevBlockRoot, err := hashutil.HashTreeRoot(state.LatestBlockHeader)
	if err != nil {
		return errors.Wrap(err, "could not tree hash previous shard block header")
	}
	state.BlockRoots[uint64(state.Slot)%ringSize] = prevBlockRoot
	return nil
}

// ProcessShardBlock applies a single shard block: header invariants, the
// beacon chain anchor, body size, proposer signature, and the block's
// attestations.
func ProcessShardBlock(ctx context.Context, state *beacontypes.ShardState, beaconState *beacontypes.BeaconState, signed *beacontypes.SignedShardBlock, verifySignatures bool) (*beacontypes.ShardState, error) {
	ctx, span := trace.StartSpan(ctx, "core.shard.ProcessShardBlock")
	defer span.End()

	block := signed.Block
	if block.Shard != state.Shard {
		return nil, errors.Errorf("block shard %d does not match state shard %d", block.Shard, state.Shard)
	}
	if block.Slot != state.Slot {
		return nil, errors.Errorf("block slot %d does not match shard state slot %d", block.Slot, state.Slot)
	}
	if uint64(len(block.Body)) > params.ShardConfig().MaxShardBlockBodySize {
		return nil, errors.Errorf("shard block body of %d bytes exceeds maximum %d", len(block.Body), params.ShardConfig().MaxShardBlockBodySize)
	}

	parentHeaderRoot, err := hashutil.HashTreeRoot(state.LatestBlockHeader)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash latest shard block header")
	}
	if block.ParentRoot != parentHeaderRoot {
		return nil, errors.Errorf("shard block parent root %#x does not match latest block header root %#x", block.ParentRoot, parentHeaderRoot)
	}

	// The beacon anchor must reference a block the beacon chain knows about
	// in its recent history, binding this shard block to the finality chain.
	if beaconState != nil && block.BeaconBlockRoot != params.BeaconConfig().ZeroHash {
		if err := verifyBeaconAnchor(beaconState, block.BeaconBlockRoot); err != nil {
			return nil, err
		}
	}

	bodyRoot := hashutil.Hash(block.Body)
	state.LatestBlockHeader = &beacontypes.ShardBlockHeader{
		Slot:            block.Slot,
		Shard:           block.Shard,
		ParentRoot:      block.ParentRoot,
		BeaconBlockRoot: block.BeaconBlockRoot,
		StateRoot:       [32]byte{},
		BodyRoot:        bodyRoot,
	}

	if verifySignatures {
		if beaconState == nil {
			return nil, errors.New("cannot verify shard block signature without a beacon state")
		}
		if err := verifyShardBlockSignature(state, beaconState, signed); err != nil {
			return nil, errors.Wrap(err, "could not verify shard block signature")
		}
	}

	if err := processShardAttestations(ctx, state, beaconState, block, verifySignatures); err != nil {
		return nil, errors.Wrap(err, "could not process shard attestations")
	}

	return state, nil
}

func verifyBeaconAnchor(beaconState *beacontypes.BeaconState, anchorRoot [32]byte) error {
	ringSize := params.BeaconConfig().SlotsPerHistoricalRoot
	for i := uint64(0); i < ringSize && i < uint64(beaconState.Slot); i++ {
		if beaconState.BlockRoots[i] == anchorRoot {
			return nil
		}
	}
	return errors.Errorf("beacon anchor root %#x is not in recent beacon history", anchorRoot)
}

// verifyShardBlockSignature checks the proposer signature under the
// ShardProposer domain. The proposer is drawn from the live period
// committee, rotated through by slot.
func verifyShardBlockSignature(state *beacontypes.ShardState, beaconState *beacontypes.BeaconState, signed *beacontypes.SignedShardBlock) error {
	proposerIndex, err := ShardProposerIndex(state)
	if err != nil {
		return err
	}
	proposer := beaconState.Validators[proposerIndex]

	domain := helpers.Domain(beaconState.Fork, helpers.SlotToEpoch(signed.Block.Slot), params.DomainShardProposer)
	root, err := hashutil.HashTreeRoot(signed.Block)
	if err != nil {
		return errors.Wrap(err, "could not compute shard block signing root")
	}
	signingRoot := hashutil.Hash(append(root[:], domain...))

	pub, err := bls.PublicKeyFromBytes(proposer.PublicKey[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize proposer public key")
	}
	sig, err := bls.SignatureFromBytes(signed.Signature[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize shard block signature")
	}
	if !sig.Verify(pub, signingRoot[:]) {
		return errors.New("shard block signature did not verify")
	}
	return nil
}

// ShardProposerIndex resolves the proposer for the state's current slot by
// rotating through the most recent period committee.
func ShardProposerIndex(state *beacontypes.ShardState) (eth2types.ValidatorIndex, error) {
	if len(state.PeriodCommittees) == 0 {
		return 0, errors.New("no period committee available for shard")
	}
	committee := state.PeriodCommittees[len(state.PeriodCommittees)-1].Committee
	if len(committee) == 0 {
		return 0, errors.New("empty period committee for shard")
	}
	return committee[uint64(state.Slot)%uint64(len(committee))], nil
}

// processShardAttestations verifies the block's bundled attestations. Each
// must vote for a block root in this shard's recent history and carry a
// valid aggregate signature from period-committee members.
func processShardAttestations(ctx context.Context, state *beacontypes.ShardState, beaconState *beacontypes.BeaconState, block *beacontypes.ShardBlock, verifySignatures bool) error {
	_, span := trace.StartSpan(ctx, "core.shard.processShardAttestations")
	defer span.End()

	if uint64(len(block.Attestations)) > params.ShardConfig().MaxShardAttestations {
		return errors.Errorf("block contains %d shard attestations, maximum is %d", len(block.Attestations), params.ShardConfig().MaxShardAttestations)
	}

	for i, att := range block.Attestations {
		if att.Data == nil {
			return errors.Errorf("shard attestation %d has no data", i)
		}
		if att.Data.Slot >= block.Slot {
			return errors.Errorf("shard attestation %d votes for slot %d not before block slot %d", i, att.Data.Slot, block.Slot)
		}
		if !verifySignatures {
			continue
		}
		if err := verifyShardAttestationSignature(state, beaconState, att); err != nil {
			return errors.Wrapf(err, "shard attestation %d did not verify", i)
		}
	}
	return nil
}

func verifyShardAttestationSignature(state *beacontypes.ShardState, beaconState *beacontypes.BeaconState, att *beacontypes.ShardAttestation) error {
	if len(state.PeriodCommittees) == 0 {
		return errors.New("no period committee available for shard")
	}
	committee := state.PeriodCommittees[len(state.PeriodCommittees)-1].Committee
	if err := helpers.VerifyBitfieldLength(att.AggregationBits, uint64(len(committee))); err != nil {
		return err
	}

	pubKeys := make([]*bls.PublicKey, 0, len(committee))
	for _, idx := range helpers.AttestingIndices(att.AggregationBits, committee) {
		pub, err := bls.PublicKeyFromBytes(beaconState.Validators[idx].PublicKey[:])
		if err != nil {
			return errors.Wrap(err, "could not deserialize attester public key")
		}
		pubKeys = append(pubKeys, pub)
	}
	if len(pubKeys) == 0 {
		return errors.New("shard attestation has no attesters")
	}
	aggregate, err := bls.AggregatePublicKeys(pubKeys)
	if err != nil {
		return err
	}

	domain := helpers.Domain(beaconState.Fork, helpers.SlotToEpoch(att.Data.Slot), params.DomainShardAttestation)
	root, err := hashutil.HashTreeRoot(att.Data)
	if err != nil {
		return errors.Wrap(err, "could not hash shard attestation data")
	}
	signingRoot := hashutil.Hash(append(root[:], domain...))

	sig, err := bls.SignatureFromBytes(att.Signature[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize shard attestation signature")
	}
	if !sig.Verify(aggregate, signingRoot[:]) {
		return errors.New("shard attestation aggregate signature did not verify")
	}
	return nil
}

// ExecuteShardStateTransition advances state to signed.Block.Slot and
// applies the block, optionally checking the declared post-state root.
func ExecuteShardStateTransition(ctx context.Context, state *beacontypes.ShardState, beaconState *beacontypes.BeaconState, signed *beacontypes.SignedShardBlock, verifySignatures bool) (*beacontypes.ShardState, error) {
	ctx, span := trace.StartSpan(ctx, "core.shard.ExecuteShardStateTransition")
	defer span.End()

	state, err := ProcessShardSlots(ctx, state, beaconState, signed.Block.Slot)
	if err != nil {
		return nil, errors.Wrap(err, "could not process shard slots")
	}
	state, err = ProcessShardBlock(ctx, state, beaconState, signed, verifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process shard block")
	}

	if verifySignatures && signed.Block.StateRoot != params.BeaconConfig().ZeroHash {
		root, err := hashutil.HashTreeRoot(state)
		if err != nil {
			return nil, errors.Wrap(err, "could not tree hash processed shard state")
		}
		if !bytes.Equal(root[:], signed.Block.StateRoot[:]) {
			return nil, errors.Errorf("post-state root mismatch: block declares %#x, computed %#x", signed.Block.StateRoot, root)
		}
	}

	log.WithFields(logrus.Fields{
		"shard": state.Shard,
		"slot":  state.Slot,
	}).Debug("processed shard block")
	return state, nil
}
