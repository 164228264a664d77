// Package state implements the whole per-block and per-slot state
// transition: process_slot/process_slots drive the slot counter and
// historical-root bookkeeping forward (applying a per-epoch transition
// whenever a slot boundary crosses an epoch), and process_block applies a
// single block's operations on top via core/blocks and core/state/epoch.
package state

import (
	"bytes"
	"context"
	"fmt"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

var log = logrus.WithField("prefix", "core/state")

// TransitionConfig controls the optional, expensive parts of a state
// transition: signature verification (off when replaying trusted blocks),
// post-state root verification (on in production, off in fuzzing/testing),
// and verbose per-block logging.
type TransitionConfig struct {
	VerifySignatures bool
	VerifyStateRoot  bool
	Logging          bool
}

// DefaultConfig is a conservative default: no signature verification, no
// state root check, no logging. Callers processing untrusted blocks must
// opt into VerifySignatures and VerifyStateRoot explicitly.
func DefaultConfig() *TransitionConfig {
	return &TransitionConfig{}
}

// ExecuteStateTransition advances state to signed.Block.Slot via
// ProcessSlots and then applies signed.Block itself via ProcessBlock,
// optionally checking the block's declared post-state root.
//
// Spec pseudocode definition:
//  def state_transition(state: BeaconState, signed_block: SignedBeaconBlock, validate_result: bool=True) -> BeaconState:
//    block = signed_block.message
//    process_slots(state, block.slot)
//    process_block(state, block)
//    if validate_result:
//        assert block.state_root == hash_tree_root(state)
//    return state
func ExecuteStateTransition(ctx context.Context, state *beacontypes.BeaconState, signed *beacontypes.SignedBeaconBlock, config *TransitionConfig) (*beacontypes.BeaconState, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ctx, span := trace.StartSpan(ctx, "core.state.ExecuteStateTransition")
	defer span.End()

	if config == nil {
		config = DefaultConfig()
	}

	state, err := ProcessSlots(ctx, state, signed.Block.Slot)
	if err != nil {
		return nil, errors.Wrap(err, "could not process slots")
	}

	state, err = ProcessBlock(ctx, state, signed, config)
	if err != nil {
		return nil, errors.Wrap(err, "could not process block")
	}

	if config.VerifyStateRoot {
		root, err := hashutil.HashTreeRoot(state)
		if err != nil {
			return nil, errors.Wrap(err, "could not tree hash processed state")
		}
		if !bytes.Equal(root[:], signed.Block.StateRoot[:]) {
			return nil, errors.Errorf("post-state root mismatch: block declares %#x, computed %#x", signed.Block.StateRoot, root)
		}
	}

	return state, nil
}

// ProcessSlot runs every slot regardless of whether a block is present: it
// caches the pre-transition state root, fills it into the latest block
// header if that header's state root is still empty, and caches the
// previous block root, into the historical ring buffers.
//
// Spec pseudocode definition:
//  def process_slot(state: BeaconState) -> None:
//    previous_state_root = hash_tree_root(state)
//    state.state_roots[state.slot % SLOTS_PER_HISTORICAL_ROOT] = previous_state_root
//    if state.latest_block_header.state_root == Bytes32():
//        state.latest_block_header.state_root = previous_state_root
//    previous_block_root = hash_tree_root(state.latest_block_header)
//    state.block_roots[state.slot % SLOTS_PER_HISTORICAL_ROOT] = previous_block_root
func ProcessSlot(ctx context.Context, state *beacontypes.BeaconState) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.ProcessSlot")
	defer span.End()

	prevStateRoot, err := hashutil.HashTreeRoot(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not tree hash previous state")
	}
	ringSize := params.BeaconConfig().SlotsPerHistoricalRoot
	state.StateRoots[uint64(state.Slot)%ringSize] = prevStateRoot

	zeroHash := params.BeaconConfig().ZeroHash
	if state.LatestBlockHeader.StateRoot == zeroHash {
		state.LatestBlockHeader.StateRoot = prevStateRoot
	}

	prevBlockRoot, err := hashutil.HashTreeRoot(state.LatestBlockHeader)
	if err != nil {
		return nil, errors.Wrap(err, "could not tree hash previous block header")
	}
	state.BlockRoots[uint64(state.Slot)%ringSize] = prevBlockRoot

	return state, nil
}

// ProcessSlots advances state one slot at a time up to, but not including, a
// transition into slot; at every epoch boundary it invokes ProcessEpoch
// before incrementing the slot counter.
//
// Spec pseudocode definition:
//  def process_slots(state: BeaconState, slot: Slot) -> None:
//    assert state.slot <= slot
//    while state.slot < slot:
//        process_slot(state)
//        if (state.slot + 1) % SLOTS_PER_EPOCH == 0:
//            process_epoch(state)
//        state.slot += 1
func ProcessSlots(ctx context.Context, state *beacontypes.BeaconState, slot eth2types.Slot) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.state.ProcessSlots")
	defer span.End()

	if state.Slot > slot {
		return nil, errors.Errorf("expected state.slot %d <= slot %d", state.Slot, slot)
	}

	var err error
	for state.Slot < slot {
		state, err = ProcessSlot(ctx, state)
		if err != nil {
			return nil, errors.Wrap(err, "could not process slot")
		}
		if CanProcessEpoch(state) {
			state, err = ProcessEpoch(ctx, state)
			if err != nil {
				return nil, errors.Wrap(err, "could not process epoch")
			}
		}
		state.Slot++
	}
	return state, nil
}

// ProcessBlock applies a single block's header, RANDAO reveal, eth1 data
// vote, and bundled operations onto state in the fixed order the protocol
// requires.
//
// Spec pseudocode definition:
//  def process_block(state: BeaconState, block: BeaconBlock) -> None:
//    process_block_header(state, block)
//    process_randao(state, block.body)
//    process_eth1_data(state, block.body)
//    process_operations(state, block.body)
func ProcessBlock(ctx context.Context, state *beacontypes.BeaconState, signed *beacontypes.SignedBeaconBlock, config *TransitionConfig) (*beacontypes.BeaconState, error) {
	ctx, span := trace.StartSpan(ctx, "core.state.ProcessBlock")
	defer span.End()

	state, err := blocks.ProcessBlockHeader(ctx, state, signed, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process block header")
	}

	state, err = blocks.ProcessRandao(ctx, state, signed.Block.Body, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process randao")
	}

	state, err = blocks.ProcessEth1DataInBlock(ctx, state, signed.Block.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not process eth1 data")
	}

	state, err = ProcessOperations(ctx, state, signed.Block.Body, config)
	if err != nil {
		return nil, errors.Wrap(err, "could not process block operations")
	}

	if config.Logging {
		root, _ := hashutil.HashTreeRoot(signed.Block)
		log.WithField("blockRoot", fmt.Sprintf("%#x", root)).WithFields(logrus.Fields{
			"attestations": len(signed.Block.Body.Attestations),
			"deposits":     len(signed.Block.Body.Deposits),
		}).Debug("processed block")
	}

	return state, nil
}

// ProcessOperations applies, in the fixed protocol order, every operation
// bundled into a block body: proposer slashings, attester slashings,
// attestations, deposits, voluntary exits, then transfers. Each category is
// verified and applied by its own function in core/blocks.
//
// Spec pseudocode definition:
//  def process_operations(state: BeaconState, body: BeaconBlockBody) -> None:
//    assert len(body.deposits) == min(MAX_DEPOSITS, state.eth1_data.deposit_count - state.eth1_deposit_index)
//    for operations, function in (
//        (body.proposer_slashings, process_proposer_slashing),
//        (body.attester_slashings, process_attester_slashing),
//        (body.attestations, process_attestation),
//        (body.deposits, process_deposit),
//        (body.voluntary_exits, process_voluntary_exit),
//        (body.transfers, process_transfer),
//    ):
//        for operation in operations:
//            function(state, operation)
func ProcessOperations(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, config *TransitionConfig) (*beacontypes.BeaconState, error) {
	ctx, span := trace.StartSpan(ctx, "core.state.ProcessOperations")
	defer span.End()

	state, err := blocks.ProcessProposerSlashings(ctx, state, body, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process proposer slashings")
	}
	state, err = blocks.ProcessAttesterSlashings(ctx, state, body, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process attester slashings")
	}
	state, err = blocks.ProcessAttestations(ctx, state, body, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process attestations")
	}
	state, err = blocks.ProcessDeposits(ctx, state, body)
	if err != nil {
		return nil, errors.Wrap(err, "could not process deposits")
	}
	state, err = blocks.ProcessVoluntaryExits(ctx, state, body, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process voluntary exits")
	}
	state, err = blocks.ProcessTransfers(ctx, state, body, config.VerifySignatures)
	if err != nil {
		return nil, errors.Wrap(err, "could not process transfers")
	}
	return state, nil
}

// CanProcessEpoch reports whether state sits on the last slot of an epoch,
// the point at which process_slots must run the epoch transition before
// advancing into the next epoch's first slot.
func CanProcessEpoch(state *beacontypes.BeaconState) bool {
	return helpers.IsEpochEnd(state.Slot)
}
