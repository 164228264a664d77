package blockchain

import (
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	"github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	sharedevent "github.com/shardbeacon/client/shared/event"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// BlockProcessingOutcome classifies what happened to a block handed to the
// chain. Only InvalidBlock means the block can never be applied; the other
// non-Processed outcomes are recoverable conditions the sync layer acts on.
type BlockProcessingOutcome int

const (
	// Processed means the block passed the state transition and is now
	// part of the block DAG.
	Processed BlockProcessingOutcome = iota
	// BlockIsAlreadyKnown means the block root is already in the store.
	BlockIsAlreadyKnown
	// ParentUnknown means the parent root is not in the store; the caller
	// should trigger a parent lookup.
	ParentUnknown
	// FutureSlot means the block's slot is ahead of the wall clock. Within
	// tolerance the chain queues it internally.
	FutureSlot
	// InvalidBlock means the state transition rejected the block.
	InvalidBlock
)

// String renders the outcome for logs.
func (o BlockProcessingOutcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case BlockIsAlreadyKnown:
		return "already known"
	case ParentUnknown:
		return "parent unknown"
	case FutureSlot:
		return "future slot"
	case InvalidBlock:
		return "invalid"
	default:
		return "unknown outcome"
	}
}

// BlockProcessingResult carries the outcome plus whichever detail fields
// the outcome makes meaningful.
type BlockProcessingResult struct {
	Outcome     BlockProcessingOutcome
	BlockRoot   [32]byte
	ParentRoot  [32]byte
	PresentSlot eth2types.Slot
	BlockSlot   eth2types.Slot
	Reason      string
}

// ProcessBlock validates and applies a block received from the network.
// The returned error is reserved for fatal store or clock failures;
// everything block-specific is reported through the result's outcome.
func (s *Service) ProcessBlock(ctx context.Context, signed *beacontypes.SignedBeaconBlock) (*BlockProcessingResult, error) {
	ctx, span := trace.StartSpan(ctx, "blockchain.ProcessBlock")
	defer span.End()

	block := signed.Block
	blockRoot, err := hashutil.HashTreeRoot(block)
	if err != nil {
		return nil, errors.Wrap(err, "could not compute block root")
	}

	if s.beaconDB.HasBlock(ctx, blockRoot) {
		return &BlockProcessingResult{Outcome: BlockIsAlreadyKnown, BlockRoot: blockRoot}, nil
	}

	presentSlot, err := s.CurrentSlot()
	if err != nil {
		return nil, errors.Wrap(err, "could not read slot clock")
	}
	if block.Slot > presentSlot {
		result := &BlockProcessingResult{
			Outcome:     FutureSlot,
			BlockRoot:   blockRoot,
			PresentSlot: presentSlot,
			BlockSlot:   block.Slot,
		}
		if uint64(block.Slot) <= uint64(presentSlot)+params.BeaconConfig().FutureSlotTolerance {
			s.queueFutureBlock(signed)
		} else {
			log.WithFields(logrus.Fields{
				"blockSlot":   block.Slot,
				"presentSlot": presentSlot,
			}).Debug("discarding block too far in the future")
		}
		return result, nil
	}

	if !s.beaconDB.HasBlock(ctx, block.ParentRoot) {
		return &BlockProcessingResult{
			Outcome:    ParentUnknown,
			BlockRoot:  blockRoot,
			ParentRoot: block.ParentRoot,
		}, nil
	}

	parentState, err := s.beaconDB.State(ctx, block.ParentRoot)
	if err != nil {
		return nil, errors.Wrap(err, "could not read parent state")
	}
	if parentState == nil {
		return nil, errors.Errorf("no state persisted for parent block %#x", block.ParentRoot)
	}

	// The transition runs on a clone so a failure leaves no partial state.
	postState, err := state.ExecuteStateTransition(ctx, parentState.Clone(), signed, s.transitionCfg)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"blockRoot": logFields(blockRoot),
			"blockSlot": block.Slot,
		}).Warn("block failed state transition")
		return &BlockProcessingResult{
			Outcome:   InvalidBlock,
			BlockRoot: blockRoot,
			Reason:    err.Error(),
		}, nil
	}

	if err := s.beaconDB.SaveBlock(ctx, signed); err != nil {
		return nil, errors.Wrap(err, "could not save block")
	}
	if err := s.beaconDB.SaveState(ctx, blockRoot, postState); err != nil {
		return nil, errors.Wrap(err, "could not save post state")
	}

	if err := s.forkChoice.ProcessBlock(ctx, block, blockRoot); err != nil {
		return nil, errors.Wrap(err, "could not add block to fork choice")
	}

	if err := s.advanceFinalization(ctx, postState); err != nil {
		return nil, err
	}
	if err := s.updateHead(ctx); err != nil {
		return nil, err
	}

	s.feeds.BlockFeed().Send(&sharedevent.BlockImportedData{
		BlockRoot: blockRoot,
		Slot:      uint64(block.Slot),
	})
	log.WithFields(logrus.Fields{
		"blockRoot": logFields(blockRoot),
		"slot":      block.Slot,
	}).Info("imported block")

	return &BlockProcessingResult{Outcome: Processed, BlockRoot: blockRoot}, nil
}

// advanceFinalization reacts to a state transition that moved the
// finalized checkpoint forward: the checkpoint is persisted, fork choice is
// re-rooted, and the attestation pool drops unincludable attestations.
// Finalization only ever advances; a lower checkpoint is ignored.
func (s *Service) advanceFinalization(ctx context.Context, postState *beacontypes.BeaconState) error {
	checkpoint := postState.FinalizedCheckpoint
	if checkpoint == nil || checkpoint.Epoch <= s.finalizedEpoch || checkpoint.Root == ([32]byte{}) {
		return nil
	}

	finalizedBlock, err := s.beaconDB.Block(ctx, checkpoint.Root)
	if err != nil {
		return errors.Wrap(err, "could not read finalized block")
	}
	if finalizedBlock == nil {
		return errors.Errorf("finalized checkpoint %#x has no block in store", checkpoint.Root)
	}

	if err := s.beaconDB.SaveFinalizedCheckpoint(ctx, checkpoint); err != nil {
		return errors.Wrap(err, "could not persist finalized checkpoint")
	}
	if err := s.forkChoice.UpdateFinalizedRoot(ctx, finalizedBlock.Block, checkpoint.Root); err != nil {
		return errors.Wrap(err, "could not update fork choice finalized root")
	}
	s.finalizedEpoch = checkpoint.Epoch

	if finalizedState, err := s.beaconDB.State(ctx, checkpoint.Root); err == nil && finalizedState != nil {
		s.opsPool.Prune(finalizedState)
	}

	log.WithFields(logrus.Fields{
		"epoch": checkpoint.Epoch,
		"root":  logFields(checkpoint.Root),
	}).Info("finalization advanced")
	return nil
}

// updateHead re-runs fork choice from the finalized root and swaps the
// canonical head if it changed.
func (s *Service) updateHead(ctx context.Context) error {
	current := s.headRef()

	startRoot := current.root
	startSlot := current.block.Block.Slot
	if checkpoint, err := s.beaconDB.FinalizedCheckpoint(ctx); err == nil && checkpoint != nil && checkpoint.Root != ([32]byte{}) {
		if finalized, err := s.beaconDB.Block(ctx, checkpoint.Root); err == nil && finalized != nil {
			startRoot = checkpoint.Root
			startSlot = finalized.Block.Slot
		}
	}

	weightState := current.state
	weightFn := func(validatorIndex uint64) uint64 {
		if validatorIndex >= uint64(len(weightState.Validators)) {
			return 0
		}
		validator := weightState.Validators[validatorIndex]
		if !helpers.IsActiveValidator(validator, helpers.CurrentEpoch(weightState)) {
			return 0
		}
		return validator.EffectiveBalance
	}

	newHeadRoot, err := s.forkChoice.FindHead(ctx, startSlot, startRoot, weightFn)
	if err != nil {
		return errors.Wrap(err, "could not find head")
	}
	if newHeadRoot == current.root {
		return nil
	}

	newHeadBlock, err := s.beaconDB.Block(ctx, newHeadRoot)
	if err != nil || newHeadBlock == nil {
		return errors.Errorf("fork choice returned head %#x with no block", newHeadRoot)
	}
	newHeadState, err := s.beaconDB.State(ctx, newHeadRoot)
	if err != nil || newHeadState == nil {
		return errors.Errorf("fork choice returned head %#x with no state", newHeadRoot)
	}

	reorg := newHeadBlock.Block.ParentRoot != current.root
	s.setHead(&head{root: newHeadRoot, block: newHeadBlock, state: newHeadState})
	if err := s.beaconDB.SaveHeadBlockRoot(ctx, newHeadRoot); err != nil {
		return errors.Wrap(err, "could not persist head root")
	}

	stateRoot, _ := hashutil.HashTreeRoot(newHeadState)
	s.feeds.HeadFeed().Send(&sharedevent.HeadChangedData{
		Slot:             uint64(newHeadBlock.Block.Slot),
		HeadBlockRoot:    newHeadRoot,
		HeadStateRoot:    stateRoot,
		PreviousHeadRoot: current.root,
	})
	if reorg {
		log.WithFields(logrus.Fields{
			"oldHead": logFields(current.root),
			"newHead": logFields(newHeadRoot),
		}).Warn("chain reorganization occurred")
	}
	return nil
}
