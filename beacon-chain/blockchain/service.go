// Package blockchain owns the canonical view of the beacon chain: it runs
// the state transition over incoming blocks, drives fork choice, persists
// the results, and exposes the current head to the sync, RPC, and shard
// layers.
package blockchain

import (
	"context"
	"sync"
	"time"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/iface"
	"github.com/shardbeacon/client/beacon-chain/forkchoice/reducedtree"
	"github.com/shardbeacon/client/beacon-chain/operations/attestations"
	sharedevent "github.com/shardbeacon/client/shared/event"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
	"github.com/shardbeacon/client/shared/slotutil"
)

var log = logrus.WithField("prefix", "blockchain")

// head is the consistent (root, block, state) triple readers observe. It is
// swapped atomically under headLock so no partial head is ever visible.
type head struct {
	root  [32]byte
	block *beacontypes.SignedBeaconBlock
	state *beacontypes.BeaconState
}

// Config bundles everything a chain service needs, constructed in
// dependency order by the caller. NewService validates that required
// fields are present instead of relying on construction-order typing.
type Config struct {
	BeaconDB     iface.Database
	OpsPool      attestations.Pool
	GenesisState *beacontypes.BeaconState
	// VerifySignatures toggles BLS verification during block processing;
	// only tests and trusted replays turn it off.
	VerifySignatures bool
	// VerifyStateRoots toggles checking each block's declared post-state
	// root against the computed one.
	VerifyStateRoots bool
}

// Service is the beacon chain service. All exported methods are safe for
// concurrent use.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	beaconDB   iface.Database
	opsPool    attestations.Pool
	forkChoice *reducedtree.ThreadSafeReducedTree

	genesisTime    time.Time
	transitionCfg  *state.TransitionConfig
	feeds          *sharedevent.Feeds
	headLock       sync.RWMutex
	canonicalHead  *head
	finalizedEpoch eth2types.Epoch

	futureBlocksLock sync.Mutex
	futureBlocks     []*beacontypes.SignedBeaconBlock
}

// NewService wires a chain service from its collaborators. If the database
// holds no chain yet, cfg.GenesisState seeds one; otherwise the persisted
// head is resumed and GenesisState may be nil.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil || cfg.BeaconDB == nil {
		return nil, errors.New("chain service requires a beacon database")
	}
	if cfg.OpsPool == nil {
		return nil, errors.New("chain service requires an attestation pool")
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:      ctx,
		cancel:   cancel,
		beaconDB: cfg.BeaconDB,
		opsPool:  cfg.OpsPool,
		transitionCfg: &state.TransitionConfig{
			VerifySignatures: cfg.VerifySignatures,
			VerifyStateRoot:  cfg.VerifyStateRoots,
			Logging:          true,
		},
		feeds: &sharedevent.Feeds{},
	}

	headRoot, err := cfg.BeaconDB.HeadBlockRoot(ctx)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not read persisted head root")
	}
	if headRoot == ([32]byte{}) {
		if cfg.GenesisState == nil {
			cancel()
			return nil, errors.New("database holds no chain and no genesis state was provided")
		}
		if err := s.initializeFromGenesis(ctx, cfg.GenesisState); err != nil {
			cancel()
			return nil, errors.Wrap(err, "could not initialize chain from genesis")
		}
	} else {
		if err := s.resumeFromStore(ctx, headRoot); err != nil {
			cancel()
			return nil, errors.Wrap(err, "could not resume chain from store")
		}
	}
	return s, nil
}

func (s *Service) initializeFromGenesis(ctx context.Context, genesisState *beacontypes.BeaconState) error {
	stateRoot, err := hashutil.HashTreeRoot(genesisState)
	if err != nil {
		return errors.Wrap(err, "could not hash genesis state")
	}
	genesisBlock := &beacontypes.BeaconBlock{
		Slot:      eth2types.Slot(params.BeaconConfig().GenesisSlot),
		StateRoot: stateRoot,
		Body:      &beacontypes.BeaconBlockBody{Eth1Data: &beacontypes.Eth1Data{}},
	}
	signed := &beacontypes.SignedBeaconBlock{Block: genesisBlock}
	genesisRoot, err := hashutil.HashTreeRoot(genesisBlock)
	if err != nil {
		return errors.Wrap(err, "could not hash genesis block")
	}

	if err := s.beaconDB.SaveBlock(ctx, signed); err != nil {
		return errors.Wrap(err, "could not save genesis block")
	}
	if err := s.beaconDB.SaveState(ctx, genesisRoot, genesisState); err != nil {
		return errors.Wrap(err, "could not save genesis state")
	}
	if err := s.beaconDB.SaveHeadBlockRoot(ctx, genesisRoot); err != nil {
		return errors.Wrap(err, "could not save genesis head root")
	}
	checkpoint := &beacontypes.Checkpoint{Epoch: eth2types.Epoch(params.BeaconConfig().GenesisEpoch), Root: genesisRoot}
	if err := s.beaconDB.SaveFinalizedCheckpoint(ctx, checkpoint); err != nil {
		return errors.Wrap(err, "could not save genesis finalized checkpoint")
	}

	s.genesisTime = time.Unix(int64(genesisState.GenesisTime), 0)
	s.forkChoice = reducedtree.New(s.beaconDB, genesisBlock, genesisRoot)
	s.setHead(&head{root: genesisRoot, block: signed, state: genesisState})

	log.WithFields(logrus.Fields{
		"genesisRoot": logFields(genesisRoot),
		"validators":  len(genesisState.Validators),
	}).Info("initialized beacon chain from genesis")
	return nil
}

func (s *Service) resumeFromStore(ctx context.Context, headRoot [32]byte) error {
	headBlock, err := s.beaconDB.Block(ctx, headRoot)
	if err != nil || headBlock == nil {
		return errors.Errorf("persisted head %#x has no block", headRoot)
	}
	headState, err := s.beaconDB.State(ctx, headRoot)
	if err != nil || headState == nil {
		return errors.Errorf("persisted head %#x has no state", headRoot)
	}

	checkpoint, err := s.beaconDB.FinalizedCheckpoint(ctx)
	if err != nil {
		return errors.Wrap(err, "could not read finalized checkpoint")
	}
	finalizedRoot := headRoot
	finalizedBlock := headBlock.Block
	if checkpoint != nil && checkpoint.Root != ([32]byte{}) {
		signed, err := s.beaconDB.Block(ctx, checkpoint.Root)
		if err != nil || signed == nil {
			return errors.Errorf("finalized checkpoint %#x has no block", checkpoint.Root)
		}
		finalizedRoot = checkpoint.Root
		finalizedBlock = signed.Block
		s.finalizedEpoch = checkpoint.Epoch
	}

	s.genesisTime = time.Unix(int64(headState.GenesisTime), 0)
	s.forkChoice = reducedtree.New(s.beaconDB, finalizedBlock, finalizedRoot)
	s.setHead(&head{root: headRoot, block: headBlock, state: headState})

	log.WithFields(logrus.Fields{
		"headRoot": logFields(headRoot),
		"headSlot": headBlock.Block.Slot,
	}).Info("resumed beacon chain from store")
	return nil
}

// Start launches the slot-driven background loop: queued future-slot
// blocks are retried and the head is re-evaluated once per slot.
func (s *Service) Start() {
	go s.slotLoop()
	log.Info("chain service started")
}

// Stop terminates the background loop. Stopping twice is harmless.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

func (s *Service) slotLoop() {
	ticker := slotutil.NewSlotTicker(s.genesisTime, params.BeaconConfig().SecondsPerSlot)
	defer ticker.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case slot := <-ticker.C():
			s.processQueuedBlocks(slot)
			if err := s.updateHead(s.ctx); err != nil {
				log.WithError(err).Error("could not update head on slot tick")
			}
		}
	}
}

// processQueuedBlocks retries buffered future-slot blocks whose slot has
// arrived.
func (s *Service) processQueuedBlocks(slot eth2types.Slot) {
	s.futureBlocksLock.Lock()
	var due, still []*beacontypes.SignedBeaconBlock
	for _, b := range s.futureBlocks {
		if b.Block.Slot <= slot {
			due = append(due, b)
		} else {
			still = append(still, b)
		}
	}
	s.futureBlocks = still
	s.futureBlocksLock.Unlock()

	for _, b := range due {
		if _, err := s.ProcessBlock(s.ctx, b); err != nil {
			log.WithError(err).WithField("slot", b.Block.Slot).Error("could not process queued block")
		}
	}
}

func (s *Service) queueFutureBlock(signed *beacontypes.SignedBeaconBlock) {
	s.futureBlocksLock.Lock()
	defer s.futureBlocksLock.Unlock()
	s.futureBlocks = append(s.futureBlocks, signed)
}

func (s *Service) setHead(h *head) {
	s.headLock.Lock()
	s.canonicalHead = h
	s.headLock.Unlock()
}

func (s *Service) headRef() *head {
	s.headLock.RLock()
	defer s.headLock.RUnlock()
	return s.canonicalHead
}

// Feeds returns the event feeds the service publishes chain activity on.
func (s *Service) Feeds() *sharedevent.Feeds {
	return s.feeds
}
