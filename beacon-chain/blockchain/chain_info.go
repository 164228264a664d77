package blockchain

import (
	"context"
	"time"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/iface"
	"github.com/shardbeacon/client/shared/params"
	"github.com/shardbeacon/client/shared/roughtime"
	"github.com/shardbeacon/client/shared/slotutil"
)

// ErrNoGenesis is returned by CurrentSlot before the genesis time has been
// reached; there is no slot to speak of yet.
var ErrNoGenesis = errors.New("genesis time has not arrived")

// HeadRoot returns the canonical head's block root.
func (s *Service) HeadRoot() [32]byte {
	return s.headRef().root
}

// HeadSlot returns the canonical head's slot.
func (s *Service) HeadSlot() eth2types.Slot {
	return s.headRef().block.Block.Slot
}

// HeadBlock returns the canonical head block.
func (s *Service) HeadBlock() *beacontypes.SignedBeaconBlock {
	return s.headRef().block
}

// HeadState returns the canonical head's post-state. Callers must treat
// the returned state as read-only; Clone before mutating.
func (s *Service) HeadState() *beacontypes.BeaconState {
	return s.headRef().state
}

// CurrentSlot maps wall-clock time to the present slot. It fails before
// genesis rather than reporting slot zero early.
func (s *Service) CurrentSlot() (eth2types.Slot, error) {
	if roughtime.Now().Before(s.genesisTime) {
		return 0, ErrNoGenesis
	}
	return slotutil.SlotsSinceGenesis(s.genesisTime, params.BeaconConfig().SecondsPerSlot), nil
}

// GenesisTime returns the time the chain's slot clock counts from.
func (s *Service) GenesisTime() time.Time {
	return s.genesisTime
}

// FinalizedCheckpoint returns the latest finalized checkpoint according to
// the head state.
func (s *Service) FinalizedCheckpoint() *beacontypes.Checkpoint {
	checkpoint := s.headRef().state.FinalizedCheckpoint
	if checkpoint == nil {
		return &beacontypes.Checkpoint{}
	}
	return checkpoint
}

// ForkVersion returns the fork version the head state is on.
func (s *Service) ForkVersion() [4]byte {
	return s.headRef().state.Fork.CurrentVersion
}

// BlockRootIterator lazily walks block roots backwards from a starting
// block via the store's parent links, yielding (root, slot) pairs in
// descending slot order.
type BlockRootIterator struct {
	ctx     context.Context
	db      iface.ReadOnlyDatabase
	current [32]byte
	root    [32]byte
	slot    eth2types.Slot
	err     error
}

// Next advances the iterator. It returns false once the chain start (or an
// error) is reached.
func (it *BlockRootIterator) Next() bool {
	if it.err != nil || it.current == ([32]byte{}) {
		return false
	}
	signed, err := it.db.Block(it.ctx, it.current)
	if err != nil {
		it.err = err
		return false
	}
	if signed == nil {
		// The parent chain ran past what the store holds, e.g. below a
		// pruning horizon. Not an error; the walk just ends.
		return false
	}
	it.root = it.current
	it.slot = signed.Block.Slot
	it.current = signed.Block.ParentRoot
	return true
}

// Root returns the block root at the iterator's position.
func (it *BlockRootIterator) Root() [32]byte {
	return it.root
}

// Slot returns the slot at the iterator's position.
func (it *BlockRootIterator) Slot() eth2types.Slot {
	return it.slot
}

// Err returns the store error that terminated iteration, if any.
func (it *BlockRootIterator) Err() error {
	return it.err
}

// RevIterBlockRoots returns an iterator over (root, slot) pairs descending
// from the canonical head.
func (s *Service) RevIterBlockRoots(ctx context.Context) *BlockRootIterator {
	return &BlockRootIterator{
		ctx:     ctx,
		db:      s.beaconDB,
		current: s.headRef().root,
	}
}

// RootAtSlot resolves the canonical block root at exactly the given slot.
// The second return is false for skipped slots and slots outside the
// canonical chain.
func (s *Service) RootAtSlot(ctx context.Context, slot eth2types.Slot) ([32]byte, bool, error) {
	it := s.RevIterBlockRoots(ctx)
	for it.Next() {
		if it.Slot() == slot {
			return it.Root(), true, nil
		}
		if it.Slot() < slot {
			break
		}
	}
	return [32]byte{}, false, it.Err()
}

// HasBlock reports whether the chain's store knows the given block root.
func (s *Service) HasBlock(ctx context.Context, blockRoot [32]byte) bool {
	return s.beaconDB.HasBlock(ctx, blockRoot)
}

// Block loads a block from the chain's store by root.
func (s *Service) Block(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedBeaconBlock, error) {
	return s.beaconDB.Block(ctx, blockRoot)
}
