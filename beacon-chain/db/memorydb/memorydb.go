// Package memorydb implements db/iface.Database entirely in memory. It
// backs tests and interop genesis runs where no on-disk database is wanted;
// the semantics mirror db/kv exactly, minus persistence.
package memorydb

import (
	"context"
	"sync"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/iface"
	"github.com/shardbeacon/client/shared/hashutil"
)

var _ = iface.Database(&Store{})

// Store holds all persisted values in maps guarded by a single
// reader-writer lock.
type Store struct {
	mu                  sync.RWMutex
	blocks              map[[32]byte]*beacontypes.SignedBeaconBlock
	states              map[[32]byte]*beacontypes.BeaconState
	shardBlocks         map[[32]byte]*beacontypes.SignedShardBlock
	headBlockRoot       [32]byte
	finalizedCheckpoint *beacontypes.Checkpoint
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		blocks:      make(map[[32]byte]*beacontypes.SignedBeaconBlock),
		states:      make(map[[32]byte]*beacontypes.BeaconState),
		shardBlocks: make(map[[32]byte]*beacontypes.SignedShardBlock),
	}
}

// Block retrieves a signed beacon block by canonical root.
func (s *Store) Block(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedBeaconBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[blockRoot], nil
}

// HasBlock reports whether the block root is known.
func (s *Store) HasBlock(ctx context.Context, blockRoot [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[blockRoot]
	return ok
}

// SaveBlock stores a signed block keyed by its canonical root.
func (s *Store) SaveBlock(ctx context.Context, signed *beacontypes.SignedBeaconBlock) error {
	blockRoot, err := hashutil.HashTreeRoot(signed.Block)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[blockRoot] = signed
	return nil
}

// State retrieves the post-state stored under a block root.
func (s *Store) State(ctx context.Context, blockRoot [32]byte) (*beacontypes.BeaconState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[blockRoot], nil
}

// HasState reports whether a state is stored under the block root.
func (s *Store) HasState(ctx context.Context, blockRoot [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[blockRoot]
	return ok
}

// SaveState stores a state under a block root.
func (s *Store) SaveState(ctx context.Context, blockRoot [32]byte, state *beacontypes.BeaconState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[blockRoot] = state
	return nil
}

// ShardBlock retrieves a signed shard block by canonical root.
func (s *Store) ShardBlock(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedShardBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shardBlocks[blockRoot], nil
}

// HasShardBlock reports whether the shard block root is known.
func (s *Store) HasShardBlock(ctx context.Context, blockRoot [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.shardBlocks[blockRoot]
	return ok
}

// SaveShardBlock stores a signed shard block keyed by its canonical root.
func (s *Store) SaveShardBlock(ctx context.Context, signed *beacontypes.SignedShardBlock) error {
	blockRoot, err := hashutil.HashTreeRoot(signed.Block)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shardBlocks[blockRoot] = signed
	return nil
}

// HeadBlockRoot returns the last saved canonical head root.
func (s *Store) HeadBlockRoot(ctx context.Context) ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headBlockRoot, nil
}

// SaveHeadBlockRoot records the canonical head root.
func (s *Store) SaveHeadBlockRoot(ctx context.Context, blockRoot [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headBlockRoot = blockRoot
	return nil
}

// FinalizedCheckpoint returns the last saved finalized checkpoint.
func (s *Store) FinalizedCheckpoint(ctx context.Context) (*beacontypes.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalizedCheckpoint, nil
}

// SaveFinalizedCheckpoint records the finalized checkpoint.
func (s *Store) SaveFinalizedCheckpoint(ctx context.Context, checkpoint *beacontypes.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizedCheckpoint = checkpoint
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// DatabasePath returns the empty string; nothing is on disk.
func (s *Store) DatabasePath() string {
	return ""
}

// ClearDB drops all stored values.
func (s *Store) ClearDB() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = make(map[[32]byte]*beacontypes.SignedBeaconBlock)
	s.states = make(map[[32]byte]*beacontypes.BeaconState)
	s.shardBlocks = make(map[[32]byte]*beacontypes.SignedShardBlock)
	s.headBlockRoot = [32]byte{}
	s.finalizedCheckpoint = nil
	return nil
}
