// Package iface defines the narrow persistence interface the rest of the
// node depends on: content-addressed get/put/exists for blocks and states,
// keyed by 32-byte canonical roots, plus a handful of chain-metadata
// accessors. Two implementations exist: db/kv (bbolt, on disk) and
// db/memorydb (map-backed, for tests and interop genesis).
package iface

import (
	"context"
	"io"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

// ReadOnlyDatabase is the read side of the store. Fork choice and the sync
// message processor only ever need this half.
type ReadOnlyDatabase interface {
	Block(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedBeaconBlock, error)
	HasBlock(ctx context.Context, blockRoot [32]byte) bool
	State(ctx context.Context, blockRoot [32]byte) (*beacontypes.BeaconState, error)
	HasState(ctx context.Context, blockRoot [32]byte) bool
	ShardBlock(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedShardBlock, error)
	HasShardBlock(ctx context.Context, blockRoot [32]byte) bool
	HeadBlockRoot(ctx context.Context) ([32]byte, error)
	FinalizedCheckpoint(ctx context.Context) (*beacontypes.Checkpoint, error)
}

// Database is the full store interface. Blocks and states are immutable
// once written; saving the same root twice is a no-op, not an error.
type Database interface {
	ReadOnlyDatabase
	io.Closer

	SaveBlock(ctx context.Context, signed *beacontypes.SignedBeaconBlock) error
	SaveState(ctx context.Context, blockRoot [32]byte, state *beacontypes.BeaconState) error
	SaveShardBlock(ctx context.Context, signed *beacontypes.SignedShardBlock) error
	SaveHeadBlockRoot(ctx context.Context, blockRoot [32]byte) error
	SaveFinalizedCheckpoint(ctx context.Context, checkpoint *beacontypes.Checkpoint) error

	DatabasePath() string
	ClearDB() error
}
