package kv

import (
	"context"

	bolt "go.etcd.io/bbolt"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

// State retrieves the post-state of the block with the given canonical
// root, or nil if no state has been saved under that root.
func (k *Store) State(ctx context.Context, blockRoot [32]byte) (*beacontypes.BeaconState, error) {
	var st *beacontypes.BeaconState
	err := k.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(statesBucket).Get(blockRoot[:])
		if enc == nil {
			return nil
		}
		st = &beacontypes.BeaconState{}
		return decode(enc, st)
	})
	return st, err
}

// HasState reports whether a state has been saved under the given block
// root.
func (k *Store) HasState(ctx context.Context, blockRoot [32]byte) bool {
	exists := false
	if err := k.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(statesBucket).Get(blockRoot[:]) != nil
		return nil
	}); err != nil {
		return false
	}
	return exists
}

// SaveState persists the post-state of the block with the given root.
func (k *Store) SaveState(ctx context.Context, blockRoot [32]byte, state *beacontypes.BeaconState) error {
	enc, err := encode(state)
	if err != nil {
		return err
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(statesBucket).Put(blockRoot[:], enc)
	})
}

// HeadBlockRoot returns the last persisted canonical head root, or the
// zero root if none has been saved yet.
func (k *Store) HeadBlockRoot(ctx context.Context) ([32]byte, error) {
	var root [32]byte
	err := k.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(chainMetadataBucket).Get(headBlockRootKey)
		if enc != nil {
			copy(root[:], enc)
		}
		return nil
	})
	return root, err
}

// SaveHeadBlockRoot persists the canonical head root so the node can
// resume fork choice where it left off after a restart.
func (k *Store) SaveHeadBlockRoot(ctx context.Context, blockRoot [32]byte) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainMetadataBucket).Put(headBlockRootKey, blockRoot[:])
	})
}

// FinalizedCheckpoint returns the last persisted finalized checkpoint, or
// nil if none has been saved.
func (k *Store) FinalizedCheckpoint(ctx context.Context) (*beacontypes.Checkpoint, error) {
	var checkpoint *beacontypes.Checkpoint
	err := k.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(chainMetadataBucket).Get(finalizedCheckpointKey)
		if enc == nil {
			return nil
		}
		checkpoint = &beacontypes.Checkpoint{}
		return decode(enc, checkpoint)
	})
	return checkpoint, err
}

// SaveFinalizedCheckpoint persists the finalized checkpoint.
func (k *Store) SaveFinalizedCheckpoint(ctx context.Context, checkpoint *beacontypes.Checkpoint) error {
	enc, err := encode(checkpoint)
	if err != nil {
		return err
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainMetadataBucket).Put(finalizedCheckpointKey, enc)
	})
}
