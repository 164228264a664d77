package kv

import (
	"context"

	bolt "go.etcd.io/bbolt"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
)

// Block retrieves a signed beacon block by its canonical root, or nil if
// the root is unknown.
func (k *Store) Block(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedBeaconBlock, error) {
	if v, ok := k.blockCache.Get(string(blockRoot[:])); ok {
		return v.(*beacontypes.SignedBeaconBlock), nil
	}
	var block *beacontypes.SignedBeaconBlock
	err := k.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(blocksBucket).Get(blockRoot[:])
		if enc == nil {
			return nil
		}
		block = &beacontypes.SignedBeaconBlock{}
		return decode(enc, block)
	})
	if err != nil {
		return nil, err
	}
	if block != nil {
		k.blockCache.Set(string(blockRoot[:]), block, int64(len(blockRoot)))
	}
	return block, nil
}

// HasBlock reports whether a block with the given canonical root has been
// persisted.
func (k *Store) HasBlock(ctx context.Context, blockRoot [32]byte) bool {
	if _, ok := k.blockCache.Get(string(blockRoot[:])); ok {
		return true
	}
	exists := false
	if err := k.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(blocksBucket).Get(blockRoot[:]) != nil
		return nil
	}); err != nil {
		return false
	}
	return exists
}

// SaveBlock persists a signed beacon block keyed by its canonical root.
// Saving an already-known block is a no-op.
func (k *Store) SaveBlock(ctx context.Context, signed *beacontypes.SignedBeaconBlock) error {
	blockRoot, err := hashutil.HashTreeRoot(signed.Block)
	if err != nil {
		return err
	}
	if _, ok := k.blockCache.Get(string(blockRoot[:])); ok {
		return nil
	}
	enc, err := encode(signed)
	if err != nil {
		return err
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(blocksBucket)
		if bkt.Get(blockRoot[:]) != nil {
			return nil
		}
		if err := bkt.Put(blockRoot[:], enc); err != nil {
			return err
		}
		k.blockCache.Set(string(blockRoot[:]), signed, int64(len(enc)))
		return nil
	})
}

// ShardBlock retrieves a signed shard block by its canonical root.
func (k *Store) ShardBlock(ctx context.Context, blockRoot [32]byte) (*beacontypes.SignedShardBlock, error) {
	var block *beacontypes.SignedShardBlock
	err := k.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(shardBlocksBucket).Get(blockRoot[:])
		if enc == nil {
			return nil
		}
		block = &beacontypes.SignedShardBlock{}
		return decode(enc, block)
	})
	return block, err
}

// HasShardBlock reports whether a shard block with the given root exists.
func (k *Store) HasShardBlock(ctx context.Context, blockRoot [32]byte) bool {
	exists := false
	if err := k.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(shardBlocksBucket).Get(blockRoot[:]) != nil
		return nil
	}); err != nil {
		return false
	}
	return exists
}

// SaveShardBlock persists a signed shard block keyed by its canonical root.
func (k *Store) SaveShardBlock(ctx context.Context, signed *beacontypes.SignedShardBlock) error {
	blockRoot, err := hashutil.HashTreeRoot(signed.Block)
	if err != nil {
		return err
	}
	enc, err := encode(signed)
	if err != nil {
		return err
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(shardBlocksBucket).Put(blockRoot[:], enc)
	})
}
