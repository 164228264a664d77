// Package kv implements the on-disk content-addressed store behind
// db/iface.Database, using bbolt as the persistent key-value engine and a
// ristretto read-through cache for hot blocks.
package kv

import (
	"os"
	"path"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/shardbeacon/client/beacon-chain/db/iface"
)

var _ = iface.Database(&Store{})

const databaseFileName = "beaconchain.db"

// BlockCacheSize is sized for roughly 1000 slots worth of blocks,
// approximately 2MB.
var BlockCacheSize = int64(1 << 21)

// Store is the bbolt-backed implementation of the database interface. All
// methods are safe for concurrent use; bbolt serializes writers internally.
type Store struct {
	db           *bolt.DB
	databasePath string
	blockCache   *ristretto.Cache
}

// NewKVStore opens (creating if necessary) a bbolt database file under
// dirPath, creates the schema buckets, and returns the ready Store.
func NewKVStore(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, databaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}

	blockCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,           // number of keys to track frequency of.
		MaxCost:     BlockCacheSize, // maximum cost of cache.
		BufferItems: 64,             // number of keys per Get buffer.
	})
	if err != nil {
		return nil, err
	}

	kv := &Store{
		db:           boltDB,
		databasePath: dirPath,
		blockCache:   blockCache,
	}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			blocksBucket,
			statesBucket,
			shardBlocksBucket,
			chainMetadataBucket,
		)
	}); err != nil {
		return nil, err
	}

	return kv, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying bbolt file handle.
func (k *Store) Close() error {
	k.blockCache.Close()
	return k.db.Close()
}

// DatabasePath returns the directory the database file lives in.
func (k *Store) DatabasePath() string {
	return k.databasePath
}

// ClearDB removes the database file from disk. The Store must not be used
// afterwards.
func (k *Store) ClearDB() error {
	if _, err := os.Stat(k.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path.Join(k.databasePath, databaseFileName))
}
