package kv

// Bucket and key names for the bbolt schema. Blocks and states are keyed
// by 32-byte canonical block root; chain metadata lives under fixed keys.
var (
	blocksBucket        = []byte("blocks")
	statesBucket        = []byte("states")
	shardBlocksBucket   = []byte("shard-blocks")
	chainMetadataBucket = []byte("chain-metadata")

	headBlockRootKey       = []byte("head-root")
	finalizedCheckpointKey = []byte("finalized-checkpoint")
)
