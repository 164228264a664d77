package shard

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
)

func TestProcessShardSlots_AdvancesAndCachesRoots(t *testing.T) {
	ctx := context.Background()
	st := GenesisShardState(3, 1600000000)

	st, err := ProcessShardSlots(ctx, st, nil, 4)
	require.NoError(t, err)
	require.Equal(t, eth2types.Slot(4), st.Slot)

	// Every crossed slot left a state root behind.
	for i := 0; i < 4; i++ {
		require.NotEqual(t, [32]byte{}, st.StateRoots[i])
	}
}

func TestProcessShardSlots_RejectsRewind(t *testing.T) {
	ctx := context.Background()
	st := GenesisShardState(0, 1600000000)
	st.Slot = 9

	_, err := ProcessShardSlots(ctx, st, nil, 4)
	require.Error(t, err)
}

func TestProcessShardBlock_AppliesHeader(t *testing.T) {
	ctx := context.Background()
	st := GenesisShardState(3, 1600000000)

	st, err := ProcessShardSlots(ctx, st, nil, 1)
	require.NoError(t, err)
	parentRoot, err := hashutil.HashTreeRoot(st.LatestBlockHeader)
	require.NoError(t, err)

	signed := &beacontypes.SignedShardBlock{
		Block: &beacontypes.ShardBlock{
			Slot:       1,
			Shard:      3,
			ParentRoot: parentRoot,
			Body:       []byte("shard payload"),
		},
	}
	st, err = ProcessShardBlock(ctx, st, nil, signed, false)
	require.NoError(t, err)

	require.Equal(t, eth2types.Slot(1), st.LatestBlockHeader.Slot)
	require.Equal(t, parentRoot, st.LatestBlockHeader.ParentRoot)
	require.Equal(t, [32]byte{}, st.LatestBlockHeader.StateRoot)
}

func TestProcessShardBlock_RejectsWrongShard(t *testing.T) {
	ctx := context.Background()
	st := GenesisShardState(3, 1600000000)
	st, err := ProcessShardSlots(ctx, st, nil, 1)
	require.NoError(t, err)

	signed := &beacontypes.SignedShardBlock{
		Block: &beacontypes.ShardBlock{Slot: 1, Shard: 4},
	}
	_, err = ProcessShardBlock(ctx, st, nil, signed, false)
	require.Error(t, err)
}

func TestProcessShardBlock_RejectsAttestationFromFuture(t *testing.T) {
	ctx := context.Background()
	st := GenesisShardState(0, 1600000000)
	st, err := ProcessShardSlots(ctx, st, nil, 2)
	require.NoError(t, err)
	parentRoot, err := hashutil.HashTreeRoot(st.LatestBlockHeader)
	require.NoError(t, err)

	signed := &beacontypes.SignedShardBlock{
		Block: &beacontypes.ShardBlock{
			Slot:       2,
			ParentRoot: parentRoot,
			Attestations: []*beacontypes.ShardAttestation{{
				Data: &beacontypes.AttestationData{Slot: 2},
			}},
		},
	}
	_, err = ProcessShardBlock(ctx, st, nil, signed, false)
	require.Error(t, err)
}
