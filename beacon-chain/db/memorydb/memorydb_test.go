package memorydb

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
)

func TestStore_BlockRoundTrip(t *testing.T) {
	db := NewStore()
	ctx := context.Background()

	signed := &beacontypes.SignedBeaconBlock{
		Block: &beacontypes.BeaconBlock{
			Slot:       eth2types.Slot(20),
			ParentRoot: [32]byte{1, 2, 3},
			Body:       &beacontypes.BeaconBlockBody{Eth1Data: &beacontypes.Eth1Data{}},
		},
	}
	root, err := hashutil.HashTreeRoot(signed.Block)
	require.NoError(t, err)

	require.False(t, db.HasBlock(ctx, root))
	require.NoError(t, db.SaveBlock(ctx, signed))
	require.True(t, db.HasBlock(ctx, root))

	got, err := db.Block(ctx, root)
	require.NoError(t, err)
	require.Equal(t, signed.Block.Slot, got.Block.Slot)

	missing, err := db.Block(ctx, [32]byte{0xff})
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestStore_HeadAndFinalized(t *testing.T) {
	db := NewStore()
	ctx := context.Background()

	root, err := db.HeadBlockRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, root)

	want := [32]byte{9, 9, 9}
	require.NoError(t, db.SaveHeadBlockRoot(ctx, want))
	root, err = db.HeadBlockRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, want, root)

	checkpoint := &beacontypes.Checkpoint{Epoch: 3, Root: [32]byte{4}}
	require.NoError(t, db.SaveFinalizedCheckpoint(ctx, checkpoint))
	got, err := db.FinalizedCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, checkpoint.Epoch, got.Epoch)
}
