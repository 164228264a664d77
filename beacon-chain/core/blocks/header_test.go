package blocks_test

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	corestate "github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
)

// blockAtSlot advances a copy of the genesis state to slot and builds a
// header-consistent unsigned block on top of it.
func blockAtSlot(t *testing.T, st *beacontypes.BeaconState, slot eth2types.Slot) (*beacontypes.BeaconState, *beacontypes.SignedBeaconBlock) {
	t.Helper()
	ctx := context.Background()

	st, err := corestate.ProcessSlots(ctx, st, slot)
	require.NoError(t, err)
	proposerIndex, err := helpers.BeaconProposerIndex(st)
	require.NoError(t, err)
	parentRoot, err := hashutil.HashTreeRoot(st.LatestBlockHeader)
	require.NoError(t, err)

	signed := &beacontypes.SignedBeaconBlock{
		Block: &beacontypes.BeaconBlock{
			Slot:          slot,
			ProposerIndex: proposerIndex,
			ParentRoot:    parentRoot,
			Body:          emptyBodyAt(st),
		},
	}
	return st, signed
}

func TestProcessBlockHeader_InstallsTemporaryHeader(t *testing.T) {
	genesis, _ := genesisTestState(t)
	st, signed := blockAtSlot(t, genesis, 1)

	st, err := blocks.ProcessBlockHeader(context.Background(), st, signed, false)
	require.NoError(t, err)

	bodyRoot, err := hashutil.HashTreeRoot(signed.Block.Body)
	require.NoError(t, err)
	require.Equal(t, signed.Block.Slot, st.LatestBlockHeader.Slot)
	require.Equal(t, signed.Block.ProposerIndex, st.LatestBlockHeader.ProposerIndex)
	require.Equal(t, bodyRoot, st.LatestBlockHeader.BodyRoot)
	// The state root stays zero until the next slot fills it in.
	require.Equal(t, [32]byte{}, st.LatestBlockHeader.StateRoot)
}

func TestProcessBlockHeader_RejectsSlotMismatch(t *testing.T) {
	genesis, _ := genesisTestState(t)
	st, signed := blockAtSlot(t, genesis, 1)
	signed.Block.Slot = 2

	_, err := blocks.ProcessBlockHeader(context.Background(), st, signed, false)
	require.Error(t, err)
}

func TestProcessBlockHeader_RejectsWrongParentRoot(t *testing.T) {
	genesis, _ := genesisTestState(t)
	st, signed := blockAtSlot(t, genesis, 1)
	signed.Block.ParentRoot = [32]byte{0xbb}

	_, err := blocks.ProcessBlockHeader(context.Background(), st, signed, false)
	require.Error(t, err)
}

func TestProcessBlockHeader_RejectsWrongProposer(t *testing.T) {
	genesis, _ := genesisTestState(t)
	st, signed := blockAtSlot(t, genesis, 1)
	signed.Block.ProposerIndex = (signed.Block.ProposerIndex + 1) % 8

	_, err := blocks.ProcessBlockHeader(context.Background(), st, signed, false)
	require.Error(t, err)
}

func TestProcessBlockHeader_RejectsSlashedProposer(t *testing.T) {
	genesis, _ := genesisTestState(t)
	st, signed := blockAtSlot(t, genesis, 1)
	st.Validators[signed.Block.ProposerIndex].Slashed = true

	_, err := blocks.ProcessBlockHeader(context.Background(), st, signed, false)
	require.Error(t, err)
}
