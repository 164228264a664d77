package blockchain

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	corestate "github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/memorydb"
	"github.com/shardbeacon/client/beacon-chain/operations/attestations"
	"github.com/shardbeacon/client/shared/hashutil"
)

const interopGenesisTime = 13371377

// newTestChain builds a chain service over an in-memory store seeded with
// an 8-validator interop genesis.
func newTestChain(t *testing.T) (*Service, *beacontypes.BeaconState) {
	t.Helper()
	ctx := context.Background()

	genesisState, err := corestate.InteropGenesisState(ctx, 8, interopGenesisTime)
	require.NoError(t, err)
	require.Len(t, genesisState.Validators, 8)

	chain, err := NewService(ctx, &Config{
		BeaconDB:     memorydb.NewStore(),
		OpsPool:      attestations.NewPool(),
		GenesisState: genesisState,
	})
	require.NoError(t, err)
	return chain, genesisState
}

// proposeBlock builds a valid (unsigned) block on the current head at the
// given slot.
func proposeBlock(t *testing.T, chain *Service, slot eth2types.Slot) *beacontypes.SignedBeaconBlock {
	t.Helper()
	ctx := context.Background()

	preState := chain.HeadState().Clone()
	preState, err := corestate.ProcessSlots(ctx, preState, slot)
	require.NoError(t, err)
	proposerIndex, err := helpers.BeaconProposerIndex(preState)
	require.NoError(t, err)

	return &beacontypes.SignedBeaconBlock{
		Block: &beacontypes.BeaconBlock{
			Slot:          slot,
			ProposerIndex: proposerIndex,
			ParentRoot:    chain.HeadRoot(),
			Body: &beacontypes.BeaconBlockBody{
				Eth1Data: &beacontypes.Eth1Data{
					DepositRoot:  preState.Eth1Data.DepositRoot,
					DepositCount: preState.Eth1Data.DepositCount,
				},
			},
		},
	}
}

func TestProcessBlock_InteropGenesisHeadAdvances(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	signed := proposeBlock(t, chain, 1)
	blockRoot, err := hashutil.HashTreeRoot(signed.Block)
	require.NoError(t, err)

	result, err := chain.ProcessBlock(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, Processed, result.Outcome)
	require.Equal(t, blockRoot, result.BlockRoot)

	require.Equal(t, blockRoot, chain.HeadRoot())
	require.Equal(t, eth2types.Slot(1), chain.HeadSlot())
}

func TestProcessBlock_AlreadyKnown(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	signed := proposeBlock(t, chain, 1)
	result, err := chain.ProcessBlock(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, Processed, result.Outcome)

	result, err = chain.ProcessBlock(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, BlockIsAlreadyKnown, result.Outcome)
}

func TestProcessBlock_ParentUnknown(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	signed := proposeBlock(t, chain, 1)
	signed.Block.ParentRoot = [32]byte{0xde, 0xad}

	result, err := chain.ProcessBlock(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, ParentUnknown, result.Outcome)
	require.Equal(t, [32]byte{0xde, 0xad}, result.ParentRoot)
}

func TestProcessBlock_InvalidSlotRejected(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	// A block whose slot is below its parent's is rejected: the transition
	// cannot move the parent state back to the block's slot.
	signed := proposeBlock(t, chain, 2)
	processed, err := chain.ProcessBlock(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, Processed, processed.Outcome)

	stale := proposeBlock(t, chain, 2)
	stale.Block.ParentRoot = chain.HeadRoot()
	stale.Block.Slot = 1
	result, err := chain.ProcessBlock(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, InvalidBlock, result.Outcome)
	require.NotEmpty(t, result.Reason)
}

func TestRootAtSlot_SkippedSlots(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	genesisRoot := chain.HeadRoot()

	rootsBySlot := map[eth2types.Slot][32]byte{}
	for _, slot := range []eth2types.Slot{4, 6, 9} {
		signed := proposeBlock(t, chain, slot)
		result, err := chain.ProcessBlock(ctx, signed)
		require.NoError(t, err)
		require.Equal(t, Processed, result.Outcome)
		rootsBySlot[slot] = result.BlockRoot
	}

	for slot, want := range rootsBySlot {
		got, ok, err := chain.RootAtSlot(ctx, slot)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	// Skipped slot.
	_, ok, err := chain.RootAtSlot(ctx, 5)
	require.NoError(t, err)
	require.False(t, ok)

	// Genesis is still reachable through the walk.
	got, ok, err := chain.RootAtSlot(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesisRoot, got)
}

func TestRevIterBlockRoots_Descending(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	for _, slot := range []eth2types.Slot{1, 2, 5} {
		signed := proposeBlock(t, chain, slot)
		result, err := chain.ProcessBlock(ctx, signed)
		require.NoError(t, err)
		require.Equal(t, Processed, result.Outcome)
	}

	var slots []eth2types.Slot
	it := chain.RevIterBlockRoots(ctx)
	for it.Next() {
		slots = append(slots, it.Slot())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []eth2types.Slot{5, 2, 1, 0}, slots)
}
