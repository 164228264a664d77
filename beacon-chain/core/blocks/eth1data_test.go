package blocks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
)

func TestProcessEth1Data_AppendsVoteWithoutAdopting(t *testing.T) {
	st, _ := genesisTestState(t)
	ctx := context.Background()

	original := st.Eth1Data
	body := &beacontypes.BeaconBlockBody{
		Eth1Data: &beacontypes.Eth1Data{DepositRoot: [32]byte{0xaa}, DepositCount: 99},
	}
	st, err := blocks.ProcessEth1DataInBlock(ctx, st, body)
	require.NoError(t, err)

	require.Len(t, st.Eth1DataVotes, 1)
	// One vote is nowhere near a majority of the voting period.
	require.Equal(t, original, st.Eth1Data)
}

func TestProcessEth1Data_AdoptsMajorityVote(t *testing.T) {
	// Shrink the voting period so a majority is reachable in a short test.
	oldConfig := params.BeaconConfig()
	cfg := oldConfig.Copy()
	cfg.EpochsPerEth1VotingPeriod = 1
	cfg.SlotsPerEpoch = 2
	params.OverrideBeaconConfig(cfg)
	defer params.OverrideBeaconConfig(oldConfig)

	st, _ := genesisTestState(t)
	ctx := context.Background()

	vote := &beacontypes.Eth1Data{DepositRoot: [32]byte{0xaa}, DepositCount: 99}
	body := &beacontypes.BeaconBlockBody{Eth1Data: vote}

	st, err := blocks.ProcessEth1DataInBlock(ctx, st, body)
	require.NoError(t, err)
	require.NotEqual(t, vote.DepositRoot, st.Eth1Data.DepositRoot)

	// Second identical vote crosses count*2 > 2 voting-period slots.
	st, err = blocks.ProcessEth1DataInBlock(ctx, st, body)
	require.NoError(t, err)
	require.Equal(t, vote.DepositRoot, st.Eth1Data.DepositRoot)
	require.Equal(t, vote.DepositCount, st.Eth1Data.DepositCount)
}
