package blocks_test

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	corestate "github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
)

// genesisTestState builds the 8-validator interop genesis the per-operation
// tests mutate, together with the validators' secret keys.
func genesisTestState(t *testing.T) (*beacontypes.BeaconState, []*bls.SecretKey) {
	t.Helper()
	st, err := corestate.InteropGenesisState(context.Background(), 8, 13371377)
	require.NoError(t, err)
	secretKeys, err := corestate.InteropSecretKeys(8)
	require.NoError(t, err)
	return st, secretKeys
}

// emptyBodyAt returns a block body whose eth1 data matches the state so
// deposit-count bookkeeping stays consistent.
func emptyBodyAt(st *beacontypes.BeaconState) *beacontypes.BeaconBlockBody {
	return &beacontypes.BeaconBlockBody{
		Eth1Data: &beacontypes.Eth1Data{
			DepositRoot:  st.Eth1Data.DepositRoot,
			DepositCount: st.Eth1Data.DepositCount,
		},
	}
}

func farFuture() eth2types.Epoch {
	return eth2types.Epoch(1<<64 - 1)
}
