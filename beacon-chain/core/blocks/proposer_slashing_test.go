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
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// signHeader signs a block header the way a double-signing proposer would.
func signHeader(t *testing.T, st *beacontypes.BeaconState, header *beacontypes.BeaconBlockHeader, secretKey *bls.SecretKey) *beacontypes.SignedBeaconBlockHeader {
	t.Helper()
	domain := helpers.Domain(st.Fork, helpers.SlotToEpoch(header.Slot), params.DomainBeaconProposer)
	root, err := hashutil.HashTreeRoot(header)
	require.NoError(t, err)
	signingRoot := hashutil.Hash(append(root[:], domain...))

	signed := &beacontypes.SignedBeaconBlockHeader{Header: header}
	copy(signed.Signature[:], secretKey.Sign(signingRoot[:]).Marshal())
	return signed
}

func TestProcessProposerSlashings_SlashesDoubleSigner(t *testing.T) {
	ctx := context.Background()

	st, err := corestate.InteropGenesisState(ctx, 8, 13371377)
	require.NoError(t, err)
	st.Slot = 5
	secretKeys, err := corestate.InteropSecretKeys(8)
	require.NoError(t, err)

	const accused = eth2types.ValidatorIndex(3)
	header1 := &beacontypes.BeaconBlockHeader{
		Slot:          5,
		ProposerIndex: accused,
		ParentRoot:    [32]byte{1},
		BodyRoot:      [32]byte{2},
	}
	header2 := &beacontypes.BeaconBlockHeader{
		Slot:          5,
		ProposerIndex: accused,
		ParentRoot:    [32]byte{1},
		BodyRoot:      [32]byte{3}, // conflicting content, same slot
	}

	body := &beacontypes.BeaconBlockBody{
		ProposerSlashings: []*beacontypes.ProposerSlashing{{
			Header1: signHeader(t, st, header1, secretKeys[accused]),
			Header2: signHeader(t, st, header2, secretKeys[accused]),
		}},
	}

	balanceBefore := st.Balances[accused]
	st, err = blocks.ProcessProposerSlashings(ctx, st, body, true)
	require.NoError(t, err)

	require.True(t, st.Validators[accused].Slashed)
	penalty := st.Validators[accused].EffectiveBalance / params.BeaconConfig().MinSlashingPenaltyQuotient
	require.Equal(t, balanceBefore-penalty, st.Balances[accused])
	require.NotEqual(t, eth2types.Epoch(params.BeaconConfig().FarFutureEpoch), st.Validators[accused].ExitEpoch)
}

func TestProcessProposerSlashings_RejectsIdenticalHeaders(t *testing.T) {
	ctx := context.Background()

	st, err := corestate.InteropGenesisState(ctx, 8, 13371377)
	require.NoError(t, err)
	st.Slot = 5

	header := &beacontypes.BeaconBlockHeader{Slot: 5, ProposerIndex: 3}
	body := &beacontypes.BeaconBlockBody{
		ProposerSlashings: []*beacontypes.ProposerSlashing{{
			Header1: &beacontypes.SignedBeaconBlockHeader{Header: header},
			Header2: &beacontypes.SignedBeaconBlockHeader{Header: header},
		}},
	}

	_, err = blocks.ProcessProposerSlashings(ctx, st, body, false)
	require.Error(t, err)
}
