package blocks_test

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

// doubleVote builds an attester slashing where the given validators signed
// two different attestations for the same target epoch.
func doubleVote(indices []eth2types.ValidatorIndex) *beacontypes.AttesterSlashing {
	return &beacontypes.AttesterSlashing{
		Attestation1: &beacontypes.IndexedAttestation{
			AttestingIndices: indices,
			Data: &beacontypes.AttestationData{
				BeaconBlockRoot: [32]byte{1},
				Source:          &beacontypes.Checkpoint{},
				Target:          &beacontypes.Checkpoint{Epoch: 0},
			},
		},
		Attestation2: &beacontypes.IndexedAttestation{
			AttestingIndices: indices,
			Data: &beacontypes.AttestationData{
				BeaconBlockRoot: [32]byte{2},
				Source:          &beacontypes.Checkpoint{},
				Target:          &beacontypes.Checkpoint{Epoch: 0},
			},
		},
	}
}

func TestProcessAttesterSlashings_SlashesIntersection(t *testing.T) {
	st, _ := genesisTestState(t)
	st.Slot = 5
	ctx := context.Background()

	body := &beacontypes.BeaconBlockBody{
		AttesterSlashings: []*beacontypes.AttesterSlashing{doubleVote([]eth2types.ValidatorIndex{3})},
	}

	balanceBefore := st.Balances[3]
	st, err := blocks.ProcessAttesterSlashings(ctx, st, body, false)
	require.NoError(t, err)

	require.True(t, st.Validators[3].Slashed)
	require.Less(t, st.Balances[3], balanceBefore)
	// The slashing accumulator picked up the slashed effective balance.
	slashingsIndex := uint64(0) % uint64(len(st.Slashings))
	require.Equal(t, st.Validators[3].EffectiveBalance, st.Slashings[slashingsIndex])
}

func TestProcessAttesterSlashings_RejectsNonSlashableData(t *testing.T) {
	st, _ := genesisTestState(t)
	st.Slot = 5
	ctx := context.Background()

	slashing := doubleVote([]eth2types.ValidatorIndex{3})
	// Identical data on both sides: neither a double vote nor a surround.
	slashing.Attestation2.Data = slashing.Attestation1.Data
	body := &beacontypes.BeaconBlockBody{AttesterSlashings: []*beacontypes.AttesterSlashing{slashing}}

	_, err := blocks.ProcessAttesterSlashings(ctx, st, body, false)
	require.Error(t, err)
}

func TestProcessAttesterSlashings_RejectsEmptyIntersection(t *testing.T) {
	st, _ := genesisTestState(t)
	st.Slot = 5
	ctx := context.Background()

	slashing := doubleVote([]eth2types.ValidatorIndex{3})
	slashing.Attestation2.AttestingIndices = []eth2types.ValidatorIndex{5}
	body := &beacontypes.BeaconBlockBody{AttesterSlashings: []*beacontypes.AttesterSlashing{slashing}}

	_, err := blocks.ProcessAttesterSlashings(ctx, st, body, false)
	require.Error(t, err)
}

func TestIsSlashableAttestationData_SurroundVote(t *testing.T) {
	outer := &beacontypes.AttestationData{
		Source: &beacontypes.Checkpoint{Epoch: 1},
		Target: &beacontypes.Checkpoint{Epoch: 6},
	}
	inner := &beacontypes.AttestationData{
		Source: &beacontypes.Checkpoint{Epoch: 2},
		Target: &beacontypes.Checkpoint{Epoch: 5},
	}
	require.True(t, blocks.IsSlashableAttestationData(outer, inner))
	require.False(t, blocks.IsSlashableAttestationData(inner, outer))
}
