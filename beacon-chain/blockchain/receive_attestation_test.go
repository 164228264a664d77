package blockchain

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

func TestProcessAttestation_CountsVoteAndPools(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	var headRoot [32]byte
	for _, slot := range []eth2types.Slot{1, 2, 3} {
		signed := proposeBlock(t, chain, slot)
		result, err := chain.ProcessBlock(ctx, signed)
		require.NoError(t, err)
		require.Equal(t, Processed, result.Outcome)
		headRoot = result.BlockRoot
	}

	committee, err := helpers.BeaconCommittee(chain.HeadState(), 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, committee)

	bits := bitfield.NewBitlist(uint64(len(committee)))
	bits.SetBitAt(0, true)
	att := &beacontypes.Attestation{
		AggregationBits: bits,
		Data: &beacontypes.AttestationData{
			Slot:            3,
			CommitteeIndex:  0,
			BeaconBlockRoot: headRoot,
			Source:          &beacontypes.Checkpoint{},
			Target:          &beacontypes.Checkpoint{Epoch: 0},
			Crosslink:       &beacontypes.Crosslink{},
		},
	}

	result, err := chain.ProcessAttestation(ctx, att)
	require.NoError(t, err)
	require.Equal(t, AttestationProcessed, result.Outcome)
	require.Equal(t, 1, chain.opsPool.NumAttestations())

	voted, ok := chain.forkChoice.LatestVote(uint64(committee[0]))
	require.True(t, ok)
	require.Equal(t, headRoot, voted)
}

func TestProcessAttestation_UnknownBlock(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	bits := bitfield.NewBitlist(1)
	bits.SetBitAt(0, true)
	att := &beacontypes.Attestation{
		AggregationBits: bits,
		Data: &beacontypes.AttestationData{
			Slot:            3,
			CommitteeIndex:  0,
			BeaconBlockRoot: [32]byte{0xbe, 0xef},
			Source:          &beacontypes.Checkpoint{},
			Target:          &beacontypes.Checkpoint{Epoch: 0},
			Crosslink:       &beacontypes.Crosslink{},
		},
	}

	result, err := chain.ProcessAttestation(ctx, att)
	require.NoError(t, err)
	require.Equal(t, AttestationUnknownBlock, result.Outcome)
}

func TestProcessAttestation_WrongEpochRejected(t *testing.T) {
	chain, _ := newTestChain(t)
	ctx := context.Background()

	att := &beacontypes.Attestation{
		AggregationBits: bitfield.NewBitlist(1),
		Data: &beacontypes.AttestationData{
			Slot:            3,
			CommitteeIndex:  0,
			BeaconBlockRoot: chain.HeadRoot(),
			Source:          &beacontypes.Checkpoint{},
			Target:          &beacontypes.Checkpoint{Epoch: 5},
			Crosslink:       &beacontypes.Crosslink{},
		},
	}

	result, err := chain.ProcessAttestation(ctx, att)
	require.NoError(t, err)
	require.Equal(t, AttestationInvalid, result.Outcome)
}
