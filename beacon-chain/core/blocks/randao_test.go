package blocks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bytesutil"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

func TestProcessRandao_MixesRevealIntoCurrentEpoch(t *testing.T) {
	st, _ := genesisTestState(t)
	ctx := context.Background()

	epoch := helpers.CurrentEpoch(st)
	oldMix, err := helpers.RandaoMix(st, epoch)
	require.NoError(t, err)

	body := &beacontypes.BeaconBlockBody{RandaoReveal: [96]byte{0x42}}
	st, err = blocks.ProcessRandao(ctx, st, body, false)
	require.NoError(t, err)

	revealHash := hashutil.Hash(body.RandaoReveal[:])
	var want [32]byte
	for i := range want {
		want[i] = oldMix[i] ^ revealHash[i]
	}
	newMix, err := helpers.RandaoMix(st, epoch)
	require.NoError(t, err)
	require.Equal(t, want, newMix)
}

func TestProcessRandao_VerifiesProposerReveal(t *testing.T) {
	st, secretKeys := genesisTestState(t)
	ctx := context.Background()

	proposerIndex, err := helpers.BeaconProposerIndex(st)
	require.NoError(t, err)
	epoch := helpers.CurrentEpoch(st)
	domain := helpers.Domain(st.Fork, epoch, params.DomainRandao)
	signingRoot := hashutil.Hash(append(bytesutil.Bytes8(uint64(epoch)), domain...))

	body := &beacontypes.BeaconBlockBody{}
	copy(body.RandaoReveal[:], secretKeys[proposerIndex].Sign(signingRoot[:]).Marshal())

	_, err = blocks.ProcessRandao(ctx, st, body, true)
	require.NoError(t, err)
}

func TestProcessRandao_RejectsWrongSigner(t *testing.T) {
	st, secretKeys := genesisTestState(t)
	ctx := context.Background()

	proposerIndex, err := helpers.BeaconProposerIndex(st)
	require.NoError(t, err)
	epoch := helpers.CurrentEpoch(st)
	domain := helpers.Domain(st.Fork, epoch, params.DomainRandao)
	signingRoot := hashutil.Hash(append(bytesutil.Bytes8(uint64(epoch)), domain...))

	// A reveal signed by anyone other than the slot's proposer must fail.
	wrongSigner := secretKeys[(proposerIndex+1)%8]
	body := &beacontypes.BeaconBlockBody{}
	copy(body.RandaoReveal[:], wrongSigner.Sign(signingRoot[:]).Marshal())

	_, err = blocks.ProcessRandao(ctx, st, body, true)
	require.Error(t, err)
}
