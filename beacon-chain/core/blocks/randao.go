package blocks

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/bytesutil"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// ProcessRandao verifies body.RandaoReveal as the proposer's signature over
// the current epoch under the Randao domain, then XORs its hash into the
// current epoch's randao mix.
//
// Spec pseudocode definition:
//  def process_randao(state: BeaconState, body: BeaconBlockBody) -> None:
//    epoch = get_current_epoch(state)
//    proposer = state.validators[get_beacon_proposer_index(state)]
//    assert bls_verify(proposer.pubkey, hash_tree_root(epoch), body.randao_reveal, get_domain(state, DOMAIN_RANDAO))
//    mix = xor(get_randao_mix(state, epoch), hash(body.randao_reveal))
//    state.randao_mixes[epoch % EPOCHS_PER_HISTORICAL_VECTOR] = mix
func ProcessRandao(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, verifySignature bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessRandao")
	defer span.End()

	epoch := helpers.CurrentEpoch(state)

	if verifySignature {
		proposerIndex, err := helpers.BeaconProposerIndex(state)
		if err != nil {
			return nil, errors.Wrap(err, "could not resolve proposer index")
		}
		proposer := state.Validators[proposerIndex]

		domain := helpers.Domain(state.Fork, epoch, params.DomainRandao)
		signingRoot := hashutil.Hash(append(bytesutil.Bytes8(uint64(epoch)), domain...))

		pub, err := bls.PublicKeyFromBytes(proposer.PublicKey[:])
		if err != nil {
			return nil, errors.Wrap(err, "could not deserialize proposer public key")
		}
		sig, err := bls.SignatureFromBytes(body.RandaoReveal[:])
		if err != nil {
			return nil, errors.Wrap(err, "could not deserialize randao reveal")
		}
		if !sig.Verify(pub, signingRoot[:]) {
			return nil, errors.New("randao reveal did not verify")
		}
	}

	revealHash := hashutil.Hash(body.RandaoReveal[:])
	if err := helpers.MixInRandao(state, epoch, revealHash); err != nil {
		return nil, errors.Wrap(err, "could not mix in randao reveal")
	}
	return state, nil
}
