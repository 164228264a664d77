package blocks

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// ProcessProposerSlashings verifies, in parallel, every ProposerSlashing in
// body bounded by MaxProposerSlashings and then applies them in order via
// SlashValidator. The two halves are deliberately split: signature
// verification has no ordering dependency and is CPU-bound, but applying
// the slashings must happen sequentially since an earlier slashing can
// change the churn limit a later one observes.
//
// Spec pseudocode definition:
//  def process_proposer_slashing(state: BeaconState, proposer_slashing: ProposerSlashing) -> None:
//    header_1 = proposer_slashing.signed_header_1.message
//    header_2 = proposer_slashing.signed_header_2.message
//    assert header_1.slot == header_2.slot
//    assert header_1.proposer_index == header_2.proposer_index
//    assert header_1 != header_2
//    proposer = state.validators[header_1.proposer_index]
//    assert is_slashable_validator(proposer, get_current_epoch(state))
//    for signed_header in (proposer_slashing.signed_header_1, proposer_slashing.signed_header_2):
//        domain = get_domain(state, DOMAIN_BEACON_PROPOSER, compute_epoch_at_slot(signed_header.message.slot))
//        assert bls_verify(proposer.pubkey, hash_tree_root(signed_header.message), signed_header.signature, domain)
//    slash_validator(state, header_1.proposer_index)
func ProcessProposerSlashings(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, verifySignatures bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessProposerSlashings")
	defer span.End()

	if uint64(len(body.ProposerSlashings)) > params.BeaconConfig().MaxProposerSlashings {
		return nil, errors.Errorf("number of proposer slashings (%d) exceeds allowed threshold of %d",
			len(body.ProposerSlashings), params.BeaconConfig().MaxProposerSlashings)
	}

	if verifySignatures {
		g, _ := errgroup.WithContext(ctx)
		for _, slashing := range body.ProposerSlashings {
			slashing := slashing
			g.Go(func() error {
				return VerifyProposerSlashing(state, slashing)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "could not verify proposer slashing")
		}
	} else {
		for i, slashing := range body.ProposerSlashings {
			if err := verifyProposerSlashingConsistency(slashing); err != nil {
				return nil, errors.Wrapf(err, "proposer slashing %d invalid", i)
			}
		}
	}

	blockProposerIndex, err := helpers.BeaconProposerIndex(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve block proposer index")
	}
	for _, slashing := range body.ProposerSlashings {
		helpers.SlashValidator(state, slashing.Header1.Header.ProposerIndex, blockProposerIndex)
	}
	return state, nil
}

// VerifyProposerSlashing checks that a ProposerSlashing is internally
// consistent (same slot, same proposer, distinct headers), that the
// accused proposer is still slashable, and that both conflicting headers
// carry valid BeaconProposer signatures by that proposer.
func VerifyProposerSlashing(state *beacontypes.BeaconState, slashing *beacontypes.ProposerSlashing) error {
	if err := verifyProposerSlashingConsistency(slashing); err != nil {
		return err
	}

	proposerIndex := slashing.Header1.Header.ProposerIndex
	proposer := state.Validators[proposerIndex]
	if !helpers.IsSlashableValidator(proposer, helpers.CurrentEpoch(state)) {
		return errors.Errorf("validator %d is not slashable", proposerIndex)
	}

	for _, signed := range []*beacontypes.SignedBeaconBlockHeader{slashing.Header1, slashing.Header2} {
		epoch := helpers.SlotToEpoch(signed.Header.Slot)
		domain := helpers.Domain(state.Fork, epoch, params.DomainBeaconProposer)
		root, err := hashutil.HashTreeRoot(signed.Header)
		if err != nil {
			return errors.Wrap(err, "could not hash header")
		}
		signingRoot := hashutil.Hash(append(root[:], domain...))

		pub, err := bls.PublicKeyFromBytes(proposer.PublicKey[:])
		if err != nil {
			return errors.Wrap(err, "could not deserialize proposer public key")
		}
		sig, err := bls.SignatureFromBytes(signed.Signature[:])
		if err != nil {
			return errors.Wrap(err, "could not deserialize header signature")
		}
		if !sig.Verify(pub, signingRoot[:]) {
			return errors.New("proposer slashing header signature did not verify")
		}
	}
	return nil
}

func verifyProposerSlashingConsistency(slashing *beacontypes.ProposerSlashing) error {
	h1, h2 := slashing.Header1.Header, slashing.Header2.Header
	if h1.Slot != h2.Slot {
		return errors.New("proposer slashing headers are not from the same slot")
	}
	if h1.ProposerIndex != h2.ProposerIndex {
		return errors.New("proposer slashing headers do not share a proposer")
	}
	if *h1 == *h2 {
		return errors.New("proposer slashing headers are identical, not a double-sign")
	}
	return nil
}
