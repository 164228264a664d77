// Package blocks implements the per-operation validators that together
// make up per-block state transition: the block header, RANDAO reveal,
// eth1 data vote, proposer/attester slashings, attestations, deposits,
// voluntary exits, and transfers. Each function here is one contractual
// sub-step of core/state.ProcessBlock and must not be reordered relative
// to the others.
package blocks

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

var log = logrus.WithField("prefix", "core/blocks")

// ProcessBlockHeader installs block's temporary header as the state's
// latest block header, verifying the slot, parent-root, and proposer
// signature invariants along the way.
//
// Spec pseudocode definition:
//  def process_block_header(state: BeaconState, block: BeaconBlock) -> None:
//    assert block.slot == state.slot
//    assert block.parent_root == hash_tree_root(state.latest_block_header)
//    state.latest_block_header = BeaconBlockHeader(...)
//    proposer = state.validators[get_beacon_proposer_index(state)]
//    assert not proposer.slashed
//    assert bls_verify(proposer.pubkey, signing_root(block), block.signature, get_domain(state, DOMAIN_BEACON_PROPOSER))
func ProcessBlockHeader(ctx context.Context, state *beacontypes.BeaconState, signed *beacontypes.SignedBeaconBlock, verifySignature bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessBlockHeader")
	defer span.End()

	block := signed.Block
	if block.Slot != state.Slot {
		return nil, errors.Errorf("block slot %d does not match state slot %d", block.Slot, state.Slot)
	}

	parentHeaderRoot, err := hashutil.HashTreeRoot(state.LatestBlockHeader)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash latest block header")
	}
	if block.ParentRoot != parentHeaderRoot {
		return nil, errors.Errorf("block parent root %#x does not match latest block header root %#x", block.ParentRoot, parentHeaderRoot)
	}

	bodyRoot, err := hashutil.HashTreeRoot(block.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash block body")
	}
	state.LatestBlockHeader = &beacontypes.BeaconBlockHeader{
		Slot:          block.Slot,
		ProposerIndex: block.ProposerIndex,
		ParentRoot:    block.ParentRoot,
		StateRoot:     [32]byte{}, // filled in on the next slot's ProcessSlot, per spec.md §3.
		BodyRoot:      bodyRoot,
	}

	proposerIndex, err := helpers.BeaconProposerIndex(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve proposer index")
	}
	if block.ProposerIndex != proposerIndex {
		return nil, errors.Errorf("block proposer index %d does not match expected %d", block.ProposerIndex, proposerIndex)
	}
	proposer := state.Validators[proposerIndex]
	if proposer.Slashed {
		return nil, errors.Errorf("proposer at index %d has been slashed", proposerIndex)
	}

	if verifySignature {
		if err := VerifyBlockSignature(state, proposer, signed); err != nil {
			return nil, errors.Wrap(err, "could not verify block signature")
		}
	}

	return state, nil
}

// VerifyBlockSignature checks that signed.Signature is a valid BeaconProposer
// signature by proposer over the block's signing root.
func VerifyBlockSignature(state *beacontypes.BeaconState, proposer *beacontypes.Validator, signed *beacontypes.SignedBeaconBlock) error {
	domain := helpers.Domain(state.Fork, helpers.CurrentEpoch(state), params.DomainBeaconProposer)
	root, err := hashutil.HashTreeRoot(signed.Block)
	if err != nil {
		return errors.Wrap(err, "could not compute block signing root")
	}
	signingData := append(root[:], domain...)
	signingRoot := hashutil.Hash(signingData)

	pub, err := bls.PublicKeyFromBytes(proposer.PublicKey[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize proposer public key")
	}
	sig, err := bls.SignatureFromBytes(signed.Signature[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize block signature")
	}
	if !sig.Verify(pub, signingRoot[:]) {
		return errors.New("block signature did not verify")
	}
	return nil
}
