package blocks

import (
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// ProcessAttesterSlashings verifies, in parallel, the two IndexedAttestations
// backing each AttesterSlashing bounded by MaxAttesterSlashings, computes
// the slashable signer intersection for each, and slashes those validators
// in order.
//
// Spec pseudocode definition:
//  def process_attester_slashing(state: BeaconState, attester_slashing: AttesterSlashing) -> None:
//    attestation_1 = attester_slashing.attestation_1
//    attestation_2 = attester_slashing.attestation_2
//    assert is_slashable_attestation_data(attestation_1.data, attestation_2.data)
//    assert is_valid_indexed_attestation(state, attestation_1)
//    assert is_valid_indexed_attestation(state, attestation_2)
//    slashed_any = False
//    indices = set(attestation_1.attesting_indices).intersection(attestation_2.attesting_indices)
//    for index in sorted(indices):
//        if is_slashable_validator(state.validators[index], get_current_epoch(state)):
//            slash_validator(state, index)
//            slashed_any = True
//    assert slashed_any
func ProcessAttesterSlashings(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, verifySignatures bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessAttesterSlashings")
	defer span.End()

	if uint64(len(body.AttesterSlashings)) > params.BeaconConfig().MaxAttesterSlashings {
		return nil, errors.Errorf("number of attester slashings (%d) exceeds allowed threshold of %d",
			len(body.AttesterSlashings), params.BeaconConfig().MaxAttesterSlashings)
	}

	if verifySignatures {
		g, _ := errgroup.WithContext(ctx)
		for _, slashing := range body.AttesterSlashings {
			slashing := slashing
			g.Go(func() error {
				if err := VerifyIndexedAttestation(state, slashing.Attestation1); err != nil {
					return errors.Wrap(err, "attestation_1 invalid")
				}
				if err := VerifyIndexedAttestation(state, slashing.Attestation2); err != nil {
					return errors.Wrap(err, "attestation_2 invalid")
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	blockProposerIndex, err := helpers.BeaconProposerIndex(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve block proposer index")
	}

	for i, slashing := range body.AttesterSlashings {
		if !IsSlashableAttestationData(slashing.Attestation1.Data, slashing.Attestation2.Data) {
			return nil, errors.Errorf("attester slashing %d does not contain a slashable condition", i)
		}
		slashedAny := false
		for _, index := range intersectAttestingIndices(slashing.Attestation1.AttestingIndices, slashing.Attestation2.AttestingIndices) {
			if helpers.IsSlashableValidator(state.Validators[index], helpers.CurrentEpoch(state)) {
				helpers.SlashValidator(state, index, blockProposerIndex)
				slashedAny = true
			}
		}
		if !slashedAny {
			return nil, errors.Errorf("attester slashing %d slashed no validators", i)
		}
	}
	return state, nil
}

// IsSlashableAttestationData reports whether two AttestationDatas describe a
// double vote (same target epoch, different data) or a surround vote (one
// attestation's source/target range strictly contains the other's).
//
// Spec pseudocode definition:
//  def is_slashable_attestation_data(data_1: AttestationData, data_2: AttestationData) -> bool:
//    return (
//        (data_1 != data_2 and data_1.target.epoch == data_2.target.epoch) or
//        (data_1.source.epoch < data_2.source.epoch and data_2.target.epoch < data_1.target.epoch)
//    )
func IsSlashableAttestationData(d1, d2 *beacontypes.AttestationData) bool {
	doubleVote := !attestationDataEqual(d1, d2) && d1.Target.Epoch == d2.Target.Epoch
	surroundVote := d1.Source.Epoch < d2.Source.Epoch && d2.Target.Epoch < d1.Target.Epoch
	return doubleVote || surroundVote
}

func attestationDataEqual(a, b *beacontypes.AttestationData) bool {
	ra, err := hashutil.HashTreeRoot(a)
	if err != nil {
		return false
	}
	rb, err := hashutil.HashTreeRoot(b)
	if err != nil {
		return false
	}
	return ra == rb
}

// VerifyIndexedAttestation checks that att.AttestingIndices is sorted and
// duplicate-free and that att.Signature is a valid aggregate BLS signature
// by those signers over att.Data under the Attestation domain.
//
// Spec pseudocode definition:
//  def is_valid_indexed_attestation(state: BeaconState, indexed_attestation: IndexedAttestation) -> bool:
//    indices = indexed_attestation.attesting_indices
//    if len(indices) == 0 or not indices == sorted(set(indices)):
//        return False
//    pubkeys = [state.validators[i].pubkey for i in indices]
//    domain = get_domain(state, DOMAIN_BEACON_ATTESTER, indexed_attestation.data.target.epoch)
//    signing_root = compute_signing_root(indexed_attestation.data, domain)
//    return bls_verify(bls_aggregate_pubkeys(pubkeys), signing_root, indexed_attestation.signature)
func VerifyIndexedAttestation(state *beacontypes.BeaconState, att *beacontypes.IndexedAttestation) error {
	indices := att.AttestingIndices
	if len(indices) == 0 {
		return errors.New("indexed attestation has no attesting indices")
	}
	for i := 1; i < len(indices); i++ {
		if indices[i] <= indices[i-1] {
			return errors.New("indexed attestation indices are not sorted and deduplicated")
		}
	}

	pubKeys := make([]*bls.PublicKey, len(indices))
	for i, idx := range indices {
		if int(idx) >= len(state.Validators) {
			return errors.Errorf("attesting index %d out of range", idx)
		}
		pub, err := bls.PublicKeyFromBytes(state.Validators[idx].PublicKey[:])
		if err != nil {
			return errors.Wrap(err, "could not deserialize attester public key")
		}
		pubKeys[i] = pub
	}
	aggPub, err := bls.AggregatePublicKeys(pubKeys)
	if err != nil {
		return errors.Wrap(err, "could not aggregate attester public keys")
	}

	domain := helpers.Domain(state.Fork, att.Data.Target.Epoch, params.DomainAttestation)
	dataRoot, err := hashutil.HashTreeRoot(att.Data)
	if err != nil {
		return errors.Wrap(err, "could not hash attestation data")
	}
	signingRoot := hashutil.Hash(append(dataRoot[:], domain...))

	sig, err := bls.SignatureFromBytes(att.Signature[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize attestation signature")
	}
	if !sig.Verify(aggPub, signingRoot[:]) {
		return errors.New("indexed attestation signature did not verify")
	}
	return nil
}

// intersectAttestingIndices returns the sorted intersection of two sorted,
// deduplicated ValidatorIndex slices (the invariant VerifyIndexedAttestation
// already checked on both inputs).
func intersectAttestingIndices(a, b []eth2types.ValidatorIndex) []eth2types.ValidatorIndex {
	var out []eth2types.ValidatorIndex
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
