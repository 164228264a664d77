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

// ProcessVoluntaryExits verifies, in parallel, every SignedVoluntaryExit in
// body bounded by MaxVoluntaryExits and then initiates the exit for each
// validator in order.
//
// Spec pseudocode definition:
//  def process_voluntary_exit(state: BeaconState, signed_voluntary_exit: SignedVoluntaryExit) -> None:
//    voluntary_exit = signed_voluntary_exit.message
//    validator = state.validators[voluntary_exit.validator_index]
//    assert is_active_validator(validator, get_current_epoch(state))
//    assert validator.exit_epoch == FAR_FUTURE_EPOCH
//    assert get_current_epoch(state) >= voluntary_exit.epoch
//    assert get_current_epoch(state) >= validator.activation_epoch + PERSISTENT_COMMITTEE_PERIOD
//    domain = get_domain(state, DOMAIN_VOLUNTARY_EXIT, voluntary_exit.epoch)
//    signing_root = compute_signing_root(voluntary_exit, domain)
//    assert bls_verify(validator.pubkey, signing_root, signed_voluntary_exit.signature)
//    initiate_validator_exit(state, voluntary_exit.validator_index)
func ProcessVoluntaryExits(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, verifySignatures bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessVoluntaryExits")
	defer span.End()

	if uint64(len(body.VoluntaryExits)) > params.BeaconConfig().MaxVoluntaryExits {
		return nil, errors.Errorf("number of voluntary exits (%d) exceeds allowed threshold of %d",
			len(body.VoluntaryExits), params.BeaconConfig().MaxVoluntaryExits)
	}

	for i, signed := range body.VoluntaryExits {
		if err := verifyVoluntaryExitConsistency(state, signed); err != nil {
			return nil, errors.Wrapf(err, "voluntary exit %d invalid", i)
		}
	}

	if verifySignatures {
		g, _ := errgroup.WithContext(ctx)
		for _, signed := range body.VoluntaryExits {
			signed := signed
			g.Go(func() error {
				return VerifyVoluntaryExitSignature(state, signed)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "could not verify voluntary exit signature")
		}
	}

	for _, signed := range body.VoluntaryExits {
		helpers.InitiateValidatorExit(state, signed.Exit.ValidatorIndex)
	}
	return state, nil
}

func verifyVoluntaryExitConsistency(state *beacontypes.BeaconState, signed *beacontypes.SignedVoluntaryExit) error {
	exit := signed.Exit
	if int(exit.ValidatorIndex) >= len(state.Validators) {
		return errors.Errorf("validator index %d out of range", exit.ValidatorIndex)
	}
	validator := state.Validators[exit.ValidatorIndex]
	currentEpoch := helpers.CurrentEpoch(state)

	if !helpers.IsActiveValidator(validator, currentEpoch) {
		return errors.New("validator is not active")
	}
	if validator.ExitEpoch != farFutureEpoch() {
		return errors.New("validator has already initiated exit")
	}
	if currentEpoch < exit.Epoch {
		return errors.Errorf("exit epoch %d has not arrived yet, current epoch is %d", exit.Epoch, currentEpoch)
	}
	minExitEpoch := validator.ActivationEpoch + eth2types.Epoch(params.BeaconConfig().PersistentCommitteePeriod)
	if currentEpoch < minExitEpoch {
		return errors.Errorf("validator has not been active long enough to exit, needs epoch %d", minExitEpoch)
	}
	return nil
}

// VerifyVoluntaryExitSignature checks that signed.Signature is a valid
// VoluntaryExit signature by the exiting validator.
func VerifyVoluntaryExitSignature(state *beacontypes.BeaconState, signed *beacontypes.SignedVoluntaryExit) error {
	validator := state.Validators[signed.Exit.ValidatorIndex]
	domain := helpers.Domain(state.Fork, signed.Exit.Epoch, params.DomainVoluntaryExit)
	root, err := hashutil.HashTreeRoot(signed.Exit)
	if err != nil {
		return errors.Wrap(err, "could not hash voluntary exit")
	}
	signingRoot := hashutil.Hash(append(root[:], domain...))

	pub, err := bls.PublicKeyFromBytes(validator.PublicKey[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize validator public key")
	}
	sig, err := bls.SignatureFromBytes(signed.Signature[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize exit signature")
	}
	if !sig.Verify(pub, signingRoot[:]) {
		return errors.New("voluntary exit signature did not verify")
	}
	return nil
}
