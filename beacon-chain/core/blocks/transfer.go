package blocks

import (
	"bytes"
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

// ProcessTransfers verifies, in parallel, every Transfer in body bounded by
// MaxTransfers, rejects duplicate sender/recipient/amount/fee/slot tuples
// within the same block, and then moves each balance in order.
//
// Spec pseudocode definition:
//  def process_transfer(state: BeaconState, transfer: Transfer) -> None:
//    assert state.balances[transfer.sender] >= max(transfer.amount + transfer.fee, MIN_DEPOSIT_AMOUNT)
//    assert state.slot == transfer.slot
//    sender = state.validators[transfer.sender]
//    assert (
//        sender.activation_eligibility_epoch == FAR_FUTURE_EPOCH or
//        get_current_epoch(state) >= sender.withdrawable_epoch or
//        transfer.pubkey == sender.withdrawal_credentials
//    )
//    assert bls_verify(transfer.pubkey, signing_root(transfer), transfer.signature, get_domain(state, DOMAIN_TRANSFER))
//    decrease_balance(state, transfer.sender, transfer.amount + transfer.fee)
//    increase_balance(state, transfer.recipient, transfer.amount)
//    increase_balance(state, get_beacon_proposer_index(state), transfer.fee)
func ProcessTransfers(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody, verifySignatures bool) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessTransfers")
	defer span.End()

	if uint64(len(body.Transfers)) > params.BeaconConfig().MaxTransfers {
		return nil, errors.Errorf("number of transfers (%d) exceeds allowed threshold of %d",
			len(body.Transfers), params.BeaconConfig().MaxTransfers)
	}
	if err := verifyNoDuplicateTransfers(body.Transfers); err != nil {
		return nil, err
	}

	for i, transfer := range body.Transfers {
		if err := verifyTransferConsistency(state, transfer); err != nil {
			return nil, errors.Wrapf(err, "transfer %d invalid", i)
		}
	}

	if verifySignatures {
		g, _ := errgroup.WithContext(ctx)
		for _, transfer := range body.Transfers {
			transfer := transfer
			g.Go(func() error {
				return VerifyTransferSignature(state, transfer)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "could not verify transfer signature")
		}
	}

	proposerIndex, err := helpers.BeaconProposerIndex(state)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve proposer index")
	}
	for _, transfer := range body.Transfers {
		helpers.DecreaseBalance(state, transfer.Sender, transfer.Amount+transfer.Fee)
		helpers.IncreaseBalance(state, transfer.Recipient, transfer.Amount)
		helpers.IncreaseBalance(state, proposerIndex, transfer.Fee)
	}
	return state, nil
}

func verifyNoDuplicateTransfers(transfers []*beacontypes.Transfer) error {
	type key struct {
		sender, recipient eth2types.ValidatorIndex
		amount, fee       uint64
		slot              eth2types.Slot
	}
	seen := make(map[key]bool, len(transfers))
	for i, t := range transfers {
		k := key{t.Sender, t.Recipient, t.Amount, t.Fee, t.Slot}
		if seen[k] {
			return errors.Errorf("transfer %d duplicates an earlier transfer in the same block", i)
		}
		seen[k] = true
	}
	return nil
}

func verifyTransferConsistency(state *beacontypes.BeaconState, transfer *beacontypes.Transfer) error {
	if int(transfer.Sender) >= len(state.Validators) {
		return errors.Errorf("sender index %d out of range", transfer.Sender)
	}
	if int(transfer.Recipient) >= len(state.Validators) {
		return errors.Errorf("recipient index %d out of range", transfer.Recipient)
	}
	required := transfer.Amount + transfer.Fee
	if required < params.BeaconConfig().MinDepositAmount {
		required = params.BeaconConfig().MinDepositAmount
	}
	if state.Balances[transfer.Sender] < required {
		return errors.Errorf("sender balance %d is below required %d", state.Balances[transfer.Sender], required)
	}
	if transfer.Slot != state.Slot {
		return errors.Errorf("transfer slot %d does not match state slot %d", transfer.Slot, state.Slot)
	}

	sender := state.Validators[transfer.Sender]
	currentEpoch := helpers.CurrentEpoch(state)
	pubkeyHash := hashutil.Hash(transfer.Pubkey[:])
	eligible := sender.ActivationEligibilityEpoch == farFutureEpoch() ||
		currentEpoch >= sender.WithdrawableEpoch ||
		bytes.Equal(pubkeyHash[1:], sender.WithdrawalCredentials[1:])
	if !eligible {
		return errors.New("sender is not eligible to transfer from this balance")
	}
	return nil
}

// VerifyTransferSignature checks that transfer.Signature is a valid
// Transfer-domain signature by transfer.Pubkey.
func VerifyTransferSignature(state *beacontypes.BeaconState, transfer *beacontypes.Transfer) error {
	domain := helpers.Domain(state.Fork, helpers.CurrentEpoch(state), params.DomainTransfer)
	root, err := hashutil.HashTreeRootWithSignature(transfer)
	if err != nil {
		return errors.Wrap(err, "could not compute transfer signing root")
	}
	signingRoot := hashutil.Hash(append(root[:], domain...))

	pub, err := bls.PublicKeyFromBytes(transfer.Pubkey[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize transfer public key")
	}
	sig, err := bls.SignatureFromBytes(transfer.Signature[:])
	if err != nil {
		return errors.Wrap(err, "could not deserialize transfer signature")
	}
	if !sig.Verify(pub, signingRoot[:]) {
		return errors.New("transfer signature did not verify")
	}
	return nil
}
