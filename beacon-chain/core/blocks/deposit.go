package blocks

import (
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
	"github.com/shardbeacon/client/shared/trieutil"
)

// ProcessDeposits applies every Deposit in body in order: each must carry a
// valid Merkle proof of inclusion in the deposit contract's tree at
// Eth1Data.DepositRoot, after which it either tops up an existing
// validator's balance or, for a new pubkey, creates a validator entry. A new
// validator's deposit signature is verified as a condition of activation
// only, not of acceptance: an invalid signature still advances
// Eth1DepositIndex and consumes the deposit, it simply never becomes a
// validator. See the core/blocks Open Question decisions in the design notes.
//
// Spec pseudocode definition:
//  def process_deposit(state: BeaconState, deposit: Deposit) -> None:
//    assert is_valid_merkle_branch(
//        leaf=hash_tree_root(deposit.data), branch=deposit.proof,
//        depth=DEPOSIT_CONTRACT_TREE_DEPTH + 1, index=state.eth1_deposit_index,
//        root=state.eth1_data.deposit_root)
//    state.eth1_deposit_index += 1
//    pubkey = deposit.data.pubkey
//    amount = deposit.data.amount
//    validator_pubkeys = [v.pubkey for v in state.validators]
//    if pubkey not in validator_pubkeys:
//        if not bls_verify(pubkey, signing_root(deposit.data), deposit.data.signature, domain=compute_domain(DOMAIN_DEPOSIT)):
//            return
//        state.validators.append(get_validator_from_deposit(deposit))
//        state.balances.append(amount)
//    else:
//        index = validator_pubkeys.index(pubkey)
//        increase_balance(state, index, amount)
func ProcessDeposits(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessDeposits")
	defer span.End()

	maxDeposits := params.BeaconConfig().MaxDeposits
	remaining := state.Eth1Data.DepositCount - state.Eth1DepositIndex
	expected := maxDeposits
	if remaining < expected {
		expected = remaining
	}
	if uint64(len(body.Deposits)) != expected {
		return nil, errors.Errorf("block contains %d deposits, expected %d", len(body.Deposits), expected)
	}

	for i, deposit := range body.Deposits {
		if err := verifyDepositMerkleBranch(state, deposit); err != nil {
			return nil, errors.Wrapf(err, "deposit %d has invalid merkle proof", i)
		}
		state.Eth1DepositIndex++

		idx := validatorIndexForPubkey(state, deposit.Data.PublicKey)
		if idx < 0 {
			if !verifyDepositSignature(deposit.Data) {
				log.WithField("pubkey", deposit.Data.PublicKey).Warn("skipping deposit with invalid signature")
				continue
			}
			state.Validators = append(state.Validators, validatorFromDeposit(deposit.Data))
			state.Balances = append(state.Balances, deposit.Data.Amount)
			continue
		}
		helpers.IncreaseBalance(state, eth2types.ValidatorIndex(idx), deposit.Data.Amount)
	}
	return state, nil
}

func verifyDepositMerkleBranch(state *beacontypes.BeaconState, deposit *beacontypes.Deposit) error {
	leaf, err := hashutil.HashTreeRoot(deposit.Data)
	if err != nil {
		return errors.Wrap(err, "could not hash deposit data")
	}
	root := state.Eth1Data.DepositRoot
	if !trieutil.VerifyMerkleProof(root[:], leaf[:], int(state.Eth1DepositIndex), deposit.Proof) {
		return errors.New("merkle proof did not verify against eth1data deposit root")
	}
	return nil
}

func verifyDepositSignature(data *beacontypes.DepositData) bool {
	domain := params.DomainDeposit[:]
	root, err := hashutil.HashTreeRootWithSignature(data)
	if err != nil {
		return false
	}
	signingRoot := hashutil.Hash(append(root[:], domain...))

	pub, err := bls.PublicKeyFromBytes(data.PublicKey[:])
	if err != nil {
		return false
	}
	sig, err := bls.SignatureFromBytes(data.Signature[:])
	if err != nil {
		return false
	}
	return sig.Verify(pub, signingRoot[:])
}

func validatorFromDeposit(data *beacontypes.DepositData) *beacontypes.Validator {
	cfg := params.BeaconConfig()
	effectiveBalance := data.Amount - (data.Amount % cfg.EffectiveBalanceIncrement)
	if effectiveBalance > cfg.MaxEffectiveBalance {
		effectiveBalance = cfg.MaxEffectiveBalance
	}
	return &beacontypes.Validator{
		PublicKey:                  data.PublicKey,
		WithdrawalCredentials:      data.WithdrawalCredentials,
		EffectiveBalance:           effectiveBalance,
		Slashed:                    false,
		ActivationEligibilityEpoch: farFutureEpoch(),
		ActivationEpoch:            farFutureEpoch(),
		ExitEpoch:                  farFutureEpoch(),
		WithdrawableEpoch:          farFutureEpoch(),
	}
}

func farFutureEpoch() eth2types.Epoch {
	return eth2types.Epoch(params.BeaconConfig().FarFutureEpoch)
}

func validatorIndexForPubkey(state *beacontypes.BeaconState, pubkey [48]byte) int {
	for i, v := range state.Validators {
		if v.PublicKey == pubkey {
			return i
		}
	}
	return -1
}
