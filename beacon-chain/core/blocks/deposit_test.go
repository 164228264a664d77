package blocks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	corestate "github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// signedDepositData builds deposit data for secretKey funded to amount,
// signed under the deposit domain.
func signedDepositData(t *testing.T, secretKey *bls.SecretKey, amount uint64) *beacontypes.DepositData {
	t.Helper()
	data := &beacontypes.DepositData{Amount: amount}
	copy(data.PublicKey[:], secretKey.PublicKey().Marshal())
	creds := hashutil.Hash(data.PublicKey[:])
	creds[0] = 0
	data.WithdrawalCredentials = creds

	root, err := hashutil.HashTreeRootWithSignature(data)
	require.NoError(t, err)
	signingRoot := hashutil.Hash(append(root[:], params.DomainDeposit[:]...))
	copy(data.Signature[:], secretKey.Sign(signingRoot[:]).Marshal())
	return data
}

// depositTestState wraps depositData into proof-carrying deposits and an
// empty state ready to verify them.
func depositTestState(t *testing.T, depositData []*beacontypes.DepositData) (*beacontypes.BeaconState, []*beacontypes.Deposit) {
	t.Helper()
	deposits, eth1Data, err := corestate.GenesisDeposits(depositData)
	require.NoError(t, err)
	st := corestate.EmptyGenesisState(0)
	st.Eth1Data = eth1Data
	return st, deposits
}

func TestProcessDeposits_CreatesValidator(t *testing.T) {
	keys, err := corestate.InteropSecretKeys(1)
	require.NoError(t, err)
	amount := params.BeaconConfig().MaxEffectiveBalance
	st, deposits := depositTestState(t, []*beacontypes.DepositData{
		signedDepositData(t, keys[0], amount),
	})

	st, err = blocks.ProcessDeposits(context.Background(), st, &beacontypes.BeaconBlockBody{Deposits: deposits})
	require.NoError(t, err)

	require.Len(t, st.Validators, 1)
	require.Equal(t, deposits[0].Data.PublicKey, st.Validators[0].PublicKey)
	require.Equal(t, []uint64{amount}, st.Balances)
	require.Equal(t, uint64(1), st.Eth1DepositIndex)
}

func TestProcessDeposits_InvalidSignatureStillConsumesIndex(t *testing.T) {
	keys, err := corestate.InteropSecretKeys(1)
	require.NoError(t, err)
	data := signedDepositData(t, keys[0], params.BeaconConfig().MaxEffectiveBalance)
	// Corrupt the signature before building the tree: the Merkle proof
	// commits to the corrupted leaf and still verifies.
	data.Signature = [96]byte{0xde, 0xad}
	st, deposits := depositTestState(t, []*beacontypes.DepositData{data})

	st, err = blocks.ProcessDeposits(context.Background(), st, &beacontypes.BeaconBlockBody{Deposits: deposits})
	require.NoError(t, err)

	// No validator is created, but the deposit slot is consumed anyway.
	require.Empty(t, st.Validators)
	require.Equal(t, uint64(1), st.Eth1DepositIndex)
}

func TestProcessDeposits_TopUpAddsBalanceOnly(t *testing.T) {
	keys, err := corestate.InteropSecretKeys(1)
	require.NoError(t, err)
	amount := params.BeaconConfig().MaxEffectiveBalance
	topUp := uint64(5 * 1e9)
	st, deposits := depositTestState(t, []*beacontypes.DepositData{
		signedDepositData(t, keys[0], amount),
		signedDepositData(t, keys[0], topUp),
	})

	st, err = blocks.ProcessDeposits(context.Background(), st, &beacontypes.BeaconBlockBody{Deposits: deposits})
	require.NoError(t, err)

	require.Len(t, st.Validators, 1)
	require.Equal(t, []uint64{amount + topUp}, st.Balances)
	require.Equal(t, uint64(2), st.Eth1DepositIndex)
}

func TestProcessDeposits_RejectsWrongDepositCount(t *testing.T) {
	keys, err := corestate.InteropSecretKeys(1)
	require.NoError(t, err)
	st, _ := depositTestState(t, []*beacontypes.DepositData{
		signedDepositData(t, keys[0], params.BeaconConfig().MaxEffectiveBalance),
	})

	// The tree says one deposit is pending; a block carrying none must be
	// rejected.
	_, err = blocks.ProcessDeposits(context.Background(), st, &beacontypes.BeaconBlockBody{})
	require.Error(t, err)
}

func TestProcessDeposits_RejectsBadProof(t *testing.T) {
	keys, err := corestate.InteropSecretKeys(1)
	require.NoError(t, err)
	st, deposits := depositTestState(t, []*beacontypes.DepositData{
		signedDepositData(t, keys[0], params.BeaconConfig().MaxEffectiveBalance),
	})
	deposits[0].Proof[0] = []byte{0xff}

	_, err = blocks.ProcessDeposits(context.Background(), st, &beacontypes.BeaconBlockBody{Deposits: deposits})
	require.Error(t, err)
}
