package blocks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
)

// allowTransfers lifts the mainnet MaxTransfers=0 bound for the duration
// of a test.
func allowTransfers(t *testing.T) {
	t.Helper()
	oldConfig := params.BeaconConfig()
	cfg := oldConfig.Copy()
	cfg.MaxTransfers = 4
	params.OverrideBeaconConfig(cfg)
	t.Cleanup(func() { params.OverrideBeaconConfig(oldConfig) })
}

func TestProcessTransfers_MovesBalances(t *testing.T) {
	allowTransfers(t)
	st, _ := genesisTestState(t)
	ctx := context.Background()

	// The sender's withdrawal credentials are the hash of its own interop
	// pubkey, so presenting that pubkey satisfies the eligibility check.
	transfer := &beacontypes.Transfer{
		Sender:    0,
		Recipient: 1,
		Amount:    2 * 1e9,
		Fee:       1e9,
		Slot:      st.Slot,
		Pubkey:    st.Validators[0].PublicKey,
	}
	body := &beacontypes.BeaconBlockBody{Transfers: []*beacontypes.Transfer{transfer}}

	proposerIndex, err := helpers.BeaconProposerIndex(st)
	require.NoError(t, err)
	expected := append([]uint64(nil), st.Balances...)
	expected[transfer.Sender] -= transfer.Amount + transfer.Fee
	expected[transfer.Recipient] += transfer.Amount
	expected[proposerIndex] += transfer.Fee

	st, err = blocks.ProcessTransfers(ctx, st, body, false)
	require.NoError(t, err)
	require.Equal(t, expected, st.Balances)
}

func TestProcessTransfers_RejectsWrongPubkey(t *testing.T) {
	allowTransfers(t)
	st, _ := genesisTestState(t)
	ctx := context.Background()

	transfer := &beacontypes.Transfer{
		Sender:    0,
		Recipient: 1,
		Amount:    1e9,
		Fee:       0,
		Slot:      st.Slot,
		Pubkey:    [48]byte{0xff}, // does not hash to the withdrawal credentials
	}
	body := &beacontypes.BeaconBlockBody{Transfers: []*beacontypes.Transfer{transfer}}

	_, err := blocks.ProcessTransfers(ctx, st, body, false)
	require.Error(t, err)
}

func TestProcessTransfers_RejectsWrongSlot(t *testing.T) {
	allowTransfers(t)
	st, _ := genesisTestState(t)
	ctx := context.Background()

	transfer := &beacontypes.Transfer{
		Sender:    0,
		Recipient: 1,
		Amount:    1e9,
		Slot:      st.Slot + 1,
		Pubkey:    st.Validators[0].PublicKey,
	}
	body := &beacontypes.BeaconBlockBody{Transfers: []*beacontypes.Transfer{transfer}}

	_, err := blocks.ProcessTransfers(ctx, st, body, false)
	require.Error(t, err)
}

func TestProcessTransfers_RejectsDuplicates(t *testing.T) {
	allowTransfers(t)
	st, _ := genesisTestState(t)
	ctx := context.Background()

	transfer := &beacontypes.Transfer{
		Sender:    0,
		Recipient: 1,
		Amount:    1e9,
		Slot:      st.Slot,
		Pubkey:    st.Validators[0].PublicKey,
	}
	body := &beacontypes.BeaconBlockBody{Transfers: []*beacontypes.Transfer{transfer, transfer}}

	_, err := blocks.ProcessTransfers(ctx, st, body, false)
	require.Error(t, err)
}

func TestProcessTransfers_RejectsOverdraw(t *testing.T) {
	allowTransfers(t)
	st, _ := genesisTestState(t)
	ctx := context.Background()

	transfer := &beacontypes.Transfer{
		Sender:    0,
		Recipient: 1,
		Amount:    st.Balances[0] + 1,
		Slot:      st.Slot,
		Pubkey:    st.Validators[0].PublicKey,
	}
	body := &beacontypes.BeaconBlockBody{Transfers: []*beacontypes.Transfer{transfer}}

	_, err := blocks.ProcessTransfers(ctx, st, body, false)
	require.Error(t, err)
}
