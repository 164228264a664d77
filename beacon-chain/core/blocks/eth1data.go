package blocks

import (
	"context"

	"go.opencensus.io/trace"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
)

// ProcessEth1DataInBlock appends block.Body.Eth1Data to the state's vote
// tally and, once more than half the voting-period slots have voted for
// this exact value, adopts it as state.Eth1Data.
//
// Spec pseudocode definition:
//  def process_eth1_data(state: BeaconState, body: BeaconBlockBody) -> None:
//    state.eth1_data_votes.append(body.eth1_data)
//    if state.eth1_data_votes.count(body.eth1_data) * 2 > EPOCHS_PER_ETH1_VOTING_PERIOD * SLOTS_PER_EPOCH:
//        state.eth1_data = body.eth1_data
func ProcessEth1DataInBlock(ctx context.Context, state *beacontypes.BeaconState, body *beacontypes.BeaconBlockBody) (*beacontypes.BeaconState, error) {
	_, span := trace.StartSpan(ctx, "core.blocks.ProcessEth1DataInBlock")
	defer span.End()

	state.Eth1DataVotes = append(state.Eth1DataVotes, body.Eth1Data)

	votingPeriodSlots := params.BeaconConfig().EpochsPerEth1VotingPeriod * params.BeaconConfig().SlotsPerEpoch
	count := uint64(0)
	for _, vote := range state.Eth1DataVotes {
		if eth1DataEqual(vote, body.Eth1Data) {
			count++
		}
	}
	if count*2 > votingPeriodSlots {
		state.Eth1Data = body.Eth1Data
	}
	return state, nil
}

func eth1DataEqual(a, b *beacontypes.Eth1Data) bool {
	return a.DepositRoot == b.DepositRoot &&
		a.DepositCount == b.DepositCount &&
		a.BlockHash == b.BlockHash
}
