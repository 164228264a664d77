package sync

import (
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/stretchr/testify/require"

	"github.com/shardbeacon/client/beacon-chain/blockchain"
	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	corestate "github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/memorydb"
	"github.com/shardbeacon/client/beacon-chain/operations/attestations"
	"github.com/shardbeacon/client/shared/hashutil"
)

// fakeNetwork records every outbound call the sync layer makes.
type fakeNetwork struct {
	statusRequests  []peer.ID
	statusResponses []*StatusMessage
	rangeRequests   []*BlocksByRangeRequest
	rootRequests    []*BlocksByRootRequest
	blockResponses  []*BlockResponse
	disconnects     map[peer.ID]GoodbyeReason
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{disconnects: make(map[peer.ID]GoodbyeReason)}
}

func (f *fakeNetwork) SendStatusRequest(peerID peer.ID, status *StatusMessage) {
	f.statusRequests = append(f.statusRequests, peerID)
}

func (f *fakeNetwork) SendStatusResponse(peerID peer.ID, requestID RequestID, status *StatusMessage) {
	f.statusResponses = append(f.statusResponses, status)
}

func (f *fakeNetwork) SendBlocksByRangeRequest(peerID peer.ID, requestID RequestID, req *BlocksByRangeRequest) {
	f.rangeRequests = append(f.rangeRequests, req)
}

func (f *fakeNetwork) SendBlocksByRootRequest(peerID peer.ID, requestID RequestID, req *BlocksByRootRequest) {
	f.rootRequests = append(f.rootRequests, req)
}

func (f *fakeNetwork) SendBlockResponse(peerID peer.ID, requestID RequestID, resp *BlockResponse) {
	f.blockResponses = append(f.blockResponses, resp)
}

func (f *fakeNetwork) Disconnect(peerID peer.ID, reason GoodbyeReason) {
	f.disconnects[peerID] = reason
}

// newTestSync builds a chain over an 8-validator interop genesis plus the
// sync service wired to a fake network.
func newTestSync(t *testing.T) (*Service, *blockchain.Service, *fakeNetwork) {
	t.Helper()
	ctx := context.Background()

	genesisState, err := corestate.InteropGenesisState(ctx, 8, 13371377)
	require.NoError(t, err)
	chain, err := blockchain.NewService(ctx, &blockchain.Config{
		BeaconDB:     memorydb.NewStore(),
		OpsPool:      attestations.NewPool(),
		GenesisState: genesisState,
	})
	require.NoError(t, err)

	network := newFakeNetwork()
	svc, err := NewService(ctx, &Config{Chain: chain, Network: network})
	require.NoError(t, err)
	return svc, chain, network
}

// extendChain processes a valid empty block on the current head at slot.
func extendChain(t *testing.T, chain *blockchain.Service, slot eth2types.Slot) *beacontypes.SignedBeaconBlock {
	t.Helper()
	ctx := context.Background()

	preState := chain.HeadState().Clone()
	preState, err := corestate.ProcessSlots(ctx, preState, slot)
	require.NoError(t, err)
	proposerIndex, err := helpers.BeaconProposerIndex(preState)
	require.NoError(t, err)

	signed := &beacontypes.SignedBeaconBlock{
		Block: &beacontypes.BeaconBlock{
			Slot:          slot,
			ProposerIndex: proposerIndex,
			ParentRoot:    chain.HeadRoot(),
			Body: &beacontypes.BeaconBlockBody{
				Eth1Data: &beacontypes.Eth1Data{
					DepositRoot:  preState.Eth1Data.DepositRoot,
					DepositCount: preState.Eth1Data.DepositCount,
				},
			},
		},
	}
	// Declare the post-state root so the next block's parent root matches the
	// header root the transition computes.
	postState, err := corestate.ExecuteStateTransition(ctx, chain.HeadState().Clone(), signed, nil)
	require.NoError(t, err)
	stateRoot, err := hashutil.HashTreeRoot(postState)
	require.NoError(t, err)
	signed.Block.StateRoot = stateRoot
	result, err := chain.ProcessBlock(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, blockchain.Processed, result.Outcome)
	return signed
}

func TestOnStatusRequest_DifferentForkDisconnects(t *testing.T) {
	svc, _, network := newTestSync(t)
	peerID := peer.ID("remote-peer")

	remote := &StatusMessage{
		ForkVersion: [4]byte{0, 0, 0, 2},
		HeadSlot:    10,
	}
	svc.Processor.OnStatusRequest(peerID, NewRequestID(), remote)

	// We still answer the request with our status before cutting the peer
	// loose.
	require.Len(t, network.statusResponses, 1)
	reason, ok := network.disconnects[peerID]
	require.True(t, ok)
	require.Equal(t, GoodbyeIrrelevantNetwork, reason)
}

func TestOnStatusResponse_UsefulPeerHandedToSync(t *testing.T) {
	svc, chain, _ := newTestSync(t)
	peerID := peer.ID("remote-peer")

	remote := &StatusMessage{
		ForkVersion: chain.ForkVersion(),
		HeadRoot:    [32]byte{0xab}, // not in our store
		HeadSlot:    20,
	}
	svc.Processor.OnStatusResponse(peerID, remote)

	// The AddPeer message is queued for the manager.
	select {
	case msg := <-svc.Manager.messages:
		addPeer, ok := msg.(*AddPeerMsg)
		require.True(t, ok)
		require.Equal(t, peerID, addPeer.Peer)
		require.False(t, addPeer.Synced)
	default:
		t.Fatal("expected an AddPeer message for the sync manager")
	}
}

func TestOnStatusResponse_KnownHeadMeansSynced(t *testing.T) {
	svc, chain, _ := newTestSync(t)
	peerID := peer.ID("remote-peer")

	remote := &StatusMessage{
		ForkVersion: chain.ForkVersion(),
		HeadRoot:    chain.HeadRoot(),
		HeadSlot:    chain.HeadSlot(),
	}
	svc.Processor.OnStatusResponse(peerID, remote)

	select {
	case msg := <-svc.Manager.messages:
		addPeer, ok := msg.(*AddPeerMsg)
		require.True(t, ok)
		require.True(t, addPeer.Synced)
	default:
		t.Fatal("expected an AddPeer message for the sync manager")
	}
}

func TestOnBlocksByRangeRequest_SkippedSlots(t *testing.T) {
	svc, chain, network := newTestSync(t)
	peerID := peer.ID("remote-peer")

	// Chain with blocks at slots 4, 6, 9 only.
	for _, slot := range []eth2types.Slot{4, 6, 9} {
		extendChain(t, chain, slot)
	}

	svc.Processor.OnBlocksByRangeRequest(peerID, NewRequestID(), &BlocksByRangeRequest{
		StartSlot: 4,
		Count:     6,
		Step:      1,
	})

	// Three blocks in ascending slot order, then the terminator.
	require.Len(t, network.blockResponses, 4)
	require.Equal(t, eth2types.Slot(4), network.blockResponses[0].Block.Block.Slot)
	require.Equal(t, eth2types.Slot(6), network.blockResponses[1].Block.Block.Slot)
	require.Equal(t, eth2types.Slot(9), network.blockResponses[2].Block.Block.Slot)
	require.Nil(t, network.blockResponses[3].Block)
}

func TestOnBlocksByRootRequest_UnknownRootsSkipped(t *testing.T) {
	svc, chain, network := newTestSync(t)
	peerID := peer.ID("remote-peer")

	block := extendChain(t, chain, 1)
	knownRoot := chain.HeadRoot()

	svc.Processor.OnBlocksByRootRequest(peerID, NewRequestID(), &BlocksByRootRequest{
		BlockRoots: [][32]byte{knownRoot, {0xff, 0xee}},
	})

	require.Len(t, network.blockResponses, 2)
	require.Equal(t, block.Block.Slot, network.blockResponses[0].Block.Block.Slot)
	require.Nil(t, network.blockResponses[1].Block)
}

func TestOnBlockGossip_ForwardDecisions(t *testing.T) {
	svc, chain, _ := newTestSync(t)
	peerID := peer.ID("remote-peer")

	preState := chain.HeadState().Clone()
	ctx := context.Background()
	preState, err := corestate.ProcessSlots(ctx, preState, 1)
	require.NoError(t, err)
	proposerIndex, err := helpers.BeaconProposerIndex(preState)
	require.NoError(t, err)

	valid := &beacontypes.SignedBeaconBlock{
		Block: &beacontypes.BeaconBlock{
			Slot:          1,
			ProposerIndex: proposerIndex,
			ParentRoot:    chain.HeadRoot(),
			Body: &beacontypes.BeaconBlockBody{
				Eth1Data: &beacontypes.Eth1Data{
					DepositRoot:  preState.Eth1Data.DepositRoot,
					DepositCount: preState.Eth1Data.DepositCount,
				},
			},
		},
	}
	require.True(t, svc.Processor.OnBlockGossip(peerID, valid))

	// Same block again: already known, still forwarded.
	require.True(t, svc.Processor.OnBlockGossip(peerID, valid))

	// Unknown parent: forwarded, and an UnknownBlock message is queued.
	orphan := &beacontypes.SignedBeaconBlock{
		Block: &beacontypes.BeaconBlock{
			Slot:       2,
			ParentRoot: [32]byte{0x77},
			Body:       &beacontypes.BeaconBlockBody{Eth1Data: &beacontypes.Eth1Data{}},
		},
	}
	require.True(t, svc.Processor.OnBlockGossip(peerID, orphan))
	select {
	case msg := <-svc.Manager.messages:
		_, ok := msg.(*UnknownBlockMsg)
		require.True(t, ok)
	default:
		t.Fatal("expected an UnknownBlock message for the sync manager")
	}
}

func TestManager_RangeDownloadAppliesBlocks(t *testing.T) {
	// A "remote" chain several slots ahead supplies the blocks the local
	// chain is missing.
	remoteSvc, remoteChain, _ := newTestSync(t)
	_ = remoteSvc
	var blocks []*beacontypes.SignedBeaconBlock
	for _, slot := range []eth2types.Slot{1, 2, 3} {
		blocks = append(blocks, extendChain(t, remoteChain, slot))
	}

	localSvc, localChain, localNet := newTestSync(t)
	manager := localSvc.Manager

	peerID := peer.ID("remote-peer")
	manager.handle(&AddPeerMsg{
		Peer: peerID,
		Info: &PeerSyncInfo{
			ForkVersion: localChain.ForkVersion(),
			HeadRoot:    remoteChain.HeadRoot(),
			HeadSlot:    remoteChain.HeadSlot(),
		},
	})
	require.Len(t, localNet.rangeRequests, 1)
	require.Equal(t, eth2types.Slot(1), localNet.rangeRequests[0].StartSlot)
	require.Equal(t, uint64(3), localNet.rangeRequests[0].Count)

	var requestID RequestID
	for id := range manager.rangeRequests {
		requestID = id
	}
	for _, block := range blocks {
		manager.handle(&BlocksByRangeResponseMsg{Peer: peerID, RequestID: requestID, Block: block})
	}
	manager.handle(&BlocksByRangeResponseMsg{Peer: peerID, RequestID: requestID})

	require.Equal(t, eth2types.Slot(3), localChain.HeadSlot())
	require.Equal(t, remoteChain.HeadRoot(), localChain.HeadRoot())
	require.Equal(t, 1, manager.PeerCount())
}
