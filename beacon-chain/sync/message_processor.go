package sync

import (
	"context"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/sirupsen/logrus"

	"github.com/shardbeacon/client/beacon-chain/blockchain"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
	"github.com/shardbeacon/client/shared/traceutil"
)

const (
	shouldForwardGossipBlock    = true
	shouldNotForwardGossipBlock = false
)

// MessageProcessor drives the per-connection protocol state machine. It
// answers requests out of the chain's store, dispatches gossip into the
// chain, and relays everything sync-relevant to the sync manager.
type MessageProcessor struct {
	ctx     context.Context
	chain   *blockchain.Service
	network NetworkSender
	manager *Manager
}

// NewMessageProcessor wires a processor to the chain, the transport, and
// the sync manager it feeds.
func NewMessageProcessor(ctx context.Context, chain *blockchain.Service, network NetworkSender, manager *Manager) *MessageProcessor {
	return &MessageProcessor{
		ctx:     ctx,
		chain:   chain,
		network: network,
		manager: manager,
	}
}

// localStatus snapshots the local chain view for a Status message.
func (p *MessageProcessor) localStatus() *StatusMessage {
	checkpoint := p.chain.FinalizedCheckpoint()
	return &StatusMessage{
		ForkVersion:    p.chain.ForkVersion(),
		FinalizedRoot:  checkpoint.Root,
		FinalizedEpoch: checkpoint.Epoch,
		HeadRoot:       p.chain.HeadRoot(),
		HeadSlot:       p.chain.HeadSlot(),
	}
}

// recover shields the dispatch path: a panic in one handler must not take
// down the whole node over one peer's message.
func (p *MessageProcessor) recover() {
	if r := recover(); r != nil {
		if err := traceutil.RecoveryHandlerFunc(p.ctx, r); err != nil {
			log.WithError(err).Error("recovered from panic in peer message handler")
		}
	}
}

// OnConnect greets a new peer with our Status.
func (p *MessageProcessor) OnConnect(peerID peer.ID) {
	defer p.recover()
	p.network.SendStatusRequest(peerID, p.localStatus())
}

// OnDisconnect removes the peer from the sync manager.
func (p *MessageProcessor) OnDisconnect(peerID peer.ID) {
	defer p.recover()
	p.sendToSyncBlocking(&DisconnectMsg{Peer: peerID})
}

// OnStatusRequest answers a Status request with our own status, then
// classifies the peer like any other status.
func (p *MessageProcessor) OnStatusRequest(peerID peer.ID, requestID RequestID, status *StatusMessage) {
	defer p.recover()
	p.network.SendStatusResponse(peerID, requestID, p.localStatus())
	p.processStatus(peerID, status)
}

// OnStatusResponse classifies a peer from its Status reply.
func (p *MessageProcessor) OnStatusResponse(peerID peer.ID, status *StatusMessage) {
	defer p.recover()
	p.processStatus(peerID, status)
}

func (p *MessageProcessor) processStatus(peerID peer.ID, status *StatusMessage) {
	remote := peerInfoFromStatus(status)
	localStatus := p.localStatus()
	local := peerInfoFromStatus(localStatus)

	relevance := classifyPeer(local, remote,
		func(slot eth2types.Slot) ([32]byte, bool) {
			root, ok, err := p.chain.RootAtSlot(p.ctx, slot)
			if err != nil {
				return [32]byte{}, false
			}
			return root, ok
		},
		func(root [32]byte) bool {
			return p.chain.HasBlock(p.ctx, root)
		},
	)

	switch relevance {
	case PeerIrrelevant:
		log.WithFields(logrus.Fields{
			"peer":   peerID.Pretty(),
			"reason": "irrelevant network",
		}).Debug("handshake failure")
		p.network.Disconnect(peerID, GoodbyeIrrelevantNetwork)
	case PeerNaive:
		log.WithFields(logrus.Fields{
			"peer":   peerID.Pretty(),
			"reason": "lower finalized epoch",
		}).Debug("naive peer")
	case PeerSynced:
		log.WithField("peer", peerID.Pretty()).Debug("peer with known chain found")
		p.sendToSyncBlocking(&AddPeerMsg{Peer: peerID, Info: remote, Synced: true})
	case PeerUseful:
		log.WithFields(logrus.Fields{
			"peer":           peerID.Pretty(),
			"localFinalized": local.FinalizedEpoch,
			"remoteFinalized": remote.FinalizedEpoch,
		}).Debug("useful peer")
		p.sendToSyncBlocking(&AddPeerMsg{Peer: peerID, Info: remote})
	}
}

// OnBlocksByRangeRequest streams the canonical blocks in
// [StartSlot, StartSlot+Count) in ascending slot order, omitting skipped
// slots, then sends the terminator frame.
func (p *MessageProcessor) OnBlocksByRangeRequest(peerID peer.ID, requestID RequestID, req *BlocksByRangeRequest) {
	defer p.recover()

	count := req.Count
	if max := params.BeaconNetworkConfig().MaxRequestBlocks; count > max {
		log.WithFields(logrus.Fields{
			"peer":      peerID.Pretty(),
			"requested": req.Count,
			"limit":     max,
		}).Debug("truncating oversized range request")
		count = max
	}

	var blocks []*beacontypes.SignedBeaconBlock
	endSlot := req.StartSlot + eth2types.Slot(count)
	step := req.Step
	if step == 0 {
		step = 1
	}

	it := p.chain.RevIterBlockRoots(p.ctx)
	for it.Next() {
		slot := it.Slot()
		if slot >= endSlot {
			continue
		}
		if slot < req.StartSlot {
			break
		}
		if uint64(slot-req.StartSlot)%step != 0 {
			continue
		}
		block, err := p.chain.Block(p.ctx, it.Root())
		if err != nil || block == nil {
			log.WithField("root", it.Root()).Warn("block in the chain is not in the store")
			continue
		}
		blocks = append(blocks, block)
	}
	if err := it.Err(); err != nil {
		log.WithError(err).Error("could not walk block roots for range request")
	}

	// The walk is head-first; the wire wants ascending slots. Duplicate
	// slots cannot occur on a single canonical walk, so reversing is all
	// the dedup needed.
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}

	log.WithFields(logrus.Fields{
		"peer":      peerID.Pretty(),
		"startSlot": req.StartSlot,
		"requested": count,
		"returned":  len(blocks),
	}).Debug("blocks by range request")

	for _, block := range blocks {
		p.network.SendBlockResponse(peerID, requestID, &BlockResponse{Block: block})
	}
	p.network.SendBlockResponse(peerID, requestID, &BlockResponse{})
}

// OnBlocksByRootRequest streams each requested block we have, silently
// skipping unknown roots, then sends the terminator frame.
func (p *MessageProcessor) OnBlocksByRootRequest(peerID peer.ID, requestID RequestID, req *BlocksByRootRequest) {
	defer p.recover()

	sent := 0
	for _, root := range req.BlockRoots {
		block, err := p.chain.Block(p.ctx, root)
		if err != nil || block == nil {
			log.WithFields(logrus.Fields{
				"peer": peerID.Pretty(),
				"root": root,
			}).Debug("peer requested unknown block")
			continue
		}
		p.network.SendBlockResponse(peerID, requestID, &BlockResponse{Block: block})
		sent++
	}
	log.WithFields(logrus.Fields{
		"peer":      peerID.Pretty(),
		"requested": len(req.BlockRoots),
		"returned":  sent,
	}).Debug("blocks by root request")

	p.network.SendBlockResponse(peerID, requestID, &BlockResponse{})
}

// OnBlocksByRangeResponse relays a response frame (terminator included) to
// the sync manager, preserving per-request ordering.
func (p *MessageProcessor) OnBlocksByRangeResponse(peerID peer.ID, requestID RequestID, resp *BlockResponse) {
	defer p.recover()
	p.sendToSyncBlocking(&BlocksByRangeResponseMsg{Peer: peerID, RequestID: requestID, Block: resp.Block})
}

// OnBlocksByRootResponse relays a response frame (terminator included) to
// the sync manager.
func (p *MessageProcessor) OnBlocksByRootResponse(peerID peer.ID, requestID RequestID, resp *BlockResponse) {
	defer p.recover()
	p.sendToSyncBlocking(&BlocksByRootResponseMsg{Peer: peerID, RequestID: requestID, Block: resp.Block})
}

// OnBlockGossip applies a gossiped block to the chain and reports whether
// it should be forwarded to our own peers. Blocks with unknown parents and
// near-future blocks still propagate; invalid blocks do not.
func (p *MessageProcessor) OnBlockGossip(peerID peer.ID, signed *beacontypes.SignedBeaconBlock) bool {
	defer p.recover()

	result, err := p.chain.ProcessBlock(p.ctx, signed)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"peer": peerID.Pretty(),
			"slot": signed.Block.Slot,
		}).Error("error processing gossip block")
		return shouldNotForwardGossipBlock
	}

	switch result.Outcome {
	case blockchain.Processed:
		return shouldForwardGossipBlock
	case blockchain.BlockIsAlreadyKnown:
		return shouldForwardGossipBlock
	case blockchain.ParentUnknown:
		// Kick off a parent lookup; gossip is drop-on-full.
		p.sendToSync(&UnknownBlockMsg{Peer: peerID, Block: signed})
		return shouldForwardGossipBlock
	case blockchain.FutureSlot:
		if uint64(result.BlockSlot) <= uint64(result.PresentSlot)+futureSlotTolerance() {
			return shouldForwardGossipBlock
		}
		return shouldNotForwardGossipBlock
	default:
		log.WithFields(logrus.Fields{
			"peer":    peerID.Pretty(),
			"slot":    signed.Block.Slot,
			"outcome": result.Outcome,
			"reason":  result.Reason,
		}).Warn("invalid gossip block")
		return shouldNotForwardGossipBlock
	}
}

// OnAttestationGossip applies a gossiped attestation to the chain and logs
// the outcome. Attestations older than the propagation slot range are
// dropped before touching the chain; they can no longer affect fork choice
// or block production.
func (p *MessageProcessor) OnAttestationGossip(peerID peer.ID, att *beacontypes.Attestation) {
	defer p.recover()

	if att.Data != nil {
		if present, err := p.chain.CurrentSlot(); err == nil {
			propagationRange := eth2types.Slot(params.BeaconNetworkConfig().AttestationPropagationSlotRange)
			if att.Data.Slot+propagationRange < present {
				log.WithFields(logrus.Fields{
					"peer": peerID.Pretty(),
					"slot": att.Data.Slot,
				}).Debug("dropping expired gossip attestation")
				return
			}
		}
	}

	result, err := p.chain.ProcessAttestation(p.ctx, att)
	if err != nil {
		log.WithError(err).WithField("peer", peerID.Pretty()).Error("error processing gossip attestation")
		return
	}
	switch result.Outcome {
	case blockchain.AttestationProcessed:
		log.WithField("peer", peerID.Pretty()).Debug("processed gossip attestation")
	case blockchain.AttestationUnknownBlock:
		log.WithField("peer", peerID.Pretty()).Debug("attestation references unknown block")
	default:
		log.WithFields(logrus.Fields{
			"peer":   peerID.Pretty(),
			"reason": result.Reason,
		}).Debug("invalid gossip attestation")
	}
}

// sendToSync enqueues a message for the sync manager, dropping it with a
// log line when the queue is full. Gossip-path messages use this.
func (p *MessageProcessor) sendToSync(msg SyncMessage) {
	if err := p.manager.TrySend(msg); err != nil {
		log.WithError(err).Warn("could not send message to the sync service")
	}
}

// sendToSyncBlocking enqueues a message for the sync manager, waiting for
// room. Protocol responses use this so frames are never silently lost.
func (p *MessageProcessor) sendToSyncBlocking(msg SyncMessage) {
	if err := p.manager.Send(p.ctx, msg); err != nil {
		log.WithError(err).Warn("could not send message to the sync service")
	}
}
