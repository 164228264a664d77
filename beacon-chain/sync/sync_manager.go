package sync

import (
	"context"
	"sync/atomic"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/sirupsen/logrus"

	"github.com/shardbeacon/client/beacon-chain/blockchain"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

const (
	// blocksPerRequest chunks range downloads.
	blocksPerRequest = 64
	// parentLookupDepthLimit bounds how far a chain of unknown parents is
	// chased before the orphaned blocks are dropped.
	parentLookupDepthLimit = 16
	// syncQueueSize bounds the manager's inbox; senders on the gossip path
	// drop on overflow.
	syncQueueSize = 256
)

// SyncMessage is the manager's inbox vocabulary.
type SyncMessage interface {
	isSyncMessage()
}

// AddPeerMsg introduces a classified peer to the manager.
type AddPeerMsg struct {
	Peer   peer.ID
	Info   *PeerSyncInfo
	Synced bool
}

// DisconnectMsg removes a peer and its in-flight requests.
type DisconnectMsg struct {
	Peer peer.ID
}

// UnknownBlockMsg hands the manager a gossip block whose parent is not in
// the store.
type UnknownBlockMsg struct {
	Peer  peer.ID
	Block *beacontypes.SignedBeaconBlock
}

// BlocksByRangeResponseMsg is one frame of a range response; a nil Block
// terminates the stream.
type BlocksByRangeResponseMsg struct {
	Peer      peer.ID
	RequestID RequestID
	Block     *beacontypes.SignedBeaconBlock
}

// BlocksByRootResponseMsg is one frame of a root response; a nil Block
// terminates the stream.
type BlocksByRootResponseMsg struct {
	Peer      peer.ID
	RequestID RequestID
	Block     *beacontypes.SignedBeaconBlock
}

func (*AddPeerMsg) isSyncMessage()               {}
func (*DisconnectMsg) isSyncMessage()            {}
func (*UnknownBlockMsg) isSyncMessage()          {}
func (*BlocksByRangeResponseMsg) isSyncMessage() {}
func (*BlocksByRootResponseMsg) isSyncMessage()  {}

// peerState tracks one peer's download progress.
type peerState struct {
	info     *PeerSyncInfo
	synced   bool
	nextSlot eth2types.Slot
}

// rangeRequest buffers the frames of one in-flight BlocksByRange request.
type rangeRequest struct {
	peer      peer.ID
	startSlot eth2types.Slot
	count     uint64
	blocks    []*beacontypes.SignedBeaconBlock
}

// parentLookup chases the ancestry of an orphaned gossip block. Downloaded
// ancestors stack up newest-first until one connects to the chain, then
// the whole chain applies oldest-first.
type parentLookup struct {
	peer   peer.ID
	blocks []*beacontypes.SignedBeaconBlock
	depth  int
}

// Manager reconstructs the canonical chain from a lagging local head. It
// runs single-threaded, consuming a bounded channel of sync messages, so
// per-peer download state needs no locking.
type Manager struct {
	ctx      context.Context
	chain    *blockchain.Service
	network  NetworkSender
	messages chan SyncMessage

	peers         map[peer.ID]*peerState
	rangeRequests map[RequestID]*rangeRequest
	parentLookups map[RequestID]*parentLookup

	// peerCount mirrors len(peers) for cross-goroutine readers (the
	// peer-count notifier); the map itself is loop-private.
	peerCount int64
}

// NewManager returns a manager ready to Run.
func NewManager(ctx context.Context, chain *blockchain.Service, network NetworkSender) *Manager {
	return &Manager{
		ctx:           ctx,
		chain:         chain,
		network:       network,
		messages:      make(chan SyncMessage, syncQueueSize),
		peers:         make(map[peer.ID]*peerState),
		rangeRequests: make(map[RequestID]*rangeRequest),
		parentLookups: make(map[RequestID]*parentLookup),
	}
}

// Send enqueues a message, blocking until there is room or ctx ends.
func (m *Manager) Send(ctx context.Context, msg SyncMessage) error {
	select {
	case m.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// TrySend enqueues a message without blocking, failing when the queue is
// full.
func (m *Manager) TrySend(msg SyncMessage) error {
	select {
	case m.messages <- msg:
		return nil
	default:
		return errSyncQueueFull
	}
}

// PeerCount returns how many peers the manager currently tracks. Safe for
// concurrent use.
func (m *Manager) PeerCount() int {
	return int(atomic.LoadInt64(&m.peerCount))
}

// Run consumes the message queue until ctx ends.
func (m *Manager) Run() {
	for {
		select {
		case <-m.ctx.Done():
			log.Debug("sync manager shutting down")
			return
		case msg := <-m.messages:
			m.handle(msg)
		}
	}
}

func (m *Manager) handle(msg SyncMessage) {
	switch msg := msg.(type) {
	case *AddPeerMsg:
		m.onAddPeer(msg)
	case *DisconnectMsg:
		m.onDisconnect(msg)
	case *UnknownBlockMsg:
		m.onUnknownBlock(msg)
	case *BlocksByRangeResponseMsg:
		m.onRangeResponse(msg)
	case *BlocksByRootResponseMsg:
		m.onRootResponse(msg)
	}
}

func (m *Manager) onAddPeer(msg *AddPeerMsg) {
	if _, known := m.peers[msg.Peer]; !known {
		atomic.AddInt64(&m.peerCount, 1)
	}
	state := &peerState{info: msg.Info, synced: msg.Synced}
	m.peers[msg.Peer] = state
	if msg.Synced {
		log.WithField("peer", msg.Peer.Pretty()).Debug("added synced peer")
		return
	}

	// Download from the highest slot both sides are known to share: our
	// head is the best guess, everything above it up to the peer's head is
	// worth requesting.
	state.nextSlot = m.chain.HeadSlot() + 1
	m.requestNextRange(msg.Peer, state)
}

func (m *Manager) onDisconnect(msg *DisconnectMsg) {
	m.removePeer(msg.Peer)
	for id, req := range m.rangeRequests {
		if req.peer == msg.Peer {
			delete(m.rangeRequests, id)
		}
	}
	for id, lookup := range m.parentLookups {
		if lookup.peer == msg.Peer {
			delete(m.parentLookups, id)
		}
	}
}

func (m *Manager) removePeer(peerID peer.ID) {
	if _, known := m.peers[peerID]; known {
		atomic.AddInt64(&m.peerCount, -1)
	}
	delete(m.peers, peerID)
}

// requestNextRange issues the next chunk of a peer's download, or marks
// the peer synced when its head slot has been reached.
func (m *Manager) requestNextRange(peerID peer.ID, state *peerState) {
	if state.nextSlot > state.info.HeadSlot {
		state.synced = true
		log.WithField("peer", peerID.Pretty()).Debug("peer download complete")
		return
	}
	count := uint64(state.info.HeadSlot-state.nextSlot) + 1
	if count > blocksPerRequest {
		count = blocksPerRequest
	}

	requestID := NewRequestID()
	m.rangeRequests[requestID] = &rangeRequest{
		peer:      peerID,
		startSlot: state.nextSlot,
		count:     count,
	}
	m.network.SendBlocksByRangeRequest(peerID, requestID, &BlocksByRangeRequest{
		StartSlot: state.nextSlot,
		Count:     count,
		Step:      1,
	})
	log.WithFields(logrus.Fields{
		"peer":      peerID.Pretty(),
		"startSlot": state.nextSlot,
		"count":     count,
	}).Debug("requesting block range")
}

func (m *Manager) onRangeResponse(msg *BlocksByRangeResponseMsg) {
	req, ok := m.rangeRequests[msg.RequestID]
	if !ok || req.peer != msg.Peer {
		log.WithField("peer", msg.Peer.Pretty()).WithError(errUnknownRequest).Debug("dropping range response")
		return
	}
	if msg.Block != nil {
		req.blocks = append(req.blocks, msg.Block)
		return
	}

	// Terminator: apply the batch in the order received.
	delete(m.rangeRequests, msg.RequestID)
	for _, block := range req.blocks {
		result, err := m.chain.ProcessBlock(m.ctx, block)
		if err != nil {
			log.WithError(err).Error("could not process synced block")
			return
		}
		if result.Outcome == blockchain.InvalidBlock {
			log.WithFields(logrus.Fields{
				"peer":   msg.Peer.Pretty(),
				"slot":   block.Block.Slot,
				"reason": result.Reason,
			}).Warn("peer sent invalid block; dropping peer")
			m.network.Disconnect(msg.Peer, GoodbyeFault)
			m.removePeer(msg.Peer)
			return
		}
	}

	state, ok := m.peers[msg.Peer]
	if !ok {
		return
	}
	state.nextSlot = req.startSlot + eth2types.Slot(req.count)
	m.requestNextRange(msg.Peer, state)
}

func (m *Manager) onUnknownBlock(msg *UnknownBlockMsg) {
	lookup := &parentLookup{
		peer:   msg.Peer,
		blocks: []*beacontypes.SignedBeaconBlock{msg.Block},
		depth:  1,
	}
	m.requestParent(lookup)
}

// requestParent asks the originating peer for the parent of the newest
// orphan in the lookup.
func (m *Manager) requestParent(lookup *parentLookup) {
	if lookup.depth > parentLookupDepthLimit {
		log.WithError(errParentLookupTooDeep).WithField("peer", lookup.peer.Pretty()).Warn("abandoning orphaned block chain")
		return
	}
	parentRoot := lookup.blocks[len(lookup.blocks)-1].Block.ParentRoot
	requestID := NewRequestID()
	m.parentLookups[requestID] = lookup
	m.network.SendBlocksByRootRequest(lookup.peer, requestID, &BlocksByRootRequest{
		BlockRoots: [][32]byte{parentRoot},
	})
}

func (m *Manager) onRootResponse(msg *BlocksByRootResponseMsg) {
	lookup, ok := m.parentLookups[msg.RequestID]
	if !ok || lookup.peer != msg.Peer {
		log.WithField("peer", msg.Peer.Pretty()).WithError(errUnknownRequest).Debug("dropping root response")
		return
	}
	if msg.Block != nil {
		lookup.blocks = append(lookup.blocks, msg.Block)
		return
	}

	// Terminator: either the ancestry connects now, or we chase one more
	// parent.
	delete(m.parentLookups, msg.RequestID)
	oldest := lookup.blocks[len(lookup.blocks)-1]
	if !m.chain.HasBlock(m.ctx, oldest.Block.ParentRoot) {
		lookup.depth++
		m.requestParent(lookup)
		return
	}

	// Apply oldest-first so every block finds its parent in the store.
	for i := len(lookup.blocks) - 1; i >= 0; i-- {
		block := lookup.blocks[i]
		result, err := m.chain.ProcessBlock(m.ctx, block)
		if err != nil {
			log.WithError(err).Error("could not process recovered orphan block")
			return
		}
		if result.Outcome == blockchain.InvalidBlock {
			log.WithFields(logrus.Fields{
				"peer":   msg.Peer.Pretty(),
				"slot":   block.Block.Slot,
				"reason": result.Reason,
			}).Warn("recovered orphan chain contains invalid block")
			m.network.Disconnect(msg.Peer, GoodbyeFault)
			m.removePeer(msg.Peer)
			return
		}
	}
}
