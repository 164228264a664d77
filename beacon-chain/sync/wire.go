// Package sync implements the peer-facing protocol machinery: the wire
// message vocabulary, the per-connection message processor that translates
// requests and responses into chain operations, peer classification, and
// the sync manager that downloads missing chain segments.
package sync

import (
	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p-core/peer"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
)

// RequestID correlates the streamed response frames of a request with the
// request that caused them, unique per (peer, request).
type RequestID = uuid.UUID

// NewRequestID mints a fresh request id.
func NewRequestID() RequestID {
	return uuid.New()
}

// StatusMessage is the handshake both sides exchange on connect and on
// demand, carrying enough of the sender's chain view to classify it.
type StatusMessage struct {
	ForkVersion    [4]byte
	FinalizedRoot  [32]byte
	FinalizedEpoch eth2types.Epoch
	HeadRoot       [32]byte
	HeadSlot       eth2types.Slot
}

// GoodbyeReason is sent in a Goodbye message just before disconnecting.
type GoodbyeReason uint64

const (
	// GoodbyeClientShutdown signals a clean local shutdown.
	GoodbyeClientShutdown GoodbyeReason = iota + 1
	// GoodbyeIrrelevantNetwork signals the peer is on a different network
	// or an incompatible finalized chain.
	GoodbyeIrrelevantNetwork
	// GoodbyeFault signals the peer violated the protocol.
	GoodbyeFault
)

// String renders the reason for logs.
func (r GoodbyeReason) String() string {
	switch r {
	case GoodbyeClientShutdown:
		return "client shutdown"
	case GoodbyeIrrelevantNetwork:
		return "irrelevant network"
	case GoodbyeFault:
		return "fault"
	default:
		return "unknown reason"
	}
}

// BlocksByRangeRequest asks for up to Count blocks starting at StartSlot,
// taking every Step-th slot. Responses stream one block per frame in
// ascending slot order, ending with a terminator frame.
type BlocksByRangeRequest struct {
	StartSlot eth2types.Slot
	Count     uint64
	Step      uint64
}

// BlocksByRootRequest asks for the blocks with the given canonical roots.
// Unknown roots are silently skipped.
type BlocksByRootRequest struct {
	BlockRoots [][32]byte
}

// BlockResponse is one frame of a BlocksByRange or BlocksByRoot response
// stream. A nil Block is the stream terminator.
type BlockResponse struct {
	Block *beacontypes.SignedBeaconBlock
}

// NetworkSender is the narrow transport interface the sync layer drives.
// The libp2p-backed implementation lives outside this module; tests supply
// a recording fake.
type NetworkSender interface {
	SendStatusRequest(peerID peer.ID, status *StatusMessage)
	SendStatusResponse(peerID peer.ID, requestID RequestID, status *StatusMessage)
	SendBlocksByRangeRequest(peerID peer.ID, requestID RequestID, req *BlocksByRangeRequest)
	SendBlocksByRootRequest(peerID peer.ID, requestID RequestID, req *BlocksByRootRequest)
	SendBlockResponse(peerID peer.ID, requestID RequestID, resp *BlockResponse)
	Disconnect(peerID peer.ID, reason GoodbyeReason)
}
