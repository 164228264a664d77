package sync

import (
	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
)

// PeerSyncInfo is the classifier's view of a peer, extracted from its
// Status message. It is never persisted.
type PeerSyncInfo struct {
	ForkVersion    [4]byte
	FinalizedRoot  [32]byte
	FinalizedEpoch eth2types.Epoch
	HeadRoot       [32]byte
	HeadSlot       eth2types.Slot
}

func peerInfoFromStatus(status *StatusMessage) *PeerSyncInfo {
	return &PeerSyncInfo{
		ForkVersion:    status.ForkVersion,
		FinalizedRoot:  status.FinalizedRoot,
		FinalizedEpoch: status.FinalizedEpoch,
		HeadRoot:       status.HeadRoot,
		HeadSlot:       status.HeadSlot,
	}
}

// PeerRelevance is the outcome of classifying a peer against the local
// chain view.
type PeerRelevance int

const (
	// PeerIrrelevant means the peer is on another network or an
	// incompatible finalized chain; disconnect it.
	PeerIrrelevant PeerRelevance = iota
	// PeerNaive means the peer's finalized epoch trails ours; keep the
	// connection but there is nothing to request.
	PeerNaive
	// PeerSynced means the peer's head is already in our store.
	PeerSynced
	// PeerUseful means the peer knows blocks we do not; request them.
	PeerUseful
)

// classifyPeer decides how to treat a peer given its status and ours.
// rootAtSlot resolves our canonical root at a slot (false on skip or
// unknown), hasBlock checks our store.
func classifyPeer(
	local, remote *PeerSyncInfo,
	rootAtSlot func(slot eth2types.Slot) ([32]byte, bool),
	hasBlock func(root [32]byte) bool,
) PeerRelevance {
	if local.ForkVersion != remote.ForkVersion {
		return PeerIrrelevant
	}

	// A remote finalized block at or below our finalized epoch must sit on
	// our canonical chain, else the peer finalized a conflicting history.
	if remote.FinalizedEpoch <= local.FinalizedEpoch &&
		remote.FinalizedRoot != ([32]byte{}) &&
		local.FinalizedRoot != ([32]byte{}) {
		localRoot, ok := rootAtSlot(helpers.StartSlot(remote.FinalizedEpoch))
		if !ok || localRoot != remote.FinalizedRoot {
			return PeerIrrelevant
		}
	}

	if remote.FinalizedEpoch < local.FinalizedEpoch {
		return PeerNaive
	}
	if hasBlock(remote.HeadRoot) {
		return PeerSynced
	}
	return PeerUseful
}
