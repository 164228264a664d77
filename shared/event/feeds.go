// Package event defines the typed notification feeds the beacon chain
// service publishes to: new canonical head, newly imported block, and
// newly imported attestation. Subscribers (the sync message processor, the
// attestation pool, RPC/API layers outside this module's scope) each get
// their own event.Feed so a slow subscriber on one feed never blocks
// delivery on another.
package event

import (
	"github.com/ethereum/go-ethereum/event"
)

// HeadChangedData is published on BeaconHeadChanged whenever fork choice
// selects a new canonical head, whether or not the slot advanced.
type HeadChangedData struct {
	Slot            uint64
	HeadBlockRoot   [32]byte
	HeadStateRoot   [32]byte
	PreviousHeadRoot [32]byte
}

// BlockImportedData is published on BeaconBlockImported after a block has
// passed the full state transition and been added to the reduced tree.
type BlockImportedData struct {
	BlockRoot [32]byte
	Slot      uint64
}

// AttestationImportedData is published on BeaconAttestationImported after
// an attestation has been verified and inserted into the aggregation pool.
type AttestationImportedData struct {
	DataRoot [32]byte
	Slot     uint64
}

// Feeds bundles the notification feeds a BeaconChain service publishes to.
// Embedding a Feeds value gives a service the feeds without repeating the
// three fields and their accessor methods everywhere they're needed.
type Feeds struct {
	headFeed        event.Feed
	blockFeed       event.Feed
	attestationFeed event.Feed
}

// HeadFeed returns the feed notified on every canonical head change.
func (f *Feeds) HeadFeed() *event.Feed {
	return &f.headFeed
}

// BlockFeed returns the feed notified whenever a block is imported.
func (f *Feeds) BlockFeed() *event.Feed {
	return &f.blockFeed
}

// AttestationFeed returns the feed notified whenever an attestation is
// imported into the pool.
func (f *Feeds) AttestationFeed() *event.Feed {
	return &f.attestationFeed
}
