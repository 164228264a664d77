// Package attestations defines the aggregation pool the beacon chain
// buffers incoming attestations in until they are included in a block. The
// pool keys attestations by the identity of their data and signing domain,
// keeping each bucket as a list of maximally-aggregated disjoint
// aggregates.
package attestations

import (
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/operations/attestations/kv"
)

// Pool defines the necessary methods for the attestation aggregation pool
// consumed by the beacon chain and by block production.
type Pool interface {
	InsertAttestation(att *beacontypes.Attestation, beaconState *beacontypes.BeaconState) error
	AttestationsForBlock(beaconState *beacontypes.BeaconState) ([]*beacontypes.Attestation, error)
	BestAttestation(beaconState *beacontypes.BeaconState) (*beacontypes.Attestation, error)
	NumAttestations() int
	Prune(finalizedState *beacontypes.BeaconState)
}

// NewPool returns the reader-writer-lock-guarded implementation backing the
// Pool interface.
func NewPool() Pool {
	return kv.NewAttCaches()
}
