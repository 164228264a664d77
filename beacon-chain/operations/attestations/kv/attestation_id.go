package kv

import (
	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
)

// attestationIDLength is the 8-byte signing domain followed by the 32-byte
// attestation data root.
const attestationIDLength = 40

// AttestationID is the bucket key of the pool: attestations with the same
// id carry identical data signed under the same domain, so their signatures
// can be aggregated.
type AttestationID [attestationIDLength]byte

// NewAttestationID derives the bucket key of an attestation from its data
// and the fork active for its target epoch in the given beacon state.
func NewAttestationID(data *beacontypes.AttestationData, beaconState *beacontypes.BeaconState) (AttestationID, error) {
	var id AttestationID
	if data == nil {
		return id, errors.New("attestation has no data")
	}
	domain := ComputeDomainBytes(helpers.SlotToEpoch(data.Slot), beaconState)
	dataRoot, err := hashutil.HashTreeRoot(data)
	if err != nil {
		return id, errors.Wrap(err, "could not hash attestation data")
	}
	copy(id[:8], domain)
	copy(id[8:], dataRoot[:])
	return id, nil
}

// ComputeDomainBytes returns the 8-byte attestation signing domain for the
// given epoch under the state's fork schedule.
func ComputeDomainBytes(epoch eth2types.Epoch, beaconState *beacontypes.BeaconState) []byte {
	return helpers.Domain(beaconState.Fork, epoch, params.DomainAttestation)
}

// DomainBytesMatch reports whether the id was derived under the given
// signing domain.
func (id AttestationID) DomainBytesMatch(domain []byte) bool {
	if len(domain) != 8 {
		return false
	}
	for i := 0; i < 8; i++ {
		if id[i] != domain[i] {
			return false
		}
	}
	return true
}
