package helpers

import (
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/params"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// Domain returns the 8-byte signature domain (domain type concatenated with
// the 4-byte fork version active at epoch) used to mix into a signed
// message before it is hashed and signed. BLS signing itself (and the
// signing-root tree-hash that folds this domain into the message) lives in
// shared/bls and shared/hashutil respectively; this is purely the domain
// computation.
//
// Spec pseudocode definition:
//  def get_domain(state: BeaconState, domain_type: DomainType, message_epoch: Epoch=None) -> Domain:
//    epoch = get_current_epoch(state) if message_epoch is None else message_epoch
//    fork_version = state.fork.previous_version if epoch < state.fork.epoch else state.fork.current_version
//    return compute_domain(domain_type, fork_version)
func Domain(fork *beacontypes.Fork, epoch eth2types.Epoch, domainType params.Domain) []byte {
	forkVersion := fork.CurrentVersion
	if epoch < fork.Epoch {
		forkVersion = fork.PreviousVersion
	}
	return computeDomain(domainType, forkVersion)
}

func computeDomain(domainType params.Domain, forkVersion [4]byte) []byte {
	d := make([]byte, 8)
	copy(d[:4], domainType[:])
	copy(d[4:], forkVersion[:])
	return d
}
