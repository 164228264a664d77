package helpers

import (
	"github.com/pkg/errors"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bytesutil"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
	eth2types "github.com/prysmaticlabs/eth2-types"
)

// RandaoMix returns the RANDAO mix at wantedEpoch, reading from the ring
// buffer indexed by epoch modulo EpochsPerHistoricalVector.
//
// Spec pseudocode definition:
//  def get_randao_mix(state: BeaconState, epoch: Epoch) -> Bytes32:
//    return state.randao_mixes[epoch % EPOCHS_PER_HISTORICAL_VECTOR]
func RandaoMix(state *beacontypes.BeaconState, wantedEpoch eth2types.Epoch) ([32]byte, error) {
	length := params.BeaconConfig().EpochsPerHistoricalVector
	if length == 0 || uint64(len(state.RandaoMixes)) != length {
		return [32]byte{}, errors.New("randao mixes not sized to EpochsPerHistoricalVector")
	}
	return state.RandaoMixes[uint64(wantedEpoch)%length], nil
}

// Seed returns the seed used to shuffle validators into committees for the
// given epoch and domain, combining the RANDAO mix MIN_SEED_LOOKAHEAD
// epochs prior with the epoch number and the domain type.
//
// Spec pseudocode definition:
//  def get_seed(state: BeaconState, epoch: Epoch, domain_type: DomainType) -> Bytes32:
//    mix = get_randao_mix(state, Epoch(epoch + EPOCHS_PER_HISTORICAL_VECTOR - MIN_SEED_LOOKAHEAD - 1))
//    return hash(domain_type + int_to_bytes(epoch, length=8) + mix)
func Seed(state *beacontypes.BeaconState, epoch eth2types.Epoch, domainType params.Domain) ([32]byte, error) {
	length := params.BeaconConfig().EpochsPerHistoricalVector
	lookback := eth2types.Epoch(length - params.BeaconConfig().MinSeedLookahead - 1)
	mix, err := RandaoMix(state, epoch+lookback)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "could not get randao mix")
	}

	input := make([]byte, 0, 4+8+32)
	input = append(input, domainType[:]...)
	input = append(input, bytesutil.Bytes8(uint64(epoch))...)
	input = append(input, mix[:]...)
	return hashutil.Hash(input), nil
}

// MixInRandao XORs the hash of a verified RANDAO reveal into the current
// epoch's randao mix slot, advancing the state's entropy.
//
// Spec pseudocode definition:
//  def process_randao(state: BeaconState, body: BeaconBlockBody) -> None:
//    epoch = get_current_epoch(state)
//    ...
//    mix = xor(get_randao_mix(state, epoch), hash(body.randao_reveal))
//    state.randao_mixes[epoch % EPOCHS_PER_HISTORICAL_VECTOR] = mix
func MixInRandao(state *beacontypes.BeaconState, epoch eth2types.Epoch, revealHash [32]byte) error {
	length := params.BeaconConfig().EpochsPerHistoricalVector
	current, err := RandaoMix(state, epoch)
	if err != nil {
		return err
	}
	var mixed [32]byte
	for i := range mixed {
		mixed[i] = current[i] ^ revealHash[i]
	}
	state.RandaoMixes[uint64(epoch)%length] = mixed
	return nil
}
