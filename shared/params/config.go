// Package params defines the immutable protocol constants shared by every
// component of the node: slot/epoch timing, committee sizing, per-block
// object bounds, and the 4-byte signing domains mixed into BLS messages.
//
// A single *BeaconChainConfig / *ShardChainConfig value is authoritative at
// any given time. Callers never mutate the value returned by BeaconConfig();
// to change a parameter (tests, alternate networks) copy it, mutate the
// copy, and install it with OverrideBeaconConfig.
package params

import "github.com/mohae/deepcopy"

// Domain is a 4-byte tag mixed into a signed message so a signature of one
// kind cannot be replayed as another.
type Domain [4]byte

var (
	// DomainBeaconProposer signs a block by its proposer.
	DomainBeaconProposer = Domain{0, 0, 0, 0}
	// DomainRandao signs the per-epoch RANDAO reveal.
	DomainRandao = Domain{1, 0, 0, 0}
	// DomainAttestation signs attestation data.
	DomainAttestation = Domain{2, 0, 0, 0}
	// DomainDeposit signs a validator's deposit message.
	DomainDeposit = Domain{3, 0, 0, 0}
	// DomainVoluntaryExit signs a voluntary exit message.
	DomainVoluntaryExit = Domain{4, 0, 0, 0}
	// DomainTransfer signs a balance transfer.
	DomainTransfer = Domain{5, 0, 0, 0}
	// DomainShardProposer signs a shard block by its proposer.
	DomainShardProposer = Domain{6, 0, 0, 0}
	// DomainShardAttestation signs a shard attestation.
	DomainShardAttestation = Domain{7, 0, 0, 0}
)

// BeaconChainConfig captures every constant the beacon-chain state
// transition, fork choice, and sync protocol depend on.
type BeaconChainConfig struct {
	// Time parameters.
	SecondsPerSlot uint64 // SecondsPerSlot is the wall-clock duration of one slot.
	SlotsPerEpoch  uint64 // SlotsPerEpoch is the number of slots in one epoch.
	MinAttestationInclusionDelay uint64
	SlotsPerHistoricalRoot        uint64
	MinValidatorWithdrawabilityDelay uint64
	PersistentCommitteePeriod        uint64
	MinSeedLookahead                 uint64
	MaxSeedLookahead                 uint64
	EpochsPerEth1VotingPeriod        uint64
	EpochsPerHistoricalVector         uint64 // EpochsPerHistoricalVector sizes the RandaoMixes ring buffer.
	FutureSlotTolerance              uint64 // FutureSlotTolerance bounds how far into the future a block may be queued rather than discarded.

	// Validator churn.
	ChurnLimitQuotient    uint64
	MinPerEpochChurnLimit uint64
	FarFutureEpoch        uint64 // FarFutureEpoch marks a validator field as "not yet set" (max uint64 epoch value).

	// Gwei values.
	MaxEffectiveBalance     uint64
	EjectionBalance         uint64
	EffectiveBalanceIncrement uint64
	MinDepositAmount        uint64

	// Committees.
	TargetCommitteeSize      uint64
	MaxCommitteesPerSlot     uint64
	MaxValidatorsPerCommittee uint64
	ShuffleRoundCount         uint64

	// Per-block object bounds.
	MaxProposerSlashings uint64
	MaxAttesterSlashings uint64
	MaxAttestations      uint64
	MaxDeposits          uint64
	MaxVoluntaryExits    uint64
	MaxTransfers         uint64

	// Slashing.
	WhistleblowerRewardQuotient uint64
	ProposerRewardQuotient      uint64
	MinSlashingPenaltyQuotient  uint64
	EpochsPerSlashingsVector    uint64 // EpochsPerSlashingsVector sizes the Slashings accumulator ring buffer.

	// Rewards and penalties.
	BaseRewardFactor     uint64
	BaseRewardsPerEpoch  uint64

	// Deposit contract.
	DepositContractTreeDepth uint64

	// Fork-choice.
	ForkChoiceBalanceIncrement uint64 // ForkChoiceBalanceIncrement buckets validator balances for LMD-GHOST weighing.

	// Genesis.
	GenesisSlot        uint64
	GenesisEpoch       uint64
	GenesisForkVersion []byte
	ZeroHash           [32]byte

	// Sharding.
	ShardCount           uint64
	EpochsPerShardPeriod uint64

	NetworkName string
}

// ShardChainConfig captures the constants specific to per-shard block and
// state processing; it embeds nothing from BeaconChainConfig so shard
// clients can in principle run with a different beacon chain.
type ShardChainConfig struct {
	ShardSlotsPerEpoch        uint64
	EpochsPerShardPeriod      uint64
	MaxShardAttestations      uint64
	MaxShardBlockBodySize     uint64
	TargetPeriodCommitteeSize uint64
}

// Copy returns a deep copy of the config so callers can safely mutate a
// derived config before installing it with OverrideBeaconConfig.
func (b *BeaconChainConfig) Copy() *BeaconChainConfig {
	config, ok := deepcopy.Copy(*b).(BeaconChainConfig)
	if !ok {
		config = *b
	}
	return &config
}

// Copy returns a deep copy of the shard config.
func (s *ShardChainConfig) Copy() *ShardChainConfig {
	config, ok := deepcopy.Copy(*s).(ShardChainConfig)
	if !ok {
		config = *s
	}
	return &config
}

func mainnetBeaconConfig() *BeaconChainConfig {
	return &BeaconChainConfig{
		SecondsPerSlot:                    12,
		SlotsPerEpoch:                     32,
		MinAttestationInclusionDelay:      1,
		SlotsPerHistoricalRoot:            8192,
		MinValidatorWithdrawabilityDelay:  256,
		PersistentCommitteePeriod:         2048,
		MinSeedLookahead:                  1,
		MaxSeedLookahead:                  4,
		EpochsPerEth1VotingPeriod:         64,
		EpochsPerHistoricalVector:         65536,
		FutureSlotTolerance:               2,

		ChurnLimitQuotient:    65536,
		MinPerEpochChurnLimit: 4,
		FarFutureEpoch:        1<<64 - 1,

		MaxEffectiveBalance:       32 * 1e9,
		EjectionBalance:           16 * 1e9,
		EffectiveBalanceIncrement: 1 * 1e9,
		MinDepositAmount:          1 * 1e9,

		TargetCommitteeSize:       128,
		MaxCommitteesPerSlot:      64,
		MaxValidatorsPerCommittee: 2048,
		ShuffleRoundCount:         90,

		MaxProposerSlashings: 16,
		MaxAttesterSlashings: 1,
		MaxAttestations:      128,
		MaxDeposits:          16,
		MaxVoluntaryExits:    16,
		MaxTransfers:         0,

		WhistleblowerRewardQuotient: 512,
		ProposerRewardQuotient:      8,
		MinSlashingPenaltyQuotient:  32,
		EpochsPerSlashingsVector:    8192,

		BaseRewardFactor:    64,
		BaseRewardsPerEpoch: 4,

		DepositContractTreeDepth: 32,

		ForkChoiceBalanceIncrement: 1 * 1e9,

		GenesisSlot:        0,
		GenesisEpoch:       0,
		GenesisForkVersion: []byte{0, 0, 0, 0},

		ShardCount:           64,
		EpochsPerShardPeriod: 256,

		NetworkName: "mainnet",
	}
}

func mainnetShardConfig() *ShardChainConfig {
	return &ShardChainConfig{
		ShardSlotsPerEpoch:        32,
		EpochsPerShardPeriod:      256,
		MaxShardAttestations:      16,
		MaxShardBlockBodySize:     1 << 16,
		TargetPeriodCommitteeSize: 128,
	}
}

var beaconConfig = mainnetBeaconConfig()
var shardConfig = mainnetShardConfig()

// BeaconConfig retrieves the active BeaconChainConfig.
func BeaconConfig() *BeaconChainConfig {
	return beaconConfig
}

// OverrideBeaconConfig installs a new active BeaconChainConfig, typically a
// copy-and-mutate of the value returned by BeaconConfig.
func OverrideBeaconConfig(cfg *BeaconChainConfig) {
	beaconConfig = cfg
}

// ShardConfig retrieves the active ShardChainConfig.
func ShardConfig() *ShardChainConfig {
	return shardConfig
}

// OverrideShardConfig installs a new active ShardChainConfig.
func OverrideShardConfig(cfg *ShardChainConfig) {
	shardConfig = cfg
}

// MainnetConfig returns a fresh copy of the default mainnet-shaped beacon
// chain config, independent of whatever is currently active.
func MainnetConfig() *BeaconChainConfig {
	return mainnetBeaconConfig()
}

// InteropConfig returns a config tuned for deterministic multi-validator
// interop genesis: short epochs so short-lived local testnets still cross
// an epoch boundary quickly.
func InteropConfig() *BeaconChainConfig {
	cfg := MainnetConfig()
	cfg.SlotsPerEpoch = 8
	cfg.SecondsPerSlot = 6
	cfg.NetworkName = "interop"
	return cfg
}
