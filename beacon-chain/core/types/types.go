// Package types defines the plain Go data model for the beacon and shard
// chains: blocks, attestations, validator records, and beacon state. These
// are hand-written structs (no code generation) kept deliberately close to
// the shape spec.md §3 describes, tagged for SSZ tree-hashing via go-ssz's
// reflection-based encoder.
package types

import (
	types "github.com/prysmaticlabs/eth2-types"
	"github.com/prysmaticlabs/go-bitfield"
)

// Fork records the chain's current and previous fork versions and the
// epoch at which the fork activated.
type Fork struct {
	PreviousVersion [4]byte
	CurrentVersion  [4]byte
	Epoch           types.Epoch
}

// Eth1Data is the proposer's vote on the state of the deposit contract.
type Eth1Data struct {
	DepositRoot  [32]byte
	DepositCount uint64
	BlockHash    [32]byte
}

// BeaconBlockHeader is the compact, signature-bearing summary of a block
// used for the light "previous header" invariant and for proposer/attester
// slashing evidence.
type BeaconBlockHeader struct {
	Slot          types.Slot
	ProposerIndex types.ValidatorIndex
	ParentRoot    [32]byte
	StateRoot     [32]byte
	BodyRoot      [32]byte
}

// SignedBeaconBlockHeader pairs a header with the proposer's signature over
// it, the unit exchanged between two conflicting-header proposer slashing
// evidence.
type SignedBeaconBlockHeader struct {
	Header    *BeaconBlockHeader
	Signature [96]byte
}

// Crosslink commits a beacon block to a shard block root, the anchor
// linking the two chains.
type Crosslink struct {
	Shard                 uint64
	ParentRoot            [32]byte
	StartEpoch            types.Epoch
	EndEpoch              types.Epoch
	DataRoot              [32]byte
}

// AttestationData is the payload a validator signs when attesting: the
// chain head it votes for (target) together with the justification source
// it extends from, and the shard crosslink it commits to.
type AttestationData struct {
	Slot            types.Slot
	CommitteeIndex  types.CommitteeIndex
	BeaconBlockRoot [32]byte
	Source          *Checkpoint
	Target          *Checkpoint
	Crosslink       *Crosslink
}

// Checkpoint identifies an epoch boundary block.
type Checkpoint struct {
	Epoch types.Epoch
	Root  [32]byte
}

// Attestation is a validator committee's signed vote, aggregatable over
// disjoint AggregationBits.
type Attestation struct {
	AggregationBits bitfield.Bitlist
	Data            *AttestationData
	Signature       [96]byte
}

// IndexedAttestation is the expanded, committee-resolved form of an
// Attestation used as attester-slashing evidence: explicit signer indices
// instead of a committee-relative bitfield.
type IndexedAttestation struct {
	AttestingIndices []types.ValidatorIndex
	Data             *AttestationData
	Signature        [96]byte
}

// PendingAttestation is the form an Attestation takes once included in a
// block body and recorded against the issuing state.
type PendingAttestation struct {
	AggregationBits bitfield.Bitlist
	Data            *AttestationData
	InclusionDelay  types.Slot
	ProposerIndex   types.ValidatorIndex
}

// ProposerSlashing is evidence of a proposer double-signing two distinct
// headers for the same slot.
type ProposerSlashing struct {
	Header1 *SignedBeaconBlockHeader
	Header2 *SignedBeaconBlockHeader
}

// AttesterSlashing is evidence of two IndexedAttestations whose signer sets
// intersect on a double-vote or surround-vote condition.
type AttesterSlashing struct {
	Attestation1 *IndexedAttestation
	Attestation2 *IndexedAttestation
}

// DepositData is the deposit message a new or topping-up validator signs.
type DepositData struct {
	PublicKey             [48]byte
	WithdrawalCredentials [32]byte
	Amount                uint64
	Signature             [96]byte
}

// Deposit bundles a validator's DepositData with the Merkle proof of its
// inclusion in the deposit contract's tree at the time it was submitted.
type Deposit struct {
	Proof [][]byte
	Data  *DepositData
}

// VoluntaryExit is a signed request from a validator to leave the active
// set once eligible.
type VoluntaryExit struct {
	Epoch          types.Epoch
	ValidatorIndex types.ValidatorIndex
}

// SignedVoluntaryExit pairs a VoluntaryExit with the exiting validator's
// signature over it.
type SignedVoluntaryExit struct {
	Exit      *VoluntaryExit
	Signature [96]byte
}

// Transfer moves a balance between two accounts, signed by the sender.
type Transfer struct {
	Sender    types.ValidatorIndex
	Recipient types.ValidatorIndex
	Amount    uint64
	Fee       uint64
	Slot      types.Slot
	Pubkey    [48]byte
	Signature [96]byte
}

// BeaconBlockBody holds the operations a proposer bundles into a block,
// each bounded by a chain-spec maximum.
type BeaconBlockBody struct {
	RandaoReveal      [96]byte
	Eth1Data          *Eth1Data
	ProposerSlashings []*ProposerSlashing
	AttesterSlashings []*AttesterSlashing
	Attestations      []*Attestation
	Deposits          []*Deposit
	VoluntaryExits    []*SignedVoluntaryExit
	Transfers         []*Transfer
}

// BeaconBlock is an unsigned beacon chain block.
type BeaconBlock struct {
	Slot              types.Slot
	ProposerIndex     types.ValidatorIndex
	ParentRoot        [32]byte
	StateRoot         [32]byte
	Body              *BeaconBlockBody
}

// SignedBeaconBlock pairs a BeaconBlock with the proposer's signature over
// its signing root, excluding the signature itself.
type SignedBeaconBlock struct {
	Block     *BeaconBlock
	Signature [96]byte
}

// ShardAttestation is a validator's vote on a shard block, scoped to a
// single shard rather than a beacon committee.
type ShardAttestation struct {
	AggregationBits bitfield.Bitlist
	Data            *AttestationData
	Signature       [96]byte
}

// ShardBlock is an unsigned shard-chain block, anchored to a specific
// beacon chain block for finality.
type ShardBlock struct {
	Slot            types.Slot
	Shard           uint64
	ParentRoot      [32]byte
	BeaconBlockRoot [32]byte
	StateRoot       [32]byte
	Body            []byte
	Attestations    []*ShardAttestation
}

// SignedShardBlock pairs a ShardBlock with its proposer signature.
type SignedShardBlock struct {
	Block     *ShardBlock
	Signature [96]byte
}

// ShardBlockHeader is the compact summary of a shard block kept in shard
// state, mirroring BeaconBlockHeader's role on the beacon side.
type ShardBlockHeader struct {
	Slot            types.Slot
	Shard           uint64
	ParentRoot      [32]byte
	BeaconBlockRoot [32]byte
	StateRoot       [32]byte
	BodyRoot        [32]byte
}

// PeriodCommittee is the committee responsible for a shard over one shard
// period, rotated at every period boundary from the beacon state's
// committee assignment.
type PeriodCommittee struct {
	Shard     uint64
	Period    uint64
	Committee []types.ValidatorIndex
}

// ShardState is the per-shard state the shard chain's slot and block
// processing mutates. The ring buffers mirror the beacon state's, sized by
// SlotsPerHistoricalRoot.
type ShardState struct {
	Shard             uint64
	Slot              types.Slot
	GenesisTime       uint64
	LatestBlockHeader *ShardBlockHeader
	BlockRoots        [][32]byte
	StateRoots        [][32]byte
	HistoricalRoots   [][32]byte
	PeriodCommittees  []*PeriodCommittee
}

// Clone returns a deep-enough copy of the shard state for the same
// clone-then-roll-back contract BeaconState.Clone serves.
func (s *ShardState) Clone() *ShardState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.LatestBlockHeader != nil {
		header := *s.LatestBlockHeader
		clone.LatestBlockHeader = &header
	}
	clone.BlockRoots = append([][32]byte(nil), s.BlockRoots...)
	clone.StateRoots = append([][32]byte(nil), s.StateRoots...)
	clone.HistoricalRoots = append([][32]byte(nil), s.HistoricalRoots...)
	clone.PeriodCommittees = make([]*PeriodCommittee, len(s.PeriodCommittees))
	for i, committee := range s.PeriodCommittees {
		c := *committee
		c.Committee = append([]types.ValidatorIndex(nil), committee.Committee...)
		clone.PeriodCommittees[i] = &c
	}
	return &clone
}

// Validator is a single entry in the beacon state's validator registry.
type Validator struct {
	PublicKey                  [48]byte
	WithdrawalCredentials      [32]byte
	EffectiveBalance           uint64
	Slashed                    bool
	ActivationEligibilityEpoch types.Epoch
	ActivationEpoch            types.Epoch
	ExitEpoch                  types.Epoch
	WithdrawableEpoch          types.Epoch
}

// BeaconState is the full state the beacon chain's per-block and per-slot
// processing mutates. Validators and Balances are kept as parallel slices
// per spec.md's stated invariant len(Validators) == len(Balances).
type BeaconState struct {
	GenesisTime                 uint64
	Slot                        types.Slot
	Fork                        *Fork
	LatestBlockHeader           *BeaconBlockHeader
	BlockRoots                  [][32]byte
	StateRoots                  [][32]byte
	HistoricalRoots             [][32]byte
	Eth1Data                    *Eth1Data
	Eth1DataVotes               []*Eth1Data
	Eth1DepositIndex            uint64
	Validators                  []*Validator
	Balances                    []uint64
	RandaoMixes                 [][32]byte
	Slashings                   []uint64
	PreviousEpochAttestations   []*PendingAttestation
	CurrentEpochAttestations    []*PendingAttestation
	JustificationBits           bitfield.Bitvector4
	PreviousJustifiedCheckpoint *Checkpoint
	CurrentJustifiedCheckpoint  *Checkpoint
	FinalizedCheckpoint         *Checkpoint
	PreviousCrosslinks          []*Crosslink
	CurrentCrosslinks           []*Crosslink
}

// Clone returns a deep-enough copy of the state for process_block's
// clone-then-roll-back-on-failure contract: every field a state transition
// mutates is independently allocated, so mutating the clone never affects
// the original.
func (s *BeaconState) Clone() *BeaconState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Fork = cloneFork(s.Fork)
	clone.LatestBlockHeader = cloneHeader(s.LatestBlockHeader)
	clone.BlockRoots = append([][32]byte(nil), s.BlockRoots...)
	clone.StateRoots = append([][32]byte(nil), s.StateRoots...)
	clone.HistoricalRoots = append([][32]byte(nil), s.HistoricalRoots...)
	clone.Eth1Data = cloneEth1Data(s.Eth1Data)
	clone.Eth1DataVotes = make([]*Eth1Data, len(s.Eth1DataVotes))
	for i, v := range s.Eth1DataVotes {
		clone.Eth1DataVotes[i] = cloneEth1Data(v)
	}
	clone.Validators = make([]*Validator, len(s.Validators))
	for i, v := range s.Validators {
		val := *v
		clone.Validators[i] = &val
	}
	clone.Balances = append([]uint64(nil), s.Balances...)
	clone.RandaoMixes = append([][32]byte(nil), s.RandaoMixes...)
	clone.Slashings = append([]uint64(nil), s.Slashings...)
	clone.PreviousEpochAttestations = append([]*PendingAttestation(nil), s.PreviousEpochAttestations...)
	clone.CurrentEpochAttestations = append([]*PendingAttestation(nil), s.CurrentEpochAttestations...)
	clone.JustificationBits = append(bitfield.Bitvector4(nil), s.JustificationBits...)
	clone.PreviousJustifiedCheckpoint = cloneCheckpoint(s.PreviousJustifiedCheckpoint)
	clone.CurrentJustifiedCheckpoint = cloneCheckpoint(s.CurrentJustifiedCheckpoint)
	clone.FinalizedCheckpoint = cloneCheckpoint(s.FinalizedCheckpoint)
	clone.PreviousCrosslinks = append([]*Crosslink(nil), s.PreviousCrosslinks...)
	clone.CurrentCrosslinks = append([]*Crosslink(nil), s.CurrentCrosslinks...)
	return &clone
}

func cloneFork(f *Fork) *Fork {
	if f == nil {
		return nil
	}
	clone := *f
	return &clone
}

func cloneHeader(h *BeaconBlockHeader) *BeaconBlockHeader {
	if h == nil {
		return nil
	}
	clone := *h
	return &clone
}

func cloneEth1Data(e *Eth1Data) *Eth1Data {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

func cloneCheckpoint(c *Checkpoint) *Checkpoint {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
