package state

import (
	"context"
	"io"
	"io/ioutil"
	"time"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/prysmaticlabs/go-bitfield"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-ssz"

	"github.com/shardbeacon/client/beacon-chain/core/blocks"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
	"github.com/shardbeacon/client/shared/bytesutil"
	"github.com/shardbeacon/client/shared/hashutil"
	"github.com/shardbeacon/client/shared/params"
	"github.com/shardbeacon/client/shared/trieutil"
)

// GenesisBeaconState builds the state the chain starts from, given the
// deposits included in the genesis block of the deposit contract's tree.
// Each deposit is applied with the same rules as an in-block deposit, then
// every validator funded to the maximum effective balance is activated at
// the genesis epoch.
func GenesisBeaconState(ctx context.Context, deposits []*beacontypes.Deposit, genesisTime uint64, eth1Data *beacontypes.Eth1Data) (*beacontypes.BeaconState, error) {
	st := EmptyGenesisState(genesisTime)
	if eth1Data == nil {
		return nil, errors.New("no eth1 data provided for genesis state")
	}
	st.Eth1Data = eth1Data

	// Apply the genesis deposits through the same path an in-block deposit
	// takes, one MaxDeposits-shaped batch at a time.
	body := &beacontypes.BeaconBlockBody{}
	for i := 0; i < len(deposits); {
		end := i + int(params.BeaconConfig().MaxDeposits)
		if end > len(deposits) {
			end = len(deposits)
		}
		body.Deposits = deposits[i:end]
		var err error
		st, err = blocks.ProcessDeposits(ctx, st, body)
		if err != nil {
			return nil, errors.Wrapf(err, "could not process genesis deposits %d-%d", i, end)
		}
		i = end
	}

	cfg := params.BeaconConfig()
	for idx, validator := range st.Validators {
		if st.Balances[idx] >= cfg.MaxEffectiveBalance {
			validator.ActivationEligibilityEpoch = eth2types.Epoch(cfg.GenesisEpoch)
			validator.ActivationEpoch = eth2types.Epoch(cfg.GenesisEpoch)
		}
	}
	return st, nil
}

// EmptyGenesisState returns a zero-validator genesis state with every ring
// buffer sized per the active chain config.
func EmptyGenesisState(genesisTime uint64) *beacontypes.BeaconState {
	cfg := params.BeaconConfig()
	bodyRoot, _ := hashutil.HashTreeRoot(&beacontypes.BeaconBlockBody{Eth1Data: &beacontypes.Eth1Data{}})
	return &beacontypes.BeaconState{
		GenesisTime: genesisTime,
		Slot:        eth2types.Slot(cfg.GenesisSlot),
		Fork: &beacontypes.Fork{
			PreviousVersion: bytesutil.ToBytes4(cfg.GenesisForkVersion),
			CurrentVersion:  bytesutil.ToBytes4(cfg.GenesisForkVersion),
			Epoch:           eth2types.Epoch(cfg.GenesisEpoch),
		},
		LatestBlockHeader: &beacontypes.BeaconBlockHeader{
			Slot:     eth2types.Slot(cfg.GenesisSlot),
			BodyRoot: bodyRoot,
		},
		BlockRoots:      make([][32]byte, cfg.SlotsPerHistoricalRoot),
		StateRoots:      make([][32]byte, cfg.SlotsPerHistoricalRoot),
		HistoricalRoots: [][32]byte{},
		Eth1Data:        &beacontypes.Eth1Data{},
		Eth1DataVotes:   []*beacontypes.Eth1Data{},
		Validators:      []*beacontypes.Validator{},
		Balances:        []uint64{},
		RandaoMixes:     make([][32]byte, cfg.EpochsPerHistoricalVector),
		Slashings:       make([]uint64, cfg.EpochsPerSlashingsVector),

		PreviousEpochAttestations:   []*beacontypes.PendingAttestation{},
		CurrentEpochAttestations:    []*beacontypes.PendingAttestation{},
		JustificationBits:           bitfield.NewBitvector4(),
		PreviousJustifiedCheckpoint: &beacontypes.Checkpoint{},
		CurrentJustifiedCheckpoint:  &beacontypes.Checkpoint{},
		FinalizedCheckpoint:         &beacontypes.Checkpoint{},
		PreviousCrosslinks:          emptyCrosslinks(),
		CurrentCrosslinks:           emptyCrosslinks(),
	}
}

func emptyCrosslinks() []*beacontypes.Crosslink {
	crosslinks := make([]*beacontypes.Crosslink, params.BeaconConfig().ShardCount)
	for i := range crosslinks {
		crosslinks[i] = &beacontypes.Crosslink{Shard: uint64(i)}
	}
	return crosslinks
}

// InteropGenesisState builds a deterministic genesis state of numValidators
// synthetic validators, each funded to the maximum effective balance, with
// keys derived from the validator index. Two nodes given the same inputs
// produce bit-identical states.
func InteropGenesisState(ctx context.Context, numValidators uint64, genesisTime uint64) (*beacontypes.BeaconState, error) {
	secretKeys, err := InteropSecretKeys(numValidators)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive interop keys")
	}

	depositData := make([]*beacontypes.DepositData, numValidators)
	for i, secretKey := range secretKeys {
		data := &beacontypes.DepositData{
			Amount: params.BeaconConfig().MaxEffectiveBalance,
		}
		copy(data.PublicKey[:], secretKey.PublicKey().Marshal())
		creds := hashutil.Hash(data.PublicKey[:])
		creds[0] = 0 // BLS withdrawal prefix.
		data.WithdrawalCredentials = creds

		root, err := hashutil.HashTreeRootWithSignature(data)
		if err != nil {
			return nil, errors.Wrap(err, "could not hash deposit data")
		}
		signingRoot := hashutil.Hash(append(root[:], params.DomainDeposit[:]...))
		copy(data.Signature[:], secretKey.Sign(signingRoot[:]).Marshal())
		depositData[i] = data
	}

	deposits, eth1Data, err := GenesisDeposits(depositData)
	if err != nil {
		return nil, err
	}
	return GenesisBeaconState(ctx, deposits, genesisTime, eth1Data)
}

// InteropSecretKeys derives the deterministic secret keys of the first
// numValidators interop validators.
func InteropSecretKeys(numValidators uint64) ([]*bls.SecretKey, error) {
	secretKeys := make([]*bls.SecretKey, numValidators)
	for i := uint64(0); i < numValidators; i++ {
		raw := hashutil.Hash(bytesutil.Bytes8(i))
		// Clear the most significant byte so the value is a canonical
		// scalar below the BLS12-381 group order.
		raw[0] = 0
		secretKey, err := bls.SecretKeyFromBytes(raw[:])
		if err != nil {
			return nil, errors.Wrapf(err, "could not derive secret key %d", i)
		}
		secretKeys[i] = secretKey
	}
	return secretKeys, nil
}

// GenesisDeposits wraps a list of deposit data into Deposits carrying
// Merkle proofs against the resulting deposit tree, plus the Eth1Data the
// genesis state verifies them with. The final proof element is the
// count-bearing leaf the deposit contract mixes into its root.
func GenesisDeposits(depositData []*beacontypes.DepositData) ([]*beacontypes.Deposit, *beacontypes.Eth1Data, error) {
	leaves := make([][]byte, len(depositData))
	for i, data := range depositData {
		leaf, err := hashutil.HashTreeRoot(data)
		if err != nil {
			return nil, nil, errors.Wrap(err, "could not hash deposit data")
		}
		leaves[i] = leaf[:]
	}

	depth := int(params.BeaconConfig().DepositContractTreeDepth)
	trie, err := trieutil.GenerateTrieFromItems(leaves, depth)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not generate deposit trie")
	}
	depositRoot := trie.HashTreeRoot()

	countLeaf := make([]byte, 32)
	copy(countLeaf, bytesutil.Bytes8(uint64(len(depositData))))

	deposits := make([]*beacontypes.Deposit, len(depositData))
	for i, data := range depositData {
		proof, err := trie.MerkleProof(i)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "could not generate proof for deposit %d", i)
		}
		deposits[i] = &beacontypes.Deposit{
			Proof: append(proof, countLeaf),
			Data:  data,
		}
	}
	eth1Data := &beacontypes.Eth1Data{
		DepositRoot:  depositRoot,
		DepositCount: uint64(len(depositData)),
	}
	return deposits, eth1Data, nil
}

// GenesisStateFromSSZ reads a serialized genesis state, e.g. one produced
// by another client or a testnet coordinator.
func GenesisStateFromSSZ(r io.Reader) (*beacontypes.BeaconState, error) {
	enc, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not read genesis state bytes")
	}
	st := &beacontypes.BeaconState{}
	if err := ssz.Unmarshal(enc, st); err != nil {
		return nil, errors.Wrap(err, "could not decode genesis state")
	}
	return st, nil
}

// Eth1GenesisSource supplies deposit-contract data for the polling genesis
// mode. Implementations watch an eth1 node; the core only sees snapshots.
type Eth1GenesisSource interface {
	// GenesisSnapshot returns the deposits observed so far together with
	// the eth1 data and candidate genesis time of the latest block.
	GenesisSnapshot(ctx context.Context) (deposits []*beacontypes.Deposit, eth1Data *beacontypes.Eth1Data, genesisTime uint64, err error)
}

// GenesisStateFromEth1 polls src until it reports at least minValidators
// deposits whose resulting state has reached its genesis time, then builds
// and returns that state. It blocks until genesis or ctx cancellation.
func GenesisStateFromEth1(ctx context.Context, src Eth1GenesisSource, minValidators uint64, pollInterval time.Duration) (*beacontypes.BeaconState, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		deposits, eth1Data, genesisTime, err := src.GenesisSnapshot(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not fetch eth1 genesis snapshot")
		}
		if uint64(len(deposits)) >= minValidators && genesisTime > 0 {
			st, err := GenesisBeaconState(ctx, deposits, genesisTime, eth1Data)
			if err != nil {
				return nil, err
			}
			if uint64(len(st.Validators)) >= minValidators {
				return st, nil
			}
		}
		log.WithField("deposits", len(deposits)).Info("waiting for deposit contract to reach genesis threshold")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
