// Package main wires the beacon chain node: store, chain config, genesis,
// attestation pool, fork choice, chain service, and sync. Components are
// constructed in dependency order from one validated configuration record;
// the libp2p transport, RPC servers, and eth1 backend are external
// collaborators that attach through the interfaces in beacon-chain/sync
// and core/state.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shardbeacon/client/beacon-chain/blockchain"
	corestate "github.com/shardbeacon/client/beacon-chain/core/state"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/iface"
	"github.com/shardbeacon/client/beacon-chain/db/kv"
	"github.com/shardbeacon/client/beacon-chain/db/memorydb"
	"github.com/shardbeacon/client/beacon-chain/operations/attestations"
	"github.com/shardbeacon/client/beacon-chain/sync"
	"github.com/shardbeacon/client/shared/params"
)

var log = logrus.WithField("prefix", "node")

// nodeConfig is the validated configuration record the node boots from.
type nodeConfig struct {
	dataDir              string
	genesisStatePath     string
	interopNumValidators uint64
	interopGenesisTime   uint64
	verifySignatures     bool
	verbosity            string
}

func parseFlags() *nodeConfig {
	cfg := &nodeConfig{}
	flag.StringVar(&cfg.dataDir, "datadir", "", "directory for the on-disk store; empty runs in memory")
	flag.StringVar(&cfg.genesisStatePath, "genesis-state", "", "path to an SSZ-encoded genesis state")
	flag.Uint64Var(&cfg.interopNumValidators, "interop-num-validators", 0, "number of deterministic interop validators to start from")
	flag.Uint64Var(&cfg.interopGenesisTime, "interop-genesis-time", 0, "unix genesis time for interop mode")
	flag.BoolVar(&cfg.verifySignatures, "verify-signatures", true, "verify BLS signatures during block processing")
	flag.StringVar(&cfg.verbosity, "verbosity", "info", "logging level (trace, debug, info, warn, error)")
	flag.Parse()
	return cfg
}

func (c *nodeConfig) validate() error {
	if c.genesisStatePath != "" && c.interopNumValidators > 0 {
		return errors.New("pick one of --genesis-state and --interop-num-validators")
	}
	return nil
}

func openStore(cfg *nodeConfig) (iface.Database, error) {
	if cfg.dataDir == "" {
		log.Warn("no data directory configured; chain state will not survive restarts")
		return memorydb.NewStore(), nil
	}
	return kv.NewKVStore(cfg.dataDir)
}

func loadGenesisState(ctx context.Context, cfg *nodeConfig) (*beacontypes.BeaconState, error) {
	switch {
	case cfg.genesisStatePath != "":
		f, err := os.Open(cfg.genesisStatePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return corestate.GenesisStateFromSSZ(f)
	case cfg.interopNumValidators > 0:
		params.OverrideBeaconConfig(params.InteropConfig())
		return corestate.InteropGenesisState(ctx, cfg.interopNumValidators, cfg.interopGenesisTime)
	default:
		// The store may already hold a chain; the chain service resumes
		// from it and needs no genesis state.
		return nil, nil
	}
}

// logOnlyNetwork stands in for the libp2p transport in a core-only build:
// outbound protocol messages are logged and dropped. The real transport
// implements sync.NetworkSender and is registered in its place.
type logOnlyNetwork struct{}

func (logOnlyNetwork) SendStatusRequest(peerID peer.ID, status *sync.StatusMessage) {
	log.WithField("peer", peerID.Pretty()).Debug("dropping outbound status request; no transport attached")
}

func (logOnlyNetwork) SendStatusResponse(peerID peer.ID, requestID sync.RequestID, status *sync.StatusMessage) {
	log.WithField("peer", peerID.Pretty()).Debug("dropping outbound status response; no transport attached")
}

func (logOnlyNetwork) SendBlocksByRangeRequest(peerID peer.ID, requestID sync.RequestID, req *sync.BlocksByRangeRequest) {
	log.WithField("peer", peerID.Pretty()).Debug("dropping outbound range request; no transport attached")
}

func (logOnlyNetwork) SendBlocksByRootRequest(peerID peer.ID, requestID sync.RequestID, req *sync.BlocksByRootRequest) {
	log.WithField("peer", peerID.Pretty()).Debug("dropping outbound root request; no transport attached")
}

func (logOnlyNetwork) SendBlockResponse(peerID peer.ID, requestID sync.RequestID, resp *sync.BlockResponse) {
	log.WithField("peer", peerID.Pretty()).Debug("dropping outbound block response; no transport attached")
}

func (logOnlyNetwork) Disconnect(peerID peer.ID, reason sync.GoodbyeReason) {
	log.WithFields(logrus.Fields{
		"peer":   peerID.Pretty(),
		"reason": reason,
	}).Debug("dropping outbound disconnect; no transport attached")
}

func main() {
	cfg := parseFlags()

	level, err := logrus.ParseLevel(cfg.verbosity)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if err := cfg.validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("could not open store")
	}
	defer store.Close()

	genesisState, err := loadGenesisState(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("could not load genesis state")
	}

	chain, err := blockchain.NewService(ctx, &blockchain.Config{
		BeaconDB:         store,
		OpsPool:          attestations.NewPool(),
		GenesisState:     genesisState,
		VerifySignatures: cfg.verifySignatures,
		VerifyStateRoots: cfg.verifySignatures,
	})
	if err != nil {
		log.WithError(err).Fatal("could not build chain service")
	}

	syncService, err := sync.NewService(ctx, &sync.Config{
		Chain:   chain,
		Network: logOnlyNetwork{},
	})
	if err != nil {
		log.WithError(err).Fatal("could not build sync service")
	}

	chain.Start()
	syncService.Start()
	log.WithFields(logrus.Fields{
		"network":  params.BeaconConfig().NetworkName,
		"headSlot": chain.HeadSlot(),
	}).Info("beacon node running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	if err := syncService.Stop(); err != nil {
		log.WithError(err).Error("could not stop sync service")
	}
	if err := chain.Stop(); err != nil {
		log.WithError(err).Error("could not stop chain service")
	}
}
