package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shardbeacon/client/beacon-chain/blockchain"
	"github.com/shardbeacon/client/shared/params"
)

var log = logrus.WithField("prefix", "sync")

// futureSlotTolerance mirrors the chain's queueing window: gossip blocks
// within it are still worth forwarding to peers.
func futureSlotTolerance() uint64 {
	return params.BeaconConfig().FutureSlotTolerance
}

// peerCountWarningInterval paces the low-peer-count warning.
const peerCountWarningInterval = 15 * time.Second

// Service owns the sync subsystem: the manager goroutine, the message
// processor handed to the network layer, and the peer-count notifier.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	Manager   *Manager
	Processor *MessageProcessor
}

// Config bundles the sync service's collaborators.
type Config struct {
	Chain   *blockchain.Service
	Network NetworkSender
}

// NewService wires the manager and message processor together.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil || cfg.Chain == nil || cfg.Network == nil {
		return nil, errMissingCollaborator
	}
	ctx, cancel := context.WithCancel(ctx)

	manager := NewManager(ctx, cfg.Chain, cfg.Network)
	processor := NewMessageProcessor(ctx, cfg.Chain, cfg.Network, manager)
	return &Service{
		ctx:       ctx,
		cancel:    cancel,
		Manager:   manager,
		Processor: processor,
	}, nil
}

// Start launches the manager loop and the peer-count notifier.
func (s *Service) Start() {
	go s.Manager.Run()
	go s.peerCountNotifier()
	log.Info("sync service started")
}

// Stop terminates all sync goroutines at their next suspension point.
// Stopping twice is harmless.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// peerCountNotifier warns at a fixed interval while the node has at most
// one connected peer, since a lonely node cannot stay in sync.
func (s *Service) peerCountNotifier() {
	ticker := time.NewTicker(peerCountWarningInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if count := s.Manager.PeerCount(); count <= 1 {
				log.WithField("peers", count).Warn("low peer count; node may fall out of sync")
			}
		}
	}
}
