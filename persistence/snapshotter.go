package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshweave/meshweave/protocol"
)

// Snapshotter periodically captures the coordination system into a Store.
type Snapshotter struct {
	system   *protocol.System
	store    Store
	interval time.Duration
	logger   *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSnapshotter creates a snapshotter. An interval at or below zero defaults
// to one minute.
func NewSnapshotter(system *protocol.System, store Store, interval time.Duration, logger *zap.Logger) *Snapshotter {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		system:   system,
		store:    store,
		interval: interval,
		logger:   logger.With(zap.String("component", "snapshotter")),
		done:     make(chan struct{}),
	}
}

// Start launches the capture loop.
func (s *Snapshotter) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("snapshotter started", zap.Duration("interval", s.interval))
}

// Stop halts the loop after any in-progress capture finishes.
func (s *Snapshotter) Stop() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.logger.Info("snapshotter stopped")
}

func (s *Snapshotter) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.CaptureNow(context.Background()); err != nil {
				s.logger.Error("snapshot capture failed", zap.Error(err))
			}
		}
	}
}

// CaptureNow takes a snapshot immediately and saves it.
func (s *Snapshotter) CaptureNow(ctx context.Context) error {
	snapshot := &Snapshot{
		TakenAt:          time.Now(),
		Nodes:            s.system.Topology().Nodes(),
		OpenProposals:    s.system.Consensus().OpenProposals(),
		ProposalHistory:  s.system.Consensus().History(),
		ActiveOperations: s.system.Coordinator().ActiveOperations(),
		OperationHistory: s.system.Coordinator().History(),
	}
	return s.store.Save(ctx, snapshot)
}
