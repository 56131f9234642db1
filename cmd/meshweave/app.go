package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meshweave/meshweave/api"
	"github.com/meshweave/meshweave/config"
	"github.com/meshweave/meshweave/consensus"
	"github.com/meshweave/meshweave/coordination"
	"github.com/meshweave/meshweave/internal/metrics"
	"github.com/meshweave/meshweave/internal/telemetry"
	"github.com/meshweave/meshweave/persistence"
	"github.com/meshweave/meshweave/protocol"
)

// App owns the wired components of one mesh node process.
type App struct {
	cfg         *config.Config
	system      *protocol.System
	server      *api.Server
	collector   *metrics.Collector
	snapshotter *persistence.Snapshotter
	store       persistence.Store
	providers   *telemetry.Providers
	logger      *zap.Logger
}

// NewApp wires the coordination system, metrics, HTTP API, and the
// optional snapshotter from configuration.
func NewApp(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) (*App, error) {
	sysCfg := systemConfig(cfg)
	system := protocol.NewSystem(sysCfg, logger)

	collector := metrics.NewCollector()
	collector.Observe(system.Bus())

	server := api.NewServer(system, collector, cfg.Server, logger)

	app := &App{
		cfg:       cfg,
		system:    system,
		server:    server,
		collector: collector,
		providers: providers,
		logger:    logger.With(zap.String("component", "app")),
	}

	if cfg.Snapshot.Enabled {
		store, err := openStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		app.store = store
		app.snapshotter = persistence.NewSnapshotter(system, store, cfg.Snapshot.Interval, logger)
	}

	return app, nil
}

// Start launches the system, the snapshotter, and the HTTP server.
func (a *App) Start() error {
	a.system.Start()
	if a.snapshotter != nil {
		a.snapshotter.Start()
	}
	if err := a.server.Start(); err != nil {
		a.system.Stop()
		return err
	}
	return nil
}

// WaitForShutdown blocks until a signal or server failure, then tears the
// process down in reverse start order.
func (a *App) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-a.server.Errors():
		if err != nil {
			a.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	ctx := context.Background()

	// The server and the snapshotter are independent; drain them together
	// before stopping the system they read from.
	var g errgroup.Group
	g.Go(func() error {
		return a.server.Shutdown(ctx)
	})
	g.Go(func() error {
		if a.snapshotter != nil {
			a.snapshotter.Stop()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.system.Stop()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("snapshot store close error", zap.Error(err))
		}
	}
	if a.providers != nil {
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
}

// systemConfig maps the flat service configuration onto the component
// configurations, keeping component defaults for anything unset.
func systemConfig(cfg *config.Config) protocol.SystemConfig {
	sysCfg := protocol.DefaultSystemConfig()

	if cfg.Node.StateUpdateRate > 0 {
		sysCfg.StateUpdateRate = cfg.Node.StateUpdateRate
	}
	if cfg.Node.StateUpdateBurst > 0 {
		sysCfg.StateUpdateBurst = cfg.Node.StateUpdateBurst
	}

	cc := &sysCfg.Consensus
	if cfg.Consensus.SweepInterval > 0 {
		cc.SweepInterval = cfg.Consensus.SweepInterval
	}
	if cfg.Consensus.HistorySize > 0 {
		cc.HistorySize = cfg.Consensus.HistorySize
	}
	cc.Defaults = consensus.Config{
		VotingDuration:        cfg.Consensus.VotingDuration,
		RequiredParticipation: cfg.Consensus.RequiredParticipation,
		ConsensusThreshold:    cfg.Consensus.ConsensusThreshold,
	}

	sysCfg.Coordination = coordination.CoordinatorConfig{
		GraceDelay:         cfg.Coordination.GraceDelay,
		MinCapacity:        cfg.Coordination.MinCapacity,
		ProgressThreshold:  cfg.Coordination.ProgressThreshold,
		AgreementThreshold: cfg.Coordination.AgreementThreshold,
		TimeoutPenalty:     cfg.Coordination.TimeoutPenalty,
		DefaultDuration:    cfg.Coordination.DefaultDuration,
		HistorySize:        cfg.Coordination.HistorySize,
	}

	return sysCfg
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	switch persistence.StoreType(cfg.Snapshot.Backend) {
	case persistence.StoreTypeMemory:
		return persistence.NewMemoryStore(), nil
	case persistence.StoreTypeFile:
		return persistence.NewFileStore(cfg.Snapshot.Path)
	case persistence.StoreTypeRedis:
		return persistence.NewRedisStore(persistence.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Snapshot.Backend)
	}
}
