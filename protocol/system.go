// Package protocol composes the topology manager, consensus engine, and
// operation coordinator into a mesh coordination system, and exposes the
// per-node facade that callers interact with. The interfaces here are
// in-process method contracts; a real transport would marshal them.
package protocol

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/meshweave/meshweave/consensus"
	"github.com/meshweave/meshweave/coordination"
	"github.com/meshweave/meshweave/event"
	"github.com/meshweave/meshweave/mesh"
)

// SystemConfig aggregates the component configurations.
type SystemConfig struct {
	Consensus    consensus.EngineConfig           `json:"consensus" yaml:"consensus"`
	Coordination coordination.CoordinatorConfig   `json:"coordination" yaml:"coordination"`

	// EventBuffer sizes the event bus buffer.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`

	// StateUpdateRate limits per-node state updates per second. Zero
	// disables limiting.
	StateUpdateRate float64 `json:"state_update_rate" yaml:"state_update_rate"`

	// StateUpdateBurst is the burst allowance for state updates.
	StateUpdateBurst int `json:"state_update_burst" yaml:"state_update_burst"`
}

// DefaultSystemConfig returns a SystemConfig with sensible defaults.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Consensus:        consensus.DefaultEngineConfig(),
		Coordination:     coordination.DefaultCoordinatorConfig(),
		EventBuffer:      256,
		StateUpdateRate:  10,
		StateUpdateBurst: 20,
	}
}

// System owns one instance of each coordination component and the shared
// event bus. Each System is self-contained; there is no ambient global state.
type System struct {
	topo   *mesh.Topology
	engine *consensus.Engine
	coord  *coordination.Coordinator
	bus    *event.SimpleBus

	config SystemConfig
	logger *zap.Logger
}

// NewSystem wires the three components together: the engine and coordinator
// share the topology for discovery, reached proposals are scheduled as
// operations, and all components publish to one event bus.
func NewSystem(config SystemConfig, logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultSystemConfig().EventBuffer
	}

	bus := event.NewBus(config.EventBuffer, logger)
	topo := mesh.NewTopology(logger)
	coord := coordination.NewCoordinator(topo, config.Coordination, nil, bus, logger)
	engine := consensus.NewEngine(topo, config.Consensus, bus, logger)

	s := &System{
		topo:   topo,
		engine: engine,
		coord:  coord,
		bus:    bus,
		config: config,
		logger: logger.With(zap.String("component", "protocol")),
	}
	engine.OnReached(s.scheduleReached)
	return s
}

// Start launches the background loops.
func (s *System) Start() {
	s.engine.Start()
	s.logger.Info("mesh coordination system started")
}

// Stop halts background loops and the event bus. In-flight proposals and
// operations are dropped; durability is the snapshot collaborator's concern.
func (s *System) Stop() {
	s.engine.Stop()
	s.coord.Stop()
	s.bus.Stop()
	s.logger.Info("mesh coordination system stopped")
}

// Topology exposes the topology manager.
func (s *System) Topology() *mesh.Topology { return s.topo }

// Consensus exposes the consensus engine.
func (s *System) Consensus() *consensus.Engine { return s.engine }

// Coordinator exposes the operation coordinator.
func (s *System) Coordinator() *coordination.Coordinator { return s.coord }

// Bus exposes the shared event bus for external observers.
func (s *System) Bus() event.Bus { return s.bus }

// scheduleReached turns a reached proposal into a scheduled operation. The
// proposal's spec is interpreted as operation metadata when possible; a
// malformed spec falls back to a single-participant operation of the
// proposal's type.
func (s *System) scheduleReached(p *consensus.Proposal) {
	var meta coordination.Meta
	if len(p.Content.Spec) > 0 {
		if err := json.Unmarshal(p.Content.Spec, &meta); err != nil {
			s.logger.Warn("proposal spec is not operation metadata",
				zap.String("proposal_id", p.ID),
				zap.Error(err),
			)
		}
	}
	if meta.Type == "" {
		meta.Type = p.Content.Type
	}

	op, err := s.coord.Initiate(p.ProposerID, meta)
	if err != nil {
		s.logger.Warn("failed to schedule operation for reached proposal",
			zap.String("proposal_id", p.ID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("reached proposal scheduled",
		zap.String("proposal_id", p.ID),
		zap.String("operation_id", op.ID),
	)
}
