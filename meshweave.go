// Package meshweave provides a top-level convenience entry point for
// embedding a mesh coordination system with minimal boilerplate.
//
// Usage:
//
//	import "github.com/meshweave/meshweave"
//
//	sys := meshweave.New(meshweave.WithLogger(logger))
//	sys.Start()
//	defer sys.Stop()
//
//	node := sys.Node("node-a")
//
// This is a thin wrapper around [protocol.NewSystem]; use the protocol
// package directly when you need full configuration control.
package meshweave

import (
	"go.uber.org/zap"

	"github.com/meshweave/meshweave/protocol"
)

// Option configures the system created by [New].
type Option func(*options)

type options struct {
	config protocol.SystemConfig
	logger *zap.Logger
}

// New creates a [protocol.System] with default configuration, adjusted by
// the given options. The system is not started.
func New(opts ...Option) *protocol.System {
	o := options{config: protocol.DefaultSystemConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	return protocol.NewSystem(o.config, o.logger)
}

// WithConfig replaces the full system configuration.
func WithConfig(cfg protocol.SystemConfig) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventBuffer sizes the event bus buffer.
func WithEventBuffer(size int) Option {
	return func(o *options) { o.config.EventBuffer = size }
}
