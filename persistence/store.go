// Package persistence provides periodic snapshot storage for mesh state. The
// coordination core itself keeps no durable state: in-flight proposals and
// operations are dropped on shutdown, and this package is the surrounding
// collaborator that snapshots the system for later inspection or resumption.
//
// Supported backends:
// - Memory: for development and testing (default)
// - File: for single-node deployments
// - Redis: for shared deployments
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/meshweave/meshweave/consensus"
	"github.com/meshweave/meshweave/coordination"
	"github.com/meshweave/meshweave/mesh"
)

// Common errors.
var (
	ErrNotFound    = errors.New("snapshot not found")
	ErrStoreClosed = errors.New("store is closed")
)

// StoreType selects a snapshot backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// Snapshot is a point-in-time capture of the coordination system.
type Snapshot struct {
	// TakenAt is when the snapshot was captured.
	TakenAt time.Time `json:"taken_at"`

	// Nodes are the registered node states.
	Nodes []*mesh.State `json:"nodes"`

	// OpenProposals are the proposals still accepting votes.
	OpenProposals []*consensus.Proposal `json:"open_proposals"`

	// ProposalHistory are terminal proposals, oldest first.
	ProposalHistory []*consensus.Proposal `json:"proposal_history"`

	// ActiveOperations are the non-terminal operations.
	ActiveOperations []*coordination.Operation `json:"active_operations"`

	// OperationHistory are terminal operations, oldest first.
	OperationHistory []*coordination.Operation `json:"operation_history"`
}

// Store persists snapshots. Save replaces the latest snapshot; Load returns
// it or ErrNotFound.
type Store interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the optional Redis password.
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// KeyPrefix namespaces the snapshot keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}
