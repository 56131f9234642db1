// Package mesh implements the topology manager: the node registry, the
// undirected connection graph derived from declared connections, and the
// latency-weighted routing tables computed over it.
package mesh

import (
	"encoding/json"
	"time"
)

// NodeType classifies a node's role in the mesh.
type NodeType string

const (
	// NodeTypePrimary is a full participant preferred for coordination duties.
	NodeTypePrimary NodeType = "primary"
	// NodeTypeAuxiliary is a general-purpose participant.
	NodeTypeAuxiliary NodeType = "auxiliary"
	// NodeTypeSpecialist carries scarce capabilities.
	NodeTypeSpecialist NodeType = "specialist"
	// NodeTypeObserver watches the mesh without contributing work.
	NodeTypeObserver NodeType = "observer"
)

// NodeStatus represents the health status of a node.
type NodeStatus string

const (
	// NodeStatusActive indicates the node is healthy and selectable.
	NodeStatusActive NodeStatus = "active"
	// NodeStatusDegraded indicates the node is reachable but impaired.
	NodeStatusDegraded NodeStatus = "degraded"
	// NodeStatusOffline indicates the node is unreachable. Offline nodes are
	// excluded from every selection algorithm.
	NodeStatusOffline NodeStatus = "offline"
	// NodeStatusSyncing indicates the node is catching up on mesh state.
	NodeStatusSyncing NodeStatus = "syncing"
)

// ConnectionType classifies a declared connection between two nodes.
type ConnectionType string

const (
	// ConnectionDirect is a first-class peer link.
	ConnectionDirect ConnectionType = "direct"
	// ConnectionRelay routes through an intermediary.
	ConnectionRelay ConnectionType = "relay"
	// ConnectionBridge spans regions or clusters.
	ConnectionBridge ConnectionType = "bridge"
)

// Identity is the immutable identity of a mesh participant, created once at
// join time. A capability change is a new identity version, never an in-place
// edit.
type Identity struct {
	// ID uniquely identifies the node.
	ID string `json:"id"`

	// Region is the deployment region the node runs in.
	Region string `json:"region"`

	// Type classifies the node.
	Type NodeType `json:"type"`

	// Capabilities is the set of capability tags the node advertises.
	Capabilities []string `json:"capabilities"`
}

// HasCapability reports whether the identity advertises the given tag.
func (id Identity) HasCapability(tag string) bool {
	for _, c := range id.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Health is the health portion of a node state snapshot.
type Health struct {
	// CPULoad is the CPU load fraction (0-1).
	CPULoad float64 `json:"cpu_load"`

	// MemoryLoad is the memory load fraction (0-1).
	MemoryLoad float64 `json:"memory_load"`

	// NetworkLatency is the node's self-reported network latency.
	NetworkLatency time.Duration `json:"network_latency"`

	// LastHeartbeat is when the node last reported in.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// Status is the node's health status.
	Status NodeStatus `json:"status"`
}

// Load is the work-load portion of a node state snapshot.
type Load struct {
	// ActiveTasks is the number of tasks currently executing.
	ActiveTasks int `json:"active_tasks"`

	// QueuedTasks is the number of tasks waiting to execute.
	QueuedTasks int `json:"queued_tasks"`

	// AvailableCapacity is the fraction of capacity still free (0-1).
	AvailableCapacity float64 `json:"available_capacity"`
}

// Connection is one declared outbound connection. The topology treats
// connections as bidirectional for routing even if only one side reports them.
type Connection struct {
	// TargetID is the node on the other end.
	TargetID string `json:"target_id"`

	// Type classifies the connection.
	Type ConnectionType `json:"type"`

	// Strength is the logical affinity of the link (0-1).
	Strength float64 `json:"strength"`

	// Latency is the measured link latency. Zero means unmeasured; routing
	// substitutes a large default weight so the link is deprioritized but
	// still usable.
	Latency time.Duration `json:"latency"`

	// Bandwidth is the link bandwidth in Mbps.
	Bandwidth float64 `json:"bandwidth"`

	// Trust is the trust score assigned to the peer (0-1).
	Trust float64 `json:"trust"`
}

// State is a node's full mutable state. It is owned by the node it describes,
// replicated read-only to the mesh, and replaced wholesale on every update.
type State struct {
	// Identity is the node's immutable identity.
	Identity Identity `json:"identity"`

	// Timestamp is when this snapshot was produced.
	Timestamp time.Time `json:"timestamp"`

	// Health is the node's health snapshot.
	Health Health `json:"health"`

	// Load is the node's load snapshot.
	Load Load `json:"load"`

	// Connections are the node's declared outbound connections.
	Connections []Connection `json:"connections"`

	// Context is an opaque blob supplied by the node's upstream collaborator;
	// it is passed through unmodified.
	Context json.RawMessage `json:"context,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Identity.Capabilities = append([]string(nil), s.Identity.Capabilities...)
	out.Connections = append([]Connection(nil), s.Connections...)
	out.Context = append(json.RawMessage(nil), s.Context...)
	return &out
}

// Selectable reports whether the node may appear in selection results.
// Offline nodes never do.
func (s *State) Selectable() bool {
	return s != nil && s.Health.Status == NodeStatusActive
}

// HealthSnapshot is an aggregate view of mesh health.
type HealthSnapshot struct {
	// TotalNodes is the number of registered nodes.
	TotalNodes int `json:"total_nodes"`

	// ActiveNodes is the number of nodes with active status.
	ActiveNodes int `json:"active_nodes"`

	// AvgLoad is the mean load (1 - available capacity) over active nodes.
	AvgLoad float64 `json:"avg_load"`

	// AvgLatency is the mean latency over unique graph edges.
	AvgLatency time.Duration `json:"avg_latency"`

	// ConnectivityRatio is unique edges divided by the theoretical maximum
	// n*(n-1)/2.
	ConnectivityRatio float64 `json:"connectivity_ratio"`

	// PartitionCount is the number of connected components in the graph.
	PartitionCount int `json:"partition_count"`
}
