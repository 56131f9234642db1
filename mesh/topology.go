package mesh

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Topology owns the node registry and the connection graph derived from it.
// All mutations are serialized behind a single lock; routing tables are
// rebuilt into fresh structures and swapped atomically, so readers always
// observe a consistent table.
type Topology struct {
	mu sync.RWMutex

	// nodes stores the latest state snapshot per node ID.
	nodes map[string]*State

	// routes is the current routing table, replaced wholesale on rebuild.
	routes atomic.Pointer[routingTable]

	logger *zap.Logger
}

// NewTopology creates an empty topology.
func NewTopology(logger *zap.Logger) *Topology {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Topology{
		nodes:  make(map[string]*State),
		logger: logger.With(zap.String("component", "topology")),
	}
	t.routes.Store(buildRoutingTable(t.nodes))
	return t
}

// AddNode registers or replaces a node's state. It is an upsert: AddNode and
// UpdateNode are interchangeable.
func (t *Topology) AddNode(state *State) {
	t.upsert(state)
}

// UpdateNode replaces a node's state wholesale. The routing table is rebuilt
// only when the declared connection set changed.
func (t *Topology) UpdateNode(state *State) {
	t.upsert(state)
}

func (t *Topology) upsert(state *State) {
	if state == nil || state.Identity.ID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := state.Identity.ID
	prev, existed := t.nodes[id]

	snapshot := state.Clone()
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	t.nodes[id] = snapshot

	if !existed || !sameConnections(prev.Connections, snapshot.Connections) {
		t.rebuildLocked()
	}

	t.logger.Debug("node upserted",
		zap.String("node_id", id),
		zap.String("status", string(snapshot.Health.Status)),
		zap.Int("connections", len(snapshot.Connections)),
	)
}

// RemoveNode deletes a node and every graph edge referencing it.
func (t *Topology) RemoveNode(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; !ok {
		return
	}
	delete(t.nodes, id)
	t.rebuildLocked()

	t.logger.Debug("node removed", zap.String("node_id", id))
}

// rebuildLocked recomputes the routing table from the current registry.
// Callers must hold the write lock.
func (t *Topology) rebuildLocked() {
	start := time.Now()
	table := buildRoutingTable(t.nodes)
	t.routes.Store(table)

	t.logger.Debug("routing table rebuilt",
		zap.Int("nodes", len(t.nodes)),
		zap.Int("edges", table.edgeCount),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// GetNode returns a copy of a node's latest state.
func (t *Topology) GetNode(id string) (*State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Nodes returns copies of every registered node state, regardless of status.
func (t *Topology) Nodes() []*State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*State, 0, len(t.nodes))
	for _, state := range t.nodes {
		out = append(out, state.Clone())
	}
	sortByID(out)
	return out
}

// NodeCount returns the number of registered nodes.
func (t *Topology) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// ActiveNodeCount returns the number of nodes with active status.
func (t *Topology) ActiveNodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, state := range t.nodes {
		if state.Selectable() {
			n++
		}
	}
	return n
}

// FindPath returns the cached lowest-latency path between two nodes, or nil
// when either node is unknown or no path exists. Absence of a route is a
// normal outcome, never an error.
func (t *Topology) FindPath(src, dst string) []string {
	return t.routes.Load().path(src, dst)
}

// FindNodesByCapability returns every node advertising the given capability
// tag, regardless of status.
func (t *Topology) FindNodesByCapability(tag string) []*State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*State
	for _, state := range t.nodes {
		if state.Identity.HasCapability(tag) {
			out = append(out, state.Clone())
		}
	}
	sortByID(out)
	return out
}

// GetAvailableNodes returns the nodes eligible for selection: active status,
// available capacity at or above minCapacity, and a capability set covering
// every required tag. It is a pure read with no side effects and is the sole
// selection primitive used by the consensus and coordination layers.
func (t *Topology) GetAvailableNodes(requiredCapabilities []string, minCapacity float64) []*State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*State
	for _, state := range t.nodes {
		if !state.Selectable() {
			continue
		}
		if state.Load.AvailableCapacity < minCapacity {
			continue
		}
		if !coversAll(state.Identity, requiredCapabilities) {
			continue
		}
		out = append(out, state.Clone())
	}
	sortByID(out)
	return out
}

// Health computes an aggregate mesh health snapshot from the current registry
// and routing table.
func (t *Topology) Health() HealthSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	table := t.routes.Load()
	snapshot := HealthSnapshot{
		TotalNodes:     len(t.nodes),
		PartitionCount: table.partitionCount(),
	}

	var loadSum float64
	for _, state := range t.nodes {
		if state.Selectable() {
			snapshot.ActiveNodes++
			loadSum += 1 - state.Load.AvailableCapacity
		}
	}
	if snapshot.ActiveNodes > 0 {
		snapshot.AvgLoad = loadSum / float64(snapshot.ActiveNodes)
	}

	if table.edgeCount > 0 {
		snapshot.AvgLatency = time.Duration(table.latencySum/float64(table.edgeCount)) * time.Millisecond
	}
	if n := len(t.nodes); n > 1 {
		snapshot.ConnectivityRatio = float64(table.edgeCount) / (float64(n) * float64(n-1) / 2)
	}
	return snapshot
}

// coversAll reports whether the identity advertises every required tag.
func coversAll(id Identity, required []string) bool {
	for _, tag := range required {
		if !id.HasCapability(tag) {
			return false
		}
	}
	return true
}

// sameConnections compares two connection lists as multisets, ignoring
// order. Duplicate declarations toward the same peer are counted, not
// collapsed.
func sameConnections(a, b []Connection) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[Connection]int, len(a))
	for _, c := range a {
		counts[c]++
	}
	for _, c := range b {
		counts[c]--
		if counts[c] < 0 {
			return false
		}
	}
	return true
}

func sortByID(states []*State) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Identity.ID < states[j].Identity.ID
	})
}
