package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeNode(id string, capacity float64, caps []string, conns ...Connection) *State {
	return &State{
		Identity: Identity{
			ID:           id,
			Region:       "test",
			Type:         NodeTypeAuxiliary,
			Capabilities: caps,
		},
		Health: Health{
			Status:        NodeStatusActive,
			LastHeartbeat: time.Now(),
		},
		Load: Load{
			AvailableCapacity: capacity,
		},
		Connections: conns,
	}
}

func link(target string, latency time.Duration) Connection {
	return Connection{
		TargetID: target,
		Type:     ConnectionDirect,
		Strength: 0.5,
		Latency:  latency,
		Trust:    0.5,
	}
}

func TestTopology_UpsertAndGet(t *testing.T) {
	topo := NewTopology(nil)

	topo.AddNode(activeNode("node-a", 0.8, []string{"analysis"}))
	require.Equal(t, 1, topo.NodeCount())

	state, ok := topo.GetNode("node-a")
	require.True(t, ok)
	assert.Equal(t, "node-a", state.Identity.ID)
	assert.False(t, state.Timestamp.IsZero(), "timestamp should be filled in")

	// Update replaces wholesale.
	updated := activeNode("node-a", 0.3, []string{"analysis", "storage"})
	topo.UpdateNode(updated)

	state, ok = topo.GetNode("node-a")
	require.True(t, ok)
	assert.Equal(t, 0.3, state.Load.AvailableCapacity)
	assert.True(t, state.Identity.HasCapability("storage"))
	assert.Equal(t, 1, topo.NodeCount(), "upsert must not duplicate")
}

func TestTopology_GetNodeReturnsCopy(t *testing.T) {
	topo := NewTopology(nil)
	topo.AddNode(activeNode("node-a", 0.8, []string{"analysis"}))

	state, ok := topo.GetNode("node-a")
	require.True(t, ok)
	state.Load.AvailableCapacity = 0

	again, ok := topo.GetNode("node-a")
	require.True(t, ok)
	assert.Equal(t, 0.8, again.Load.AvailableCapacity, "caller mutation must not leak into the registry")
}

func TestTopology_RemoveNode(t *testing.T) {
	topo := NewTopology(nil)
	topo.AddNode(activeNode("node-a", 0.8, nil, link("node-b", 10*time.Millisecond)))
	topo.AddNode(activeNode("node-b", 0.8, nil))

	require.NotNil(t, topo.FindPath("node-a", "node-b"))

	topo.RemoveNode("node-b")

	_, ok := topo.GetNode("node-b")
	assert.False(t, ok)
	assert.Nil(t, topo.FindPath("node-a", "node-b"), "routes to a removed node must disappear")

	// Removing an unknown node is a no-op.
	topo.RemoveNode("node-x")
	assert.Equal(t, 1, topo.NodeCount())
}

func TestTopology_FindPathPrefersLowLatency(t *testing.T) {
	topo := NewTopology(nil)

	// a-b-c is 20ms total, a-c direct is 50ms.
	topo.AddNode(activeNode("a", 0.8, nil,
		link("b", 10*time.Millisecond),
		link("c", 50*time.Millisecond),
	))
	topo.AddNode(activeNode("b", 0.8, nil, link("c", 10*time.Millisecond)))
	topo.AddNode(activeNode("c", 0.8, nil))

	assert.Equal(t, []string{"a", "b", "c"}, topo.FindPath("a", "c"))
}

func TestTopology_FindPathEdgeCases(t *testing.T) {
	topo := NewTopology(nil)
	topo.AddNode(activeNode("a", 0.8, nil))
	topo.AddNode(activeNode("b", 0.8, nil))

	assert.Equal(t, []string{"a"}, topo.FindPath("a", "a"), "self path is the node itself")
	assert.Nil(t, topo.FindPath("a", "b"), "disconnected nodes have no path")
	assert.Nil(t, topo.FindPath("a", "ghost"), "unknown destination has no path")
	assert.Nil(t, topo.FindPath("ghost", "a"), "unknown source has no path")
}

func TestTopology_DuplicateLinkChangeTriggersRebuild(t *testing.T) {
	topo := NewTopology(nil)

	// Two declared links to the same peer; routing keeps the cheaper one.
	topo.AddNode(activeNode("a", 0.8, nil,
		link("b", 10*time.Millisecond),
		link("b", 50*time.Millisecond),
	))
	topo.AddNode(activeNode("b", 0.8, nil))
	assert.InDelta(t, 10.0, topo.routes.Load().cost("a", "b"), 1e-9)

	// Same list length and same peer, but the cheap link is gone. The
	// update must still rebuild the routing table.
	topo.UpdateNode(activeNode("a", 0.8, nil,
		link("b", 50*time.Millisecond),
		link("b", 50*time.Millisecond),
	))
	assert.InDelta(t, 50.0, topo.routes.Load().cost("a", "b"), 1e-9)
}

func TestTopology_ConnectionsAreBidirectional(t *testing.T) {
	topo := NewTopology(nil)

	// Only a declares the link; routing must still work both ways.
	topo.AddNode(activeNode("a", 0.8, nil, link("b", 10*time.Millisecond)))
	topo.AddNode(activeNode("b", 0.8, nil))

	assert.Equal(t, []string{"a", "b"}, topo.FindPath("a", "b"))
	assert.Equal(t, []string{"b", "a"}, topo.FindPath("b", "a"))
}

func TestTopology_GetAvailableNodes(t *testing.T) {
	topo := NewTopology(nil)

	topo.AddNode(activeNode("fit", 0.8, []string{"analysis", "storage"}))
	topo.AddNode(activeNode("busy", 0.05, []string{"analysis"}))
	topo.AddNode(activeNode("wrong-caps", 0.9, []string{"render"}))

	offline := activeNode("offline", 0.9, []string{"analysis"})
	offline.Health.Status = NodeStatusOffline
	topo.AddNode(offline)

	degraded := activeNode("degraded", 0.9, []string{"analysis"})
	degraded.Health.Status = NodeStatusDegraded
	topo.AddNode(degraded)

	got := topo.GetAvailableNodes([]string{"analysis"}, 0.1)
	require.Len(t, got, 1)
	assert.Equal(t, "fit", got[0].Identity.ID)

	// No capability filter admits every active node above the floor.
	got = topo.GetAvailableNodes(nil, 0.1)
	require.Len(t, got, 2)
	assert.Equal(t, "fit", got[0].Identity.ID)
	assert.Equal(t, "wrong-caps", got[1].Identity.ID)
}

func TestTopology_FindNodesByCapability(t *testing.T) {
	topo := NewTopology(nil)
	topo.AddNode(activeNode("b", 0.8, []string{"analysis"}))
	topo.AddNode(activeNode("a", 0.8, []string{"analysis"}))

	offline := activeNode("c", 0.8, []string{"analysis"})
	offline.Health.Status = NodeStatusOffline
	topo.AddNode(offline)

	got := topo.FindNodesByCapability("analysis")
	require.Len(t, got, 3, "capability lookup ignores status")
	assert.Equal(t, "a", got[0].Identity.ID)
	assert.Equal(t, "b", got[1].Identity.ID)
}

func TestTopology_Health(t *testing.T) {
	topo := NewTopology(nil)

	empty := topo.Health()
	assert.Equal(t, 0, empty.TotalNodes)
	assert.Equal(t, 0, empty.PartitionCount)

	topo.AddNode(activeNode("a", 0.8, nil, link("b", 10*time.Millisecond)))
	topo.AddNode(activeNode("b", 0.6, nil))
	topo.AddNode(activeNode("c", 0.4, nil))

	h := topo.Health()
	assert.Equal(t, 3, h.TotalNodes)
	assert.Equal(t, 3, h.ActiveNodes)
	assert.InDelta(t, (0.2+0.4+0.6)/3, h.AvgLoad, 1e-9)
	assert.Equal(t, 2, h.PartitionCount, "c is isolated")
	// One edge out of three possible.
	assert.InDelta(t, 1.0/3.0, h.ConnectivityRatio, 1e-9)
	assert.Equal(t, 10*time.Millisecond, h.AvgLatency)
}
