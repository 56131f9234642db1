package coordination

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshweave/meshweave/mesh"
)

func eligibleNode(id string, nodeType mesh.NodeType, capacity float64, caps []string, connCount int) *mesh.State {
	conns := make([]mesh.Connection, connCount)
	for i := range conns {
		conns[i] = mesh.Connection{TargetID: fmt.Sprintf("peer-%d", i), Type: mesh.ConnectionDirect}
	}
	return &mesh.State{
		Identity: mesh.Identity{
			ID:           id,
			Type:         nodeType,
			Capabilities: caps,
		},
		Health:      mesh.Health{Status: mesh.NodeStatusActive},
		Load:        mesh.Load{AvailableCapacity: capacity},
		Connections: conns,
	}
}

func participantIDs(ps []Participant) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.NodeID
	}
	return ids
}

func TestScoreNode(t *testing.T) {
	required := []string{"analysis", "storage"}

	full := eligibleNode("full", mesh.NodeTypePrimary, 1.0, required, 10)
	// 0.4*1 + 0.3*1 + 0.2*1 + 0.1 primary bonus
	assert.InDelta(t, 1.0, scoreNode(full, required), 1e-9)

	half := eligibleNode("half", mesh.NodeTypeAuxiliary, 0.5, []string{"analysis"}, 0)
	// 0.4*0.5 + 0.3*0.5
	assert.InDelta(t, 0.35, scoreNode(half, required), 1e-9)

	specialist := eligibleNode("spec", mesh.NodeTypeSpecialist, 0, nil, 5)
	// 0.2 connectivity + 0.05 specialist bonus, zero coverage of 2 tags
	assert.InDelta(t, 0.25, scoreNode(specialist, required), 1e-9)

	// Connectivity saturates at the cap.
	five := eligibleNode("five", mesh.NodeTypeAuxiliary, 0, nil, 5)
	twenty := eligibleNode("twenty", mesh.NodeTypeAuxiliary, 0, nil, 20)
	assert.Equal(t, scoreNode(five, nil), scoreNode(twenty, nil))
}

func TestSelectParticipants_CoverageBeatsScore(t *testing.T) {
	// Three high scorers with the same capability, one low scorer holding
	// the only copy of a second required capability.
	eligible := []*mesh.State{
		eligibleNode("big-1", mesh.NodeTypePrimary, 1.0, []string{"analysis"}, 5),
		eligibleNode("big-2", mesh.NodeTypePrimary, 0.9, []string{"analysis"}, 5),
		eligibleNode("big-3", mesh.NodeTypePrimary, 0.8, []string{"analysis"}, 5),
		eligibleNode("rare", mesh.NodeTypeAuxiliary, 0.2, []string{"storage"}, 0),
	}

	got := selectParticipants(eligible, Meta{
		RequiredCapabilities: []string{"analysis", "storage"},
		MinParticipants:      1,
		MaxParticipants:      2,
	})

	require.Len(t, got, 2)
	assert.Contains(t, participantIDs(got), "rare", "sole holder of a required capability must be selected")
	assert.Contains(t, participantIDs(got), "big-1")
}

func TestSelectParticipants_RespectsBounds(t *testing.T) {
	var eligible []*mesh.State
	for i := 0; i < 6; i++ {
		eligible = append(eligible, eligibleNode(fmt.Sprintf("node-%d", i), mesh.NodeTypeAuxiliary, 0.5, nil, 1))
	}

	capped := selectParticipants(eligible, Meta{MinParticipants: 1, MaxParticipants: 3})
	assert.Len(t, capped, 3)

	uncapped := selectParticipants(eligible, Meta{MinParticipants: 2})
	assert.Len(t, uncapped, 6, "zero max means no cap")
}

func TestSelectParticipants_PartialCoverage(t *testing.T) {
	// Nobody covers "render"; selection still proceeds with the best
	// achievable coverage.
	eligible := []*mesh.State{
		eligibleNode("a", mesh.NodeTypeAuxiliary, 0.8, []string{"analysis"}, 1),
		eligibleNode("b", mesh.NodeTypeAuxiliary, 0.6, nil, 1),
	}

	got := selectParticipants(eligible, Meta{
		RequiredCapabilities: []string{"analysis", "render"},
		MinParticipants:      1,
		MaxParticipants:      2,
	})

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].NodeID)
	assert.Equal(t, []string{"analysis"}, got[0].Expertise)
}

func TestAssignRoles(t *testing.T) {
	eligible := []*mesh.State{
		eligibleNode("leader", mesh.NodeTypePrimary, 1.0, nil, 5),
		eligibleNode("worker", mesh.NodeTypeAuxiliary, 0.7, nil, 2),
		eligibleNode("checker", mesh.NodeTypeSpecialist, 0.6, nil, 2),
		eligibleNode("watcher", mesh.NodeTypeObserver, 0.5, nil, 0),
	}

	got := selectParticipants(eligible, Meta{MinParticipants: 4})
	require.Len(t, got, 4)

	byID := make(map[string]Role, len(got))
	for _, p := range got {
		byID[p.NodeID] = p.Role
	}
	assert.Equal(t, RoleCoordinator, byID["leader"], "top scorer coordinates")
	assert.Equal(t, RoleContributor, byID["worker"])
	assert.Equal(t, RoleValidator, byID["checker"])
	assert.Equal(t, RoleObserver, byID["watcher"])
}
