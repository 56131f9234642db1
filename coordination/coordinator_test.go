package coordination

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshweave/meshweave/event"
	"github.com/meshweave/meshweave/mesh"
)

func coordMesh(n int) *mesh.Topology {
	topo := mesh.NewTopology(nil)
	for i := 0; i < n; i++ {
		topo.AddNode(&mesh.State{
			Identity: mesh.Identity{
				ID:   fmt.Sprintf("node-%d", i),
				Type: mesh.NodeTypeAuxiliary,
			},
			Health: mesh.Health{Status: mesh.NodeStatusActive},
			Load:   mesh.Load{AvailableCapacity: 0.8},
		})
	}
	return topo
}

// newTestCoordinator disables the timer-driven transitions by pushing the
// grace delay and default duration far out, so tests drive beginExecution
// and expire directly.
func newTestCoordinator(t *testing.T, topo *mesh.Topology, bus event.Bus) *Coordinator {
	t.Helper()
	cfg := DefaultCoordinatorConfig()
	cfg.GraceDelay = time.Hour
	cfg.DefaultDuration = time.Hour
	coord := NewCoordinator(topo, cfg, nil, bus, nil)
	t.Cleanup(coord.Stop)
	return coord
}

func TestCoordinator_InitiateSelectsParticipants(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(3), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 2})
	require.NoError(t, err)

	assert.Equal(t, PhasePlanning, op.Phase)
	assert.Len(t, op.Participants, 3)
	assert.Equal(t, RoleCoordinator, op.Participants[0].Role)
	assert.True(t, op.Deadline.After(op.CreatedAt))

	active := coord.ActiveOperations()
	require.Len(t, active, 1)
	assert.Equal(t, op.ID, active[0].ID)
}

func TestCoordinator_InitiateFailsFastWithoutEvents(t *testing.T) {
	bus := event.NewBus(16, nil)
	defer bus.Stop()

	var events atomic.Int64
	bus.Subscribe(event.TypeAny, func(event.Event) { events.Add(1) })

	coord := newTestCoordinator(t, coordMesh(1), bus)

	_, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 3})
	require.ErrorIs(t, err, ErrInsufficientNodes)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), events.Load(), "failed initiation must not emit events")
	assert.Empty(t, coord.ActiveOperations())
}

func TestCoordinator_IdenticalResultsReachFullConsensus(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(3), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 3})
	require.NoError(t, err)

	coord.beginExecution(op.ID)

	payload := TextPayload("all quiet", "latency spike on node-2")
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", payload, 0.9))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-1", payload, 0.9))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-2", payload, 0.9))

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseCompletion, got.Phase)
	assert.Equal(t, 1.0, got.ConsensusLevel)
	assert.Equal(t, 1.0, got.Progress)

	require.NotNil(t, got.Result)
	assert.True(t, got.Result.ConsensusAchieved)
	assert.False(t, got.Result.Partial)
	assert.Equal(t, "all quiet", got.Result.Outcome.Text)
	assert.Equal(t, []string{"latency spike on node-2"}, got.Result.Insights,
		"insight reported by multiple nodes is emergent")
	assert.Equal(t, 3, got.Result.ParticipantCount)

	assert.Empty(t, coord.ActiveOperations())
	assert.Len(t, coord.History(), 1)
}

func TestCoordinator_ResultDuringPlanningGraceIsAccepted(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(2), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 2})
	require.NoError(t, err)

	// Still planning: the grace timer is parked an hour out.
	payload := TextPayload("early finding")
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", payload, 0.9))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-1", payload, 0.9))

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseCompletion, got.Phase, "thresholds met during grace still complete")
}

func TestCoordinator_RejectsOutsiderAndValidatesInput(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(2), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 2})
	require.NoError(t, err)

	err = coord.SubmitIntermediateResult(op.ID, "stranger", TextPayload("x"), 0.5)
	assert.ErrorIs(t, err, ErrNotParticipant)

	err = coord.SubmitIntermediateResult(op.ID, "node-0", TextPayload("x"), 1.5)
	assert.ErrorIs(t, err, ErrInvalidResult)

	err = coord.SubmitIntermediateResult("missing", "node-0", TextPayload("x"), 0.5)
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestCoordinator_TimeoutSynthesizesPartialResult(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(4), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 4})
	require.NoError(t, err)

	coord.beginExecution(op.ID)

	// Two of four report, below the 0.8 progress threshold.
	payload := TextPayload("partial picture")
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", payload, 0.8))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-1", payload, 0.8))

	coord.expire(op.ID)

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseFailed, got.Phase)

	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Partial)
	assert.Equal(t, "partial picture", got.Result.Outcome.Text)
	// Identical payloads agree fully; the timeout penalty halves confidence.
	assert.InDelta(t, 0.5, got.Result.Confidence, 1e-9)

	// Late result after failure is rejected.
	err = coord.SubmitIntermediateResult(op.ID, "node-2", payload, 0.8)
	assert.ErrorIs(t, err, ErrOperationClosed)
}

func TestCoordinator_ExpireIsNoopOnCompleted(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(2), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 2})
	require.NoError(t, err)
	coord.beginExecution(op.ID)

	payload := TextPayload("done")
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", payload, 1))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-1", payload, 1))

	coord.expire(op.ID)

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseCompletion, got.Phase, "expire must not demote a finished operation")
}

func TestCoordinator_RevisionReplacesEarlierResult(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(3), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 3})
	require.NoError(t, err)
	coord.beginExecution(op.ID)

	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", TextPayload("draft"), 0.5))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", TextPayload("final"), 0.9))

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	assert.InDelta(t, 1.0/3.0, got.Progress, 1e-9, "progress counts distinct nodes")
	assert.Len(t, got.Results, 2, "the raw result list is append-only")
}

func TestCoordinator_AggregationMergesFields(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(2), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAggregation, MinParticipants: 2})
	require.NoError(t, err)
	coord.beginExecution(op.ID)

	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0",
		StructuredPayload(map[string]any{"count": 10, "region": "east"}), 0.9))
	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-1",
		StructuredPayload(map[string]any{"count": 12, "region": "east"}), 0.6))

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	require.Equal(t, PhaseCompletion, got.Phase)

	fields := got.Result.Outcome.Fields
	assert.Equal(t, KindStructured, got.Result.Outcome.Kind)
	assert.Equal(t, 10, fields["count"], "higher confidence wins conflicting keys")
	assert.Equal(t, "east", fields["region"])
}

func TestCoordinator_ConsensusLevelNeedsTwoResults(t *testing.T) {
	coord := newTestCoordinator(t, coordMesh(2), nil)

	op, err := coord.Initiate("node-0", Meta{Type: OpAnalysis, MinParticipants: 2})
	require.NoError(t, err)
	coord.beginExecution(op.ID)

	require.NoError(t, coord.SubmitIntermediateResult(op.ID, "node-0", TextPayload("alone"), 1))

	got, ok := coord.GetOperation(op.ID)
	require.True(t, ok)
	assert.Equal(t, 0.0, got.ConsensusLevel, "a single result has no one to agree with")
	assert.Equal(t, PhaseExecution, got.Phase)
}
