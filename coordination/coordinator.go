package coordination

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshweave/meshweave/event"
	"github.com/meshweave/meshweave/internal/ring"
	"github.com/meshweave/meshweave/mesh"
)

// Errors returned by the coordinator. Not-found and policy violations only
// affect the offending call; nothing here is fatal to the coordinator.
var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrNotParticipant    = errors.New("node is not a participant of the operation")
	ErrOperationClosed   = errors.New("operation is in a terminal phase")
	ErrPhaseRejected     = errors.New("operation phase does not accept results")
	ErrInsufficientNodes = errors.New("not enough eligible nodes")
	ErrInvalidResult     = errors.New("invalid intermediate result")
)

// CoordinatorConfig configures the operation coordinator.
type CoordinatorConfig struct {
	// GraceDelay is the pause between participant notification and the
	// execution phase, giving participants time to prepare.
	GraceDelay time.Duration `json:"grace_delay" yaml:"grace_delay"`

	// MinCapacity is the available-capacity floor for eligibility.
	MinCapacity float64 `json:"min_capacity" yaml:"min_capacity"`

	// ProgressThreshold is the contribution fraction required to enter
	// validation.
	ProgressThreshold float64 `json:"progress_threshold" yaml:"progress_threshold"`

	// AgreementThreshold is the consensus level required to enter validation
	// and to count the outcome as consensus-achieved.
	AgreementThreshold float64 `json:"agreement_threshold" yaml:"agreement_threshold"`

	// TimeoutPenalty scales the confidence of a partial synthesis after a
	// timeout.
	TimeoutPenalty float64 `json:"timeout_penalty" yaml:"timeout_penalty"`

	// DefaultDuration is the expected duration applied when an operation
	// omits one.
	DefaultDuration time.Duration `json:"default_duration" yaml:"default_duration"`

	// HistorySize bounds the terminal-operation history.
	HistorySize int `json:"history_size" yaml:"history_size"`
}

// DefaultCoordinatorConfig returns a CoordinatorConfig with sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		GraceDelay:         2 * time.Second,
		MinCapacity:        0.1,
		ProgressThreshold:  0.8,
		AgreementThreshold: 0.6,
		TimeoutPenalty:     0.5,
		DefaultDuration:    5 * time.Minute,
		HistorySize:        100,
	}
}

// Coordinator schedules distributed operations over the topology and drives
// them through the phase state machine. Deadlines are timers, not blocking
// waits, so one coordinator tracks any number of concurrent operations.
type Coordinator struct {
	mu sync.Mutex

	topo    *mesh.Topology
	ops     map[string]*Operation
	timers  map[string]*opTimers
	history *ring.Buffer[*Operation]

	similarity Similarity
	config     CoordinatorConfig
	bus        event.Bus
	logger     *zap.Logger
}

type opTimers struct {
	grace   *time.Timer
	timeout *time.Timer
}

func (t *opTimers) stop() {
	if t == nil {
		return
	}
	if t.grace != nil {
		t.grace.Stop()
	}
	if t.timeout != nil {
		t.timeout.Stop()
	}
}

// NewCoordinator creates an operation coordinator. similarity may be nil to
// use the default heuristic; bus may be nil when no observer is interested.
func NewCoordinator(topo *mesh.Topology, config CoordinatorConfig, similarity Similarity, bus event.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if similarity == nil {
		similarity = DefaultSimilarity{}
	}
	def := DefaultCoordinatorConfig()
	if config.ProgressThreshold <= 0 {
		config.ProgressThreshold = def.ProgressThreshold
	}
	if config.AgreementThreshold <= 0 {
		config.AgreementThreshold = def.AgreementThreshold
	}
	if config.TimeoutPenalty <= 0 {
		config.TimeoutPenalty = def.TimeoutPenalty
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = def.DefaultDuration
	}
	if config.HistorySize <= 0 {
		config.HistorySize = def.HistorySize
	}
	return &Coordinator{
		topo:       topo,
		ops:        make(map[string]*Operation),
		timers:     make(map[string]*opTimers),
		history:    ring.New[*Operation](config.HistorySize),
		similarity: similarity,
		config:     config,
		bus:        bus,
		logger:     logger.With(zap.String("component", "operation_coordinator")),
	}
}

// Initiate selects participants for an operation and schedules it. When fewer
// eligible nodes exist than the minimum, initiation fails fast before any
// participant is notified and no event is emitted.
func (c *Coordinator) Initiate(initiatorID string, meta Meta) (*Operation, error) {
	if meta.MinParticipants < 1 {
		meta.MinParticipants = 1
	}
	if meta.ExpectedDuration <= 0 {
		meta.ExpectedDuration = c.config.DefaultDuration
	}

	eligible := c.topo.GetAvailableNodes(nil, c.config.MinCapacity)
	if len(eligible) < meta.MinParticipants {
		return nil, fmt.Errorf("%w: need %d, have %d eligible",
			ErrInsufficientNodes, meta.MinParticipants, len(eligible))
	}

	now := time.Now()
	op := &Operation{
		ID:           uuid.New().String(),
		InitiatorID:  initiatorID,
		Meta:         meta,
		Participants: selectParticipants(eligible, meta),
		Phase:        PhasePlanning,
		CreatedAt:    now,
		Deadline:     now.Add(meta.ExpectedDuration),
	}

	c.mu.Lock()
	c.ops[op.ID] = op
	id := op.ID
	c.timers[id] = &opTimers{
		grace:   time.AfterFunc(c.config.GraceDelay, func() { c.beginExecution(id) }),
		timeout: time.AfterFunc(meta.ExpectedDuration, func() { c.expire(id) }),
	}
	snapshot := op.Clone()
	c.mu.Unlock()

	c.logger.Info("operation initiated",
		zap.String("operation_id", op.ID),
		zap.String("initiator_id", initiatorID),
		zap.String("type", meta.Type),
		zap.Int("participants", len(op.Participants)),
	)
	c.publish(event.OperationEvent{
		Kind:        event.TypeOperationInitiated,
		OperationID: op.ID,
		InitiatorID: initiatorID,
		Phase:       string(PhasePlanning),
		Timestamp:   now,
	})
	return snapshot, nil
}

// beginExecution moves a planned operation into the execution phase once the
// grace delay elapses.
func (c *Coordinator) beginExecution(id string) {
	c.mu.Lock()
	op, ok := c.ops[id]
	if !ok || op.Phase != PhasePlanning {
		c.mu.Unlock()
		return
	}
	op.Phase = PhaseExecution
	snapshot := op.Clone()
	c.mu.Unlock()

	c.emitProgress(snapshot)
}

// SubmitIntermediateResult records a participant's partial result, recomputes
// progress and the running consensus level, and advances the phase machine
// when both thresholds are met. Results arriving during the planning grace
// window are accepted and counted once execution starts.
func (c *Coordinator) SubmitIntermediateResult(operationID, nodeID string, payload Payload, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidResult, confidence)
	}
	if payload.Kind == "" {
		payload.Kind = KindGeneric
	}

	c.mu.Lock()
	op, ok := c.ops[operationID]
	if !ok {
		c.mu.Unlock()
		// A known but retired operation is a policy rejection, not a miss.
		if done, found := c.history.Find(func(op *Operation) bool { return op.ID == operationID }); found {
			return fmt.Errorf("%w: %s is %s", ErrOperationClosed, operationID, done.Phase)
		}
		return fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	if op.Phase.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrOperationClosed, operationID, op.Phase)
	}
	if op.Phase == PhaseValidation {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s already validating", ErrPhaseRejected, operationID)
	}
	if _, ok := op.participant(nodeID); !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s in operation %s", ErrNotParticipant, nodeID, operationID)
	}

	op.Results = append(op.Results, IntermediateResult{
		NodeID:     nodeID,
		Payload:    payload,
		Confidence: confidence,
		ReceivedAt: time.Now(),
	})
	op.Progress = float64(len(latestPerNode(op.Results))) / float64(len(op.Participants))
	op.ConsensusLevel = c.consensusLevel(op.Results)

	var completed *Operation
	snapshot := op.Clone()
	if op.Progress >= c.config.ProgressThreshold && op.ConsensusLevel >= c.config.AgreementThreshold {
		completed = c.completeLocked(op)
	}
	c.mu.Unlock()

	c.publish(event.OperationEvent{
		Kind:           event.TypeIntermediateResult,
		OperationID:    operationID,
		NodeID:         nodeID,
		Phase:          string(snapshot.Phase),
		Progress:       snapshot.Progress,
		ConsensusLevel: snapshot.ConsensusLevel,
		Timestamp:      time.Now(),
	})
	c.emitProgress(snapshot)
	if completed != nil {
		c.announceCompleted(completed)
	}
	return nil
}

// completeLocked advances an operation through validation into completion and
// synthesizes the final result. Callers must hold the lock.
func (c *Coordinator) completeLocked(op *Operation) *Operation {
	if op.Phase == PhasePlanning {
		// Thresholds met during the grace window; pass through execution so
		// phases stay strictly forward.
		op.Phase = PhaseExecution
	}
	op.Phase = PhaseValidation

	result := c.synthesize(op, false)
	op.Result = &result
	op.Phase = PhaseCompletion
	op.FinishedAt = time.Now()

	c.retireLocked(op)
	return op.Clone()
}

// expire fails an operation whose expected duration elapsed without
// completion. Whatever intermediate results exist are synthesized into a
// best-effort partial result at a confidence penalty rather than discarded.
func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	op, ok := c.ops[id]
	if !ok || op.Phase.Terminal() {
		c.mu.Unlock()
		return
	}
	op.Phase = PhaseFailed
	result := c.synthesize(op, true)
	op.Result = &result
	op.FinishedAt = time.Now()
	c.retireLocked(op)
	snapshot := op.Clone()
	c.mu.Unlock()

	c.logger.Warn("operation timed out",
		zap.String("operation_id", id),
		zap.Float64("progress", snapshot.Progress),
		zap.Int("partial_results", len(snapshot.Results)),
	)
	c.publish(event.OperationEvent{
		Kind:           event.TypeOperationTimeout,
		OperationID:    id,
		InitiatorID:    snapshot.InitiatorID,
		Phase:          string(PhaseFailed),
		Progress:       snapshot.Progress,
		ConsensusLevel: snapshot.ConsensusLevel,
		Timestamp:      snapshot.FinishedAt,
	})
}

// retireLocked moves a terminal operation from the active set into history
// and stops its timers.
func (c *Coordinator) retireLocked(op *Operation) {
	delete(c.ops, op.ID)
	c.timers[op.ID].stop()
	delete(c.timers, op.ID)
	c.history.Push(op)
}

func (c *Coordinator) announceCompleted(op *Operation) {
	c.logger.Info("operation completed",
		zap.String("operation_id", op.ID),
		zap.Float64("consensus_level", op.ConsensusLevel),
		zap.Bool("consensus_achieved", op.Result.ConsensusAchieved),
		zap.Int("insights", len(op.Result.Insights)),
	)
	c.publish(event.OperationEvent{
		Kind:           event.TypeOperationCompleted,
		OperationID:    op.ID,
		InitiatorID:    op.InitiatorID,
		Phase:          string(op.Phase),
		Progress:       op.Progress,
		ConsensusLevel: op.ConsensusLevel,
		Timestamp:      op.FinishedAt,
	})
}

// GetOperation returns a copy of an operation, active or historical.
func (c *Coordinator) GetOperation(id string) (*Operation, bool) {
	c.mu.Lock()
	if op, ok := c.ops[id]; ok {
		defer c.mu.Unlock()
		return op.Clone(), true
	}
	c.mu.Unlock()

	op, ok := c.history.Find(func(op *Operation) bool { return op.ID == id })
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// ActiveOperations returns copies of all non-terminal operations.
func (c *Coordinator) ActiveOperations() []*Operation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Operation, 0, len(c.ops))
	for _, op := range c.ops {
		out = append(out, op.Clone())
	}
	return out
}

// History returns copies of terminal operations, oldest first.
func (c *Coordinator) History() []*Operation {
	items := c.history.Items()
	out := make([]*Operation, 0, len(items))
	for _, op := range items {
		out = append(out, op.Clone())
	}
	return out
}

// Stop cancels all timers. In-flight operations are dropped, not persisted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.stop()
		delete(c.timers, id)
	}
}

// consensusLevel computes the confidence-weighted mean pairwise similarity
// over the latest result per participant. Below two results agreement cannot
// be assessed and the level is zero.
func (c *Coordinator) consensusLevel(results []IntermediateResult) float64 {
	latest := latestPerNode(results)
	if len(latest) < 2 {
		return 0
	}
	var num, den float64
	for i := 0; i < len(latest); i++ {
		for j := i + 1; j < len(latest); j++ {
			w := latest[i].Confidence * latest[j].Confidence
			num += w * c.similarity.Compare(latest[i].Payload, latest[j].Payload)
			den += w
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// latestPerNode reduces the append-only result list to each participant's
// most recent contribution, preserving arrival order.
func latestPerNode(results []IntermediateResult) []IntermediateResult {
	index := make(map[string]int, len(results))
	var latest []IntermediateResult
	for _, r := range results {
		if i, ok := index[r.NodeID]; ok {
			latest[i] = r
			continue
		}
		index[r.NodeID] = len(latest)
		latest = append(latest, r)
	}
	return latest
}

func (c *Coordinator) emitProgress(op *Operation) {
	c.publish(event.OperationEvent{
		Kind:           event.TypeOperationProgress,
		OperationID:    op.ID,
		InitiatorID:    op.InitiatorID,
		Phase:          string(op.Phase),
		Progress:       op.Progress,
		ConsensusLevel: op.ConsensusLevel,
		Timestamp:      time.Now(),
	})
}

func (c *Coordinator) publish(ev event.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
