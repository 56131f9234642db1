package consensus

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

// Errors returned by the engine. Absence of a proposal and policy violations
// are the caller's normal negative outcomes; neither is fatal to the engine.
var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrProposalClosed   = errors.New("proposal is not open for voting")
	ErrInvalidVote      = errors.New("invalid vote")
)

// earlyFailParticipation is the participation level above which a clearly
// rejected proposal fails without waiting for its deadline.
const earlyFailParticipation = 0.9

// EngineConfig configures the consensus engine.
type EngineConfig struct {
	// SweepInterval is how often open proposals are checked against their
	// deadlines.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// HistorySize bounds the terminal-proposal history; oldest entries are
	// evicted first.
	HistorySize int `json:"history_size" yaml:"history_size"`

	// BroadcastCapacityFloor is the minimum available capacity for a node to
	// be notified of new proposals. Kept low: any node may want to vote.
	BroadcastCapacityFloor float64 `json:"broadcast_capacity_floor" yaml:"broadcast_capacity_floor"`

	// Defaults are the voting parameters applied when a proposal omits them.
	Defaults Config `json:"defaults" yaml:"defaults"`
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SweepInterval:          30 * time.Second,
		HistorySize:            100,
		BroadcastCapacityFloor: 0.05,
		Defaults:               DefaultConfig(),
	}
}

// ReachedHandler is invoked when a proposal reaches consensus, so the
// coordination layer can schedule implementation. Invoked on its own
// goroutine; it must not call back into the engine synchronously under the
// assumption of lock-free reentry.
type ReachedHandler func(p *Proposal)

// Engine manages the proposal set and quorum voting. It depends on the
// topology for participant discovery and active-node counts.
type Engine struct {
	mu sync.Mutex

	topo      *mesh.Topology
	proposals map[string]*Proposal
	history   *ring.Buffer[*Proposal]

	onReached ReachedHandler

	config EngineConfig
	bus    event.Bus
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine creates a consensus engine. bus may be nil when no observer is
// interested in proposal events.
func NewEngine(topo *mesh.Topology, config EngineConfig, bus event.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultEngineConfig().SweepInterval
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultEngineConfig().HistorySize
	}
	return &Engine{
		topo:      topo,
		proposals: make(map[string]*Proposal),
		history:   ring.New[*Proposal](config.HistorySize),
		config:    config,
		bus:       bus,
		logger:    logger.With(zap.String("component", "consensus_engine")),
		done:      make(chan struct{}),
	}
}

// OnReached registers the handler invoked when a proposal reaches consensus.
func (e *Engine) OnReached(handler ReachedHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReached = handler
}

// Start launches the deadline sweep loop.
func (e *Engine) Start() {
	go e.sweepLoop()
	e.logger.Info("consensus engine started",
		zap.Duration("sweep_interval", e.config.SweepInterval),
	)
}

// Stop halts the sweep loop. In-flight proposals are dropped, not persisted.
func (e *Engine) Stop() {
	e.closeOnce.Do(func() { close(e.done) })
	e.logger.Info("consensus engine stopped")
}

// SubmitProposal opens a proposal for voting and notifies every currently
// available node. The broadcast is not narrowed by capability: any node may
// want to vote.
func (e *Engine) SubmitProposal(proposerID string, content Content, config Config) (*Proposal, error) {
	if proposerID == "" {
		return nil, fmt.Errorf("%w: proposer id is empty", ErrInvalidVote)
	}

	now := time.Now()
	cfg := config.withDefaults()
	p := &Proposal{
		ID:         uuid.New().String(),
		ProposerID: proposerID,
		Content:    content,
		Config:     cfg,
		Deadline:   now.Add(cfg.VotingDuration),
		Status:     StatusOpen,
		CreatedAt:  now,
	}

	e.mu.Lock()
	e.proposals[p.ID] = p
	snapshot := p.Clone()
	e.mu.Unlock()

	notified := e.broadcastTargets()
	e.logger.Info("proposal submitted",
		zap.String("proposal_id", p.ID),
		zap.String("proposer_id", proposerID),
		zap.String("type", content.Type),
		zap.Int("notified", len(notified)),
	)
	e.publish(event.ProposalEvent{
		Kind:       event.TypeProposalSubmitted,
		ProposalID: p.ID,
		ProposerID: proposerID,
		Status:     string(StatusOpen),
		Notified:   notified,
		Timestamp:  now,
	})

	return snapshot, nil
}

// broadcastTargets returns the IDs of nodes notified of a new proposal.
func (e *Engine) broadcastTargets() []string {
	nodes := e.topo.GetAvailableNodes(nil, e.config.BroadcastCapacityFloor)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.Identity.ID)
	}
	return ids
}

// SubmitVote records a vote on an open proposal. A voter's prior vote is
// replaced regardless of claimed timestamps, preventing stale-vote replay.
func (e *Engine) SubmitVote(proposalID, voterID string, choice Choice, confidence float64, reasoning string) error {
	if voterID == "" || !choice.Valid() {
		return fmt.Errorf("%w: voter %q choice %q", ErrInvalidVote, voterID, choice)
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidVote, confidence)
	}

	e.mu.Lock()
	p, ok := e.proposals[proposalID]
	if !ok {
		e.mu.Unlock()
		// A known but retired proposal is a policy rejection, not a miss.
		if closed, found := e.history.Find(func(p *Proposal) bool { return p.ID == proposalID }); found {
			return fmt.Errorf("%w: %s is %s", ErrProposalClosed, proposalID, closed.Status)
		}
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	if p.Status != StatusOpen {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrProposalClosed, proposalID, p.Status)
	}

	// Supersede any prior vote from this voter; ordering is by arrival.
	for i, v := range p.Votes {
		if v.VoterID == voterID {
			p.Votes = append(p.Votes[:i], p.Votes[i+1:]...)
			break
		}
	}
	p.Votes = append(p.Votes, Vote{
		VoterID:    voterID,
		Choice:     choice,
		Confidence: confidence,
		Reasoning:  reasoning,
		CastAt:     time.Now(),
	})

	e.recomputeLocked(p)
	terminal := e.finalizeIfDecidedLocked(p)
	e.mu.Unlock()

	e.publish(event.VoteEvent{
		Kind:       event.TypeVoteSubmitted,
		ProposalID: proposalID,
		VoterID:    voterID,
		Choice:     string(choice),
		Confidence: confidence,
		Timestamp:  time.Now(),
	})
	if terminal != nil {
		e.announceTerminal(terminal)
	}
	return nil
}

// recomputeLocked updates participation and consensus from the current vote
// list. Below required participation, consensus stays at zero: the proposal
// is not yet decidable.
func (e *Engine) recomputeLocked(p *Proposal) {
	active := e.topo.ActiveNodeCount()
	if active == 0 {
		p.Participation = 0
		p.Consensus = 0
		return
	}
	p.Participation = float64(len(p.Votes)) / float64(active)
	if p.Participation < p.Config.RequiredParticipation {
		p.Consensus = 0
		return
	}
	p.Consensus = weightedConsensus(p.Votes)
}

// weightedConsensus computes the confidence-weighted approval fraction.
// Approvals count their full confidence; rejections subtract half theirs;
// abstain and modify contribute weight but no approval.
func weightedConsensus(votes []Vote) float64 {
	var total, approval float64
	for _, v := range votes {
		total += v.Confidence
		switch v.Choice {
		case ChoiceApprove:
			approval += v.Confidence
		case ChoiceReject:
			approval -= 0.5 * v.Confidence
		}
	}
	if total == 0 {
		return 0
	}
	if approval < 0 {
		return 0
	}
	return approval / total
}

// finalizeIfDecidedLocked applies the vote-time terminal rules: threshold met
// finalizes as reached; a well-sampled clear rejection fails immediately.
// Returns a snapshot of the finalized proposal, or nil.
func (e *Engine) finalizeIfDecidedLocked(p *Proposal) *Proposal {
	if p.Consensus >= p.Config.ConsensusThreshold {
		return e.closeLocked(p, StatusReached)
	}
	if p.Participation >= earlyFailParticipation && p.Consensus < p.Config.ConsensusThreshold/2 {
		return e.closeLocked(p, StatusFailed)
	}
	return nil
}

// closeLocked moves a proposal to a terminal state and into history.
func (e *Engine) closeLocked(p *Proposal, status Status) *Proposal {
	p.Status = status
	p.DecidedAt = time.Now()
	delete(e.proposals, p.ID)
	e.history.Push(p)
	return p.Clone()
}

// announceTerminal emits terminal-state events and triggers implementation
// scheduling for reached proposals. Runs outside the engine lock.
func (e *Engine) announceTerminal(p *Proposal) {
	e.logger.Info("proposal finalized",
		zap.String("proposal_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.Float64("consensus", p.Consensus),
		zap.Float64("participation", p.Participation),
	)

	if p.Status == StatusReached {
		e.publish(event.ProposalEvent{
			Kind:       event.TypeConsensusReached,
			ProposalID: p.ID,
			ProposerID: p.ProposerID,
			Status:     string(p.Status),
			Consensus:  p.Consensus,
			Timestamp:  p.DecidedAt,
		})
		e.mu.Lock()
		handler := e.onReached
		e.mu.Unlock()
		if handler != nil {
			go handler(p.Clone())
		}
	}

	e.publish(event.ProposalEvent{
		Kind:       event.TypeProposalFinalized,
		ProposalID: p.ID,
		ProposerID: p.ProposerID,
		Status:     string(p.Status),
		Consensus:  p.Consensus,
		Timestamp:  p.DecidedAt,
	})
}

// GetProposal returns a copy of a proposal, open or historical.
func (e *Engine) GetProposal(id string) (*Proposal, bool) {
	e.mu.Lock()
	if p, ok := e.proposals[id]; ok {
		defer e.mu.Unlock()
		return p.Clone(), true
	}
	e.mu.Unlock()

	p, ok := e.history.Find(func(p *Proposal) bool { return p.ID == id })
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// OpenProposals returns copies of all open proposals.
func (e *Engine) OpenProposals() []*Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, p.Clone())
	}
	return out
}

// History returns copies of terminal proposals, oldest first.
func (e *Engine) History() []*Proposal {
	items := e.history.Items()
	out := make([]*Proposal, 0, len(items))
	for _, p := range items {
		out = append(out, p.Clone())
	}
	return out
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.sweepExpired(time.Now())
		}
	}
}

// sweepExpired finalizes every open proposal past its deadline: threshold met
// at this moment finalizes as reached, otherwise the proposal times out.
// Timeouts are a normal terminal outcome, not an error.
func (e *Engine) sweepExpired(now time.Time) {
	e.mu.Lock()
	var closed []*Proposal
	for _, p := range e.proposals {
		if now.Before(p.Deadline) {
			continue
		}
		e.recomputeLocked(p)
		status := StatusTimedOut
		if p.Consensus >= p.Config.ConsensusThreshold {
			status = StatusReached
		}
		closed = append(closed, e.closeLocked(p, status))
	}
	e.mu.Unlock()

	for _, p := range closed {
		e.announceTerminal(p)
	}
}

func (e *Engine) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
