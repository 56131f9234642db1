// Package consensus implements proposal lifecycle management and
// confidence-weighted quorum voting over the mesh topology.
package consensus

import (
	"encoding/json"
	"time"
)

// Choice is a voter's decision on a proposal.
type Choice string

const (
	// ChoiceApprove counts toward approval with the vote's full weight.
	ChoiceApprove Choice = "approve"
	// ChoiceReject counts against approval at half the vote's weight.
	ChoiceReject Choice = "reject"
	// ChoiceAbstain contributes participation but no approval weight.
	ChoiceAbstain Choice = "abstain"
	// ChoiceModify requests changes; contributes participation but no
	// approval weight.
	ChoiceModify Choice = "modify"
)

// Valid reports whether the choice is one of the defined values.
func (c Choice) Valid() bool {
	switch c {
	case ChoiceApprove, ChoiceReject, ChoiceAbstain, ChoiceModify:
		return true
	}
	return false
}

// Status is the lifecycle state of a proposal. open is the only non-terminal
// state.
type Status string

const (
	// StatusOpen indicates the proposal is accepting votes.
	StatusOpen Status = "open"
	// StatusReached indicates the consensus threshold was met.
	StatusReached Status = "consensus_reached"
	// StatusFailed indicates a well-sampled rejection before the deadline.
	StatusFailed Status = "failed"
	// StatusTimedOut indicates the deadline passed below threshold.
	StatusTimedOut Status = "timeout"
)

// Terminal reports whether the status is terminal.
func (s Status) Terminal() bool {
	return s == StatusReached || s == StatusFailed || s == StatusTimedOut
}

// Vote is a single voter's weighted decision. A voter's newer vote always
// replaces their older one, ordered by arrival.
type Vote struct {
	// VoterID identifies the voting node.
	VoterID string `json:"voter_id"`

	// Choice is the decision.
	Choice Choice `json:"choice"`

	// Confidence (0-1) is the vote's weight. Low-confidence approvals count
	// less than high-confidence ones, which lets uncertain participants vote
	// without dominating the outcome.
	Confidence float64 `json:"confidence"`

	// Reasoning is free-text explanation for the choice.
	Reasoning string `json:"reasoning,omitempty"`

	// CastAt is when the vote was received.
	CastAt time.Time `json:"cast_at"`
}

// Content is the payload of a proposal.
type Content struct {
	// Type categorizes the proposed work; on approval it becomes the
	// operation type.
	Type string `json:"type"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Spec is an arbitrary machine-readable specification.
	Spec json.RawMessage `json:"spec,omitempty"`

	// Rationale explains why the proposal was raised.
	Rationale string `json:"rationale,omitempty"`
}

// Config holds the voting parameters of a proposal.
type Config struct {
	// VotingDuration is how long the proposal accepts votes.
	VotingDuration time.Duration `json:"voting_duration" yaml:"voting_duration"`

	// RequiredParticipation is the fraction of active nodes that must vote
	// before consensus is decidable. Guards against a small, unrepresentative
	// minority deciding outcomes.
	RequiredParticipation float64 `json:"required_participation" yaml:"required_participation"`

	// ConsensusThreshold is the minimum confidence-weighted approval fraction.
	ConsensusThreshold float64 `json:"consensus_threshold" yaml:"consensus_threshold"`
}

// DefaultConfig returns the default voting parameters.
func DefaultConfig() Config {
	return Config{
		VotingDuration:        30 * time.Minute,
		RequiredParticipation: 0.6,
		ConsensusThreshold:    0.7,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VotingDuration <= 0 {
		c.VotingDuration = def.VotingDuration
	}
	if c.RequiredParticipation <= 0 {
		c.RequiredParticipation = def.RequiredParticipation
	}
	if c.ConsensusThreshold <= 0 {
		c.ConsensusThreshold = def.ConsensusThreshold
	}
	return c
}

// Proposal is a unit of work submitted for quorum approval.
type Proposal struct {
	// ID uniquely identifies the proposal.
	ID string `json:"id"`

	// ProposerID is the submitting node.
	ProposerID string `json:"proposer_id"`

	// Content is the proposal payload.
	Content Content `json:"content"`

	// Config holds the voting parameters.
	Config Config `json:"config"`

	// Deadline is when voting closes.
	Deadline time.Time `json:"deadline"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Votes are the counted votes, one per voter, ordered by arrival.
	Votes []Vote `json:"votes"`

	// Consensus is the current confidence-weighted approval value (0-1).
	// It stays at zero until required participation is met.
	Consensus float64 `json:"consensus"`

	// Participation is the fraction of active nodes that have voted.
	Participation float64 `json:"participation"`

	// CreatedAt is when the proposal was opened.
	CreatedAt time.Time `json:"created_at"`

	// DecidedAt is when the proposal reached a terminal state.
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	out := *p
	out.Votes = append([]Vote(nil), p.Votes...)
	out.Content.Spec = append(json.RawMessage(nil), p.Content.Spec...)
	return &out
}
