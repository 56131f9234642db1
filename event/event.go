// Package event defines the typed event stream emitted by the mesh
// coordination components. External collaborators (dashboards, logging,
// persistence) observe the protocol through this stream; emitters never
// block on delivery.
package event

import "time"

// Type identifies the kind of a protocol event.
type Type string

const (
	// TypeNodeConnected indicates a connection was established between two nodes.
	TypeNodeConnected Type = "node_connected"
	// TypeNodeDisconnected indicates a connection was torn down.
	TypeNodeDisconnected Type = "node_disconnected"
	// TypeStateUpdated indicates a node pushed a fresh state snapshot.
	TypeStateUpdated Type = "state_updated"
	// TypeProposalSubmitted indicates a proposal was opened for voting.
	TypeProposalSubmitted Type = "proposal_submitted"
	// TypeVoteSubmitted indicates a vote was cast on an open proposal.
	TypeVoteSubmitted Type = "vote_submitted"
	// TypeConsensusReached indicates a proposal crossed its consensus threshold.
	TypeConsensusReached Type = "consensus_reached"
	// TypeProposalFinalized indicates a proposal entered a terminal state.
	TypeProposalFinalized Type = "proposal_finalized"
	// TypeOperationInitiated indicates a distributed operation was scheduled.
	TypeOperationInitiated Type = "operation_initiated"
	// TypeIntermediateResult indicates a participant submitted a partial result.
	TypeIntermediateResult Type = "intermediate_result_received"
	// TypeOperationProgress indicates an operation phase or progress change.
	TypeOperationProgress Type = "operation_progress"
	// TypeOperationCompleted indicates an operation produced a synthesized result.
	TypeOperationCompleted Type = "operation_completed"
	// TypeOperationTimeout indicates an operation exceeded its expected duration.
	TypeOperationTimeout Type = "operation_timeout"

	// TypeAny subscribes a handler to every event type.
	TypeAny Type = "*"
)

// Event is the interface implemented by all protocol events.
type Event interface {
	EventType() Type
	OccurredAt() time.Time
}

// NodeEvent covers node lifecycle events: connected, disconnected, state updated.
type NodeEvent struct {
	Kind Type `json:"type"`

	// NodeID is the node the event originates from.
	NodeID string `json:"node_id"`

	// PeerID is the remote end of a connect/disconnect, empty for state updates.
	PeerID string `json:"peer_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func (e NodeEvent) EventType() Type        { return e.Kind }
func (e NodeEvent) OccurredAt() time.Time  { return e.Timestamp }

// ProposalEvent covers proposal lifecycle events: submitted, consensus reached,
// finalized.
type ProposalEvent struct {
	Kind Type `json:"type"`

	ProposalID string `json:"proposal_id"`
	ProposerID string `json:"proposer_id"`

	// Status is the proposal status at emission time.
	Status string `json:"status"`

	// Consensus is the confidence-weighted consensus value at emission time.
	Consensus float64 `json:"consensus"`

	// Notified lists the node IDs the proposal was broadcast to; only set on
	// submission.
	Notified []string `json:"notified,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func (e ProposalEvent) EventType() Type       { return e.Kind }
func (e ProposalEvent) OccurredAt() time.Time { return e.Timestamp }

// VoteEvent is emitted for every accepted vote.
type VoteEvent struct {
	Kind Type `json:"type"`

	ProposalID string  `json:"proposal_id"`
	VoterID    string  `json:"voter_id"`
	Choice     string  `json:"choice"`
	Confidence float64 `json:"confidence"`

	Timestamp time.Time `json:"timestamp"`
}

func (e VoteEvent) EventType() Type       { return e.Kind }
func (e VoteEvent) OccurredAt() time.Time { return e.Timestamp }

// OperationEvent covers operation lifecycle events: initiated, intermediate
// result received, progress, completed, timeout.
type OperationEvent struct {
	Kind Type `json:"type"`

	OperationID string `json:"operation_id"`
	InitiatorID string `json:"initiator_id,omitempty"`

	// NodeID is the contributing participant for intermediate results.
	NodeID string `json:"node_id,omitempty"`

	// Phase is the operation phase at emission time.
	Phase string `json:"phase,omitempty"`

	Progress       float64 `json:"progress"`
	ConsensusLevel float64 `json:"consensus_level"`

	Timestamp time.Time `json:"timestamp"`
}

func (e OperationEvent) EventType() Type       { return e.Kind }
func (e OperationEvent) OccurredAt() time.Time { return e.Timestamp }
