// Package coordination implements the operation coordinator: it turns an
// authorized intent into a concrete multi-node execution, drives participants
// through a phase state machine, and synthesizes one aggregate result from
// their intermediate contributions.
package coordination

import (
	"time"
)

// Role is a participant's function within an operation.
type Role string

const (
	// RoleCoordinator leads the operation; exactly one per operation.
	RoleCoordinator Role = "coordinator"
	// RoleContributor performs the work and submits results.
	RoleContributor Role = "contributor"
	// RoleValidator cross-checks contributed results.
	RoleValidator Role = "validator"
	// RoleObserver watches without contributing.
	RoleObserver Role = "observer"
)

// Phase is the execution phase of an operation. Phases move strictly forward;
// failed is terminal and reachable from execution on timeout.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseExecution  Phase = "execution"
	PhaseValidation Phase = "validation"
	PhaseCompletion Phase = "completion"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase is terminal.
func (p Phase) Terminal() bool {
	return p == PhaseCompletion || p == PhaseFailed
}

// Well-known operation types with dedicated synthesis strategies. Types
// outside this set fall back to generic synthesis.
const (
	// OpAnalysis produces free-text findings; synthesis merges around the
	// highest-confidence narrative.
	OpAnalysis = "analysis"
	// OpAggregation produces structured fields; synthesis merges field maps,
	// preferring higher-confidence contributions on conflict.
	OpAggregation = "aggregation"
)

// PayloadKind tags the variant of a result payload.
type PayloadKind string

const (
	// KindText is a free-text payload.
	KindText PayloadKind = "text"
	// KindStructured is a key-value payload.
	KindStructured PayloadKind = "structured"
	// KindGeneric is the fallback for unrecognized shapes.
	KindGeneric PayloadKind = "generic"
)

// Payload is a tagged result variant. Modeling results as a variant keyed by
// kind keeps synthesis logic typed instead of probing an untyped blob.
type Payload struct {
	// Kind selects the variant.
	Kind PayloadKind `json:"kind"`

	// Text carries the text variant.
	Text string `json:"text,omitempty"`

	// Fields carries the structured variant.
	Fields map[string]any `json:"fields,omitempty"`

	// Insights are notable observations the participant surfaced alongside
	// its result. Insights reported by more than one participant become
	// emergent insights of the synthesized outcome.
	Insights []string `json:"insights,omitempty"`
}

// TextPayload builds a text payload.
func TextPayload(text string, insights ...string) Payload {
	return Payload{Kind: KindText, Text: text, Insights: insights}
}

// StructuredPayload builds a structured payload.
func StructuredPayload(fields map[string]any, insights ...string) Payload {
	return Payload{Kind: KindStructured, Fields: fields, Insights: insights}
}

// Meta describes an operation before participants are selected.
type Meta struct {
	// Type categorizes the operation and selects its synthesis strategy.
	Type string `json:"type" yaml:"type"`

	// Priority orders competing operations; higher is sooner.
	Priority int `json:"priority" yaml:"priority"`

	// ExpectedDuration bounds execution; exceeding it fails the operation
	// with a best-effort partial synthesis.
	ExpectedDuration time.Duration `json:"expected_duration" yaml:"expected_duration"`

	// RequiredCapabilities are the capability tags the participant set should
	// cover. Coverage is maximized, not mandated: when full coverage is not
	// achievable the best achievable coverage is selected.
	RequiredCapabilities []string `json:"required_capabilities" yaml:"required_capabilities"`

	// MinParticipants is the minimum viable participant count.
	MinParticipants int `json:"min_participants" yaml:"min_participants"`

	// MaxParticipants caps the participant count. Zero means no cap.
	MaxParticipants int `json:"max_participants" yaml:"max_participants"`
}

// Participant is a selected node with its role in the operation.
type Participant struct {
	// NodeID identifies the participating node.
	NodeID string `json:"node_id"`

	// Role is the participant's function.
	Role Role `json:"role"`

	// CommittedCapacity is the capacity fraction the node had available at
	// selection time.
	CommittedCapacity float64 `json:"committed_capacity"`

	// Expertise are the required capability tags this participant covers.
	Expertise []string `json:"expertise,omitempty"`
}

// IntermediateResult is one participant's partial contribution. The result
// list is append-only and ordered by arrival.
type IntermediateResult struct {
	// NodeID is the contributing participant.
	NodeID string `json:"node_id"`

	// Payload is the contributed result.
	Payload Payload `json:"payload"`

	// Confidence (0-1) weights the contribution in consensus computation.
	Confidence float64 `json:"confidence"`

	// ReceivedAt is the arrival time at the coordinator.
	ReceivedAt time.Time `json:"received_at"`
}

// Result is the synthesized outcome of an operation.
type Result struct {
	// Outcome is the synthesized payload.
	Outcome Payload `json:"outcome"`

	// Confidence is the consensus level at synthesis time, reduced by the
	// timeout penalty for partial syntheses.
	Confidence float64 `json:"confidence"`

	// ParticipantCount is the number of selected participants.
	ParticipantCount int `json:"participant_count"`

	// ConsensusAchieved reports whether the consensus level met the
	// agreement threshold.
	ConsensusAchieved bool `json:"consensus_achieved"`

	// Insights are emergent insights: observations reported independently by
	// more than one participant.
	Insights []string `json:"insights,omitempty"`

	// Partial marks a best-effort synthesis from incomplete results after a
	// timeout.
	Partial bool `json:"partial"`
}

// Operation is a scheduled multi-node collaborative task.
type Operation struct {
	// ID uniquely identifies the operation.
	ID string `json:"id"`

	// InitiatorID is the node that initiated the operation.
	InitiatorID string `json:"initiator_id"`

	// Meta is the operation description.
	Meta Meta `json:"meta"`

	// Participants are the selected nodes with roles.
	Participants []Participant `json:"participants"`

	// Phase is the current execution phase.
	Phase Phase `json:"phase"`

	// Progress is the fraction of participants that have contributed (0-1).
	Progress float64 `json:"progress"`

	// Results are the intermediate results, append-only, ordered by arrival.
	Results []IntermediateResult `json:"results"`

	// ConsensusLevel is the running confidence-weighted agreement across
	// intermediate results (0-1).
	ConsensusLevel float64 `json:"consensus_level"`

	// Result is the synthesized outcome, set on completion or failure.
	Result *Result `json:"result,omitempty"`

	// CreatedAt is when the operation was initiated.
	CreatedAt time.Time `json:"created_at"`

	// Deadline is CreatedAt plus the expected duration.
	Deadline time.Time `json:"deadline"`

	// FinishedAt is when the operation reached a terminal phase.
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	out := *o
	out.Participants = append([]Participant(nil), o.Participants...)
	out.Results = append([]IntermediateResult(nil), o.Results...)
	if o.Result != nil {
		res := *o.Result
		out.Result = &res
	}
	return &out
}

// participant returns the participant entry for a node, if selected.
func (o *Operation) participant(nodeID string) (Participant, bool) {
	for _, p := range o.Participants {
		if p.NodeID == nodeID {
			return p, true
		}
	}
	return Participant{}, false
}
