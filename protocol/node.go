package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/meshweave/meshweave/consensus"
	"github.com/meshweave/meshweave/coordination"
	"github.com/meshweave/meshweave/event"
	"github.com/meshweave/meshweave/mesh"
)

// Facade errors.
var (
	ErrNodeNotRegistered = errors.New("local node is not registered")
	ErrIdentityMismatch  = errors.New("state identity does not match local node")
	ErrInvalidState      = errors.New("invalid node state")
	ErrRateLimited       = errors.New("state update rate exceeded")
)

// Node is the protocol facade bound to one local node. All mesh interactions
// of a participant go through its Node.
type Node struct {
	id      string
	system  *System
	limiter *rate.Limiter
	tracer  trace.Tracer
}

// Node returns the facade for a local node ID.
func (s *System) Node(localID string) *Node {
	var limiter *rate.Limiter
	if s.config.StateUpdateRate > 0 {
		burst := s.config.StateUpdateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.config.StateUpdateRate), burst)
	}
	return &Node{
		id:      localID,
		system:  s,
		limiter: limiter,
		tracer:  otel.Tracer("meshweave/protocol"),
	}
}

// ID returns the local node ID.
func (n *Node) ID() string { return n.id }

// UpdateState pushes a full state snapshot for the local node, triggering
// topology and health recomputation. The snapshot replaces the prior state
// wholesale.
func (n *Node) UpdateState(ctx context.Context, state *mesh.State) error {
	_, span := n.tracer.Start(ctx, "protocol.UpdateState",
		trace.WithAttributes(attribute.String("node.id", n.id)))
	defer span.End()

	if state == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidState)
	}
	if state.Identity.ID == "" {
		state.Identity.ID = n.id
	}
	if state.Identity.ID != n.id {
		return fmt.Errorf("%w: %s != %s", ErrIdentityMismatch, state.Identity.ID, n.id)
	}
	if state.Load.AvailableCapacity < 0 || state.Load.AvailableCapacity > 1 {
		return fmt.Errorf("%w: available capacity %v outside [0,1]",
			ErrInvalidState, state.Load.AvailableCapacity)
	}
	if n.limiter != nil && !n.limiter.Allow() {
		return ErrRateLimited
	}

	n.system.topo.UpdateNode(state)
	n.system.bus.Publish(event.NodeEvent{
		Kind:      event.TypeStateUpdated,
		NodeID:    n.id,
		Timestamp: time.Now(),
	})
	return nil
}

// Connect declares an outbound connection from the local node to a target.
// The connection becomes part of the next state snapshot and the routing
// graph.
func (n *Node) Connect(ctx context.Context, targetID string, connType mesh.ConnectionType, initialTrust float64) error {
	_, span := n.tracer.Start(ctx, "protocol.Connect",
		trace.WithAttributes(
			attribute.String("node.id", n.id),
			attribute.String("peer.id", targetID),
		))
	defer span.End()

	state, ok := n.system.topo.GetNode(n.id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotRegistered, n.id)
	}

	conn := mesh.Connection{
		TargetID: targetID,
		Type:     connType,
		Strength: 0.5,
		Trust:    initialTrust,
	}
	replaced := false
	for i, c := range state.Connections {
		if c.TargetID == targetID {
			state.Connections[i] = conn
			replaced = true
			break
		}
	}
	if !replaced {
		state.Connections = append(state.Connections, conn)
	}
	state.Timestamp = time.Now()
	n.system.topo.UpdateNode(state)

	n.system.bus.Publish(event.NodeEvent{
		Kind:      event.TypeNodeConnected,
		NodeID:    n.id,
		PeerID:    targetID,
		Timestamp: time.Now(),
	})
	return nil
}

// Disconnect removes the local node's declared connection to a target.
func (n *Node) Disconnect(ctx context.Context, targetID string) error {
	_, span := n.tracer.Start(ctx, "protocol.Disconnect",
		trace.WithAttributes(
			attribute.String("node.id", n.id),
			attribute.String("peer.id", targetID),
		))
	defer span.End()

	state, ok := n.system.topo.GetNode(n.id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotRegistered, n.id)
	}

	found := false
	for i, c := range state.Connections {
		if c.TargetID == targetID {
			state.Connections = append(state.Connections[:i], state.Connections[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		// Absence is a normal outcome; nothing to tear down.
		return nil
	}
	state.Timestamp = time.Now()
	n.system.topo.UpdateNode(state)

	n.system.bus.Publish(event.NodeEvent{
		Kind:      event.TypeNodeDisconnected,
		NodeID:    n.id,
		PeerID:    targetID,
		Timestamp: time.Now(),
	})
	return nil
}

// SubmitProposal opens a proposal on behalf of the local node and returns
// its ID.
func (n *Node) SubmitProposal(ctx context.Context, content consensus.Content, config consensus.Config) (string, error) {
	_, span := n.tracer.Start(ctx, "protocol.SubmitProposal",
		trace.WithAttributes(
			attribute.String("node.id", n.id),
			attribute.String("proposal.type", content.Type),
		))
	defer span.End()

	p, err := n.system.engine.SubmitProposal(n.id, content, config)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// Vote casts the local node's vote on a proposal. A second vote supersedes
// the first.
func (n *Node) Vote(ctx context.Context, proposalID string, choice consensus.Choice, confidence float64, reasoning string) error {
	_, span := n.tracer.Start(ctx, "protocol.Vote",
		trace.WithAttributes(
			attribute.String("node.id", n.id),
			attribute.String("proposal.id", proposalID),
		))
	defer span.End()

	return n.system.engine.SubmitVote(proposalID, n.id, choice, confidence, reasoning)
}

// InitiateOperation schedules a distributed operation directly, without a
// preceding proposal, and returns its ID.
func (n *Node) InitiateOperation(ctx context.Context, meta coordination.Meta) (string, error) {
	_, span := n.tracer.Start(ctx, "protocol.InitiateOperation",
		trace.WithAttributes(
			attribute.String("node.id", n.id),
			attribute.String("operation.type", meta.Type),
		))
	defer span.End()

	op, err := n.system.coord.Initiate(n.id, meta)
	if err != nil {
		return "", err
	}
	return op.ID, nil
}

// SubmitIntermediateResult contributes the local node's partial result to an
// operation it participates in.
func (n *Node) SubmitIntermediateResult(ctx context.Context, operationID string, payload coordination.Payload, confidence float64) error {
	_, span := n.tracer.Start(ctx, "protocol.SubmitIntermediateResult",
		trace.WithAttributes(
			attribute.String("node.id", n.id),
			attribute.String("operation.id", operationID),
		))
	defer span.End()

	return n.system.coord.SubmitIntermediateResult(operationID, n.id, payload, confidence)
}

// GetOperationStatus returns a copy of an operation, or false when unknown.
// Absence is a normal negative result, never an error.
func (n *Node) GetOperationStatus(operationID string) (*coordination.Operation, bool) {
	return n.system.coord.GetOperation(operationID)
}

// GetMeshHealth returns the current aggregate mesh health snapshot.
func (n *Node) GetMeshHealth() mesh.HealthSnapshot {
	return n.system.topo.Health()
}
