package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeEvent(kind Type, nodeID string) NodeEvent {
	return NodeEvent{Kind: kind, NodeID: nodeID, Timestamp: time.Now()}
}

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBus_DeliversToMatchingSubscriber(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()

	got := make(chan Event, 4)
	bus.Subscribe(TypeStateUpdated, func(ev Event) { got <- ev })

	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))

	ev := waitFor(t, got)
	require.Equal(t, TypeStateUpdated, ev.EventType())
	assert.Equal(t, "node-a", ev.(NodeEvent).NodeID)
}

func TestBus_DoesNotDeliverOtherTypes(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()

	var count atomic.Int64
	bus.Subscribe(TypeNodeConnected, func(Event) { count.Add(1) })

	marker := make(chan Event, 1)
	bus.Subscribe(TypeStateUpdated, func(ev Event) { marker <- ev })

	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))

	// The marker confirms the dispatcher processed the event.
	waitFor(t, marker)
	assert.Equal(t, int64(0), count.Load())
}

func TestBus_WildcardReceivesEverything(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()

	got := make(chan Event, 4)
	bus.Subscribe(TypeAny, func(ev Event) { got <- ev })

	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))
	bus.Publish(nodeEvent(TypeNodeConnected, "node-b"))

	first := waitFor(t, got)
	second := waitFor(t, got)
	assert.Equal(t, TypeStateUpdated, first.EventType())
	assert.Equal(t, TypeNodeConnected, second.EventType())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()

	var count atomic.Int64
	id := bus.Subscribe(TypeStateUpdated, func(Event) { count.Add(1) })

	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))
	require.Eventually(t, func() bool { return count.Load() == 1 },
		2*time.Second, 5*time.Millisecond)

	bus.Unsubscribe(id)

	marker := make(chan Event, 2)
	bus.Subscribe(TypeStateUpdated, func(ev Event) { marker <- ev })
	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))
	waitFor(t, marker)
	assert.Equal(t, int64(1), count.Load(), "no delivery after unsubscribe")
}

func TestBus_PanickingHandlerDoesNotKillDispatch(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Stop()

	bus.Subscribe(TypeStateUpdated, func(Event) { panic("handler bug") })

	got := make(chan Event, 2)
	bus.Subscribe(TypeStateUpdated, func(ev Event) { got <- ev })

	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))
	bus.Publish(nodeEvent(TypeStateUpdated, "node-b"))

	waitFor(t, got)
	waitFor(t, got)
}

func TestBus_PublishAfterStopIsDiscarded(t *testing.T) {
	bus := NewBus(16, nil)

	var count atomic.Int64
	bus.Subscribe(TypeStateUpdated, func(Event) { count.Add(1) })

	bus.Stop()
	bus.Stop() // idempotent

	bus.Publish(nodeEvent(TypeStateUpdated, "node-a"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), count.Load())
}
