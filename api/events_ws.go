package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/meshweave/meshweave/event"
)

// clientBuffer bounds how many frames a slow websocket client may lag
// behind before frames are dropped for it.
const clientBuffer = 64

// eventFrame is the wire form of a bus event.
type eventFrame struct {
	Type    event.Type  `json:"type"`
	At      time.Time   `json:"at"`
	Payload event.Event `json:"payload"`
}

type feedClient struct {
	frames chan eventFrame
}

// eventFeed fans bus events out to websocket subscribers. Writes go
// through per-client channels so one stalled connection cannot block
// the bus dispatcher.
type eventFeed struct {
	bus    event.Bus
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[*feedClient]struct{}
	subID  string
	closed bool
}

func newEventFeed(bus event.Bus, logger *zap.Logger) *eventFeed {
	return &eventFeed{
		bus:    bus,
		logger: logger.With(zap.String("component", "event_feed")),
		subs:   make(map[*feedClient]struct{}),
	}
}

func (f *eventFeed) start() {
	f.subID = f.bus.Subscribe(event.TypeAny, f.broadcast)
}

func (f *eventFeed) stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[*feedClient]struct{})
	f.mu.Unlock()

	if f.subID != "" {
		f.bus.Unsubscribe(f.subID)
	}
	for client := range subs {
		close(client.frames)
	}
}

func (f *eventFeed) broadcast(ev event.Event) {
	frame := eventFrame{
		Type:    ev.EventType(),
		At:      ev.OccurredAt(),
		Payload: ev,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.subs {
		select {
		case client.frames <- frame:
		default:
			// Slow consumer, drop the frame for this client only.
		}
	}
}

func (f *eventFeed) attach(client *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.subs[client] = struct{}{}
	return true
}

func (f *eventFeed) detach(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[client]; ok {
		delete(f.subs, client)
		close(client.frames)
	}
}

// handleWS upgrades the request and streams events as JSON text frames
// until the client disconnects or the feed shuts down.
func (f *eventFeed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &feedClient{frames: make(chan eventFrame, clientBuffer)}
	if !f.attach(client) {
		conn.Close(websocket.StatusGoingAway, "feed closed")
		return
	}
	defer f.detach(client)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case frame, ok := <-client.frames:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				f.logger.Warn("marshal event frame", zap.Error(err))
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				conn.Close(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}
}
