// Package event fans out thread lifecycle events to in-process subscribers
// and optional external sinks.
package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle transition.
type Type string

const (
	ThreadCreated   Type = "thread.created"
	ThreadReady     Type = "thread.ready"
	ThreadCancelled Type = "thread.cancelled"
	ThreadClosing   Type = "thread.closing"
	ThreadClosed    Type = "thread.closed"
)

// Event is one lifecycle transition of a thread.
type Event struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	RecipientID string         `json:"recipient_id"`
	ChannelID   string         `json:"channel_id,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	At          time.Time      `json:"at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Sink forwards events outside the process.
type Sink interface {
	Send(ctx context.Context, evt Event) error
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Hub delivers events to subscribers without blocking publishers.
// Slow subscribers drop events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	sinks  []Sink
	logger *slog.Logger
}

// NewHub creates a hub that also forwards to the given sinks.
func NewHub(log *slog.Logger, sinks ...Sink) *Hub {
	if log == nil {
		log = slog.Default()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &Hub{
		subs:   map[string]chan Event{},
		sinks:  filtered,
		logger: log.With(slog.String("component", "event_hub")),
	}
}

// Publish stamps the event and delivers it.
func (h *Hub) Publish(ctx context.Context, evt Event) {
	if h == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("subscriber buffer full, dropping event",
				slog.String("subscriber", id),
				slog.String("type", string(evt.Type)),
			)
		}
	}
	sinks := h.sinks
	h.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Send(ctx, evt); err != nil {
			h.logger.Warn("event sink failed",
				slog.String("type", string(evt.Type)),
				slog.Any("error", err),
			)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the stream.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := uuid.NewString()
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
