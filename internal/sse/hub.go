// Package sse fans worker events out to connected event-stream clients.
// Broadcasts never block: a client that cannot keep up with its buffer is
// dropped rather than stalling the publisher.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"kiromemory/internal/logging"
)

// Event names carried on the stream.
const (
	EventObservationCreated = "observation-created"
	EventSummaryCreated     = "summary-created"
	EventCheckpointCreated  = "checkpoint-created"
	EventSessionStarted     = "session-started"
	EventSessionCompleted   = "session-completed"
	EventNotify             = "notify"
)

// clientBuffer is the per-client channel capacity.
const clientBuffer = 64

// Event is one server-sent event: a name and a single-line JSON payload.
type Event struct {
	Name string
	Data json.RawMessage
}

// Encode writes the event in text/event-stream framing.
func (e Event) Encode(w io.Writer) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, e.Data)
	return err
}

// Client is one subscriber. Its channel is closed when the client
// unsubscribes, falls behind, or the hub shuts down.
type Client struct {
	hub *Hub
	ch  chan Event
}

// Events returns the receive side of the client's channel.
func (c *Client) Events() <-chan Event { return c.ch }

// Close unsubscribes the client. Safe to call more than once and after the
// hub has already dropped it.
func (c *Client) Close() { c.hub.remove(c) }

// Hub owns the subscriber set.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	dropped uint64
	log     *zap.SugaredLogger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     logging.Get(logging.CategorySSE),
	}
}

// Subscribe registers a new client. After Close the returned client's
// channel is already closed.
func (h *Hub) Subscribe() *Client {
	c := &Client{hub: h, ch: make(chan Event, clientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.ch)
		return c
	}
	h.clients[c] = struct{}{}
	return c
}

// Publish marshals the payload and broadcasts it under the event name. A
// payload that cannot be serialized is logged and skipped.
func (h *Hub) Publish(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Warnw("event payload not serializable", "event", name, "error", err)
		return
	}
	h.broadcast(Event{Name: name, Data: data})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for c := range h.clients {
		select {
		case c.ch <- ev:
		default:
			// Full buffer: the consumer stopped reading. Drop it so the
			// publisher never blocks.
			delete(h.clients, c)
			close(c.ch)
			h.dropped++
			h.log.Warnw("dropped slow event client", "event", ev.Name)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.ch)
}

// Close drops every client and rejects later subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.ch)
	}
	h.clients = nil
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped reports how many clients were dropped for falling behind.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
