package sse

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// Event is one committed unit of work on a booking.
type Event struct {
	BookingRef string        `json:"bookingId"`
	Applied    []flow.Change `json:"applied"`
	Actions    []flow.Action `json:"actions,omitempty"`
	At         time.Time     `json:"at"`
}

// Client is one subscriber to a booking's events.
type Client struct {
	ID         string
	BookingRef string
	Events     chan *Event
	closeOnce  sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Events) })
}

// Hub fans committed transitions out to SSE subscribers. Slow clients miss
// events rather than block the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffer  int
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		buffer:  32,
	}
}

// Subscribe registers a client for one booking.
func (h *Hub) Subscribe(ref string) *Client {
	c := &Client{ID: uuid.NewString(), BookingRef: ref, Events: make(chan *Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	return c
}

func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TransitionCommitted publishes a committed unit to the booking's subscribers.
func (h *Hub) TransitionCommitted(ref string, applied []flow.Change, actions []flow.Action) {
	ev := &Event{BookingRef: ref, Applied: applied, Actions: actions, At: time.Now().UTC()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.BookingRef == ref {
			trySend(c, ev)
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
