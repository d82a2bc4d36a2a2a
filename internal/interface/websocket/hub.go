// Package websocket streams domain events to connected UI clients.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/metrics"
)

// Message is one event as sent to clients.
type Message struct {
	Type          string         `json:"type"`
	HouseholdID   string         `json:"household_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// NewMessage converts a domain event into a Message. ok is false for events
// that do not belong to a household.
func NewMessage(event shared.Event) (msg Message, ok bool) {
	hhEvent, isHousehold := event.(shared.HouseholdEvent)
	if !isHousehold || hhEvent.Household() == "" {
		return Message{}, false
	}
	msg = Message{
		Type:        string(event.EventType()),
		HouseholdID: hhEvent.Household(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
	if c, isCorrelated := event.(interface{ Correlation() string }); isCorrelated {
		msg.CorrelationID = c.Correlation()
	}
	return msg, true
}

// Hub keeps the connected clients grouped by household and fans events out
// to the clients of the event's household.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	count   int
	dropped atomic.Uint64

	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger, m *metrics.Manager) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With("component", "websocket_hub"),
		metrics: m,
	}
}

// Register adds a client to its household.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.householdID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.householdID] = set
	}
	if _, dup := set[c]; !dup {
		set[c] = struct{}{}
		h.count++
	}
	n := h.count
	h.mu.Unlock()

	h.metrics.SetWebSocketClients(n)
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.householdID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			h.count--
			if len(set) == 0 {
				delete(h.clients, c.householdID)
			}
		}
	}
	n := h.count
	h.mu.Unlock()

	h.metrics.SetWebSocketClients(n)
}

// Broadcast sends msg to every client of msg.HouseholdID. A client whose
// buffer is full misses the message.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[msg.HouseholdID] {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// HandleEvent implements shared.EventHandler.
func (h *Hub) HandleEvent(event shared.Event) error {
	if msg, ok := NewMessage(event); ok {
		h.Broadcast(msg)
	}
	return nil
}

// Dropped returns how many messages were skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
