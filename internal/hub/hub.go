package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"masar/queue-service/internal/models"
)

// Subscription filters what a display client receives. CounterID 0 means the
// main hall board: every counter's events.
type Subscription struct {
	CounterID int
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

// Hub fans call and feedback events out to connected display boards. Slow
// clients get messages dropped rather than blocking the caller.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	CounterID int    `json:"counter_id"`
}

type eventEnvelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

func New(log zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), log: log}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) broadcast(eventType string, counterID int, payload interface{}) {
	raw, err := json.Marshal(eventEnvelope{Type: eventType, Payload: payload, CreatedAt: time.Now()})
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.CounterID != 0 && client.Subscription.CounterID != counterID {
			continue
		}
		select {
		case client.Send <- raw:
		default:
			h.log.Warn().Str("client_id", client.ID).Msg("drop event for slow client")
		}
	}
}

type ticketCalledPayload struct {
	TicketCode  string `json:"ticket_code"`
	CounterID   int    `json:"counter_id"`
	CounterName string `json:"counter_name"`
	Round       int    `json:"round"`
	Auto        bool   `json:"auto"`
}

// TicketCalled announces a call on the boards subscribed to the counter.
func (h *Hub) TicketCalled(t models.Ticket, counterName string, auto bool) {
	counterID := 0
	if t.AssignedCounterID != nil {
		counterID = *t.AssignedCounterID
	}
	h.broadcast("ticket_called", counterID, ticketCalledPayload{
		TicketCode:  t.TicketCode,
		CounterID:   counterID,
		CounterName: counterName,
		Round:       t.CallRound,
		Auto:        auto,
	})
}

type feedbackWindowPayload struct {
	TicketCode string    `json:"ticket_code"`
	CounterID  int       `json:"counter_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// FeedbackWindowOpened tells the tablet at the counter a rating is due.
func (h *Hub) FeedbackWindowOpened(w models.FeedbackWindow) {
	h.broadcast("feedback_window", w.CounterID, feedbackWindowPayload{
		TicketCode: w.TicketCode,
		CounterID:  w.CounterID,
		ExpiresAt:  w.ExpiresAt,
	})
}

// ParseSubscribe decodes a client control message; only subscribe and
// unsubscribe actions are recognized.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
