package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a change notification pushed to every client of one church.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub groups connected clients by church. A broadcast reaches only the
// clients of the church it names.
type Hub struct {
	mu       sync.RWMutex
	churches map[int64]map[*Client]struct{}
	logger   *slog.Logger
	onCount  func(n int)
}

type HubOption func(*Hub)

// WithCountObserver is called with the total client count after every
// register and unregister.
func WithCountObserver(fn func(n int)) HubOption {
	return func(h *Hub) {
		h.onCount = fn
	}
}

func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		churches: make(map[int64]map[*Client]struct{}),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	group, ok := h.churches[c.churchID]
	if !ok {
		group = make(map[*Client]struct{})
		h.churches[c.churchID] = group
	}
	group[c] = struct{}{}
	n := h.countLocked()
	h.mu.Unlock()

	h.observe(n)
}

// Unregister removes a client and closes its send channel. It is safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	group := h.churches[c.churchID]
	if _, ok := group[c]; ok {
		delete(group, c)
		close(c.send)
		if len(group) == 0 {
			delete(h.churches, c.churchID)
		}
	}
	n := h.countLocked()
	h.mu.Unlock()

	h.observe(n)
}

// Broadcast queues msg for every client of churchID. Clients with a full
// buffer miss the message.
func (h *Hub) Broadcast(churchID int64, msg Message) {
	h.BroadcastToBranch(churchID, nil, msg)
}

// BroadcastToBranch queues msg for the clients of churchID that may read a
// record scoped to branchID: everyone when branchID is nil, otherwise the
// branch's own clients and church admins.
func (h *Hub) BroadcastToBranch(churchID int64, branchID *int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.churches[churchID] {
		if !c.hears(branchID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping broadcast for slow client", "church_id", churchID, "user_id", c.userID)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// ChurchClientCount returns the number of clients connected for churchID.
func (h *Hub) ChurchClientCount(churchID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.churches[churchID])
}

func (h *Hub) countLocked() int {
	n := 0
	for _, group := range h.churches {
		n += len(group)
	}
	return n
}

func (h *Hub) observe(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}
