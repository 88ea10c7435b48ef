package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/domain/model"
	"pricepulse/internal/infrastructure/metrics"
)

// sendBuffer bounds each connection's outbound queue. A client that cannot
// drain price ticks gets messages dropped, never the whole hub blocked.
const sendBuffer = 64

// Conn is the hub's view of one websocket client. The transport layer owns
// the socket; the hub only writes to Send.
type Conn struct {
	ID   string
	Send chan []byte
}

func NewConn(id string) *Conn {
	return &Conn{ID: id, Send: make(chan []byte, sendBuffer)}
}

func (c *Conn) trySend(payload []byte) {
	select {
	case c.Send <- payload:
	default:
		log.Debug().Str("conn", c.ID).Msg("send buffer full, dropping message")
	}
}

type priceUpdate struct {
	Type   string                       `json:"type"`
	Prices map[string]*model.PricePoint `json:"prices"`
}

// Hub tracks connections, their coin subscriptions, and which user each
// connection belongs to. All methods are safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	subs  map[string]map[string]struct{} // coinID -> conn ids
	byID  map[string]map[string]struct{} // connID -> coin ids
	users map[string]string              // userID -> connID
	owner map[string]string              // connID -> userID
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		subs:  make(map[string]map[string]struct{}),
		byID:  make(map[string]map[string]struct{}),
		users: make(map[string]string),
		owner: make(map[string]string),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.byID[c.ID] = make(map[string]struct{})
	h.mu.Unlock()
	log.Debug().Str("conn", c.ID).Msg("client connected")
}

// Unregister removes a connection and every subscription and user binding
// that points at it.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	for coinID := range h.byID[connID] {
		delete(h.subs[coinID], connID)
		if len(h.subs[coinID]) == 0 {
			delete(h.subs, coinID)
		}
	}
	delete(h.byID, connID)
	if userID, bound := h.owner[connID]; bound {
		delete(h.owner, connID)
		if h.users[userID] == connID {
			delete(h.users, userID)
		}
	}
	delete(h.conns, connID)
	close(c.Send)
	log.Debug().Str("conn", connID).Msg("client disconnected")
}

func (h *Hub) Subscribe(connID string, coinIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	for _, coinID := range coinIDs {
		if h.subs[coinID] == nil {
			h.subs[coinID] = make(map[string]struct{})
		}
		h.subs[coinID][connID] = struct{}{}
		h.byID[connID][coinID] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(connID string, coinIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, coinID := range coinIDs {
		delete(h.byID[connID], coinID)
		delete(h.subs[coinID], connID)
		if len(h.subs[coinID]) == 0 {
			delete(h.subs, coinID)
		}
	}
}

// Join binds a connection to a user id for targeted alert delivery. A new
// join replaces any previous connection bound to the same user.
func (h *Hub) Join(connID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	if prev, bound := h.users[userID]; bound && prev != connID {
		delete(h.owner, prev)
	}
	h.users[userID] = connID
	h.owner[connID] = userID
}

// ActiveCoins is the union of every connection's subscriptions.
func (h *Hub) ActiveCoins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for coinID := range h.subs {
		out = append(out, coinID)
	}
	return out
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// BroadcastPrices sends each connection only the changed coins it is
// subscribed to.
func (h *Hub) BroadcastPrices(changed map[string]*model.PricePoint) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, coins := range h.byID {
		c, ok := h.conns[connID]
		if !ok {
			continue
		}
		slice := make(map[string]*model.PricePoint)
		for coinID := range coins {
			if p, hit := changed[coinID]; hit {
				slice[coinID] = p
			}
		}
		if len(slice) == 0 {
			continue
		}
		payload, err := json.Marshal(priceUpdate{Type: "price_update", Prices: slice})
		if err != nil {
			continue
		}
		c.trySend(payload)
		metrics.Broadcast()
	}
}

// SendToUser delivers a message to the connection bound to userID, if any.
func (h *Hub) SendToUser(userID string, msg any) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connID, ok := h.users[userID]
	if !ok {
		return false
	}
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	c.trySend(payload)
	return true
}
