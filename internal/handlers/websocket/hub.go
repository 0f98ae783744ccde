// Package websocket is the live-update side of the auction core: one
// room per auction, each room fanning bid and state events out to every
// subscribed viewer.
package websocket

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wasteloop/auction-server/internal/auction"
	"github.com/wasteloop/auction-server/internal/auth"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	defaultPingInterval   = 54 * time.Second
	defaultMaxMessageSize = 4096
)

// Hub owns the per-auction viewer registry. It is constructed once in
// main and handed to the HTTP layer and the bid engine, never a package
// global, so tests can scope their own.
type Hub struct {
	db      store.Service
	manager *auction.Manager
	engine  *auction.Engine

	pingInterval   time.Duration
	maxMessageSize int64

	mu    sync.Mutex
	rooms map[int]map[*Client]bool
}

func NewHub(db store.Service, manager *auction.Manager) *Hub {
	return &Hub{
		db:             db,
		manager:        manager,
		pingInterval:   defaultPingInterval,
		maxMessageSize: defaultMaxMessageSize,
		rooms:          make(map[int]map[*Client]bool),
	}
}

// BindEngine attaches the bid engine after construction; the engine in
// turn broadcasts through this hub, so neither can build the other.
func (h *Hub) BindEngine(engine *auction.Engine) {
	h.engine = engine
}

// ConfigureTransport applies socket tuning from configuration. Zero or
// unparseable values keep the defaults.
func (h *Hub) ConfigureTransport(pingInterval string, maxMessageSize int) {
	if d, err := time.ParseDuration(pingInterval); err == nil && d > 0 {
		h.pingInterval = d
	}
	if maxMessageSize > 0 {
		h.maxMessageSize = int64(maxMessageSize)
	}
}

// HandleAuctionWebSocket upgrades the request and subscribes the viewer
// to the auction in the path. Viewing is open; placing bids over the
// socket requires a valid token.
func (h *Hub) HandleAuctionWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID, err := strconv.Atoi(mux.Vars(r)["auction_id"])
	if err != nil {
		http.Error(w, "Invalid auction id", http.StatusBadRequest)
		return
	}

	var user types.User
	if token, err := auth.ValidateToken(r); err == nil && token != nil {
		var email string
		if err := token.Get("email", &email); err == nil {
			if u, err := h.db.GetUserByEmail(email); err == nil {
				user = u
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	conn.SetReadLimit(h.maxMessageSize)

	client := &Client{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Email:        user.Email,
		AuctionID:    auctionID,
		Conn:         conn,
		Send:         make(chan []byte, 16),
		RateLimiter:  rate.NewLimiter(1, 3),
		PingInterval: h.pingInterval,
	}

	h.subscribe(client)

	go client.ReadMessages(h.HandleMessage, h.unsubscribe)
	go client.WriteMessages()

	h.sendSnapshot(client)
}

func (h *Hub) subscribe(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.AuctionID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[c.AuctionID] = room
	}
	room[c] = true
	h.mu.Unlock()
	log.Debugf("Viewer %s joined auction %d", c.ID, c.AuctionID)
}

// unsubscribe is idempotent; removing a viewer that already left is a
// no-op.
func (h *Hub) unsubscribe(c *Client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.AuctionID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.AuctionID)
		}
	}
	h.mu.Unlock()
	c.Disconnect()
}

// sendSnapshot delivers the current auction state so a late joiner is
// not left without initial state.
func (h *Hub) sendSnapshot(c *Client) {
	a, err := h.manager.AuctionByID(c.AuctionID)
	if err != nil {
		log.Debugf("No auction %d for snapshot: %v", c.AuctionID, err)
		return
	}
	payload, err := json.Marshal(types.AuctionStateEvent{
		Type:              types.EventAuctionState,
		AuctionID:         a.ID,
		CurrentHighestBid: a.CurrentHighestBid,
		EndTime:           a.EndTime,
		IsActive:          a.IsActive,
	})
	if err != nil {
		log.Error("Error marshalling snapshot: ", err)
		return
	}
	c.Enqueue(payload)
}

// Broadcast sends a payload to every viewer of an auction. A full or
// dead viewer is dropped rather than blocking the rest; the error never
// reaches the caller.
func (h *Hub) Broadcast(auctionID int, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[auctionID]
	if !ok {
		return
	}
	for client := range room {
		if !client.Enqueue(payload) {
			log.Debugf("Dropping stalled viewer %s on auction %d", client.ID, auctionID)
			delete(room, client)
			client.Disconnect()
		}
	}
}

// SubscriberCount reports how many viewers are watching an auction.
func (h *Hub) SubscriberCount(auctionID int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[auctionID])
}

// BroadcastBid implements auction.Broadcaster.
func (h *Hub) BroadcastBid(auctionID int, ev types.BidEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error("Error marshalling bid event: ", err)
		return
	}
	h.Broadcast(auctionID, payload)
}

// BroadcastClosed implements auction.Broadcaster.
func (h *Hub) BroadcastClosed(auctionID int, ev types.AuctionClosedEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error("Error marshalling close event: ", err)
		return
	}
	h.Broadcast(auctionID, payload)
}
