package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasteloop/auction-server/internal/auction"
	"github.com/wasteloop/auction-server/internal/listings"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/types"
)

func newTestHub(t *testing.T) (*Hub, store.Service) {
	t.Helper()
	db, err := store.New(t.TempDir())
	require.NoError(t, err)

	gw := listings.NewGateway(db)
	manager := auction.NewManager(db, gw, nil)
	hub := NewHub(db, manager)
	hub.BindEngine(auction.NewEngine(db, manager, gw, hub))
	return hub, db
}

func seedAuction(t *testing.T, db store.Service) types.Auction {
	t.Helper()
	a, err := db.CreateAuction(types.Auction{
		ListingID:         1,
		StartingBid:       decimal.NewFromInt(1000),
		CurrentHighestBid: decimal.NewFromInt(1200),
		StartTime:         time.Now().UTC().Add(-time.Hour),
		EndTime:           time.Now().UTC().Add(time.Hour),
		IsActive:          true,
	})
	require.NoError(t, err)
	return a
}

func dialAuction(t *testing.T, serverURL string, auctionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/auction/" + auctionID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}

func TestSubscribeDeliversSnapshot(t *testing.T) {
	hub, db := newTestHub(t)
	a := seedAuction(t, db)

	router := mux.NewRouter()
	router.HandleFunc("/ws/auction/{auction_id:[0-9]+}", hub.HandleAuctionWebSocket)
	server := httptest.NewServer(router)
	defer server.Close()

	ws := dialAuction(t, server.URL, "1")
	defer ws.Close()

	ev := readEvent(t, ws)
	assert.Equal(t, types.EventAuctionState, ev["type"])
	assert.Equal(t, float64(a.ID), ev["auction_id"])
	assert.Equal(t, float64(1200), ev["current_highest_bid"])
	assert.Equal(t, true, ev["is_active"])
}

func TestBroadcastReachesAllViewers(t *testing.T) {
	hub, db := newTestHub(t)
	seedAuction(t, db)

	router := mux.NewRouter()
	router.HandleFunc("/ws/auction/{auction_id:[0-9]+}", hub.HandleAuctionWebSocket)
	server := httptest.NewServer(router)
	defer server.Close()

	ws1 := dialAuction(t, server.URL, "1")
	defer ws1.Close()
	ws2 := dialAuction(t, server.URL, "1")
	defer ws2.Close()

	// Drain the snapshots first.
	readEvent(t, ws1)
	readEvent(t, ws2)

	require.Eventually(t, func() bool { return hub.SubscriberCount(1) == 2 },
		2*time.Second, 10*time.Millisecond)

	hub.BroadcastBid(1, types.BidEvent{
		Type:      types.EventNewBid,
		AuctionID: 1,
		Amount:    decimal.NewFromInt(1500),
		Timestamp: time.Now().UTC(),
	})

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		ev := readEvent(t, ws)
		assert.Equal(t, types.EventNewBid, ev["type"])
		assert.Equal(t, float64(1500), ev["amount"])
	}
}

func TestBroadcastSkipsOtherAuctions(t *testing.T) {
	hub, db := newTestHub(t)
	seedAuction(t, db)

	router := mux.NewRouter()
	router.HandleFunc("/ws/auction/{auction_id:[0-9]+}", hub.HandleAuctionWebSocket)
	server := httptest.NewServer(router)
	defer server.Close()

	ws := dialAuction(t, server.URL, "1")
	defer ws.Close()
	readEvent(t, ws)

	hub.BroadcastBid(2, types.BidEvent{Type: types.EventNewBid, AuctionID: 2,
		Amount: decimal.NewFromInt(10), Timestamp: time.Now().UTC()})

	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "viewer of auction 1 must not see auction 2 events")
}

func TestStalledViewerIsDroppedWithoutBlocking(t *testing.T) {
	hub, _ := newTestHub(t)

	// An unbuffered channel with no reader: the first offer fails.
	stalled := &Client{ID: "stalled", AuctionID: 7, Send: make(chan []byte)}
	healthy := &Client{ID: "healthy", AuctionID: 7, Send: make(chan []byte, 4)}
	hub.subscribe(stalled)
	hub.subscribe(healthy)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(7, []byte(`{"type":"new_bid"}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stalled viewer")
	}

	assert.Equal(t, 1, hub.SubscriberCount(7))
	select {
	case msg := <-healthy.Send:
		assert.Contains(t, string(msg), "new_bid")
	default:
		t.Fatal("healthy viewer missed the broadcast")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(t)

	c := &Client{ID: "c", AuctionID: 3, Send: make(chan []byte, 1)}
	hub.subscribe(c)
	require.Equal(t, 1, hub.SubscriberCount(3))

	hub.unsubscribe(c)
	assert.Equal(t, 0, hub.SubscriberCount(3))

	// Removing an already-removed viewer is a no-op, not an error.
	hub.unsubscribe(c)
	assert.Equal(t, 0, hub.SubscriberCount(3))
}
