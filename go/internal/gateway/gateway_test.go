package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turflads/crazy-bids-sub000/go/internal/gateway"
	"github.com/turflads/crazy-bids-sub000/go/internal/store"
)

func newTestGateway(t *testing.T) (*gateway.Service, *store.Store, *httptest.Server) {
	t.Helper()

	st := store.New(nil)
	svc, err := gateway.NewService(gateway.DefaultConfig(), st, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return svc, st, server
}

func dial(t *testing.T, server *httptest.Server, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?role=" + role
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) gateway.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg gateway.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal frame %s: %v", raw, err)
	}
	return msg
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

func TestNewConnectionSeededWithSnapshots(t *testing.T) {
	_, st, server := newTestGateway(t)

	ctx := context.Background()
	auctionDoc := json.RawMessage(`{"current_bid":2000000,"is_auction_active":true}`)
	teamsDoc := json.RawMessage(`{"teams":{"X":{"total_purse":10000000}}}`)
	if err := st.Put(ctx, store.KindAuction, auctionDoc); err != nil {
		t.Fatal(err)
	}
	if err := st.Put(ctx, store.KindTeams, teamsDoc); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, server, "viewer")

	first := readFrame(t, conn)
	if first.Type != gateway.MessageTypeAuctionUpdate {
		t.Errorf("first seed type = %s, want %s", first.Type, gateway.MessageTypeAuctionUpdate)
	}
	if string(first.Data) != string(auctionDoc) {
		t.Errorf("first seed data = %s, want %s", first.Data, auctionDoc)
	}

	second := readFrame(t, conn)
	if second.Type != gateway.MessageTypeTeamUpdate {
		t.Errorf("second seed type = %s, want %s", second.Type, gateway.MessageTypeTeamUpdate)
	}
	if string(second.Data) != string(teamsDoc) {
		t.Errorf("second seed data = %s, want %s", second.Data, teamsDoc)
	}
}

func TestEmptyStoreSeedsNothing(t *testing.T) {
	_, _, server := newTestGateway(t)
	conn := dial(t, server, "viewer")
	expectNoFrame(t, conn)
}

func TestUpdateFansOutToOtherConnectionsOnly(t *testing.T) {
	_, st, server := newTestGateway(t)

	admin := dial(t, server, "admin")
	viewer := dial(t, server, "viewer")

	update := gateway.Message{
		Type:      gateway.MessageTypeAuctionUpdate,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"current_bid":2500000}`),
	}
	if err := admin.WriteJSON(update); err != nil {
		t.Fatalf("write update: %v", err)
	}

	got := readFrame(t, viewer)
	if got.Type != gateway.MessageTypeAuctionUpdate {
		t.Errorf("type = %s, want %s", got.Type, gateway.MessageTypeAuctionUpdate)
	}
	if string(got.Data) != string(update.Data) {
		t.Errorf("data = %s, want %s", got.Data, update.Data)
	}

	// The sender already holds the state; no echo.
	expectNoFrame(t, admin)

	doc, err := st.Get(context.Background(), store.KindAuction)
	if err != nil {
		t.Fatal(err)
	}
	if string(doc) != string(update.Data) {
		t.Errorf("stored document = %s, want %s", doc, update.Data)
	}
}

func TestMalformedFrameDroppedConnectionSurvives(t *testing.T) {
	_, _, server := newTestGateway(t)

	admin := dial(t, server, "admin")
	viewer := dial(t, server, "viewer")

	if err := admin.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	unknown := []byte(`{"type":"start_auction","timestamp":"2026-09-01T00:00:00Z","data":{}}`)
	if err := admin.WriteMessage(websocket.TextMessage, unknown); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}

	// Frames from one connection arrive in send order, so the first frame
	// the viewer sees proves the bad ones were dropped and the sender's
	// connection survived them.
	good := gateway.Message{
		Type:      gateway.MessageTypeAuctionUpdate,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"current_bid":1}`),
	}
	if err := admin.WriteJSON(good); err != nil {
		t.Fatalf("write good frame: %v", err)
	}
	got := readFrame(t, viewer)
	if got.Type != gateway.MessageTypeAuctionUpdate {
		t.Errorf("type = %s, want %s", got.Type, gateway.MessageTypeAuctionUpdate)
	}
	if string(got.Data) != string(good.Data) {
		t.Errorf("data = %s, want %s", got.Data, good.Data)
	}
}

func TestUpdatesArriveInSendOrder(t *testing.T) {
	_, _, server := newTestGateway(t)

	writer := dial(t, server, "admin")
	readers := map[string]*websocket.Conn{
		"first":  dial(t, server, "viewer"),
		"second": dial(t, server, "viewer"),
	}

	const updates = 20
	for i := 1; i <= updates; i++ {
		msg := gateway.Message{
			Type:      gateway.MessageTypeAuctionUpdate,
			Timestamp: time.Now(),
			Data:      json.RawMessage(fmt.Sprintf(`{"current_bid":%d}`, i)),
		}
		if err := writer.WriteJSON(msg); err != nil {
			t.Fatalf("write update %d: %v", i, err)
		}
	}

	for name, conn := range readers {
		for i := 1; i <= updates; i++ {
			got := readFrame(t, conn)
			var doc struct {
				CurrentBid int `json:"current_bid"`
			}
			if err := json.Unmarshal(got.Data, &doc); err != nil {
				t.Fatalf("%s reader: unmarshal %s: %v", name, got.Data, err)
			}
			if doc.CurrentBid != i {
				t.Fatalf("%s reader: update %d arrived as bid %d", name, i, doc.CurrentBid)
			}
		}
	}
}

func TestChatFansOutWithoutPersisting(t *testing.T) {
	_, st, server := newTestGateway(t)

	sender := dial(t, server, "viewer")
	receiver := dial(t, server, "viewer")

	chat := gateway.Message{
		Type:      gateway.MessageTypeChatMessage,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"from":"X","text":"going once"}`),
	}
	if err := sender.WriteJSON(chat); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	got := readFrame(t, receiver)
	if got.Type != gateway.MessageTypeChatMessage {
		t.Errorf("type = %s, want %s", got.Type, gateway.MessageTypeChatMessage)
	}

	for _, kind := range store.Kinds {
		doc, err := st.Get(context.Background(), kind)
		if err != nil {
			t.Fatal(err)
		}
		if doc != nil {
			t.Errorf("chat persisted a %s document: %s", kind, doc)
		}
	}
}

func TestRestStateFallback(t *testing.T) {
	_, _, server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/api/auction-state")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "{}" {
		t.Errorf("GET empty state = %s, want {}", body)
	}

	viewer := dial(t, server, "viewer")

	doc := `{"current_bid":3000000}`
	resp, err = http.Post(server.URL+"/api/auction-state", "application/json", bytes.NewBufferString(doc))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", resp.StatusCode)
	}

	// REST writes reach WebSocket clients.
	got := readFrame(t, viewer)
	if string(got.Data) != doc {
		t.Errorf("broadcast data = %s, want %s", got.Data, doc)
	}

	resp, err = http.Get(server.URL + "/api/auction-state")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != doc {
		t.Errorf("GET after POST = %s, want %s", body, doc)
	}
}

func TestRestRejectsInvalidJSON(t *testing.T) {
	_, _, server := newTestGateway(t)

	resp, err := http.Post(server.URL+"/api/team-state", "application/json", bytes.NewBufferString("{broken"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST status = %d, want 400", resp.StatusCode)
	}
}

func TestConnectionStats(t *testing.T) {
	_, _, server := newTestGateway(t)

	dial(t, server, "admin")
	dial(t, server, "viewer")
	dial(t, server, "viewer")

	// Registration happens before the upgrade returns, but give the dials a
	// moment to complete their handshakes.
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(server.URL + "/ws/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats struct {
		TotalConnections int            `json:"total_connections"`
		Roles            map[string]int `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalConnections != 3 {
		t.Errorf("total_connections = %d, want 3", stats.TotalConnections)
	}
	if stats.Roles["viewer"] != 2 || stats.Roles["admin"] != 1 {
		t.Errorf("roles = %v, want 2 viewers and 1 admin", stats.Roles)
	}
}
