package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/flock/internal/auth"
)

func mockClient(hub *Hub, churchID int64) *Client {
	return &Client{
		hub:      hub,
		send:     make(chan []byte, sendBufferSize),
		churchID: churchID,
	}
}

func branchClient(hub *Hub, churchID, branchID int64, role string) *Client {
	c := mockClient(hub, churchID)
	c.branchID = branchID
	c.role = role
	return c
}

func TestRegisterUnregister(t *testing.T) {
	var observed atomic.Int64
	hub := NewHub(slog.Default(), WithCountObserver(func(n int) { observed.Store(int64(n)) }))

	c1 := mockClient(hub, 1)
	c2 := mockClient(hub, 2)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}
	if got := observed.Load(); got != 2 {
		t.Errorf("observer saw %d, want 2", got)
	}
	if got := hub.ChurchClientCount(1); got != 1 {
		t.Errorf("church 1 clients = %d, want 1", got)
	}

	hub.Unregister(c1)
	// Should not panic
	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}
	if got := observed.Load(); got != 1 {
		t.Errorf("observer saw %d, want 1", got)
	}
}

func TestBroadcastScopedToChurch(t *testing.T) {
	hub := NewHub(slog.Default())

	same := mockClient(hub, 1)
	other := mockClient(hub, 2)
	hub.Register(same)
	hub.Register(other)

	hub.Broadcast(1, NewMessage("message", "created", 42, map[string]any{"subject": "Potluck"}))

	select {
	case data := <-same.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "message_created" {
			t.Errorf("type = %q, want %q", got.Type, "message_created")
		}
		if got.ID != 42 {
			t.Errorf("id = %d, want 42", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case <-other.send:
		t.Fatal("client of another church received the broadcast")
	default:
	}
}

func TestBroadcastToBranchAudience(t *testing.T) {
	hub := NewHub(slog.Default())

	admin := branchClient(hub, 1, 1, "admin")
	mainMember := branchClient(hub, 1, 1, "member")
	northMember := branchClient(hub, 1, 2, "member")
	northAdmin := branchClient(hub, 1, 2, "branch_admin")
	for _, c := range []*Client{admin, mainMember, northMember, northAdmin} {
		hub.Register(c)
	}

	main := int64(1)
	hub.BroadcastToBranch(1, &main, NewMessage("message", "created", 7, map[string]any{"subject": "Main staff salaries"}))

	for name, c := range map[string]*Client{"admin": admin, "main member": mainMember} {
		if got := len(c.send); got != 1 {
			t.Errorf("%s queued %d, want 1", name, got)
		}
	}
	for name, c := range map[string]*Client{"north member": northMember, "north branch admin": northAdmin} {
		if got := len(c.send); got != 0 {
			t.Errorf("%s queued %d, want 0", name, got)
		}
	}

	hub.BroadcastToBranch(1, nil, NewMessage("message", "created", 8, nil))
	if got := len(northMember.send); got != 1 {
		t.Errorf("church-wide reached north member %d times, want 1", got)
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, 1)
	hub.Register(c)

	for i := range sendBufferSize + 5 {
		hub.Broadcast(1, NewMessage("prayer_request", "updated", int64(i), nil))
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
}

type stubVerifier struct{}

func (stubVerifier) Verify(token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: 5, ChurchID: 9, Role: "member"}, nil
}

func TestHandleWebSocketRejectsBadToken(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, stubVerifier{}, nil, slog.Default()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?token=bad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Error != "unauthorized" {
		t.Errorf("body = %+v, want failure envelope", body)
	}
}

func TestHandleWebSocketDeliversChurchBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleWebSocket(hub, stubVerifier{}, nil, slog.Default()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=good"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ChurchClientCount(9) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(9, NewMessage("message", "created", 1, nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "message_created" {
		t.Errorf("type = %q, want %q", got.Type, "message_created")
	}
}
