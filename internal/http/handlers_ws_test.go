package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/cash-exchange/internal/models"
)

// The upgrade must survive the middleware chain: the wrapped response writer
// has to expose the underlying connection for hijacking.
func TestWebsocketAuthHandshake(t *testing.T) {
	srv, store := newTestServer()
	store.PutUser(models.User{ID: "B", Name: "Bob", Loc: models.Coord{Lat: 10, Lon: 10}})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": "B"}); err != nil {
		t.Fatalf("auth frame: %v", err)
	}
	var reply struct {
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}
	if reply.Type != "auth_success" || reply.UserID != "B" {
		t.Fatalf("unexpected handshake reply: %+v", reply)
	}

	// the registered channel receives broadcasts end to end
	if n := srv.Registry.BroadcastAll([]byte(`{"type":"new_request"}`)); n != 1 {
		t.Fatalf("expected delivery to one connection, got %d", n)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !strings.Contains(string(msg), "new_request") {
		t.Fatalf("unexpected broadcast payload: %s", msg)
	}
}

func TestWebsocketClosesOnBadFirstFrame(t *testing.T) {
	srv, _ := newTestServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "request_id": "r1"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected close after non-auth first frame")
	}
}
