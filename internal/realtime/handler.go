package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/cash-exchange/internal/observability"
)

// Authenticator verifies a realtime credential and returns the user identity.
type Authenticator interface {
	Verify(token string) (string, error)
}

// authTimeout bounds how long a fresh connection may stall before sending
// its auth frame.
const authTimeout = 10 * time.Second

type inbound struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Handler drives the per-connection protocol: an auth handshake followed by
// subscribe/unsubscribe frames until the peer goes away.
type Handler struct {
	Registry *Registry
	Auth     Authenticator
	Logger   *slog.Logger
}

// Serve owns conn until the connection dies. The first frame must be
// {"type":"auth","token":...}; anything else closes the socket with a policy
// violation. After the handshake, non-JSON frames are ignored and
// subscribe/unsubscribe frames mutate the registry.
func (h *Handler) Serve(conn *websocket.Conn) {
	userID, ok := h.handshake(conn)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth required"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	ch := NewWSChannel(conn)
	h.Registry.Register(userID, ch)
	h.reply(ch, map[string]any{"type": "auth_success", "user_id": userID})
	h.Logger.Info("realtime connection established", "user_id", userID)

	defer func() {
		h.Registry.Release(userID, ch)
		h.Logger.Info("realtime connection closed", "user_id", userID)
	}()

	_ = conn.SetReadDeadline(time.Time{})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			// malformed frames are ignored, not errors
			continue
		}
		switch msg.Type {
		case "subscribe":
			if msg.RequestID == "" {
				continue
			}
			h.Registry.Subscribe(userID, msg.RequestID)
			h.reply(ch, map[string]any{"type": "subscription_success", "request_id": msg.RequestID})
		case "unsubscribe":
			if msg.RequestID == "" {
				continue
			}
			h.Registry.Unsubscribe(userID, msg.RequestID)
			h.reply(ch, map[string]any{"type": "unsubscribe_success", "request_id": msg.RequestID})
		default:
			// unknown frame types are ignored
		}
	}
}

func (h *Handler) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "auth" {
		return "", false
	}
	userID, err := h.Auth.Verify(msg.Token)
	if err != nil {
		observability.AuthFailures.Inc()
		h.Logger.Warn("realtime auth failed", "error", err)
		return "", false
	}
	return userID, true
}

func (h *Handler) reply(ch Channel, v map[string]any) {
	b, _ := json.Marshal(v)
	_ = ch.Send(b)
}
