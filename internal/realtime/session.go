package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel adapts a gorilla websocket connection to the Channel interface.
// gorilla allows only one concurrent writer, hence the write mutex.
type WSChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

func (c *WSChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSChannel) Close() error { return c.conn.Close() }
