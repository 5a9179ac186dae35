package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket
	// message. Oversized frames error the read loop and the connection closes
	// without the frame being delivered.
	maxMessageSize = 1 << 20

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// authWait is how long a client has to send its auth frame when the token was
	// not supplied in the query string.
	authWait = 5 * time.Second
)

// Conn is the subset of a WebSocket connection the hub uses. *websocket.Conn
// satisfies it; tests substitute scripted fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Client wraps one WebSocket connection. The read loop belongs to the goroutine
// running ServeWebSocket; writes can come from that goroutine, the broker listener,
// or another session's eviction, so they are serialised by wmu. There is no outbound
// queue: a slow consumer stalls only its own writes until the write deadline fires.
type Client struct {
	conn  Conn
	log   zerolog.Logger
	email string // set once during authentication, before the client is shared

	wmu sync.Mutex
}

func newClient(conn Conn, logger zerolog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// send serialises the frame and writes it as one text message. Write failures are
// swallowed: a closed or stalled peer must never abort the caller's fan-out, and the
// peer's own read loop handles its teardown.
func (c *Client) send(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to marshal outbound frame")
		return
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Debug().Err(err).Str("email", c.email).Msg("WebSocket write error")
	}
}

// closeWithCode sends a close control frame with the given code and reason, then
// closes the underlying connection. Safe to call from any goroutine and idempotent
// enough for the eviction and shutdown paths to overlap.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
