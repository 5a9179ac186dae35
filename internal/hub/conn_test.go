package hub

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
)

// fakeConn is a scripted Conn. Inbound frames are queued on a channel; closing the
// channel simulates a clean peer disconnect, Close simulates a severed connection.
// A pending read with a deadline set fails immediately instead of waiting, which
// keeps the auth-timeout path fast in tests.
type fakeConn struct {
	inbound chan []byte

	mu          sync.Mutex
	writes      [][]byte
	failWrites  bool
	closeCode   int
	closeReason string
	deadline    time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	deadline := f.deadline
	f.mu.Unlock()

	if !deadline.IsZero() {
		select {
		case msg, ok := <-f.inbound:
			if !ok {
				return 0, nil, io.EOF
			}
			return websocket.TextMessage, msg, nil
		case <-f.closed:
			return 0, nil, errors.New("connection closed")
		default:
			return 0, nil, errors.New("read deadline exceeded")
		}
	}

	select {
	case msg, ok := <-f.inbound:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("write failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType != websocket.CloseMessage || len(data) < 2 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
	f.closeReason = string(data[2:])
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline = t
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)               {}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// queue scripts an inbound frame.
func (f *fakeConn) queue(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.inbound <- []byte(frame):
	default:
		t.Fatal("fakeConn inbound buffer full")
	}
}

// disconnect simulates the peer closing cleanly.
func (f *fakeConn) disconnect() {
	close(f.inbound)
}

// frames decodes every recorded write.
func (f *fakeConn) frames(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]map[string]any, 0, len(f.writes))
	for _, raw := range f.writes {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("recorded write is not a JSON object: %s", raw)
		}
		out = append(out, m)
	}
	return out
}

// framesOfType filters recorded writes by frame type tag.
func (f *fakeConn) framesOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range f.frames(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) closedCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeConn) closedReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeReason
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
