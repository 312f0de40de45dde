package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"coop-quest/internal/game"
)

// frame is a decoded server frame.
type frame struct {
	Event string          `json:"event"`
	Ack   *int            `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

// newTestServer serves a real manager behind the full router and hub.
func newTestServer(t *testing.T, hubCfg HubConfig) (*httptest.Server, *game.Manager, *Hub) {
	t.Helper()
	hub := NewHub(hubCfg)
	mgr := game.NewManager(game.Options{Broadcaster: hub, Seed: 42})
	srv := NewServer(mgr, hub, Options{
		RateLimitConfig: RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		DisableLogging:  true,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
	})
	return ts, mgr, hub
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, ack int, data any) {
	t.Helper()
	msg := map[string]any{"event": event, "data": data}
	if ack > 0 {
		msg["ack"] = ack
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads frames until match accepts one, failing after two seconds.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func readAck(t *testing.T, conn *websocket.Conn, ack int) frame {
	t.Helper()
	return readUntil(t, conn, func(f frame) bool {
		return f.Event == eventAck && f.Ack != nil && *f.Ack == ack
	})
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	return readUntil(t, conn, func(f frame) bool { return f.Event == event })
}

// testClient is a hub client with no socket; frames stay in its buffer.
func testClient(id string) *Client {
	return &Client{
		ID:   id,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// drain decodes every buffered frame.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case b := <-c.send:
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}
