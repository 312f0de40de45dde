package game

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coop-quest/internal/config"
)

type push struct {
	connID  string
	event   string
	payload any
}

// recorder is a Broadcaster that keeps every push.
type recorder struct {
	mu     sync.Mutex
	pushes []push
}

func (r *recorder) Send(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, push{connID: connID, event: event, payload: payload})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.pushes {
		if p.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) to(connID, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, p := range r.pushes {
		if p.connID == connID && p.event == event {
			out = append(out, p.payload)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, connID, event string) any {
	t.Helper()
	all := r.to(connID, event)
	require.NotEmpty(t, all, "no %s pushed to %s", event, connID)
	return all[len(all)-1]
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pushes))
	for _, p := range r.pushes {
		out = append(out, p.event)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = nil
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestManager(t *testing.T, opts ...func(*Options)) (*Manager, *recorder, *clock) {
	t.Helper()
	rec := &recorder{}
	clk := newClock()
	o := Options{
		Session:     config.DefaultSession(),
		Broadcaster: rec,
		Now:         clk.Now,
		Seed:        42,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewManager(o), rec, clk
}

func roomByID(t *testing.T, m *Manager, id string) *Room {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.rooms[id]
	require.NotNil(t, r, "room %s not registered", id)
	return r
}

// startedRoom creates a room for the given connections (the first one hosts),
// readies everyone and returns the room ID.
func startedRoom(t *testing.T, m *Manager, difficulty string, conns ...string) string {
	t.Helper()
	summary := m.CreateRoom(conns[0], CreateRoomRequest{
		Difficulty: difficulty,
		MaxPlayers: len(conns),
		HostName:   conns[0],
		ClientID:   "client-" + conns[0],
	})
	for _, c := range conns[1:] {
		_, err := m.Join(c, JoinRequest{RoomID: summary.ID, Name: c, ClientID: "client-" + c})
		require.NoError(t, err)
	}
	for _, c := range conns {
		require.NoError(t, m.SetReady(c, ReadyRequest{RoomID: summary.ID, Ready: true}))
	}
	r := roomByID(t, m, summary.ID)
	r.mu.Lock()
	require.True(t, r.Started)
	r.mu.Unlock()
	return summary.ID
}

func place(t *testing.T, m *Manager, connID, roomID string, x, y float64, mapName string) {
	t.Helper()
	state := json.RawMessage(fmt.Sprintf(`{"x":%g,"y":%g,"map":%q,"hp":100}`, x, y, mapName))
	require.NoError(t, m.UpdatePlayerState(connID, PlayerStateRequest{RoomID: roomID, State: state}))
}

// Contains reports whether the point lies inside the rectangle, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}
