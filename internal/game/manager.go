package game

import (
	"context"
	"encoding/hex"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coop-quest/internal/config"
	"coop-quest/internal/metrics"
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Session     config.SessionConfig
	Logger      *zap.Logger
	Broadcaster Broadcaster
	EventLog    *EventLog

	// Test hooks.
	Now       func() time.Time
	Seed      int64 // zero seeds from the clock
	NewRoomID func() string
}

// Manager owns every room and the connection → room index. Each room is
// guarded by its own lock; mu only guards the two maps. Code holding a room
// lock may take mu, never the other way around.
type Manager struct {
	cfg         config.SessionConfig
	logger      *zap.Logger
	broadcaster Broadcaster
	events      *EventLog
	now         func() time.Time
	newRoomID   func() string

	mu       sync.RWMutex
	rooms    map[string]*Room
	connRoom map[string]string

	seedMu sync.Mutex
	seeds  *rand.Rand

	tickMu   sync.Mutex
	lastTick time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates an idle manager. Call Start to run the background loops.
func NewManager(opts Options) *Manager {
	cfg := opts.Session
	def := config.DefaultSession()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxTickDelta <= 0 {
		cfg.MaxTickDelta = def.MaxTickDelta
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = def.BroadcastInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = def.DisconnectGrace
	}
	if cfg.EmptyRoomGrace <= 0 {
		cfg.EmptyRoomGrace = def.EmptyRoomGrace
	}

	m := &Manager{
		cfg:         cfg,
		logger:      opts.Logger,
		broadcaster: opts.Broadcaster,
		events:      opts.EventLog,
		now:         opts.Now,
		newRoomID:   opts.NewRoomID,
		rooms:       make(map[string]*Room),
		connRoom:    make(map[string]string),
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.broadcaster == nil {
		m.broadcaster = nopBroadcaster{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newRoomID == nil {
		m.newRoomID = NewRoomID
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m.seeds = rand.New(rand.NewSource(seed))
	return m
}

// NewRoomID returns a 6-character uppercase token cut from a random UUID.
func NewRoomID() string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:3]))
}

// Config returns the effective session timing.
func (m *Manager) Config() config.SessionConfig {
	return m.cfg
}

// Start runs the simulation tick and the sweep until ctx is cancelled or Stop
// is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.loop(ctx, m.cfg.TickInterval, func(now time.Time) { m.Tick(now) })
	go m.loop(ctx, m.cfg.SweepInterval, func(now time.Time) { m.Sweep(now) })

	m.logger.Info("session manager started",
		zap.Duration("tick", m.cfg.TickInterval),
		zap.Duration("broadcast", m.cfg.BroadcastInterval),
		zap.Duration("sweep", m.cfg.SweepInterval))
}

// Stop halts the background loops and waits for them to return.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		m.logger.Info("session manager stopped")
	})
}

func (m *Manager) loop(ctx context.Context, every time.Duration, fn func(time.Time)) {
	defer m.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(m.now())
		}
	}
}

// =============================================================================
// SIMULATION DRIVER
// =============================================================================

// Tick advances every started room once and returns the delta it applied.
// The first tick assumes one nominal interval; later ones use wall time since
// the previous tick, clamped to MaxTickDelta.
func (m *Manager) Tick(now time.Time) time.Duration {
	start := time.Now()

	m.tickMu.Lock()
	dt := m.cfg.TickInterval
	if !m.lastTick.IsZero() {
		dt = now.Sub(m.lastTick)
	}
	m.lastTick = now
	m.tickMu.Unlock()

	if dt > m.cfg.MaxTickDelta {
		dt = m.cfg.MaxTickDelta
	}
	if dt < 0 {
		dt = 0
	}

	var active, started, connected int
	for _, r := range m.roomList() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		active++
		n := r.connectedCountLocked()
		connected += n
		if r.Started && r.Session != nil {
			started++
			r.Session.advance(dt.Seconds(), r.targetsLocked(), r.Difficulty, n)
			if now.Sub(r.Session.lastBroadcast) >= m.cfg.BroadcastInterval {
				r.Session.lastBroadcast = now
				m.emitStateLocked(r)
			}
		}
		r.mu.Unlock()
	}

	metrics.SetRoomCounts(active, started, connected)
	metrics.RecordTick(time.Since(start))
	return dt
}

// =============================================================================
// REGISTRY
// =============================================================================

// CreateRoomRequest is the payload of room:create.
type CreateRoomRequest struct {
	Name       string `json:"name"`
	Code       string `json:"code"`
	Difficulty string `json:"difficulty"`
	MaxPlayers int    `json:"maxPlayers"`
	HostName   string `json:"hostName"`
	ClientID   string `json:"clientId"`
}

// CreateRoom opens a room with the caller as its only, leading, unready
// member. It never fails; missing or invalid fields get defaults. A
// connection that was in another room leaves it first.
func (m *Manager) CreateRoom(connID string, req CreateRoomRequest) RoomSummary {
	m.Disconnect(connID)

	now := m.now()
	host := &Player{
		ClientID:  clientIdentity(req.ClientID, connID),
		ConnID:    connID,
		Name:      sanitizeName(req.HostName),
		Leader:    true,
		Connected: true,
		JoinedAt:  now,
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = host.Name + "'s room"
	}
	r := &Room{
		Name:       name,
		Code:       strings.TrimSpace(req.Code),
		Difficulty: ParseDifficulty(req.Difficulty),
		Capacity:   clampCapacity(req.MaxPlayers),
		CreatedAt:  now,
		players:    []*Player{host},
	}

	m.mu.Lock()
	id := m.newRoomID()
	for _, taken := m.rooms[id]; taken; _, taken = m.rooms[id] {
		id = m.newRoomID()
	}
	r.ID = id
	m.rooms[id] = r
	m.connRoom[connID] = id
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	m.events.Record(EventTypeRoomCreated, now, r.ID, host.ClientID, RoomCreatedPayload{
		Name:       r.Name,
		Difficulty: r.Difficulty,
		MaxPlayers: r.Capacity,
		HasCode:    r.Code != "",
	})
	m.logger.Info("room created",
		zap.String("room", r.ID),
		zap.String("difficulty", string(r.Difficulty)),
		zap.Int("capacity", r.Capacity))
	return r.summaryLocked()
}

// ListOpenRooms returns rooms still in the lobby, oldest first.
func (m *Manager) ListOpenRooms() []RoomSummary {
	rooms := m.roomList()
	open := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed && !r.Started {
			open = append(open, r.summaryLocked())
		}
		r.mu.Unlock()
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		}
		return open[i].ID < open[j].ID
	})
	return open
}

// GetRoom returns a snapshot of one room.
func (m *Manager) GetRoom(id string) (RoomSummary, error) {
	r, err := m.lockRoom(id)
	if err != nil {
		return RoomSummary{}, err
	}
	defer r.mu.Unlock()
	return r.summaryLocked(), nil
}

// RoomOf returns the room a connection is currently bound to.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.connRoom[connID]
	return id, ok
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Rooms            int `json:"rooms"`
	OpenRooms        int `json:"openRooms"`
	StartedRooms     int `json:"startedRooms"`
	Players          int `json:"players"`
	ConnectedPlayers int `json:"connectedPlayers"`
	Connections      int `json:"connections"`

	Events map[string]any `json:"events"`
}

// Stats counts rooms, slots and bound connections.
func (m *Manager) Stats() Stats {
	var s Stats
	for _, r := range m.roomList() {
		r.mu.Lock()
		if !r.closed {
			s.Rooms++
			if r.Started {
				s.StartedRooms++
			} else {
				s.OpenRooms++
			}
			s.Players += len(r.players)
			s.ConnectedPlayers += r.connectedCountLocked()
		}
		r.mu.Unlock()
	}
	m.mu.RLock()
	s.Connections = len(m.connRoom)
	m.mu.RUnlock()
	s.Events = m.events.Stats()
	return s
}

// roomList copies the room table so callers can lock rooms one at a time
// without holding mu.
func (m *Manager) roomList() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// lockRoom returns the room locked. The caller must unlock it.
func (m *Manager) lockRoom(id string) (*Room, error) {
	m.mu.RLock()
	r := m.rooms[id]
	m.mu.RUnlock()
	if r == nil {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// resolveRoomID falls back to the connection's bound room when a request
// omits roomId.
func (m *Manager) resolveRoomID(connID, roomID string) string {
	if roomID != "" {
		return roomID
	}
	id, _ := m.RoomOf(connID)
	return id
}

// lockMember returns the room locked together with the caller's slot.
func (m *Manager) lockMember(connID, roomID string) (*Room, *Player, error) {
	r, err := m.lockRoom(m.resolveRoomID(connID, roomID))
	if err != nil {
		return nil, nil, err
	}
	p := r.playerByConnLocked(connID)
	if p == nil {
		r.mu.Unlock()
		return nil, nil, ErrPlayerNotInRoom
	}
	return r, p, nil
}

// lockStartedMember is lockMember for operations that need a live session.
func (m *Manager) lockStartedMember(connID, roomID string) (*Room, *Player, error) {
	r, err := m.lockRoom(m.resolveRoomID(connID, roomID))
	if err != nil {
		return nil, nil, err
	}
	if !r.Started || r.Session == nil {
		r.mu.Unlock()
		return nil, nil, ErrRoomNotActive
	}
	p := r.playerByConnLocked(connID)
	if p == nil {
		r.mu.Unlock()
		return nil, nil, ErrPlayerNotInRoom
	}
	return r, p, nil
}

func (m *Manager) indexConnLocked(connID, roomID string) {
	m.mu.Lock()
	m.connRoom[connID] = roomID
	m.mu.Unlock()
}

// unindexConnLocked drops connID only if it still points at roomID, so a
// connection that already moved on keeps its new binding.
func (m *Manager) unindexConnLocked(connID, roomID string) {
	m.mu.Lock()
	if m.connRoom[connID] == roomID {
		delete(m.connRoom, connID)
	}
	m.mu.Unlock()
}

func (m *Manager) destroyRoomLocked(r *Room, reason string) {
	r.closed = true

	m.mu.Lock()
	if m.rooms[r.ID] == r {
		delete(m.rooms, r.ID)
	}
	for _, p := range r.players {
		if m.connRoom[p.ConnID] == r.ID {
			delete(m.connRoom, p.ConnID)
		}
	}
	m.mu.Unlock()

	m.events.Record(EventTypeRoomDestroyed, m.now(), r.ID, "", RoomDestroyedPayload{Reason: reason})
	m.logger.Info("room destroyed", zap.String("room", r.ID), zap.String("reason", reason))
}

func (m *Manager) newRand() *rand.Rand {
	m.seedMu.Lock()
	defer m.seedMu.Unlock()
	return rand.New(rand.NewSource(m.seeds.Int63()))
}

func clientIdentity(clientID, connID string) string {
	if id := strings.TrimSpace(clientID); id != "" {
		return id
	}
	return connID
}
