package game

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// JoinRequest is the payload of room:join.
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	ClientID string `json:"clientId"`
}

// ReconnectRequest is the payload of room:reconnect.
type ReconnectRequest struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

// ReconnectResult carries what a returning client needs to resume. State and
// Quest are nil until the room has started.
type ReconnectResult struct {
	Room  RoomSummary `json:"room"`
	State *GameState  `json:"state"`
	Quest *QuestState `json:"quest"`
}

// ReadyRequest is the payload of room:ready.
type ReadyRequest struct {
	RoomID string `json:"roomId"`
	Ready  bool   `json:"ready"`
	Name   string `json:"name"`
}

// PlayerStateRequest is the payload of player:state.
type PlayerStateRequest struct {
	RoomID string          `json:"roomId"`
	State  json.RawMessage `json:"state"`
}

// Join adds the caller to a lobby. A client identity that already owns a
// slot resumes it instead, whatever the room's state, secret or capacity.
func (m *Manager) Join(connID string, req JoinRequest) (RoomSummary, error) {
	prev, _ := m.RoomOf(connID)

	r, err := m.lockRoom(req.RoomID)
	if err != nil {
		return RoomSummary{}, err
	}

	clientID := clientIdentity(req.ClientID, connID)
	if p := r.playerByClientLocked(clientID); p != nil {
		m.rebindLocked(r, p, connID, req.Name)
	} else {
		switch {
		case r.Started:
			r.mu.Unlock()
			return RoomSummary{}, ErrRoomAlreadyStarted
		case r.Code != "" && req.Code != r.Code:
			r.mu.Unlock()
			return RoomSummary{}, ErrWrongSecret
		case len(r.players) >= r.Capacity:
			r.mu.Unlock()
			return RoomSummary{}, ErrRoomFull
		}

		p := &Player{
			ClientID:  clientID,
			ConnID:    connID,
			Name:      sanitizeName(req.Name),
			Connected: true,
			JoinedAt:  m.now(),
		}
		r.players = append(r.players, p)
		r.EmptySince = time.Time{}
		r.ensureLeaderLocked()
		m.indexConnLocked(connID, r.ID)

		m.events.Record(EventTypePlayerJoined, m.now(), r.ID, clientID, MembershipPayload{Name: p.Name})
		m.logger.Debug("player joined", zap.String("room", r.ID), zap.String("client", clientID))
	}

	m.emitRoomUpdateLocked(r)
	summary := r.summaryLocked()
	roomID := r.ID
	r.mu.Unlock()

	if prev != "" && prev != roomID {
		m.leaveRoom(prev, connID)
	}
	return summary, nil
}

// Reconnect rebinds an existing slot to a new connection and returns the
// same snapshots peers are receiving.
func (m *Manager) Reconnect(connID string, req ReconnectRequest) (ReconnectResult, error) {
	prev, _ := m.RoomOf(connID)

	r, err := m.lockRoom(req.RoomID)
	if err != nil {
		return ReconnectResult{}, err
	}

	p := r.playerByClientLocked(clientIdentity(req.ClientID, connID))
	if p == nil {
		r.mu.Unlock()
		return ReconnectResult{}, ErrPlayerSlotNotFound
	}
	m.rebindLocked(r, p, connID, req.Name)
	m.emitRoomUpdateLocked(r)

	res := ReconnectResult{Room: r.summaryLocked()}
	if r.Started && r.Session != nil {
		state := r.Session.snapshot(r.ID)
		quest := r.Session.Quest
		res.State, res.Quest = &state, &quest
	}
	roomID := r.ID
	r.mu.Unlock()

	if prev != "" && prev != roomID {
		m.leaveRoom(prev, connID)
	}
	return res, nil
}

// rebindLocked points a slot at a new connection and clears its disconnect
// bookkeeping, which cancels any pending prune.
func (m *Manager) rebindLocked(r *Room, p *Player, connID, name string) {
	if p.ConnID != connID {
		m.unindexConnLocked(p.ConnID, r.ID)
	}
	p.ConnID = connID
	p.Connected = true
	p.DisconnectedAt = time.Time{}
	if name != "" {
		p.Name = sanitizeName(name)
	}
	r.EmptySince = time.Time{}
	r.ensureLeaderLocked()
	m.indexConnLocked(connID, r.ID)

	m.events.Record(EventTypePlayerReconnected, m.now(), r.ID, p.ClientID, MembershipPayload{Name: p.Name, Started: r.Started})
	m.logger.Debug("player reconnected", zap.String("room", r.ID), zap.String("client", p.ClientID))
}

// SetReady updates the caller's ready flag. The first time every connected
// member is ready the room starts and its session is created.
func (m *Manager) SetReady(connID string, req ReadyRequest) error {
	r, p, err := m.lockMember(connID, req.RoomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	p.Ready = req.Ready
	if req.Name != "" {
		p.Name = sanitizeName(req.Name)
	}

	if r.Started || !r.allConnectedReadyLocked() {
		m.emitRoomUpdateLocked(r)
		return nil
	}

	now := m.now()
	connected := r.connectedCountLocked()
	r.Started = true
	r.Session = newSession(r.Difficulty, connected, m.newRand(), now)

	m.emitLocked(r, EventGameStart, GameStartPayload{
		RoomID:    r.ID,
		Room:      r.summaryLocked(),
		StartedAt: now.UnixMilli(),
	}, "")
	m.emitRoomUpdateLocked(r)
	m.emitQuestLocked(r)
	m.emitStateLocked(r)

	m.events.Record(EventTypeGameStarted, now, r.ID, "", GameStartedPayload{Players: connected})
	m.logger.Info("room started",
		zap.String("room", r.ID),
		zap.Int("players", connected),
		zap.String("difficulty", string(r.Difficulty)))
	return nil
}

// Disconnect handles a closed transport. Lobby slots are removed; started
// slots are kept for the disconnect grace window.
func (m *Manager) Disconnect(connID string) {
	roomID, ok := m.RoomOf(connID)
	if !ok {
		return
	}
	m.leaveRoom(roomID, connID)
}

func (m *Manager) leaveRoom(roomID, connID string) {
	r, err := m.lockRoom(roomID)
	if err != nil {
		m.mu.Lock()
		if m.connRoom[connID] == roomID {
			delete(m.connRoom, connID)
		}
		m.mu.Unlock()
		return
	}
	defer r.mu.Unlock()

	m.unindexConnLocked(connID, r.ID)
	p := r.playerByConnLocked(connID)
	if p == nil {
		return
	}

	now := m.now()
	if r.Started {
		p.Connected = false
		p.DisconnectedAt = now
	} else {
		r.removePlayerLocked(p)
	}
	m.events.Record(EventTypePlayerLeft, now, r.ID, p.ClientID, MembershipPayload{Name: p.Name, Started: r.Started})

	if len(r.players) == 0 {
		m.destroyRoomLocked(r, "empty")
		return
	}
	r.ensureLeaderLocked()
	if r.connectedCountLocked() == 0 && r.EmptySince.IsZero() {
		r.EmptySince = now
	}
	m.emitRoomUpdateLocked(r)
}

// UpdatePlayerState stores a member's reported state and relays it to the
// rest of the room.
func (m *Manager) UpdatePlayerState(connID string, req PlayerStateRequest) error {
	r, p, err := m.lockMember(connID, req.RoomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	p.applyState(req.State)
	m.emitLocked(r, EventPlayerState, PlayerStatePayload{
		ID:       p.ConnID,
		ClientID: p.ClientID,
		State:    p.State,
	}, connID)
	return nil
}

// Sweep prunes slots whose disconnect grace has run out and destroys rooms
// that are empty or have had nobody connected for the empty-room grace. It
// returns the number of rooms destroyed.
func (m *Manager) Sweep(now time.Time) int {
	destroyed := 0
	for _, r := range m.roomList() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}

		pruned := 0
		for _, p := range append([]*Player(nil), r.players...) {
			if p.Connected || now.Sub(p.DisconnectedAt) <= m.cfg.DisconnectGrace {
				continue
			}
			r.removePlayerLocked(p)
			pruned++
			m.events.Record(EventTypePlayerLeft, now, r.ID, p.ClientID, MembershipPayload{Name: p.Name, Started: r.Started, Pruned: true})
		}

		switch {
		case len(r.players) == 0:
			m.destroyRoomLocked(r, "empty")
			destroyed++
		case r.Started && !r.EmptySince.IsZero() && now.Sub(r.EmptySince) > m.cfg.EmptyRoomGrace:
			m.destroyRoomLocked(r, "abandoned")
			destroyed++
		case pruned > 0:
			r.ensureLeaderLocked()
			m.emitRoomUpdateLocked(r)
		}
		r.mu.Unlock()
	}
	if destroyed > 0 {
		m.logger.Debug("sweep finished", zap.Int("destroyed", destroyed))
	}
	return destroyed
}
