package game

import "encoding/json"

// Server push event names.
const (
	EventRoomUpdate        = "room:update"
	EventGameStart         = "game:start"
	EventGameState         = "game:state"
	EventQuestSync         = "quest:sync"
	EventQuestPhase1Update = "quest:phase1:update"
	EventWolfSlain         = "wolf:slain"
	EventEnemySlain        = "enemy:slain"
	EventPlayerState       = "player:state"
	EventWaveState         = "wave:state"
	EventWaveHit           = "wave:hit"
)

// Broadcaster delivers a server push to one connection. Implementations must
// not block: the manager calls Send while holding a room lock.
type Broadcaster interface {
	Send(connID, event string, payload any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Send(string, string, any) {}

// GameStartPayload is pushed once when a room starts.
type GameStartPayload struct {
	RoomID    string      `json:"roomId"`
	Room      RoomSummary `json:"room"`
	StartedAt int64       `json:"startedAt"`
}

// SlainPayload is pushed as wolf:slain or enemy:slain.
type SlainPayload struct {
	EnemyType Species    `json:"enemyType"`
	EnemyID   string     `json:"enemyId"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Map       string     `json:"map"`
	By        string     `json:"by"`
	Quest     QuestState `json:"quest"`
}

// PlayerStatePayload relays one member's reported state to the others.
type PlayerStatePayload struct {
	ID       string          `json:"id"`
	ClientID string          `json:"clientId"`
	State    json.RawMessage `json:"state"`
}

// emitLocked pushes one event to every connected member except one
// connection. Payloads must already be value copies.
func (m *Manager) emitLocked(r *Room, event string, payload any, except string) {
	for _, connID := range r.connIDsLocked(except) {
		m.broadcaster.Send(connID, event, payload)
	}
}

func (m *Manager) emitRoomUpdateLocked(r *Room) {
	m.emitLocked(r, EventRoomUpdate, r.summaryLocked(), "")
}

func (m *Manager) emitQuestLocked(r *Room) {
	m.emitLocked(r, EventQuestSync, r.Session.Quest, "")
}

// emitStateLocked pushes a fresh snapshot. Only the tick loop is throttled;
// event-driven snapshots always go out.
func (m *Manager) emitStateLocked(r *Room) {
	m.emitLocked(r, EventGameState, r.Session.snapshot(r.ID), "")
}
