package game

import (
	"encoding/json"
	"time"
)

// EventType classifies audit events.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeRoomCreated
	EventTypeGameStarted
	EventTypePlayerJoined
	EventTypePlayerLeft
	EventTypePlayerReconnected
	EventTypeEnemyKilled
	EventTypeQuestMerged
	EventTypeRoomDestroyed
)

// EventVersion is bumped whenever a payload shape changes.
const EventVersion uint8 = 1

// Event is one line of the audit log.
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	RoomID    string          `json:"roomId"`
	ClientID  string          `json:"clientId,omitempty"` // source client, used for rate limiting
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns the event type name used in the log.
func (t EventType) String() string {
	switch t {
	case EventTypeRoomCreated:
		return "room_created"
	case EventTypeGameStarted:
		return "game_started"
	case EventTypePlayerJoined:
		return "player_joined"
	case EventTypePlayerLeft:
		return "player_left"
	case EventTypePlayerReconnected:
		return "player_reconnected"
	case EventTypeEnemyKilled:
		return "enemy_killed"
	case EventTypeQuestMerged:
		return "quest_merged"
	case EventTypeRoomDestroyed:
		return "room_destroyed"
	default:
		return "unknown"
	}
}

// MarshalText writes the type by name so the log stays greppable.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// RoomCreatedPayload describes a new room.
type RoomCreatedPayload struct {
	Name       string     `json:"name"`
	Difficulty Difficulty `json:"difficulty"`
	MaxPlayers int        `json:"maxPlayers"`
	HasCode    bool       `json:"hasCode"`
}

// GameStartedPayload records the party a session started with.
type GameStartedPayload struct {
	Players int `json:"players"`
}

// MembershipPayload describes a join, leave or reconnect.
type MembershipPayload struct {
	Name    string `json:"name"`
	Started bool   `json:"started"`
	Pruned  bool   `json:"pruned,omitempty"`
}

// EnemyKilledPayload records a validated killing blow.
type EnemyKilledPayload struct {
	EnemyType Species `json:"enemyType"`
	EnemyID   string  `json:"enemyId"`
	Map       string  `json:"map"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// QuestMergedPayload records the state a merge produced.
type QuestMergedPayload struct {
	Quest QuestState `json:"quest"`
}

// RoomDestroyedPayload records why a room went away.
type RoomDestroyedPayload struct {
	Reason string `json:"reason"`
}

// EncodePayload marshals a payload, returning nil when it cannot be encoded.
func EncodePayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates an event stamped with now.
func NewEvent(eventType EventType, now time.Time, roomID, clientID string, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: now.UnixNano(),
		RoomID:    roomID,
		ClientID:  clientID,
		Payload:   EncodePayload(payload),
	}
}
