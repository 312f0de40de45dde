package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"coop-quest/internal/game"
)

// SessionService is the session manager surface the transport calls.
// *game.Manager satisfies it.
type SessionService interface {
	ListOpenRooms() []game.RoomSummary
	Stats() game.Stats

	CreateRoom(connID string, req game.CreateRoomRequest) game.RoomSummary
	Join(connID string, req game.JoinRequest) (game.RoomSummary, error)
	Reconnect(connID string, req game.ReconnectRequest) (game.ReconnectResult, error)
	SetReady(connID string, req game.ReadyRequest) error
	UpdatePlayerState(connID string, req game.PlayerStateRequest) error
	Disconnect(connID string)

	SyncQuest(connID string, req game.QuestSyncRequest) (game.QuestState, error)
	UpdatePhase1(connID string, req game.Phase1Request) (game.QuestState, error)

	ApplyWolfHit(connID string, req game.WolfHitRequest) (game.HitResult, error)
	ApplyMelee(connID string, req game.MeleeRequest) (game.HitResult, error)
	RelayWaveHit(connID string, req game.WaveHitRequest) error
	RelayWaveState(connID string, req game.WaveStateRequest) error
}

var _ SessionService = (*game.Manager)(nil)

// Inbound client events.
const (
	MsgRoomList      = "room:list"
	MsgRoomCreate    = "room:create"
	MsgRoomJoin      = "room:join"
	MsgRoomReconnect = "room:reconnect"
	MsgRoomReady     = "room:ready"
	MsgPlayerState   = "player:state"
	MsgQuestSync     = "quest:sync"
	MsgQuestPhase1   = "quest:phase1:update"
	MsgWolfHit       = "wolf:hit"
	MsgEnemyHit      = "enemy:hit"
	MsgWaveState     = "wave:state"
	MsgWaveHit       = "wave:hit"

	eventAck = "ack"
)

// inbound is the client frame envelope.
type inbound struct {
	Event string          `json:"event"`
	Ack   *int            `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

// outbound carries both pushes and ack replies.
type outbound struct {
	Event string `json:"event"`
	Ack   *int   `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

type okReply struct {
	OK bool `json:"ok"`
}

type errorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type roomReply struct {
	OK   bool             `json:"ok"`
	Room game.RoomSummary `json:"room"`
}

type reconnectReply struct {
	OK bool `json:"ok"`
	game.ReconnectResult
}

type questReply struct {
	OK    bool            `json:"ok"`
	Quest game.QuestState `json:"quest"`
}

// handlerFunc runs one event. A nil reply with a nil error means nothing is
// acknowledged.
type handlerFunc func(svc SessionService, connID string, data json.RawMessage) (any, error)

var handlers = map[string]handlerFunc{
	MsgRoomList: func(svc SessionService, _ string, _ json.RawMessage) (any, error) {
		return svc.ListOpenRooms(), nil
	},
	MsgRoomCreate: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.CreateRoomRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return roomReply{OK: true, Room: svc.CreateRoom(connID, req)}, nil
	},
	MsgRoomJoin: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.JoinRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		room, err := svc.Join(connID, req)
		if err != nil {
			return nil, err
		}
		return roomReply{OK: true, Room: room}, nil
	},
	MsgRoomReconnect: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.ReconnectRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		res, err := svc.Reconnect(connID, req)
		if err != nil {
			return nil, err
		}
		return reconnectReply{OK: true, ReconnectResult: res}, nil
	},
	MsgRoomReady: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.ReadyRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.SetReady(connID, req)
	},
	MsgPlayerState: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.PlayerStateRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.UpdatePlayerState(connID, req)
	},
	MsgQuestSync: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.QuestSyncRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		quest, err := svc.SyncQuest(connID, req)
		if err != nil {
			return nil, err
		}
		return questReply{OK: true, Quest: quest}, nil
	},
	MsgQuestPhase1: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.Phase1Request
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		quest, err := svc.UpdatePhase1(connID, req)
		if err != nil {
			return nil, err
		}
		return questReply{OK: true, Quest: quest}, nil
	},
	MsgWolfHit: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.WolfHitRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return svc.ApplyWolfHit(connID, req)
	},
	MsgEnemyHit: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.MeleeRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return svc.ApplyMelee(connID, req)
	},
	MsgWaveState: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.WaveStateRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, svc.RelayWaveState(connID, req)
	},
	MsgWaveHit: func(svc SessionService, connID string, data json.RawMessage) (any, error) {
		var req game.WaveHitRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if err := svc.RelayWaveHit(connID, req); err != nil {
			return nil, err
		}
		return okReply{OK: true}, nil
	},
}

// noAck lists events whose failures are logged instead of acknowledged.
var noAck = map[string]bool{
	MsgRoomReady:   true,
	MsgPlayerState: true,
	MsgWaveState:   true,
}

// errBadRequest is acknowledged when a payload is not a JSON object.
var errBadRequest = errors.New("BadRequest")

// numericFields are the payload keys decoded as numbers. A numeric string is
// accepted; any other value is treated as absent so the default applies.
var numericFields = map[string]bool{
	"maxPlayers":   true,
	"damage":       true,
	"stage":        true,
	"wolfKills":    true,
	"banditKills":  true,
	"waveKills":    true,
	"wavesCleared": true,
}

// decode fills v from a payload object. Fields of the wrong type are skipped
// and keep their zero value; only a payload that is not an object fails.
func decode(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for key, raw := range fields {
		if !numericFields[key] {
			continue
		}
		if n, ok := lenientNumber(raw); ok {
			fields[key] = n
		} else {
			delete(fields, key)
		}
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(normalized, v); err != nil && !errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// lenientNumber returns raw as a JSON number when it is one, or when it is a
// string holding one.
func lenientNumber(raw json.RawMessage) (json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, false
		}
		text = strings.TrimSpace(text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, false
	}
	return json.RawMessage(strconv.FormatFloat(f, 'f', -1, 64)), true
}

// dispatch decodes one frame, runs its handler and writes the ack, if any.
// A panic in a handler is contained to the frame.
func (h *Hub) dispatch(c *Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic handling frame", zap.String("conn", c.ID), zap.Any("panic", r))
		}
	}()

	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		h.logger.Debug("malformed frame dropped", zap.String("conn", c.ID), zap.Error(err))
		return
	}
	handle, ok := handlers[msg.Event]
	if !ok || h.service == nil {
		h.logger.Debug("unknown event dropped", zap.String("conn", c.ID), zap.String("event", msg.Event))
		return
	}

	reply, err := handle(h.service, c.ID, msg.Data)
	switch {
	case err != nil && noAck[msg.Event]:
		h.logger.Debug("event rejected", zap.String("conn", c.ID), zap.String("event", msg.Event), zap.Error(err))
		return
	case errors.Is(err, errBadRequest):
		h.logger.Debug("bad payload", zap.String("conn", c.ID), zap.String("event", msg.Event), zap.Error(err))
		reply = errorReply{OK: false, Error: errBadRequest.Error()}
	case err != nil:
		reply = errorReply{OK: false, Error: err.Error()}
	}

	if reply == nil || msg.Ack == nil {
		return
	}
	b, err := json.Marshal(outbound{Event: eventAck, Ack: msg.Ack, Data: reply})
	if err != nil {
		h.logger.Error("encode ack", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	h.deliver(c, b)
}
