package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coop-quest/internal/game"
)

// newDispatchHub binds a hub to a real manager without any sockets.
func newDispatchHub(t *testing.T, ids ...string) (*Hub, *game.Manager, map[string]*Client) {
	t.Helper()
	hub := NewHub(HubConfig{})
	mgr := game.NewManager(game.Options{Broadcaster: hub, Seed: 42})
	hub.service = mgr

	clients := make(map[string]*Client, len(ids))
	for _, id := range ids {
		c := testClient(id)
		hub.clients[id] = c
		clients[id] = c
	}
	return hub, mgr, clients
}

func ackData(t *testing.T, frames []frame, ack int) map[string]any {
	t.Helper()
	for _, f := range frames {
		if f.Event == eventAck && f.Ack != nil && *f.Ack == ack {
			var data map[string]any
			require.NoError(t, json.Unmarshal(f.Data, &data))
			return data
		}
	}
	require.Failf(t, "missing ack", "no ack %d in %d frames", ack, len(frames))
	return nil
}

func eventsOf(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func TestDispatchCreateRoomAck(t *testing.T) {
	hub, _, c := newDispatchHub(t, "a")

	hub.dispatch(c["a"], []byte(`{"event":"room:create","ack":1,"data":{"hostName":"Ada","maxPlayers":2,"difficulty":"hard"}}`))

	data := ackData(t, drain(t, c["a"]), 1)
	assert.Equal(t, true, data["ok"])
	room := data["room"].(map[string]any)
	assert.Equal(t, "Ada's room", room["name"])
	assert.Equal(t, "hard", room["difficulty"])
	assert.EqualValues(t, 2, room["maxPlayers"])
	assert.Len(t, room["players"], 1)
}

// TestDispatchErrorAck verifies failures are acknowledged with the error tag
func TestDispatchErrorAck(t *testing.T) {
	hub, _, c := newDispatchHub(t, "a")

	hub.dispatch(c["a"], []byte(`{"event":"room:join","ack":7,"data":{"roomId":"NOPE00"}}`))
	data := ackData(t, drain(t, c["a"]), 7)
	assert.Equal(t, false, data["ok"])
	assert.Equal(t, "RoomNotFound", data["error"])

	hub.dispatch(c["a"], []byte(`{"event":"enemy:hit","ack":8,"data":{"roomId":"NOPE00","enemyType":"wave","enemyId":"w1"}}`))
	data = ackData(t, drain(t, c["a"]), 8)
	assert.Equal(t, "InvalidEnemyType", data["error"])
}

// TestDispatchDropsMalformedFrames verifies bad input produces no reply
func TestDispatchDropsMalformedFrames(t *testing.T) {
	hub, mgr, c := newDispatchHub(t, "a")

	for _, raw := range []string{
		`not json`,
		`{"event":"no:such:event","ack":3,"data":{}}`,
		`{"event":"room:ready","ack":4,"data":{"roomId":"NOPE00","ready":true}}`,
		`{"event":"room:ready","ack":5,"data":"oops"}`,
	} {
		hub.dispatch(c["a"], []byte(raw))
	}

	assert.Empty(t, drain(t, c["a"]))
	assert.Equal(t, 0, mgr.Stats().Rooms)
}

// TestDispatchBadPayloadAck verifies a payload that is not an object is
// acknowledged as BadRequest
func TestDispatchBadPayloadAck(t *testing.T) {
	hub, mgr, c := newDispatchHub(t, "a")

	hub.dispatch(c["a"], []byte(`{"event":"room:create","ack":2,"data":"oops"}`))
	data := ackData(t, drain(t, c["a"]), 2)
	assert.Equal(t, false, data["ok"])
	assert.Equal(t, "BadRequest", data["error"])

	hub.dispatch(c["a"], []byte(`{"event":"wolf:hit","ack":3,"data":[1,2]}`))
	data = ackData(t, drain(t, c["a"]), 3)
	assert.Equal(t, "BadRequest", data["error"])

	assert.Equal(t, 0, mgr.Stats().Rooms)
}

// TestDispatchCreateRoomLenientFields verifies mistyped optional fields fall
// back to defaults instead of losing the request
func TestDispatchCreateRoomLenientFields(t *testing.T) {
	hub, _, c := newDispatchHub(t, "a", "b")

	hub.dispatch(c["a"], []byte(`{"event":"room:create","ack":1,"data":{"maxPlayers":"2","hostName":"Ada"}}`))
	data := ackData(t, drain(t, c["a"]), 1)
	require.Equal(t, true, data["ok"])
	assert.EqualValues(t, 2, data["room"].(map[string]any)["maxPlayers"])

	hub.dispatch(c["b"], []byte(`{"event":"room:create","ack":2,"data":{"maxPlayers":"lots","hostName":7,"difficulty":false}}`))
	data = ackData(t, drain(t, c["b"]), 2)
	require.Equal(t, true, data["ok"])
	room := data["room"].(map[string]any)
	assert.EqualValues(t, game.MaxCapacity, room["maxPlayers"])
	assert.Equal(t, "medium", room["difficulty"])
}

// recordingService captures decoded requests.
type recordingService struct {
	SessionService
	wolfHit game.WolfHitRequest
	quest   game.QuestSyncRequest
}

func (s *recordingService) ApplyWolfHit(_ string, req game.WolfHitRequest) (game.HitResult, error) {
	s.wolfHit = req
	return game.HitResult{OK: true, HP: 20}, nil
}

func (s *recordingService) SyncQuest(_ string, req game.QuestSyncRequest) (game.QuestState, error) {
	s.quest = req
	return game.QuestState{}, nil
}

// TestDispatchNumericStrings verifies numbers sent as strings still arrive
func TestDispatchNumericStrings(t *testing.T) {
	svc := &recordingService{}
	hub := NewHub(HubConfig{})
	hub.service = svc
	c := testClient("a")
	hub.clients["a"] = c

	hub.dispatch(c, []byte(`{"event":"wolf:hit","ack":7,"data":{"roomId":"R1","wolfId":"wolf-1","damage":"20"}}`))
	data := ackData(t, drain(t, c), 7)
	assert.Equal(t, true, data["ok"])
	require.NotNil(t, svc.wolfHit.Damage)
	assert.Equal(t, 20.0, *svc.wolfHit.Damage)
	assert.Equal(t, "wolf-1", svc.wolfHit.WolfID)

	hub.dispatch(c, []byte(`{"event":"wolf:hit","ack":8,"data":{"roomId":"R1","wolfId":"wolf-1","damage":"hard","heavy":"yes"}}`))
	ackData(t, drain(t, c), 8)
	assert.Nil(t, svc.wolfHit.Damage, "unusable damage is treated as missing")
	assert.False(t, svc.wolfHit.Heavy)

	hub.dispatch(c, []byte(`{"event":"quest:sync","ack":9,"data":{"roomId":"R1","stage":"10","wolfKills":"many","gotPelt":true}}`))
	data = ackData(t, drain(t, c), 9)
	assert.Equal(t, true, data["ok"])
	require.NotNil(t, svc.quest.Stage)
	assert.Equal(t, 10, *svc.quest.Stage)
	assert.Nil(t, svc.quest.WolfKills)
	require.NotNil(t, svc.quest.GotPelt)
	assert.True(t, *svc.quest.GotPelt)
}

func TestDispatchWithoutAckID(t *testing.T) {
	hub, mgr, c := newDispatchHub(t, "a")

	hub.dispatch(c["a"], []byte(`{"event":"room:create","data":{}}`))

	assert.Empty(t, drain(t, c["a"]), "no ack requested")
	assert.Equal(t, 1, mgr.Stats().Rooms)
}

func TestDispatchRoomList(t *testing.T) {
	hub, mgr, c := newDispatchHub(t, "a")
	mgr.CreateRoom("host", game.CreateRoomRequest{Name: "den", Code: "s3cret"})

	hub.dispatch(c["a"], []byte(`{"event":"room:list","ack":1}`))

	frames := drain(t, c["a"])
	require.Len(t, frames, 1)
	var rooms []game.RoomSummary
	require.NoError(t, json.Unmarshal(frames[0].Data, &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "den", rooms[0].Name)
	assert.True(t, rooms[0].HasCode)
}

// TestDispatchReadyStartsGame verifies the push sequence reaches every member
func TestDispatchReadyStartsGame(t *testing.T) {
	hub, mgr, c := newDispatchHub(t, "a", "b")
	room := mgr.CreateRoom("a", game.CreateRoomRequest{MaxPlayers: 2})
	_, err := mgr.Join("b", game.JoinRequest{RoomID: room.ID})
	require.NoError(t, err)
	drain(t, c["a"])
	drain(t, c["b"])

	hub.dispatch(c["a"], []byte(`{"event":"room:ready","data":{"roomId":"`+room.ID+`","ready":true}}`))
	assert.Equal(t, []string{"room:update"}, eventsOf(drain(t, c["b"])))

	hub.dispatch(c["b"], []byte(`{"event":"room:ready","data":{"roomId":"`+room.ID+`","ready":true}}`))
	for _, id := range []string{"a", "b"} {
		events := eventsOf(drain(t, c[id]))
		assert.Equal(t, []string{"game:start", "room:update", "quest:sync", "game:state"}, events, id)
	}
}

// TestDispatchWaveHitFromLeader verifies the leader is told to resolve its own hits
func TestDispatchWaveHitFromLeader(t *testing.T) {
	hub, mgr, c := newDispatchHub(t, "a")
	room := mgr.CreateRoom("a", game.CreateRoomRequest{MaxPlayers: 1})
	require.NoError(t, mgr.SetReady("a", game.ReadyRequest{RoomID: room.ID, Ready: true}))
	drain(t, c["a"])

	hub.dispatch(c["a"], []byte(`{"event":"wave:hit","ack":5,"data":{"roomId":"`+room.ID+`","enemyId":3,"damage":10}}`))

	data := ackData(t, drain(t, c["a"]), 5)
	assert.Equal(t, false, data["ok"])
	assert.Equal(t, "LeaderShouldResolveLocally", data["error"])
}

// TestSendDropsWhenBufferFull verifies pushes never block
func TestSendDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(HubConfig{})
	c := testClient("slow")
	c.send = make(chan []byte, 1)
	hub.clients[c.ID] = c

	hub.Send("slow", "game:state", map[string]int{"tick": 1})
	hub.Send("slow", "game:state", map[string]int{"tick": 2})
	hub.Send("nobody", "game:state", nil)

	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"tick":1}`, string(frames[0].Data))
	assert.Nil(t, frames[0].Ack)
}
