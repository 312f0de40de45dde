package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJoinErrorPrecedence verifies RoomNotFound, RoomAlreadyStarted, WrongSecret, RoomFull in that order
func TestJoinErrorPrecedence(t *testing.T) {
	m, _, _ := newTestManager(t)

	full := m.CreateRoom("host1", CreateRoomRequest{MaxPlayers: 1, Code: "abc"})
	started := m.CreateRoom("host2", CreateRoomRequest{MaxPlayers: 1, Code: "abc"})
	require.NoError(t, m.SetReady("host2", ReadyRequest{RoomID: started.ID, Ready: true}))

	tests := []struct {
		name string
		req  JoinRequest
		want error
	}{
		{"unknown room", JoinRequest{RoomID: "ZZZZZZ"}, ErrRoomNotFound},
		{"started beats secret", JoinRequest{RoomID: started.ID, Code: "wrong"}, ErrRoomAlreadyStarted},
		{"secret beats capacity", JoinRequest{RoomID: full.ID, Code: "wrong"}, ErrWrongSecret},
		{"full", JoinRequest{RoomID: full.ID, Code: "abc"}, ErrRoomFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Join("newcomer", tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, bound := m.RoomOf("newcomer")
	assert.False(t, bound, "failed joins bind nothing")
}

// TestJoinAddsMember verifies a successful join and the room:update push
func TestJoinAddsMember(t *testing.T) {
	m, rec, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{Code: "abc", MaxPlayers: 2})

	got, err := m.Join("b", JoinRequest{RoomID: room.ID, Code: "abc", Name: "  Bo  ", ClientID: "client-b"})
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.Equal(t, "Bo", got.Players[1].Name)
	assert.False(t, got.Players[1].Leader)
	assert.True(t, got.Players[0].Leader)

	assert.Len(t, rec.to("a", EventRoomUpdate), 1)
	assert.Len(t, rec.to("b", EventRoomUpdate), 1)
}

// TestJoinTruncatesLongNames verifies names are capped at twenty characters
func TestJoinTruncatesLongNames(t *testing.T) {
	m, _, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{})

	got, err := m.Join("b", JoinRequest{RoomID: room.ID, Name: "Bartholomew the Unconquerable"})
	require.NoError(t, err)
	assert.Equal(t, "Bartholomew the Unco", got.Players[1].Name)
}

// TestJoinWithKnownIdentityResumes verifies existing members may always come back through join
func TestJoinWithKnownIdentityResumes(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startedRoom(t, m, "medium", "a", "b")
	m.Disconnect("b")

	got, err := m.Join("b2", JoinRequest{RoomID: id, Code: "whatever", ClientID: "client-b"})
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.True(t, got.Players[1].Connected)
	assert.Equal(t, "b2", got.Players[1].ID)

	roomID, ok := m.RoomOf("b2")
	require.True(t, ok)
	assert.Equal(t, id, roomID)
}

// TestJoinSwitchesRooms verifies joining a second room detaches the connection from the first
func TestJoinSwitchesRooms(t *testing.T) {
	m, rec, _ := newTestManager(t)
	first := m.CreateRoom("a", CreateRoomRequest{})
	_, err := m.Join("b", JoinRequest{RoomID: first.ID})
	require.NoError(t, err)
	second := m.CreateRoom("c", CreateRoomRequest{})
	rec.reset()

	_, err = m.Join("b", JoinRequest{RoomID: second.ID})
	require.NoError(t, err)

	got, err := m.GetRoom(first.ID)
	require.NoError(t, err)
	assert.Len(t, got.Players, 1)
	assert.Len(t, rec.to("a", EventRoomUpdate), 1)

	roomID, _ := m.RoomOf("b")
	assert.Equal(t, second.ID, roomID)
}

// TestRedundantReadyStartsOnce verifies the lobby to started transition happens exactly once
func TestRedundantReadyStartsOnce(t *testing.T) {
	m, rec, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{MaxPlayers: 2, ClientID: "client-a"})
	_, err := m.Join("b", JoinRequest{RoomID: room.ID, ClientID: "client-b"})
	require.NoError(t, err)

	require.NoError(t, m.SetReady("a", ReadyRequest{RoomID: room.ID, Ready: true}))
	assert.Zero(t, rec.count(EventGameStart), "one member still unready")

	rec.reset()
	require.NoError(t, m.SetReady("b", ReadyRequest{RoomID: room.ID, Ready: true}))
	assert.Equal(t, []string{
		EventGameStart, EventGameStart,
		EventRoomUpdate, EventRoomUpdate,
		EventQuestSync, EventQuestSync,
		EventGameState, EventGameState,
	}, rec.events())

	r := roomByID(t, m, room.ID)
	r.mu.Lock()
	session := r.Session
	r.mu.Unlock()
	require.NotNil(t, session)

	require.NoError(t, m.SetReady("a", ReadyRequest{RoomID: room.ID, Ready: true}))
	require.NoError(t, m.SetReady("b", ReadyRequest{RoomID: room.ID, Ready: true}))

	assert.Equal(t, 2, rec.count(EventGameStart), "one push per member, once")
	r.mu.Lock()
	assert.Same(t, session, r.Session, "session is never recreated")
	r.mu.Unlock()
}

// TestReadyRequiresMembership verifies strangers cannot ready up
func TestReadyRequiresMembership(t *testing.T) {
	m, _, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{})

	err := m.SetReady("stranger", ReadyRequest{RoomID: room.ID, Ready: true})
	assert.ErrorIs(t, err, ErrPlayerNotInRoom)

	err = m.SetReady("a", ReadyRequest{RoomID: "ZZZZZZ", Ready: true})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

// TestReadyUpdatesName verifies an optional name rides along with ready
func TestReadyUpdatesName(t *testing.T) {
	m, _, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{MaxPlayers: 2})

	require.NoError(t, m.SetReady("a", ReadyRequest{Ready: false, Name: "Renamed"}))

	got, err := m.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Players[0].Name)
}

// TestLobbyDisconnectDeletesEmptyRoom verifies a lobby left by its only player is removed
func TestLobbyDisconnectDeletesEmptyRoom(t *testing.T) {
	m, _, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{})

	m.Disconnect("a")

	_, err := m.GetRoom(room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Zero(t, m.Stats().Connections)
}

// TestLeaderReelection verifies leadership passes to the first remaining connected slot
func TestLeaderReelection(t *testing.T) {
	m, rec, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{MaxPlayers: 3})
	for _, c := range []string{"b", "c"} {
		_, err := m.Join(c, JoinRequest{RoomID: room.ID})
		require.NoError(t, err)
	}
	rec.reset()

	m.Disconnect("a")
	got, err := m.GetRoom(room.ID)
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.Equal(t, "b", got.Players[0].ID)
	assert.True(t, got.Players[0].Leader)
	assert.False(t, got.Players[1].Leader)
	assert.Len(t, rec.to("b", EventRoomUpdate), 1)
	assert.Len(t, rec.to("c", EventRoomUpdate), 1)
}

// TestStartedDisconnectKeepsSlot verifies started rooms keep slots for the grace window
func TestStartedDisconnectKeepsSlot(t *testing.T) {
	m, _, clk := newTestManager(t)
	id := startedRoom(t, m, "medium", "a", "b")

	m.Disconnect("a")

	got, err := m.GetRoom(id)
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.False(t, got.Players[0].Connected)
	assert.False(t, got.Players[0].Leader, "leadership moved to the connected member")
	assert.True(t, got.Players[1].Leader)

	r := roomByID(t, m, id)
	r.mu.Lock()
	assert.Equal(t, clk.Now(), r.players[0].DisconnectedAt)
	assert.True(t, r.EmptySince.IsZero())
	r.mu.Unlock()

	m.Disconnect("b")
	r.mu.Lock()
	assert.Equal(t, clk.Now(), r.EmptySince)
	r.mu.Unlock()
}

// TestReconnectRetainsFlagsAndSnapshot verifies a returning follower keeps its
// flags and sees exactly what its peers see
func TestReconnectRetainsFlagsAndSnapshot(t *testing.T) {
	m, rec, clk := newTestManager(t)
	id := startedRoom(t, m, "medium", "a", "b")

	m.Tick(clk.Advance(50 * time.Millisecond))
	m.Disconnect("b")
	m.Tick(clk.Advance(200 * time.Millisecond))

	res, err := m.Reconnect("b2", ReconnectRequest{RoomID: id, ClientID: "client-b"})
	require.NoError(t, err)

	require.Len(t, res.Room.Players, 2)
	b := res.Room.Players[1]
	assert.Equal(t, "b2", b.ID)
	assert.True(t, b.Connected)
	assert.True(t, b.Ready)
	assert.False(t, b.Leader)

	require.NotNil(t, res.State)
	require.NotNil(t, res.Quest)
	peer := rec.last(t, "a", EventGameState).(GameState)
	assert.Equal(t, peer, *res.State)
	assert.Equal(t, peer.Quest, *res.Quest)

	_, stale := m.RoomOf("b")
	assert.False(t, stale, "old connection index entry is dropped")
	roomID, _ := m.RoomOf("b2")
	assert.Equal(t, id, roomID)
}

// TestReconnectSoloLeaderKeepsLeadership verifies flags survive when nobody else was connected
func TestReconnectSoloLeaderKeepsLeadership(t *testing.T) {
	m, _, clk := newTestManager(t)
	id := startedRoom(t, m, "medium", "a")

	m.Disconnect("a")
	clk.Advance(time.Minute)
	res, err := m.Reconnect("a2", ReconnectRequest{RoomID: id, ClientID: "client-a", Name: "Back"})
	require.NoError(t, err)

	p := res.Room.Players[0]
	assert.True(t, p.Leader)
	assert.True(t, p.Ready)
	assert.Equal(t, "Back", p.Name)

	r := roomByID(t, m, id)
	r.mu.Lock()
	assert.True(t, r.EmptySince.IsZero())
	assert.True(t, r.players[0].DisconnectedAt.IsZero())
	r.mu.Unlock()
}

// TestReconnectLobby verifies lobby reconnects carry no snapshots
func TestReconnectLobby(t *testing.T) {
	m, _, _ := newTestManager(t)
	room := m.CreateRoom("a", CreateRoomRequest{ClientID: "client-a"})

	res, err := m.Reconnect("a2", ReconnectRequest{RoomID: room.ID, ClientID: "client-a"})
	require.NoError(t, err)
	assert.Nil(t, res.State)
	assert.Nil(t, res.Quest)
}

func TestReconnectErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startedRoom(t, m, "medium", "a")

	_, err := m.Reconnect("x", ReconnectRequest{RoomID: "ZZZZZZ", ClientID: "client-a"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = m.Reconnect("x", ReconnectRequest{RoomID: id, ClientID: "never-joined"})
	assert.ErrorIs(t, err, ErrPlayerSlotNotFound)
}

// TestSweepPrunesAfterGrace verifies disconnected slots survive the grace window and no longer
func TestSweepPrunesAfterGrace(t *testing.T) {
	m, rec, clk := newTestManager(t)
	id := startedRoom(t, m, "medium", "a", "b")
	m.Disconnect("b")
	rec.reset()

	assert.Zero(t, m.Sweep(clk.Advance(2*time.Minute)))
	got, _ := m.GetRoom(id)
	assert.Len(t, got.Players, 2)

	assert.Zero(t, m.Sweep(clk.Advance(time.Minute+time.Second)))
	got, err := m.GetRoom(id)
	require.NoError(t, err)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "a", got.Players[0].ID)
	assert.Len(t, rec.to("a", EventRoomUpdate), 1)
}

// TestSweepDeletesAbandonedStartedRoom verifies the long empty-room grace
// applies even while stale slots remain
func TestSweepDeletesAbandonedStartedRoom(t *testing.T) {
	m, _, clk := newTestManager(t, func(o *Options) {
		o.Session.DisconnectGrace = 10 * time.Minute
	})
	id := startedRoom(t, m, "medium", "a", "b")
	m.Disconnect("a")
	m.Disconnect("b")

	assert.Zero(t, m.Sweep(clk.Advance(7*time.Minute)))
	_, err := m.GetRoom(id)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Sweep(clk.Advance(time.Minute+time.Second)))
	_, err = m.GetRoom(id)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Zero(t, m.Stats().Rooms)
}

// TestSweepDeletesRoomWithNoSlots verifies a started room whose slots were all pruned is removed
func TestSweepDeletesRoomWithNoSlots(t *testing.T) {
	m, _, clk := newTestManager(t)
	id := startedRoom(t, m, "medium", "a")
	m.Disconnect("a")

	assert.Equal(t, 1, m.Sweep(clk.Advance(3*time.Minute+time.Second)))
	_, err := m.GetRoom(id)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

// TestSweepKeepsConnectedRooms verifies active rooms are untouched
func TestSweepKeepsConnectedRooms(t *testing.T) {
	m, _, clk := newTestManager(t)
	id := startedRoom(t, m, "medium", "a")

	assert.Zero(t, m.Sweep(clk.Advance(time.Hour)))
	_, err := m.GetRoom(id)
	assert.NoError(t, err)
}

// TestUpdatePlayerStateRelays verifies state is stored, parsed and relayed to everyone else
func TestUpdatePlayerStateRelays(t *testing.T) {
	m, rec, _ := newTestManager(t)
	id := startedRoom(t, m, "medium", "a", "b")
	rec.reset()

	state := json.RawMessage(`{"x":12.5,"y":40,"zone":"camp","facing":"left"}`)
	require.NoError(t, m.UpdatePlayerState("a", PlayerStateRequest{RoomID: id, State: state}))

	assert.Empty(t, rec.to("a", EventPlayerState))
	got := rec.last(t, "b", EventPlayerState).(PlayerStatePayload)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "client-a", got.ClientID)
	assert.JSONEq(t, string(state), string(got.State))

	r := roomByID(t, m, id)
	r.mu.Lock()
	p := r.players[0]
	assert.True(t, p.HasPosition)
	assert.Equal(t, 12.5, p.X)
	assert.Equal(t, 40.0, p.Y)
	assert.Equal(t, MapCamp, p.Map)
	r.mu.Unlock()
}

// TestUpdatePlayerStateWithoutPosition verifies partial states keep the last known position
func TestUpdatePlayerStateWithoutPosition(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startedRoom(t, m, "medium", "a")
	place(t, m, "a", id, 100, 200, MapForest)

	require.NoError(t, m.UpdatePlayerState("a", PlayerStateRequest{RoomID: id, State: json.RawMessage(`{"hp":3}`)}))

	r := roomByID(t, m, id)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 100.0, r.players[0].X)
	assert.Equal(t, MapForest, r.players[0].Map)
	assert.JSONEq(t, `{"hp":3}`, string(r.players[0].State))
}

func TestUpdatePlayerStateUnknownRoom(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.UpdatePlayerState("ghost", PlayerStateRequest{RoomID: "ZZZZZZ", State: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
