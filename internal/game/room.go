package game

import (
	"sync"
	"time"
)

const (
	MinCapacity = 1
	MaxCapacity = 4
)

// Room is one lobby and, once started, its live session. Every field is
// guarded by mu; methods suffixed Locked expect the caller to hold it.
type Room struct {
	mu sync.Mutex

	ID         string
	Name       string
	Code       string
	Difficulty Difficulty
	Capacity   int
	Started    bool
	CreatedAt  time.Time
	EmptySince time.Time // zero while at least one member is connected
	Session    *Session

	players []*Player // join order; leadership falls to the first connected
	closed  bool      // set once the registry has dropped the room
}

// RoomSummary is the wire form of a room.
type RoomSummary struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Difficulty Difficulty   `json:"difficulty"`
	MaxPlayers int          `json:"maxPlayers"`
	Started    bool         `json:"started"`
	HasCode    bool         `json:"hasCode"`
	CreatedAt  time.Time    `json:"createdAt"`
	Players    []PlayerView `json:"players"`
}

// clampCapacity treats zero as "not given" and defaults it to a full party.
func clampCapacity(n int) int {
	if n == 0 {
		return MaxCapacity
	}
	if n < MinCapacity {
		return MinCapacity
	}
	if n > MaxCapacity {
		return MaxCapacity
	}
	return n
}

func (r *Room) summaryLocked() RoomSummary {
	players := make([]PlayerView, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p.View())
	}
	return RoomSummary{
		ID:         r.ID,
		Name:       r.Name,
		Difficulty: r.Difficulty,
		MaxPlayers: r.Capacity,
		Started:    r.Started,
		HasCode:    r.Code != "",
		CreatedAt:  r.CreatedAt,
		Players:    players,
	}
}

func (r *Room) playerByClientLocked(clientID string) *Player {
	for _, p := range r.players {
		if p.ClientID == clientID {
			return p
		}
	}
	return nil
}

func (r *Room) playerByConnLocked(connID string) *Player {
	for _, p := range r.players {
		if p.Connected && p.ConnID == connID {
			return p
		}
	}
	return nil
}

func (r *Room) connectedCountLocked() int {
	n := 0
	for _, p := range r.players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (r *Room) allConnectedReadyLocked() bool {
	seen := false
	for _, p := range r.players {
		if !p.Connected {
			continue
		}
		if !p.Ready {
			return false
		}
		seen = true
	}
	return seen
}

// leaderLocked returns the connected leader, if any.
func (r *Room) leaderLocked() *Player {
	for _, p := range r.players {
		if p.Connected && p.Leader {
			return p
		}
	}
	return nil
}

// ensureLeaderLocked keeps exactly one connected leader whenever anyone is
// connected: a connected leader keeps the role, otherwise it goes to the
// first connected slot. With nobody connected the flags are left alone so a
// returning player resumes with what they had.
func (r *Room) ensureLeaderLocked() {
	var first, current *Player
	for _, p := range r.players {
		if !p.Connected {
			continue
		}
		if first == nil {
			first = p
		}
		if p.Leader && current == nil {
			current = p
		}
	}
	if first == nil {
		return
	}
	if current == nil {
		current = first
	}
	for _, p := range r.players {
		p.Leader = p == current
	}
}

func (r *Room) removePlayerLocked(target *Player) {
	kept := r.players[:0]
	for _, p := range r.players {
		if p != target {
			kept = append(kept, p)
		}
	}
	r.players = kept
}

// targetsLocked collects connected players with a known position.
func (r *Room) targetsLocked() []targetPoint {
	targets := make([]targetPoint, 0, len(r.players))
	for _, p := range r.players {
		if p.Connected && p.HasPosition {
			targets = append(targets, targetPoint{clientID: p.ClientID, mapName: p.Map, x: p.X, y: p.Y})
		}
	}
	return targets
}

// connIDsLocked lists connections of connected members other than except.
func (r *Room) connIDsLocked(except string) []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if p.Connected && p.ConnID != except {
			ids = append(ids, p.ConnID)
		}
	}
	return ids
}
