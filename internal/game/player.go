package game

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength = 20
	DefaultName   = "Adventurer"
)

// Player is a membership slot in a room. ClientID is the stable identity a
// client presents across reconnects; ConnID is the transport connection
// currently bound to the slot.
type Player struct {
	ClientID string
	ConnID   string
	Name     string

	Ready     bool
	Leader    bool
	Connected bool

	JoinedAt       time.Time
	DisconnectedAt time.Time

	// Last reported state. State is kept opaque and relayed as-is; only the
	// position fields are read by the server.
	State       json.RawMessage
	X, Y        float64
	Map         string
	HasPosition bool
}

// PlayerView is the wire form of a slot.
type PlayerView struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	Leader    bool   `json:"leader"`
	Connected bool   `json:"connected"`
}

// View copies the slot into its wire form.
func (p *Player) View() PlayerView {
	return PlayerView{
		ID:        p.ConnID,
		ClientID:  p.ClientID,
		Name:      p.Name,
		Ready:     p.Ready,
		Leader:    p.Leader,
		Connected: p.Connected,
	}
}

type reportedPosition struct {
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	Map  string   `json:"map"`
	Zone string   `json:"zone"`
}

// applyState stores a reported state and extracts the position from it.
// A state without usable coordinates keeps the previous position.
func (p *Player) applyState(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	p.State = append(json.RawMessage(nil), raw...)

	var pos reportedPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		return
	}
	mapName := pos.Map
	if mapName == "" {
		mapName = pos.Zone
	}
	if pos.X == nil || pos.Y == nil || mapName == "" {
		return
	}
	p.X, p.Y, p.Map = *pos.X, *pos.Y, mapName
	p.HasPosition = true
}

// sanitizeName trims, defaults and truncates a display name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	return name
}
