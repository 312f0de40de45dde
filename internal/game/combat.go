package game

import (
	"encoding/json"
	"math"

	"go.uber.org/zap"

	"coop-quest/internal/metrics"
)

// Melee balance. These are server-authoritative; clients only pick light or
// heavy and may suggest a damage value.
const (
	LightRange = 70.0
	HeavyRange = 95.0
	RangeSlack = 20.0 // tolerance for client position lag

	MinDamage          = 1
	MaxDamage          = 999
	DefaultLightDamage = 12
	DefaultHeavyDamage = 24
)

// MeleeRequest is the payload of enemy:hit.
type MeleeRequest struct {
	RoomID    string   `json:"roomId"`
	EnemyType string   `json:"enemyType"`
	EnemyID   string   `json:"enemyId"`
	Heavy     bool     `json:"heavy"`
	Damage    *float64 `json:"damage"`
}

// WolfHitRequest is the payload of wolf:hit.
type WolfHitRequest struct {
	RoomID string   `json:"roomId"`
	WolfID string   `json:"wolfId"`
	Heavy  bool     `json:"heavy"`
	Damage *float64 `json:"damage"`
}

// HitResult acknowledges a validated hit.
type HitResult struct {
	OK     bool `json:"ok"`
	Killed bool `json:"killed"`
	HP     int  `json:"hp"`
}

// ClampDamage rounds a suggested damage into [MinDamage, MaxDamage]. A
// missing value falls back to the default for the attack weight.
func ClampDamage(raw *float64, heavy bool) int {
	if raw == nil || math.IsNaN(*raw) {
		if heavy {
			return DefaultHeavyDamage
		}
		return DefaultLightDamage
	}
	v := math.Round(*raw)
	if v < MinDamage {
		return MinDamage
	}
	if v > MaxDamage {
		return MaxDamage
	}
	return int(v)
}

// InMeleeRange reports whether a swing from (x, y) reaches the enemy. The
// boundary itself is in range.
func InMeleeRange(x, y float64, e *Enemy, heavy bool) bool {
	reach := LightRange
	if heavy {
		reach = HeavyRange
	}
	reach += e.Radius + RangeSlack
	dx, dy := e.X-x, e.Y-y
	return dx*dx+dy*dy <= reach*reach
}

// ApplyWolfHit is ApplyMelee against the wolf pool.
func (m *Manager) ApplyWolfHit(connID string, req WolfHitRequest) (HitResult, error) {
	return m.ApplyMelee(connID, MeleeRequest{
		RoomID:    req.RoomID,
		EnemyType: string(SpeciesWolf),
		EnemyID:   req.WolfID,
		Heavy:     req.Heavy,
		Damage:    req.Damage,
	})
}

// ApplyMelee validates a melee swing and applies its damage. Every validated
// hit pushes a fresh snapshot; a killing blow also pushes the slain event and
// the updated quest.
func (m *Manager) ApplyMelee(connID string, req MeleeRequest) (HitResult, error) {
	res, err := m.applyMelee(connID, req)
	if err != nil {
		metrics.RecordCombatRejected(err.Error())
	}
	return res, err
}

func (m *Manager) applyMelee(connID string, req MeleeRequest) (HitResult, error) {
	species, err := ParseSpecies(req.EnemyType)
	if err != nil {
		return HitResult{}, err
	}
	rules, ok := RulesFor(species)
	if !ok || !rules.ServerSimulated {
		return HitResult{}, ErrInvalidEnemyType
	}

	r, p, err := m.lockStartedMember(connID, req.RoomID)
	if err != nil {
		return HitResult{}, err
	}
	defer r.mu.Unlock()

	s := r.Session
	e := s.findEnemy(species, req.EnemyID)
	switch {
	case e == nil:
		return HitResult{}, ErrEnemyNotFound
	case !p.HasPosition:
		return HitResult{}, ErrPlayerPositionUnknown
	case p.Map != e.Map:
		return HitResult{}, ErrWrongZone
	case !e.Alive:
		return HitResult{}, ErrEnemyAlreadyDead
	case !InMeleeRange(p.X, p.Y, e, req.Heavy):
		return HitResult{}, ErrOutOfRange
	}

	e.HP -= ClampDamage(req.Damage, req.Heavy)
	if e.HP < 0 {
		e.HP = 0
	}
	res := HitResult{OK: true, HP: e.HP}

	if e.HP == 0 {
		res.Killed = true
		m.killLocked(r, p, e)
	}
	m.emitStateLocked(r)
	return res, nil
}

// killLocked retires an enemy and credits the room's quest.
func (m *Manager) killLocked(r *Room, p *Player, e *Enemy) {
	s := r.Session
	e.Alive = false
	e.WindUp, e.TargetID = 0, ""

	changed := s.recordKill(e)
	metrics.RecordKill(string(e.Species))
	metrics.RecordQuestMerge(changed)

	now := m.now()
	m.events.Record(EventTypeEnemyKilled, now, r.ID, p.ClientID, EnemyKilledPayload{
		EnemyType: e.Species,
		EnemyID:   e.ID,
		Map:       e.Map,
		X:         e.X,
		Y:         e.Y,
	})
	if changed {
		m.events.Record(EventTypeQuestMerged, now, r.ID, p.ClientID, QuestMergedPayload{Quest: s.Quest})
	}

	event := EventEnemySlain
	if e.Species == SpeciesWolf {
		event = EventWolfSlain
	}
	m.emitLocked(r, event, SlainPayload{
		EnemyType: e.Species,
		EnemyID:   e.ID,
		X:         e.X,
		Y:         e.Y,
		Map:       e.Map,
		By:        p.ClientID,
		Quest:     s.Quest,
	}, "")
	m.emitQuestLocked(r)

	m.logger.Debug("enemy slain",
		zap.String("room", r.ID),
		zap.String("enemy", e.ID),
		zap.String("by", p.ClientID))
}

// =============================================================================
// WAVE RELAY
// =============================================================================

// Wave enemies are simulated by the room leader's client. The server only
// routes follower hits to the leader and the leader's state to everyone else.

// WaveHitRequest is the payload of wave:hit. Enemy IDs are client-assigned
// and passed through untouched.
type WaveHitRequest struct {
	RoomID  string          `json:"roomId"`
	EnemyID json.RawMessage `json:"enemyId"`
	Damage  *float64        `json:"damage"`
	Heavy   bool            `json:"heavy"`
}

// WaveHitRelay is pushed to the leader as wave:hit. Damage is passed through
// as reported; the leader owns wave resolution.
type WaveHitRelay struct {
	From     string          `json:"from"`
	ClientID string          `json:"clientId"`
	EnemyID  json.RawMessage `json:"enemyId"`
	Damage   *float64        `json:"damage"`
	Heavy    bool            `json:"heavy"`
}

// WaveStateRequest is the payload of wave:state.
type WaveStateRequest struct {
	RoomID string          `json:"roomId"`
	State  json.RawMessage `json:"state"`
}

// WaveStatePayload is pushed to followers as wave:state.
type WaveStatePayload struct {
	RoomID string          `json:"roomId"`
	From   string          `json:"from"`
	State  json.RawMessage `json:"state"`
}

// RelayWaveHit forwards a follower's hit on a wave enemy to the leader.
func (m *Manager) RelayWaveHit(connID string, req WaveHitRequest) error {
	r, p, err := m.lockStartedMember(connID, req.RoomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	leader := r.leaderLocked()
	switch {
	case leader == nil:
		return ErrLeaderNotFound
	case leader == p:
		return ErrLeaderShouldResolveLocally
	}

	m.broadcaster.Send(leader.ConnID, EventWaveHit, WaveHitRelay{
		From:     p.ConnID,
		ClientID: p.ClientID,
		EnemyID:  append(json.RawMessage(nil), req.EnemyID...),
		Damage:   req.Damage,
		Heavy:    req.Heavy,
	})
	return nil
}

// RelayWaveState fans the leader's wave simulation out to the other members.
func (m *Manager) RelayWaveState(connID string, req WaveStateRequest) error {
	r, p, err := m.lockStartedMember(connID, req.RoomID)
	if err != nil {
		return err
	}
	defer r.mu.Unlock()

	if !p.Leader {
		return ErrLeaderOnly
	}
	m.emitLocked(r, EventWaveState, WaveStatePayload{
		RoomID: r.ID,
		From:   p.ConnID,
		State:  append(json.RawMessage(nil), req.State...),
	}, connID)
	return nil
}
