package game

import (
	"math"
	"math/rand"
)

// AI tuning
const (
	AggroRadius       = 245.0
	ContactPadding    = 28.0 // added to the radius sum for melee contact
	PlayerRadius      = 16.0
	WanderSpeedFactor = 0.35
	WanderTurnRate    = 1.6 // max heading drift, radians per second
	animRate          = 6.0 // animation phase advance, radians per second
)

// Enemy is the shared record of every server-simulated enemy.
type Enemy struct {
	ID      string
	Species Species
	Map     string
	X, Y    float64
	Radius  float64

	HP, MaxHP int
	Damage    int
	Speed     float64

	Cooldown float64 // seconds until the next wind-up may begin
	WindUp   float64 // seconds left in the current telegraph
	Alive    bool

	AnimPhase float64
	Heading   float64
	TargetID  string // client ID being pursued
}

// EnemyView is the wire form of an enemy.
type EnemyView struct {
	ID        string  `json:"id"`
	Type      Species `json:"type"`
	Map       string  `json:"map"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	HP        int     `json:"hp"`
	MaxHP     int     `json:"maxHp"`
	Damage    int     `json:"damage"`
	Alive     bool    `json:"alive"`
	Attacking bool    `json:"attacking"`
	Anim      float64 `json:"anim"`
	Heading   float64 `json:"heading"`
	Target    string  `json:"target,omitempty"`
}

// View copies the enemy into its wire form.
func (e *Enemy) View() EnemyView {
	return EnemyView{
		ID:        e.ID,
		Type:      e.Species,
		Map:       e.Map,
		X:         e.X,
		Y:         e.Y,
		Radius:    e.Radius,
		HP:        e.HP,
		MaxHP:     e.MaxHP,
		Damage:    e.Damage,
		Alive:     e.Alive,
		Attacking: e.WindUp > 0,
		Anim:      e.AnimPhase,
		Heading:   e.Heading,
		Target:    e.TargetID,
	}
}

// targetPoint is a connected player's last reported position.
type targetPoint struct {
	clientID string
	mapName  string
	x, y     float64
}

// update advances one enemy by dt seconds.
func (e *Enemy) update(dt float64, targets []targetPoint, rules SpeciesRules, rng *rand.Rand) {
	if !e.Alive {
		return
	}

	e.AnimPhase = math.Mod(e.AnimPhase+dt*animRate, 2*math.Pi)
	if e.Cooldown > 0 {
		e.Cooldown = math.Max(0, e.Cooldown-dt)
	}

	if e.WindUp > 0 {
		e.WindUp -= dt
		if e.WindUp <= 0 {
			e.WindUp = 0
			e.Cooldown = rules.Cooldown
		}
		return
	}

	target, dist, ok := e.nearest(targets)
	if ok && dist <= AggroRadius {
		e.TargetID = target.clientID
		e.chase(target, dist, dt, rules.WindUp)
	} else {
		e.TargetID = ""
		e.wander(dt, rng)
	}

	x, y, clamped := rules.Leash.Clamp(e.X, e.Y)
	e.X, e.Y = x, y
	if clamped && e.TargetID == "" {
		// Turn back into the arena instead of grinding along the edge.
		e.Heading = math.Mod(e.Heading+math.Pi, 2*math.Pi)
	}
}

// nearest finds the closest target on the enemy's own map.
func (e *Enemy) nearest(targets []targetPoint) (targetPoint, float64, bool) {
	best := -1
	bestDist := math.MaxFloat64
	for i, t := range targets {
		if t.mapName != e.Map {
			continue
		}
		d := math.Hypot(t.x-e.X, t.y-e.Y)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return targetPoint{}, 0, false
	}
	return targets[best], bestDist, true
}

// chase steers straight at the target and starts a wind-up on contact.
func (e *Enemy) chase(t targetPoint, dist, dt, windUp float64) {
	dx, dy := t.x-e.X, t.y-e.Y
	if dist > 0 {
		e.Heading = math.Atan2(dy, dx)
	}

	// Stop at the touching distance rather than overlapping the player.
	touch := e.Radius + PlayerRadius
	if gap := dist - touch; gap > 0 {
		step := math.Min(e.Speed*dt, gap)
		e.X += dx / dist * step
		e.Y += dy / dist * step
		dist -= step
	}

	if dist <= touch+ContactPadding && e.Cooldown <= 0 {
		e.WindUp = windUp
	}
}

// wander drifts slowly along a randomly walking heading.
func (e *Enemy) wander(dt float64, rng *rand.Rand) {
	e.Heading += (rng.Float64()*2 - 1) * WanderTurnRate * dt
	speed := e.Speed * WanderSpeedFactor
	e.X += math.Cos(e.Heading) * speed * dt
	e.Y += math.Sin(e.Heading) * speed * dt
}
