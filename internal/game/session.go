package game

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Session is the live simulation of a started room. It is created once, when
// the room starts, and lives as long as the room. Guarded by the room lock.
type Session struct {
	Quest     QuestState
	StartedAt time.Time

	pools map[Species]*enemyPool
	rng   *rand.Rand
	ticks uint64

	lastBroadcast time.Time
}

type enemyPool struct {
	species Species
	enemies []*Enemy
	nextID  int
}

func (p *enemyPool) aliveCount() int {
	n := 0
	for _, e := range p.enemies {
		if e.Alive {
			n++
		}
	}
	return n
}

func newSession(d Difficulty, connected int, rng *rand.Rand, now time.Time) *Session {
	s := &Session{
		StartedAt:     now,
		lastBroadcast: now, // the start push counts as the first snapshot
		pools:         make(map[Species]*enemyPool, len(simulatedSpecies)),
		rng:           rng,
	}
	for _, sp := range simulatedSpecies {
		s.pools[sp] = &enemyPool{species: sp}
	}
	s.ensureSpawns(d, connected)
	return s
}

// ensureSpawns applies every pool's spawn policy against the current quest
// state and returns how many enemies were created or revived.
func (s *Session) ensureSpawns(d Difficulty, connected int) int {
	spawned := 0
	for _, sp := range simulatedSpecies {
		rules := speciesRules[sp]
		pool := s.pools[sp]

		if rules.Boss {
			if rules.Defeated(s.Quest) {
				pool.enemies = nil
				continue
			}
			if !rules.Unlocked(s.Quest) || pool.aliveCount() > 0 {
				continue
			}
			pool.enemies = []*Enemy{s.spawn(pool, rules, d, connected)}
			spawned++
			continue
		}

		if !rules.Unlocked(s.Quest) {
			continue
		}

		if len(pool.enemies) == 0 && rules.Baseline > 0 {
			for i := 0; i < rules.Baseline; i++ {
				pool.enemies = append(pool.enemies, s.spawn(pool, rules, d, connected))
				spawned++
			}
		}

		if rules.Batch > 0 {
			for pool.aliveCount() < rules.MinAlive {
				pool.pruneDead()
				for i := 0; i < rules.Batch; i++ {
					pool.enemies = append(pool.enemies, s.spawn(pool, rules, d, connected))
					spawned++
				}
			}
			continue
		}

		for _, e := range pool.enemies {
			if pool.aliveCount() >= rules.MinAlive {
				break
			}
			if !e.Alive {
				s.revive(e, rules, d, connected)
				spawned++
			}
		}
	}
	return spawned
}

func (p *enemyPool) pruneDead() {
	kept := p.enemies[:0]
	for _, e := range p.enemies {
		if e.Alive {
			kept = append(kept, e)
		}
	}
	p.enemies = kept
}

func (s *Session) spawn(pool *enemyPool, rules SpeciesRules, d Difficulty, connected int) *Enemy {
	pool.nextID++
	e := &Enemy{
		ID:      fmt.Sprintf("%s-%d", pool.species, pool.nextID),
		Species: pool.species,
	}
	s.revive(e, rules, d, connected)
	return e
}

// revive (re)initialises an enemy at a random point of its leash with stats
// scaled for the current party. Already-living enemies are never rescaled.
func (s *Session) revive(e *Enemy, rules SpeciesRules, d Difficulty, connected int) {
	scale := statScale(d, connected)
	hp := scaled(rules.BaseHP, scale)

	e.Map = rules.Map
	e.X = rules.Leash.MinX + s.rng.Float64()*(rules.Leash.MaxX-rules.Leash.MinX)
	e.Y = rules.Leash.MinY + s.rng.Float64()*(rules.Leash.MaxY-rules.Leash.MinY)
	e.Radius = rules.Radius
	e.Speed = rules.Speed
	e.HP, e.MaxHP = hp, hp
	e.Damage = scaled(rules.BaseDamage, scale)
	e.Cooldown, e.WindUp = 0, 0
	e.Alive = true
	e.AnimPhase = 0
	e.Heading = s.rng.Float64() * 2 * math.Pi
	e.TargetID = ""
}

// advance runs one simulation step over every pool.
func (s *Session) advance(dt float64, targets []targetPoint, d Difficulty, connected int) {
	s.ticks++
	s.ensureSpawns(d, connected)
	for _, sp := range simulatedSpecies {
		rules := speciesRules[sp]
		for _, e := range s.pools[sp].enemies {
			e.update(dt, targets, rules, s.rng)
		}
	}
}

// findEnemy looks up an enemy by species and ID.
func (s *Session) findEnemy(sp Species, id string) *Enemy {
	pool, ok := s.pools[sp]
	if !ok {
		return nil
	}
	for _, e := range pool.enemies {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// recordKill advances quest progress for a killed enemy through the same
// merge every client report goes through, and drops defeated bosses.
func (s *Session) recordKill(e *Enemy) bool {
	var report QuestReport
	switch e.Species {
	case SpeciesWolf:
		report.WolfKills = Int(s.Quest.WolfKills + 1)
	case SpeciesBandit:
		report.BanditKills = Int(s.Quest.BanditKills + 1)
	case SpeciesDireWolf:
		report.DireWolfDefeated = Flag(true)
	case SpeciesWarlord:
		report.WarlordDefeated = Flag(true)
	}
	changed := s.Quest.Merge(report)
	s.dropDefeatedBosses()
	return changed
}

func (s *Session) dropDefeatedBosses() {
	for _, sp := range simulatedSpecies {
		rules := speciesRules[sp]
		if rules.Boss && rules.Defeated(s.Quest) {
			s.pools[sp].enemies = nil
		}
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Phase1View summarises forest progress.
type Phase1View struct {
	WolfKills        int  `json:"wolfKills"`
	GotPelt          bool `json:"gotPelt"`
	DireWolfUnlocked bool `json:"direWolfUnlocked"`
	DireWolfDefeated bool `json:"direWolfDefeated"`
}

// Phase2View summarises camp progress.
type Phase2View struct {
	Unlocked        bool `json:"unlocked"`
	BanditKills     int  `json:"banditKills"`
	WarlordUnlocked bool `json:"warlordUnlocked"`
	WarlordDefeated bool `json:"warlordDefeated"`
}

// GameState is the full simulation snapshot pushed as game:state.
type GameState struct {
	RoomID  string      `json:"roomId"`
	Tick    uint64      `json:"tick"`
	Wolves  []EnemyView `json:"wolves"`
	Enemies []EnemyView `json:"enemies"`
	Phase1  Phase1View  `json:"phase1"`
	Phase2  Phase2View  `json:"phase2"`
	Quest   QuestState  `json:"quest"`
}

func (s *Session) snapshot(roomID string) GameState {
	st := GameState{
		RoomID:  roomID,
		Tick:    s.ticks,
		Wolves:  make([]EnemyView, 0, len(s.pools[SpeciesWolf].enemies)),
		Enemies: make([]EnemyView, 0),
		Quest:   s.Quest,
		Phase1: Phase1View{
			WolfKills:        s.Quest.WolfKills,
			GotPelt:          s.Quest.GotPelt,
			DireWolfUnlocked: s.Quest.Stage >= DireWolfUnlockStage,
			DireWolfDefeated: s.Quest.DireWolfDefeated,
		},
		Phase2: Phase2View{
			Unlocked:        s.Quest.Stage >= BanditUnlockStage,
			BanditKills:     s.Quest.BanditKills,
			WarlordUnlocked: s.Quest.Stage >= WarlordUnlockStage,
			WarlordDefeated: s.Quest.WarlordDefeated,
		},
	}
	for _, sp := range simulatedSpecies {
		for _, e := range s.pools[sp].enemies {
			if sp == SpeciesWolf {
				st.Wolves = append(st.Wolves, e.View())
			} else {
				st.Enemies = append(st.Enemies, e.View())
			}
		}
	}
	return st
}
