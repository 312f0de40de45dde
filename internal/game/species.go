package game

import (
	"math"
	"strings"
)

// Species tags every enemy. The set is closed; behaviour that differs per
// species is looked up in speciesRules by tag.
type Species string

const (
	SpeciesWolf     Species = "wolf"
	SpeciesBandit   Species = "bandit"
	SpeciesDireWolf Species = "direwolf"
	SpeciesWarlord  Species = "warlord"
	SpeciesWave     Species = "wave" // resolved by the room leader, never stored here
)

// Maps (zones) enemies live on.
const (
	MapForest = "forest"
	MapCamp   = "camp"
)

// Unlock stages for the gated pools.
const (
	DireWolfUnlockStage = 4
	BanditUnlockStage   = 10
	WarlordUnlockStage  = 13
)

// ParseSpecies accepts the tags clients send, including a few spellings of
// the dire wolf.
func ParseSpecies(s string) (Species, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wolf", "wolves":
		return SpeciesWolf, nil
	case "bandit", "bandits":
		return SpeciesBandit, nil
	case "direwolf", "dire-wolf", "dire_wolf":
		return SpeciesDireWolf, nil
	case "warlord":
		return SpeciesWarlord, nil
	case "wave":
		return SpeciesWave, nil
	}
	return "", ErrInvalidEnemyType
}

// Rect is an axis-aligned leash rectangle.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// Clamp confines a point to the rectangle and reports whether it had to move.
func (r Rect) Clamp(x, y float64) (float64, float64, bool) {
	cx := math.Min(math.Max(x, r.MinX), r.MaxX)
	cy := math.Min(math.Max(y, r.MinY), r.MaxY)
	return cx, cy, cx != x || cy != y
}

// SpeciesRules holds the base stats and spawn policy of one species.
type SpeciesRules struct {
	Map    string
	Leash  Rect
	Radius float64
	Speed  float64 // units per second

	BaseHP     int
	BaseDamage int
	Cooldown   float64 // seconds between a finished wind-up and the next one
	WindUp     float64 // attack telegraph, seconds

	ServerSimulated bool
	Boss            bool
	Baseline        int // initial pool size
	MinAlive        int
	Batch           int // top-up batch size; zero revives dead entries instead

	// Unlocked reports whether quest progress allows this species to spawn.
	Unlocked func(q QuestState) bool
	// Defeated reports whether a boss is permanently finished.
	Defeated func(q QuestState) bool
}

var speciesRules = map[Species]SpeciesRules{
	SpeciesWolf: {
		Map:             MapForest,
		Leash:           Rect{MinX: 80, MinY: 80, MaxX: 1520, MaxY: 1120},
		Radius:          14,
		Speed:           95,
		BaseHP:          40,
		BaseDamage:      6,
		Cooldown:        0.6,
		WindUp:          0.35,
		ServerSimulated: true,
		Baseline:        10,
		MinAlive:        5,
		Unlocked:        func(QuestState) bool { return true },
	},
	SpeciesBandit: {
		Map:             MapCamp,
		Leash:           Rect{MinX: 100, MinY: 100, MaxX: 1700, MaxY: 1200},
		Radius:          16,
		Speed:           85,
		BaseHP:          70,
		BaseDamage:      9,
		Cooldown:        0.9,
		WindUp:          0.45,
		ServerSimulated: true,
		MinAlive:        5,
		Batch:           4,
		Unlocked:        func(q QuestState) bool { return q.Stage >= BanditUnlockStage },
	},
	SpeciesDireWolf: {
		Map:             MapForest,
		Leash:           Rect{MinX: 900, MinY: 200, MaxX: 1500, MaxY: 700},
		Radius:          28,
		Speed:           110,
		BaseHP:          420,
		BaseDamage:      16,
		Cooldown:        0.34,
		WindUp:          0.5,
		ServerSimulated: true,
		Boss:            true,
		Unlocked:        func(q QuestState) bool { return q.Stage >= DireWolfUnlockStage },
		Defeated:        func(q QuestState) bool { return q.DireWolfDefeated },
	},
	SpeciesWarlord: {
		Map:             MapCamp,
		Leash:           Rect{MinX: 700, MinY: 300, MaxX: 1300, MaxY: 800},
		Radius:          30,
		Speed:           80,
		BaseHP:          650,
		BaseDamage:      22,
		Cooldown:        0.75,
		WindUp:          0.6,
		ServerSimulated: true,
		Boss:            true,
		Unlocked:        func(q QuestState) bool { return q.Stage >= WarlordUnlockStage },
		Defeated:        func(q QuestState) bool { return q.WarlordDefeated },
	},
	SpeciesWave: {
		ServerSimulated: false,
		Unlocked:        func(QuestState) bool { return false },
	},
}

// simulatedSpecies fixes iteration order for spawning and snapshots.
var simulatedSpecies = []Species{SpeciesWolf, SpeciesDireWolf, SpeciesBandit, SpeciesWarlord}

// RulesFor returns the rules for a species.
func RulesFor(s Species) (SpeciesRules, bool) {
	r, ok := speciesRules[s]
	return r, ok
}

// =============================================================================
// DIFFICULTY
// =============================================================================

// Difficulty is a room's tier; it scales enemy stats at spawn time.
type Difficulty string

const (
	DifficultyEasy       Difficulty = "easy"
	DifficultyMedium     Difficulty = "medium"
	DifficultyHard       Difficulty = "hard"
	DifficultyNightmare  Difficulty = "nightmare"
	DifficultyImpossible Difficulty = "impossible"
)

var difficultyMultipliers = map[Difficulty]float64{
	DifficultyEasy:       0.7,
	DifficultyMedium:     1.0,
	DifficultyHard:       1.35,
	DifficultyNightmare:  1.7,
	DifficultyImpossible: 2.0,
}

// ParseDifficulty maps unknown or empty input to medium.
func ParseDifficulty(s string) Difficulty {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := difficultyMultipliers[d]; ok {
		return d
	}
	return DifficultyMedium
}

// Multiplier returns the stat multiplier of the tier.
func (d Difficulty) Multiplier() float64 {
	if m, ok := difficultyMultipliers[d]; ok {
		return m
	}
	return 1.0
}

// PlayerScalePerExtra is the stat bonus per connected player beyond the first.
const PlayerScalePerExtra = 0.3

// statScale combines difficulty and party size.
func statScale(d Difficulty, connected int) float64 {
	if connected < 1 {
		connected = 1
	}
	return d.Multiplier() * (1 + PlayerScalePerExtra*float64(connected-1))
}

func scaled(base int, scale float64) int {
	v := int(math.Round(float64(base) * scale))
	if v < 1 {
		return 1
	}
	return v
}
