package game

// QuestState is the shared progress record of a room. Counters never decrease
// and milestone flags never clear once set.
type QuestState struct {
	Stage        int `json:"stage"`
	WolfKills    int `json:"wolfKills"`
	BanditKills  int `json:"banditKills"`
	WaveKills    int `json:"waveKills"`
	WavesCleared int `json:"wavesCleared"`

	GotPelt          bool `json:"gotPelt"`
	DireWolfDefeated bool `json:"direWolfDefeated"`
	WarlordDefeated  bool `json:"warlordDefeated"`
	VillageSaved     bool `json:"villageSaved"`
}

// QuestReport is a partial view of quest progress sent by a client. Nil fields
// were not reported and leave the state untouched.
type QuestReport struct {
	Stage        *int `json:"stage,omitempty"`
	WolfKills    *int `json:"wolfKills,omitempty"`
	BanditKills  *int `json:"banditKills,omitempty"`
	WaveKills    *int `json:"waveKills,omitempty"`
	WavesCleared *int `json:"wavesCleared,omitempty"`

	GotPelt          *bool `json:"gotPelt,omitempty"`
	DireWolfDefeated *bool `json:"direWolfDefeated,omitempty"`
	WarlordDefeated  *bool `json:"warlordDefeated,omitempty"`
	VillageSaved     *bool `json:"villageSaved,omitempty"`
}

// Int returns a pointer to v, for building reports.
func Int(v int) *int { return &v }

// Flag returns a pointer to v, for building reports.
func Flag(v bool) *bool { return &v }

// Merge folds a report into the state with per-field max for counters and OR
// for flags, and reports whether anything moved. Merging is idempotent and
// commutative, so reports from any client may arrive in any order.
func (q *QuestState) Merge(r QuestReport) bool {
	changed := false
	changed = raise(&q.Stage, r.Stage) || changed
	changed = raise(&q.WolfKills, r.WolfKills) || changed
	changed = raise(&q.BanditKills, r.BanditKills) || changed
	changed = raise(&q.WaveKills, r.WaveKills) || changed
	changed = raise(&q.WavesCleared, r.WavesCleared) || changed

	changed = set(&q.GotPelt, r.GotPelt) || changed
	changed = set(&q.DireWolfDefeated, r.DireWolfDefeated) || changed
	changed = set(&q.WarlordDefeated, r.WarlordDefeated) || changed
	changed = set(&q.VillageSaved, r.VillageSaved) || changed
	return changed
}

// Report returns the full state as a report.
func (q QuestState) Report() QuestReport {
	return QuestReport{
		Stage:            Int(q.Stage),
		WolfKills:        Int(q.WolfKills),
		BanditKills:      Int(q.BanditKills),
		WaveKills:        Int(q.WaveKills),
		WavesCleared:     Int(q.WavesCleared),
		GotPelt:          Flag(q.GotPelt),
		DireWolfDefeated: Flag(q.DireWolfDefeated),
		WarlordDefeated:  Flag(q.WarlordDefeated),
		VillageSaved:     Flag(q.VillageSaved),
	}
}

func raise(dst *int, v *int) bool {
	if v == nil || *v <= *dst {
		return false
	}
	*dst = *v
	return true
}

func set(dst *bool, v *bool) bool {
	if v == nil || !*v || *dst {
		return false
	}
	*dst = true
	return true
}
