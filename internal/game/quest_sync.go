package game

import (
	"go.uber.org/zap"

	"coop-quest/internal/metrics"
)

// QuestSyncRequest is the payload of quest:sync: a room ID plus any subset
// of quest fields.
type QuestSyncRequest struct {
	RoomID string `json:"roomId"`
	QuestReport
}

// Phase1Request is the payload of quest:phase1:update.
type Phase1Request struct {
	RoomID  string `json:"roomId"`
	GotPelt bool   `json:"gotPelt"`
}

// Phase1Payload is pushed as quest:phase1:update.
type Phase1Payload struct {
	GotPelt bool `json:"gotPelt"`
}

// SyncQuest merges a client's progress report into the room and returns the
// resulting state. Reports that move nothing push nothing.
func (m *Manager) SyncQuest(connID string, req QuestSyncRequest) (QuestState, error) {
	r, p, err := m.lockStartedMember(connID, req.RoomID)
	if err != nil {
		return QuestState{}, err
	}
	defer r.mu.Unlock()

	if m.mergeLocked(r, p, req.QuestReport) {
		m.emitQuestLocked(r)
		m.emitStateLocked(r)
	}
	return r.Session.Quest, nil
}

// UpdatePhase1 records that a member picked up the pelt.
func (m *Manager) UpdatePhase1(connID string, req Phase1Request) (QuestState, error) {
	r, p, err := m.lockStartedMember(connID, req.RoomID)
	if err != nil {
		return QuestState{}, err
	}
	defer r.mu.Unlock()

	if m.mergeLocked(r, p, QuestReport{GotPelt: Flag(req.GotPelt)}) {
		m.emitLocked(r, EventQuestPhase1Update, Phase1Payload{GotPelt: r.Session.Quest.GotPelt}, "")
		m.emitQuestLocked(r)
		m.emitStateLocked(r)
	}
	return r.Session.Quest, nil
}

// mergeLocked folds a report into the room's quest and re-evaluates the
// stage-gated pools when anything moved.
func (m *Manager) mergeLocked(r *Room, p *Player, report QuestReport) bool {
	s := r.Session
	changed := s.Quest.Merge(report)
	metrics.RecordQuestMerge(changed)
	if !changed {
		return false
	}

	s.dropDefeatedBosses()
	if n := s.ensureSpawns(r.Difficulty, r.connectedCountLocked()); n > 0 {
		m.logger.Debug("quest progress spawned enemies", zap.String("room", r.ID), zap.Int("count", n))
	}
	m.events.Record(EventTypeQuestMerged, m.now(), r.ID, p.ClientID, QuestMergedPayload{Quest: s.Quest})
	return true
}
