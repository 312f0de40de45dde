package api

import (
	"encoding/json"
	"net/http"

	"coop-quest/internal/game"
)

type statsResponse struct {
	game.Stats
	RateLimit map[string]uint64 `json:"rateLimit"`
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, okReply{OK: true})
}

func (h *routerHandlers) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.service.ListOpenRooms()
	if rooms == nil {
		rooms = []game.RoomSummary{}
	}
	writeJSON(w, rooms)
}

func (h *routerHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statsResponse{
		Stats:     h.service.Stats(),
		RateLimit: h.rateLimiter.GetStats(),
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
