// Package metrics holds the Prometheus collectors shared by the game and API
// layers. Labels are bounded; nothing is labelled per room or per player.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Simulation metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_tick_duration_seconds",
		Help:    "Time spent advancing all rooms in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_rooms_active",
		Help: "Rooms currently held in memory",
	})

	roomsStarted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_rooms_started",
		Help: "Rooms with a running session",
	})

	playersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_players_connected",
		Help: "Connected player slots across all rooms",
	})

	enemyKills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_enemy_kills_total",
		Help: "Enemies killed by validated melee hits",
	}, []string{"species"}) // Bounded: wolf, bandit, direwolf, warlord

	questMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_quest_merges_total",
		Help: "Quest reports merged, by whether they changed state",
	}, []string{"result"}) // Bounded: "changed", "noop"

	combatRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_combat_rejected_total",
		Help: "Melee hits rejected by validation",
	}, []string{"reason"})

	// Transport metrics
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit", "msg_rate"

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "WebSocket messages by direction",
	}, []string{"direction"}) // Bounded: "in", "out", "dropped"
)

// RecordTick records tick timing.
func RecordTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// SetRoomCounts updates the room gauges.
func SetRoomCounts(active, started, connected int) {
	roomsActive.Set(float64(active))
	roomsStarted.Set(float64(started))
	playersConnected.Set(float64(connected))
}

// RecordKill increments the kill counter for a species.
func RecordKill(species string) {
	enemyKills.WithLabelValues(species).Inc()
}

// RecordQuestMerge counts a quest merge outcome.
func RecordQuestMerge(changed bool) {
	if changed {
		questMerges.WithLabelValues("changed").Inc()
		return
	}
	questMerges.WithLabelValues("noop").Inc()
}

// RecordCombatRejected counts a rejected hit. reason is one of the fixed error tags.
func RecordCombatRejected(reason string) {
	combatRejected.WithLabelValues(reason).Inc()
}

// RecordConnectionRejected increments the rejection counter.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records an HTTP request outcome.
func RecordRequest(method string, status int) {
	requestTotal.WithLabelValues(method, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts one WebSocket message in the given direction.
func IncrementWSMessages(direction string) {
	wsMessagesTotal.WithLabelValues(direction).Inc()
}
