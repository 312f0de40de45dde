// Package config provides centralized configuration management.
// Defaults live here; environment variables (optionally loaded from a .env
// file) override them.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int      `env:"PORT"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:","`
	DebugAddr    string   `env:"DEBUG_ADDR"`
	DebugEnabled bool     `env:"DEBUG_ENABLED"`

	// Optional basic auth in front of the debug server.
	DebugUser     string `env:"DEBUG_USER"`
	DebugPassword string `env:"DEBUG_PASSWORD"`

	// AllowDebugExternal permits binding the debug server to a non-loopback address.
	AllowDebugExternal bool `env:"ALLOW_DEBUG_EXTERNAL"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
		CORSOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
		DebugAddr:    "127.0.0.1:6060", // localhost only
		DebugEnabled: true,
	}
}

// =============================================================================
// SESSION TIMING
// =============================================================================

// SessionConfig controls the simulation cadence and membership grace windows.
type SessionConfig struct {
	TickInterval      time.Duration `env:"TICK_INTERVAL"`
	MaxTickDelta      time.Duration `env:"MAX_TICK_DELTA"`
	BroadcastInterval time.Duration `env:"BROADCAST_INTERVAL"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"`
	DisconnectGrace   time.Duration `env:"DISCONNECT_GRACE"`
	EmptyRoomGrace    time.Duration `env:"EMPTY_ROOM_GRACE"`
}

// DefaultSession returns the default session timing.
func DefaultSession() SessionConfig {
	return SessionConfig{
		TickInterval:      50 * time.Millisecond,
		MaxTickDelta:      200 * time.Millisecond, // clamp after scheduler stalls
		BroadcastInterval: 180 * time.Millisecond,
		SweepInterval:     10 * time.Second,
		DisconnectGrace:   3 * time.Minute,
		EmptyRoomGrace:    8 * time.Minute,
	}
}

// =============================================================================
// RESOURCE LIMITS
// =============================================================================

// ResourceLimits controls DoS protection on the HTTP and WebSocket surfaces.
type ResourceLimits struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS"`
	Burst             int     `env:"RATE_LIMIT_BURST"`
	MaxWSConnections  int     `env:"MAX_WS_CONNECTIONS"`
	MaxWSPerIP        int     `env:"MAX_WS_PER_IP"`
	MessagesPerSecond float64 `env:"WS_MESSAGES_PER_SECOND"`
	MessageBurst      int     `env:"WS_MESSAGE_BURST"`
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		RequestsPerSecond: 10,
		Burst:             20,
		MaxWSConnections:  500,
		MaxWSPerIP:        10,
		MessagesPerSecond: 60, // player:state streams at ~20 Hz plus hits
		MessageBurst:      120,
	}
}

// =============================================================================
// LOGGING
// =============================================================================

// LogConfig holds logger settings. An empty File disables the rotating file sink.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS"`
}

// DefaultLog returns the default logger configuration.
func DefaultLog() LogConfig {
	return LogConfig{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server       ServerConfig
	Session      SessionConfig
	Limits       ResourceLimits
	Log          LogConfig
	EventLogPath string `env:"EVENT_LOG_PATH"`
}

// Default returns the complete configuration without environment overrides.
func Default() AppConfig {
	return AppConfig{
		Server:       DefaultServer(),
		Session:      DefaultSession(),
		Limits:       DefaultLimits(),
		Log:          DefaultLog(),
		EventLogPath: "events.jsonl",
	}
}

// Load reads optional .env files and applies environment overrides on top of
// the defaults. Variables that are unset keep their default value.
func Load(envFiles ...string) (AppConfig, error) {
	for _, f := range envFiles {
		// Missing files are fine; the process environment still applies.
		_ = godotenv.Load(f)
	}

	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Session = sanitizeSession(cfg.Session)
	return cfg, nil
}

// sanitizeSession replaces non-positive durations with their defaults.
func sanitizeSession(s SessionConfig) SessionConfig {
	d := DefaultSession()
	if s.TickInterval <= 0 {
		s.TickInterval = d.TickInterval
	}
	if s.MaxTickDelta <= 0 {
		s.MaxTickDelta = d.MaxTickDelta
	}
	if s.BroadcastInterval <= 0 {
		s.BroadcastInterval = d.BroadcastInterval
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = d.SweepInterval
	}
	if s.DisconnectGrace <= 0 {
		s.DisconnectGrace = d.DisconnectGrace
	}
	if s.EmptyRoomGrace <= 0 {
		s.EmptyRoomGrace = d.EmptyRoomGrace
	}
	return s
}
