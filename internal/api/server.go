package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"coop-quest/internal/config"
)

// Options configures a Server.
type Options struct {
	CORSOrigins     []string
	RateLimitConfig RateLimitConfig
	DisableLogging  bool
	Logger          *zap.Logger
}

// OptionsFromConfig maps the application configuration onto server options.
func OptionsFromConfig(cfg config.AppConfig, logger *zap.Logger) Options {
	return Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimitConfig: RateLimitConfig{
			RequestsPerSecond: cfg.Limits.RequestsPerSecond,
			Burst:             cfg.Limits.Burst,
			CleanupInterval:   DefaultRateLimitConfig.CleanupInterval,
		},
		Logger: logger,
	}
}

// Server is the HTTP API server with WebSocket support.
type Server struct {
	service     SessionService
	hub         *Hub
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	logger      *zap.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer wires the router and the WebSocket hub to the session service.
//
// Background workers do NOT start until Start() is called, so a server can
// be constructed in tests and served through Router().
func NewServer(service SessionService, hub *Hub, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(HubConfig{AllowedOrigins: opts.CORSOrigins, Logger: logger})
	}
	hub.service = service

	s := &Server{
		service:     service,
		hub:         hub,
		rateLimiter: NewIPRateLimiter(opts.RateLimitConfig),
		logger:      logger,
	}
	s.router = NewRouter(RouterConfig{
		Service:        service,
		RateLimiter:    s.rateLimiter,
		CORSOrigins:    opts.CORSOrigins,
		DisableLogging: opts.DisableLogging,
		Logger:         logger,
	})
	s.setupWebSocketRoutes()
	return s
}

// setupWebSocketRoutes adds the routes that need the hub instance.
func (s *Server) setupWebSocketRoutes() {
	s.router.Get("/socket.io/", s.handleSocketIO)
	s.router.Get("/ws", s.hub.HandleWebSocket)
}

// Start runs background workers and serves HTTP until Shutdown.
// This is the ONLY method that starts goroutines or opens listeners.
func (s *Server) Start(addr string) error {
	s.rateLimiter.Start()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	s.logger.Info("api server starting", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown stops accepting requests, closes every WebSocket and stops the
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.hub.Close()
	s.rateLimiter.Stop()
	return err
}

func (s *Server) handleSocketIO(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "websocket" {
		s.hub.HandleWebSocket(w, r)
		return
	}

	// No polling fallback
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"use websocket"}`))
}
