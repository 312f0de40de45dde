package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coop-quest/internal/api"
	"coop-quest/internal/config"
	"coop-quest/internal/game"
	"coop-quest/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coop-quest:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env next to the binary first, then the repository root
	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("co-op quest server",
		zap.Int("port", cfg.Server.Port),
		zap.Duration("tick", cfg.Session.TickInterval),
		zap.Duration("broadcast", cfg.Session.BroadcastInterval),
		zap.Duration("disconnectGrace", cfg.Session.DisconnectGrace),
		zap.Duration("emptyRoomGrace", cfg.Session.EmptyRoomGrace),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := game.NewEventLog(logger.Named("events"))
	if cfg.EventLogPath != "" {
		if err := events.Start(cfg.EventLogPath); err != nil {
			logger.Warn("event log disabled", zap.Error(err))
			events = nil
		} else {
			logger.Info("event log", zap.String("path", cfg.EventLogPath))
		}
	} else {
		events = nil
	}
	defer events.Stop()

	hub := api.NewHub(api.HubConfig{
		Limits:         cfg.Limits,
		AllowedOrigins: cfg.Server.CORSOrigins,
		Logger:         logger.Named("ws"),
	})

	manager := game.NewManager(game.Options{
		Session:     cfg.Session,
		Logger:      logger.Named("game"),
		Broadcaster: hub,
		EventLog:    events,
	})
	manager.Start(ctx)
	defer manager.Stop()

	debugSrv := api.StartDebugServer(api.ObservabilityFromConfig(cfg.Server), logger.Named("debug"))

	server := api.NewServer(manager, hub, api.OptionsFromConfig(cfg, logger.Named("http")))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + strconv.Itoa(cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("api server stopped", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if debugSrv != nil {
		_ = debugSrv.Shutdown(shutdownCtx)
	}
	return nil
}
