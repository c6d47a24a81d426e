// Command api is the push reminder scheduling server.
//
// Usage:
//
//	pushsched-api
//	API_PORT=8080 STORAGE_DRIVER=sqlite pushsched-api

// @title pushsched API
// @version 1.0.0
// @description Schedules browser push reminders per subscription. Far-future alarms are persisted and loaded shortly before their 3-hour block begins.
// @host localhost:3000
// @BasePath /
// @schemes http https
// @contact.name CNUTodo
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cnutodo/pushsched/internal/api"
	"github.com/cnutodo/pushsched/internal/api/handler"
	"github.com/cnutodo/pushsched/internal/config"
	"github.com/cnutodo/pushsched/internal/maintenance"
	"github.com/cnutodo/pushsched/internal/notifications"
	"github.com/cnutodo/pushsched/internal/push"
	"github.com/cnutodo/pushsched/internal/registry"
	"github.com/cnutodo/pushsched/internal/storage"
	"github.com/cnutodo/pushsched/internal/timers"

	_ "github.com/cnutodo/pushsched/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Open storage
	stores, err := storage.Open(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// Subscriptions
	reg := registry.New(stores.KV, logger)
	if err := reg.Load(ctx); err != nil {
		logger.Error("Failed to load subscriptions", "error", err)
		os.Exit(1)
	}

	// Push sender (nil when VAPID keys are missing)
	webPush := push.NewWebPushSender(
		push.VAPID{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey, Subject: cfg.VAPIDSubject},
		push.Options{TTL: cfg.PushTTL, Urgency: cfg.PushUrgency, Timeout: cfg.PushTimeout},
		logger)
	if webPush == nil {
		logger.Warn("Push delivery disabled (no VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY)")
	}

	// Scheduler
	svc := notifications.NewService(stores.Alarms, reg, timers.New(timers.RealClock()), webPush,
		notifications.Config{
			LeadTime:      cfg.LeadTime,
			ImminentSlack: cfg.ImminentSlack,
			DedupWindow:   cfg.DedupWindow,
			FlightWait:    cfg.FlightWait,
			MaxLookahead:  cfg.MaxLookahead,
			SendTimeout:   cfg.PushTimeout,
			Title:         cfg.PushTitle,
		}, logger)

	// Replay persisted alarms before accepting requests
	if _, err := svc.Restore(ctx); err != nil {
		logger.Error("Failed to restore alarms", "error", err)
		os.Exit(1)
	}

	// Retention purge: once now, then on PURGE_SCHEDULE
	maintCfg := maintenance.DefaultConfig()
	maintCfg.Retention = cfg.Retention()
	maintCfg.Schedule = cfg.PurgeSchedule
	go func() {
		if err := maintenance.Start(ctx, stores.Alarms, maintCfg, logger); err != nil {
			logger.Error("Maintenance stopped", "error", err)
		}
	}()

	// Create router
	h := handler.New(svc, stores.Alarms, reg, webPush.PublicKey())
	router := api.NewRouter(h, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting pushsched API",
			"addr", addr,
			"environment", cfg.Environment,
			"storage", cfg.StorageDriver,
			"registry", cfg.RegistryDriver,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	svc.Shutdown()
	logger.Info("Server stopped")
}
