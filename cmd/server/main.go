package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/robfig/cron/v3"

	"rsswatcher/internal/config"
	"rsswatcher/internal/fetcher"
	"rsswatcher/internal/notify"
	"rsswatcher/internal/poller"
	"rsswatcher/internal/server"
	"rsswatcher/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	parser := gofeed.NewParser()
	runner := poller.NewRunner(
		store,
		fetcher.New(http.DefaultClient, parser),
		notify.New(),
		log,
		poller.Config{
			MaxUsersPerRun:    cfg.MaxUsersPerRun,
			MaxEntriesPerFeed: cfg.MaxEntriesPerFeed,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Deployments without an external cron can self-trigger.
	if cfg.PollCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.PollCron, func() {
			stats, err := runner.RunDue(ctx, time.Now().UTC())
			if err != nil {
				log.Error("scheduled poll failed", "error", err)
				return
			}
			log.Info("scheduled poll complete",
				"users_processed", stats.UsersProcessed,
				"has_more_due", stats.HasMoreDue)
		}); err != nil {
			log.Error("invalid POLL_CRON", "spec", cfg.PollCron, "error", err)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(runner, cfg.CronSecret, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serve", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
