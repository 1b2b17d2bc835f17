// Package app wires the store, cache, presence hub, dispatch engine and
// HTTP server into one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatrixx/internal/sweeper"
	"chatrixx/pkg/activity"
	"chatrixx/pkg/api"
	"chatrixx/pkg/cache"
	"chatrixx/pkg/config"
	"chatrixx/pkg/dispatch"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/notify"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/security"
	"chatrixx/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg      *config.Config
	hub      *presence.Hub
	cache    *cache.Cache
	eng      *dispatch.Engine
	recorder *activity.Recorder

	srv *http.Server
}

// New initializes the store and every collaborator that does not need a
// running context. Call Run to start the schedulers and the HTTP server.
func New(cfg *config.Config) (*App, error) {
	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("security.jwt_secret is required")
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = "./.database"
	}
	if err := store.Open(dbPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dbPath, err)
	}

	c := cache.New(context.Background(), cfg.Cache.RedisAddr)

	var keys security.KeyDerivation
	if cfg.Security.EncryptionSecret != "" {
		d, err := security.NewHKDFDeriver(cfg.Security.EncryptionSecret)
		if err != nil {
			return nil, err
		}
		keys = d
	} else {
		logger.Warn("encryption_secret_missing", "detail", "conversations cannot enable encryption")
	}

	hub := presence.NewHub()
	recorder := activity.NewRecorder(cfg.Presence.ActivityBuffer)
	notifier := notify.New(notify.LogSender{})
	eng := dispatch.NewEngine(c, hub, notifier, keys, recorder)

	hub.SetPresenceSink(&presenceSink{hub: hub, cache: c})

	return &App{cfg: cfg, hub: hub, cache: c, eng: eng, recorder: recorder}, nil
}

// Engine exposes the dispatch engine, mainly for admin tooling.
func (a *App) Engine() *dispatch.Engine { return a.eng }

// Run starts the sweeper and the HTTP server and blocks until ctx is
// canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	sweepCancel, err := sweeper.Start(ctx, a.cfg.Sweeper.Enabled, a.cfg.SweeperCron())
	if err != nil {
		return err
	}
	defer sweepCancel()

	handler := api.New(a.cfg, a.eng, a.hub).Handler()
	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.ListenAndServe() }()
	logger.Info("server_started", "addr", a.cfg.Addr())

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (a *App) shutdown() error {
	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	a.recorder.Close()
	if err := a.cache.Close(); err != nil {
		logger.Error("cache_close_failed", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
		return err
	}
	logger.Info("server_stopped")
	return nil
}
