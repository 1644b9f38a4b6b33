package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jw6ventures/planner/internal/api"
	appauth "github.com/jw6ventures/planner/internal/auth"
	"github.com/jw6ventures/planner/internal/calsync"
	"github.com/jw6ventures/planner/internal/config"
	httpserver "github.com/jw6ventures/planner/internal/http"
	"github.com/jw6ventures/planner/internal/logging"
	"github.com/jw6ventures/planner/internal/remote"
	"github.com/jw6ventures/planner/internal/scheduler"
	"github.com/jw6ventures/planner/internal/secrets"
	"github.com/jw6ventures/planner/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting planner server", "store", cfg.Store.Backend, "remote_sync", cfg.RemoteEnabled())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	stor, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer stor.Close()

	box, err := secrets.NewBox(cfg.Session.Secret)
	if err != nil {
		return err
	}

	oauthCfg := appauth.NewGoogleOAuthConfig(cfg)
	var verifier appauth.IDTokenVerifier
	if oauthCfg != nil {
		verifier, err = appauth.NewOIDCVerifier(ctx, cfg)
		if err != nil {
			// Without a verifier nobody can link, but stored links keep syncing.
			logger.Error("remote calendar linking disabled", "error", err)
		}
	}

	policy := remote.RetryPolicy{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.RetryBaseDelay,
		PaceDelay:  cfg.Sync.PaceDelay,
	}
	connector := remote.NewConnector(stor.Credentials, box, oauthCfg, policy)

	engine := calsync.New(stor.Documents, connector, calsync.Options{
		Timeout:      cfg.Sync.Timeout,
		Window:       cfg.Sync.Window,
		ImportRemote: cfg.Sync.ImportRemote,
		PruneRanges:  cfg.Sync.PruneRanges,
	})

	sched := scheduler.New(stor.Credentials, engine, cfg.Sync.Parallelism)
	if connector.Enabled() {
		if err := sched.Start(logging.WithLogger(ctx, logger), cfg.Sync.Cron); err != nil {
			return err
		}
		defer sched.Stop()
	}

	sessions := appauth.NewSessionManager(cfg)
	authService := appauth.NewService(cfg, sessions, oauthCfg, verifier, connector)
	calendar, err := api.NewHandler(engine, stor.Credentials, connector.Enabled() && verifier != nil)
	if err != nil {
		return err
	}

	router := httpserver.NewRouter(cfg, stor, authService, calendar)
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Sync.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}
