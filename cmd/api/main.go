package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"grievance/api/internal/app"
	"grievance/api/internal/calendar"
	"grievance/api/internal/config"
	"grievance/api/internal/lock"
	"grievance/api/internal/notify"
	"grievance/api/internal/search"
	"grievance/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger, os.Args[1:]); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, args []string) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	// `api migrate down` rolls the schema back and exits.
	if len(args) == 2 && args[0] == "migrate" && args[1] == "down" {
		return store.RollbackMigrations(ctx, db, cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(args) > 0 && args[0] == "migrate" {
		return nil
	}

	dataStore := store.NewPostgresStore(db)
	collaborators := app.Collaborators{Logger: logger}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := lock.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, approvals use version checks only", "error", err)
		} else {
			defer client.Close()
			collaborators.Locker = lock.NewRedisLocker(client, cfg.LockTTL)
			collaborators.Notifier = notify.NewRedisNotifier(client, dataStore)
			logger.Info("redis connected", "lock_ttl", cfg.LockTTL.String())
		}
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		syncer, err := calendar.NewMinioSyncer(ctx, calendar.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn("calendar sync disabled", "error", err)
		} else {
			collaborators.Calendar = syncer
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))
	collaborators.Search = searchService
	if meiliClient != nil {
		go searchService.ReindexAll(ctx)
	}

	service := app.New(cfg, dataStore, collaborators)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("grievance API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
