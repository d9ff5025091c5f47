// Command overlandd runs the Overland location ingest server. It is the
// single process a container launches: configuration is read once at start,
// the pipeline is wired, the listener opened, and termination signals shut
// it down gracefully. Any startup failure exits non-zero.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/overland-tools/overlandd/internal/app"
	"github.com/overland-tools/overlandd/internal/app/storage/postgres"
	"github.com/overland-tools/overlandd/internal/app/storage/redis"
	"github.com/overland-tools/overlandd/internal/config"
	"github.com/overland-tools/overlandd/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "overlandd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is a development convenience; its absence is normal.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Dir:        cfg.Journal.Dir,
		FilePrefix: cfg.Logging.FilePrefix,
	}).Named("overlandd")

	ctx := context.Background()

	var stores app.Stores
	if cfg.Archive.Enabled() {
		pg, err := postgres.Open(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer pg.Close()
		stores.Batches = pg
		log.Info("batch archive enabled")
	}
	if cfg.Cache.Enabled() {
		rd, err := redis.Open(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("device cache: %w", err)
		}
		defer rd.Close()
		stores.Fixes = rd
		log.WithField("addr", cfg.Cache.RedisAddr).Info("redis device cache enabled")
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      application.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop services: %w", err)
	}

	log.Info("stopped")
	return nil
}
