package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/searchbridge/searchbridge/internal/api"
	"github.com/searchbridge/searchbridge/internal/config"
	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/queue"
	"github.com/searchbridge/searchbridge/internal/services"
	"github.com/searchbridge/searchbridge/internal/webhook"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Long: `Start the HTTP API server: search, stats, health, and the crawler
webhook endpoints. Indexing jobs are queued for a separate worker process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := services.Get(cfg)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer pool.Close()

	if err := pool.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	store, err := contentstore.New(db)
	if err != nil {
		return fmt.Errorf("prepare content store: %w", err)
	}

	jobs, err := queue.New(cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer jobs.Close()

	dispatcher := webhook.NewDispatcher(jobs, store, cfg.Queue.JobTimeout)
	server := api.New(cfg, pool.SearchService(), dispatcher, store,
		pool.Vectors, pool.Keywords, jobs, pool.Embedder)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_started", "address", cfg.ServerAddress(), "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server_shutdown_incomplete", "error", err)
	}
	slog.Info("server_stopped")
	return nil
}
