package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/searchbridge/searchbridge/internal/config"
	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/crawler"
	"github.com/searchbridge/searchbridge/internal/queue"
	"github.com/searchbridge/searchbridge/internal/services"
	"github.com/searchbridge/searchbridge/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the indexing worker",
		Long: `Start the queue consumer that runs indexing pipelines for queued
batches and handles rescrape jobs from change-detection events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
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

	rescraper := crawler.NewRescraper(
		crawler.New(crawler.Config{
			URL:     cfg.Crawler.URL,
			APIKey:  cfg.Crawler.APIKey,
			Timeout: cfg.Crawler.Timeout,
		}),
		pool.IndexingService(),
		store,
	)

	w := worker.New(pool.IndexingService(), jobs, rescraper, worker.Config{
		Concurrency:       cfg.Queue.Concurrency,
		DefaultJobTimeout: cfg.Queue.JobTimeout,
	})
	return w.Run(ctx)
}
