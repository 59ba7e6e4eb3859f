package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/searchbridge/searchbridge/internal/config"
	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/queue"
	"github.com/searchbridge/searchbridge/internal/services"
)

// StatsOutput is the JSON output format for index statistics.
type StatsOutput struct {
	TotalDocuments int64  `json:"total_documents"`
	QdrantPoints   uint64 `json:"qdrant_points"`
	BM25Documents  int    `json:"bm25_documents"`
	QueueDepth     int64  `json:"queue_depth"`
	CollectionName string `json:"collection_name"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Display document and chunk counts across the content store, the
vector collection, the BM25 index, and the job queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runStats(cmd.Context(), cmd, cfg, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, cfg *config.Config, jsonOutput bool) error {
	pool, err := services.Get(cfg)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer pool.Close()

	out := StatsOutput{
		QdrantPoints:   pool.Vectors.Count(ctx),
		BM25Documents:  pool.Keywords.DocCount(),
		CollectionName: cfg.Vector.Collection,
	}

	// Database and queue counts are best-effort; the command still reports
	// the local index sizes when either service is down.
	if db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}); err == nil {
		if store, err := contentstore.New(db); err == nil {
			out.TotalDocuments = store.TotalDocuments(ctx)
		}
	}
	if jobs, err := queue.New(cfg.Queue.URL); err == nil {
		out.QueueDepth = jobs.Depth(ctx)
		_ = jobs.Close()
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Collection:      %s\n", out.CollectionName)
	fmt.Fprintf(cmd.OutOrStdout(), "Documents:       %d\n", out.TotalDocuments)
	fmt.Fprintf(cmd.OutOrStdout(), "Vector points:   %d\n", out.QdrantPoints)
	fmt.Fprintf(cmd.OutOrStdout(), "BM25 documents:  %d\n", out.BM25Documents)
	fmt.Fprintf(cmd.OutOrStdout(), "Queue depth:     %d\n", out.QueueDepth)
	return nil
}
