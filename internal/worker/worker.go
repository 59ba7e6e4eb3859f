// Package worker executes queued indexing jobs. A batch fans out one
// pipeline run per document with bounded parallelism; results come back in
// input order and one bad document never takes down its batch.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/pipeline"
	"github.com/searchbridge/searchbridge/internal/queue"
)

// Indexer runs the pipeline for one document.
type Indexer interface {
	Index(ctx context.Context, doc model.Document, jobID, crawlID string) pipeline.Result
}

// JobSource is the slice of the queue the worker consumes.
type JobSource interface {
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Job, error)
	StoreResult(ctx context.Context, jobID string, result any) error
}

// Rescraper handles rescrape jobs. Wired separately because it needs the
// crawler client and the change-event table.
type Rescraper interface {
	Rescrape(ctx context.Context, job *queue.Job) error
}

// Config tunes the worker.
type Config struct {
	// Concurrency caps parallel pipeline runs within one batch (default 8).
	Concurrency int
	// DefaultJobTimeout applies when a job carries no timeout (default 10m).
	DefaultJobTimeout time.Duration
	// PollWait is the blocking-dequeue window (default 5s).
	PollWait time.Duration
}

// Worker consumes jobs until its context is cancelled.
type Worker struct {
	indexer   Indexer
	jobs      JobSource
	rescraper Rescraper
	cfg       Config
}

// New creates a Worker.
func New(indexer Indexer, jobs JobSource, rescraper Rescraper, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.DefaultJobTimeout <= 0 {
		cfg.DefaultJobTimeout = 10 * time.Minute
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 5 * time.Second
	}
	return &Worker{indexer: indexer, jobs: jobs, rescraper: rescraper, cfg: cfg}
}

// Run is the dequeue loop. Cancellation stops dequeueing; the in-flight
// job finishes up to its timeout before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker_started", "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker_stopped")
			return nil
		default:
		}

		job, err := w.jobs.Dequeue(ctx, w.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("worker_stopped")
				return nil
			}
			slog.Warn("dequeue_failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.handle(job)
	}
}

// handle runs one job to completion under its timeout. The job context is
// detached from the run loop's so shutdown lets it finish.
func (w *Worker) handle(job *queue.Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	slog.Info("job_started", "job_id", job.ID, "type", job.Type, "documents", len(job.Documents))

	switch job.Type {
	case queue.TypeIndexBatch:
		results := w.ProcessBatch(ctx, job.ID, job.CrawlID, job.Documents)
		if err := w.jobs.StoreResult(ctx, job.ID, results); err != nil {
			slog.Warn("result_store_failed", "job_id", job.ID, "error", err)
		}
		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
		}
		slog.Info("job_completed",
			"job_id", job.ID,
			"succeeded", succeeded,
			"failed", len(results)-succeeded,
			"duration_ms", time.Since(start).Milliseconds())

	case queue.TypeRescrape:
		if w.rescraper == nil {
			slog.Error("rescrape_job_unhandled", "job_id", job.ID)
			return
		}
		if err := w.rescraper.Rescrape(ctx, job); err != nil {
			slog.Error("rescrape_failed", "job_id", job.ID, "url", job.URL, "error", err)
		}

	default:
		slog.Error("unknown_job_type", "job_id", job.ID, "type", job.Type)
	}
}

// ProcessBatch indexes documents in parallel and returns one result per
// document, in input order. A panic inside one pipeline run is converted
// to a failed slot for that document only.
func (w *Worker) ProcessBatch(ctx context.Context, jobID, crawlID string, docs []model.Document) []pipeline.Result {
	if len(docs) == 0 {
		return []pipeline.Result{}
	}

	results := make([]pipeline.Result, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for i, doc := range docs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("pipeline_panic", "url", doc.URL, "panic", r)
					results[i] = pipeline.Result{
						URL:       doc.URL,
						Error:     fmt.Sprintf("internal error: %v", r),
						ErrorType: apperr.CodeInternal,
					}
				}
			}()
			results[i] = w.indexer.Index(gctx, doc, jobID, crawlID)
			return nil
		})
	}

	// The group never returns errors; failures live in the result slots.
	_ = g.Wait()
	return results
}
