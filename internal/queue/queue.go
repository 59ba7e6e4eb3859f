// Package queue adapts Redis lists into the job queue between webhook
// intake and the indexing workers. Enqueues within one request are
// pipelined into a single round-trip; workers block on BRPOP.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/model"
)

// Job types.
const (
	TypeIndexBatch = "index_batch"
	TypeRescrape   = "rescrape"
)

const (
	jobsKey         = "searchbridge:jobs"
	resultKeyPrefix = "searchbridge:result:"
	resultTTL       = time.Hour
)

// Job is one queued unit of work. IndexBatch jobs carry documents;
// rescrape jobs carry the URL and change-event row to update.
type Job struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Documents     []model.Document `json:"documents,omitempty"`
	CrawlID       string           `json:"crawl_id,omitempty"`
	URL           string           `json:"url,omitempty"`
	ChangeEventID uint             `json:"change_event_id,omitempty"`
	Timeout       time.Duration    `json:"timeout"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
}

// Queue is the Redis adapter. Safe for concurrent use; go-redis pools
// connections internally.
type Queue struct {
	client *redis.Client
}

// New connects to the broker at the given URL (redis://host:port/db).
func New(url string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfigInvalid, err)
	}
	return &Queue{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Enqueue pushes one job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	ids, err := q.EnqueueAll(ctx, []Job{job})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueAll pushes all jobs in a single pipelined round-trip and returns
// their ids in input order. Per-job latency to the broker would otherwise
// dominate large webhook deliveries.
func (q *Queue) EnqueueAll(ctx context.Context, jobs []Job) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(jobs))
	pipe := q.client.Pipeline()
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.New().String()
		}
		if jobs[i].EnqueuedAt.IsZero() {
			jobs[i].EnqueuedAt = time.Now().UTC()
		}
		ids[i] = jobs[i].ID

		payload, err := json.Marshal(jobs[i])
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err)
		}
		pipe.LPush(ctx, jobsKey, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}

	slog.Debug("jobs_enqueued", "count", len(jobs))
	return ids, nil
}

// Dequeue blocks up to wait for the next job. A nil job with nil error
// means the wait elapsed with nothing queued.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	values, err := q.client.BRPop(ctx, wait, jobsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}

	// BRPop returns [key, value]
	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err)
	}
	return &job, nil
}

// StoreResult persists a job's outcome for later retrieval, expiring after
// an hour.
func (q *Queue) StoreResult(ctx context.Context, jobID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, err)
	}
	if err := q.client.Set(ctx, resultKeyPrefix+jobID, payload, resultTTL).Err(); err != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return nil
}

// Result fetches a stored job outcome into out. NotFound when the job has
// no stored result (still running, or expired).
func (q *Queue) Result(ctx context.Context, jobID string, out any) error {
	payload, err := q.client.Get(ctx, resultKeyPrefix+jobID).Result()
	if err != nil {
		if err == redis.Nil {
			return apperr.Newf(apperr.CodeNotFound, "no result for job %q", jobID)
		}
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err)
	}
	return nil
}

// Depth returns the number of queued jobs. Degrades to zero on error.
func (q *Queue) Depth(ctx context.Context) int64 {
	depth, err := q.client.LLen(ctx, jobsKey).Result()
	if err != nil {
		slog.Warn("queue_depth_failed", "error", err)
		return 0
	}
	return depth
}

// Ping checks broker connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}
