package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/model"
)

// Store wraps the relational database. All methods are safe for concurrent
// use; gorm pools connections underneath.
type Store struct {
	db *gorm.DB
}

// New creates a Store and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&ScrapedContent{},
		&CrawlSession{},
		&ChangeEvent{},
		&OperationMetric{},
	); err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// ContentHash returns the SHA-256 hex digest of the canonical body.
func ContentHash(markdown string) string {
	sum := sha256.Sum256([]byte(markdown))
	return hex.EncodeToString(sum[:])
}

// Store persists one document idempotently. The insert carries
// ON CONFLICT DO NOTHING on (session, url, content_hash); when the row
// already exists it is re-read and returned, so redelivered webhooks
// always resolve to the same row id. A metric row is emitted either way.
func (s *Store) Store(ctx context.Context, sessionID string, doc model.Document, source string) (*ScrapedContent, error) {
	start := time.Now()

	row, err := s.storeOne(ctx, sessionID, doc, source)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	s.RecordMetric(ctx, OperationMetric{
		OperationType: "content_store",
		OperationName: "store",
		DurationMs:    time.Since(start).Milliseconds(),
		Success:       err == nil,
		ErrorMessage:  errMsg,
		CrawlID:       sessionID,
		DocumentURL:   doc.URL,
	})

	return row, err
}

func (s *Store) storeOne(ctx context.Context, sessionID string, doc model.Document, source string) (*ScrapedContent, error) {
	hash := ContentHash(doc.Markdown)

	row := &ScrapedContent{
		CrawlSessionID: sessionID,
		URL:            doc.URL,
		SourceURL:      doc.ResolvedURL,
		ContentSource:  source,
		Markdown:       doc.Markdown,
		HTML:           doc.HTML,
		Screenshot:     doc.ScreenshotURL,
		ContentHash:    hash,
		ScrapedAt:      time.Now().UTC(),
	}
	if doc.Metadata != nil {
		if metaJSON, err := json.Marshal(doc.Metadata); err == nil {
			row.Metadata = datatypes.JSON(metaJSON)
		}
	}
	if len(doc.Links) > 0 {
		if linksJSON, err := json.Marshal(doc.Links); err == nil {
			row.Links = datatypes.JSON(linksJSON)
		}
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "crawl_session_id"},
			{Name: "url"},
			{Name: "content_hash"},
		},
		DoNothing: true,
	}).Create(row)
	if result.Error != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, result.Error)
	}

	if result.RowsAffected == 0 {
		var existing ScrapedContent
		err := s.db.WithContext(ctx).
			Where("crawl_session_id = ? AND url = ? AND content_hash = ?", sessionID, doc.URL, hash).
			First(&existing).Error
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
		}
		slog.Debug("content_store_conflict_resolved",
			"url", doc.URL, "session", sessionID, "row_id", existing.ID)
		return &existing, nil
	}

	return row, nil
}

// StoreAsync persists documents in a background goroutine. Failures are
// logged and recorded as metrics but never reach the caller; the webhook
// response must not wait on the database.
func (s *Store) StoreAsync(sessionID string, docs []model.Document, source string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("content_store_async_panic", "session", sessionID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		for _, doc := range docs {
			if _, err := s.Store(ctx, sessionID, doc, source); err != nil {
				slog.Warn("content_store_async_failed",
					"url", doc.URL, "session", sessionID, "error", err)
			}
		}
	}()
}

// ByURL returns stored rows for a URL, newest first.
func (s *Store) ByURL(ctx context.Context, url string, limit int) ([]ScrapedContent, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []ScrapedContent
	err := s.db.WithContext(ctx).
		Where("url = ?", url).
		Order("scraped_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return rows, nil
}

// BySession returns a session's rows, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit, offset int) ([]ScrapedContent, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []ScrapedContent
	err := s.db.WithContext(ctx).
		Where("crawl_session_id = ?", sessionID).
		Order("scraped_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return rows, nil
}

// TotalDocuments counts stored content rows. Errors degrade to zero since
// the count feeds stats endpoints only.
func (s *Store) TotalDocuments(ctx context.Context) int64 {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ScrapedContent{}).Count(&count).Error; err != nil {
		slog.Warn("content_count_failed", "error", err)
		return 0
	}
	return count
}

// StartSession creates a session in in_progress, or does nothing when the
// job id is already known. A restarted crawl never resets a session that
// has already finished.
func (s *Store) StartSession(ctx context.Context, jobID, baseURL, operationType string) error {
	session := &CrawlSession{
		JobID:         jobID,
		BaseURL:       baseURL,
		OperationType: operationType,
		StartedAt:     time.Now().UTC(),
		Status:        StatusInProgress,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoNothing: true,
	}).Create(session)
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, result.Error)
	}
	return nil
}

// SessionCounts carries final URL tallies for a finished session.
type SessionCounts struct {
	Total     int
	Completed int
	Failed    int
}

// CompleteSession transitions a session to completed. Only in_progress
// sessions move; terminal states absorb repeated events.
func (s *Store) CompleteSession(ctx context.Context, jobID string, counts SessionCounts) error {
	return s.finishSession(ctx, jobID, StatusCompleted, counts)
}

// FailSession transitions a session to failed.
func (s *Store) FailSession(ctx context.Context, jobID string, counts SessionCounts) error {
	return s.finishSession(ctx, jobID, StatusFailed, counts)
}

func (s *Store) finishSession(ctx context.Context, jobID, status string, counts SessionCounts) error {
	now := time.Now().UTC()

	var session CrawlSession
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Newf(apperr.CodeNotFound, "unknown crawl session %q", jobID)
		}
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}

	result := s.db.WithContext(ctx).Model(&CrawlSession{}).
		Where("job_id = ? AND status = ?", jobID, StatusInProgress).
		Updates(map[string]any{
			"status":         status,
			"completed_at":   now,
			"total_urls":     counts.Total,
			"completed_urls": counts.Completed,
			"failed_urls":    counts.Failed,
			"duration_ms":    now.Sub(session.StartedAt).Milliseconds(),
		})
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		slog.Debug("session_transition_absorbed", "job_id", jobID, "target", status)
	}
	return nil
}

// SessionByJobID fetches one session.
func (s *Store) SessionByJobID(ctx context.Context, jobID string) (*CrawlSession, error) {
	var session CrawlSession
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.CodeNotFound, "unknown crawl session %q", jobID)
		}
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return &session, nil
}

// CreateChangeEvent records an incoming change notification as queued.
func (s *Store) CreateChangeEvent(ctx context.Context, watchID, watchURL string, detectedAt time.Time) (*ChangeEvent, error) {
	event := &ChangeEvent{
		WatchID:        watchID,
		WatchURL:       watchURL,
		DetectedAt:     detectedAt,
		RescrapeStatus: ChangeStatusQueued,
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return event, nil
}

// UpdateChangeEvent sets the rescrape status and optional job id.
// Committed independently of any surrounding work so an external-call
// failure after the update cannot undo it.
func (s *Store) UpdateChangeEvent(ctx context.Context, id uint, status, rescrapeJobID string) error {
	updates := map[string]any{"rescrape_status": status}
	if rescrapeJobID != "" {
		updates["rescrape_job_id"] = rescrapeJobID
	}
	if status == ChangeStatusCompleted {
		updates["indexed_at"] = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Model(&ChangeEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return nil
}

// RecordMetric writes one operation metric row. Metric failures are logged
// and swallowed; observability must never break the operation it observes.
func (s *Store) RecordMetric(ctx context.Context, metric OperationMetric) {
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&metric).Error; err != nil {
		slog.Warn("operation_metric_write_failed",
			"operation", metric.OperationName, "error", err)
	}
}
