// Package contentstore persists raw scraped documents and crawl bookkeeping
// in the relational database. Writes are idempotent on content hash so
// webhook redeliveries never duplicate rows, and every write emits an
// operation metric row whatever its outcome.
package contentstore

import (
	"time"

	"gorm.io/datatypes"
)

// Crawl session statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Change event statuses. Failures carry a reason suffix ("failed:<reason>").
const (
	ChangeStatusQueued     = "queued"
	ChangeStatusInProgress = "in_progress"
	ChangeStatusCompleted  = "completed"
	ChangeStatusFailed     = "failed"
)

// ScrapedContent is one raw document delivered by the crawler.
// (crawl_session_id, url, content_hash) is unique; redelivery of identical
// content resolves to the existing row.
type ScrapedContent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CrawlSessionID string         `gorm:"size:255;index;uniqueIndex:idx_session_url_hash" json:"crawl_session_id"`
	URL            string         `gorm:"size:2048;index;uniqueIndex:idx_session_url_hash" json:"url"`
	SourceURL      string         `gorm:"size:2048" json:"source_url"`
	ContentSource  string         `gorm:"size:50" json:"content_source"`
	Markdown       string         `gorm:"type:text" json:"markdown"`
	HTML           string         `gorm:"type:text" json:"html"`
	Links          datatypes.JSON `json:"links"`
	Screenshot     string         `gorm:"size:2048" json:"screenshot"`
	Metadata       datatypes.JSON `json:"metadata"`
	ContentHash    string         `gorm:"size:64;uniqueIndex:idx_session_url_hash" json:"content_hash"`
	ScrapedAt      time.Time      `json:"scraped_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (ScrapedContent) TableName() string { return "scraped_content" }

// CrawlSession tracks one crawl or batch-scrape job across its lifecycle
// events. Terminal statuses are absorbing.
type CrawlSession struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	JobID         string         `gorm:"size:255;uniqueIndex" json:"job_id"`
	BaseURL       string         `gorm:"size:2048" json:"base_url"`
	OperationType string         `gorm:"size:50" json:"operation_type"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Status        string         `gorm:"size:50;index" json:"status"`
	TotalURLs     int            `json:"total_urls"`
	CompletedURLs int            `json:"completed_urls"`
	FailedURLs    int            `json:"failed_urls"`
	DurationMs    int64          `json:"duration_ms"`
	ExtraMetadata datatypes.JSON `json:"extra_metadata"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (CrawlSession) TableName() string { return "crawl_sessions" }

// ChangeEvent records one external change notification and the rescrape
// it triggered.
type ChangeEvent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	WatchID        string         `gorm:"size:255;index" json:"watch_id"`
	WatchURL       string         `gorm:"size:2048" json:"watch_url"`
	DetectedAt     time.Time      `json:"detected_at"`
	RescrapeJobID  string         `gorm:"size:255;index" json:"rescrape_job_id"`
	RescrapeStatus string         `gorm:"size:255" json:"rescrape_status"`
	IndexedAt      *time.Time     `json:"indexed_at,omitempty"`
	ExtraMetadata  datatypes.JSON `json:"extra_metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (ChangeEvent) TableName() string { return "change_events" }

// OperationMetric is one observability row. Content-store failures never
// reach HTTP responses, so these rows are the only place they surface.
type OperationMetric struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Timestamp     time.Time      `gorm:"index" json:"timestamp"`
	OperationType string         `gorm:"size:50;index" json:"operation_type"`
	OperationName string         `gorm:"size:100" json:"operation_name"`
	DurationMs    int64          `json:"duration_ms"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `gorm:"type:text" json:"error_message"`
	RequestID     string         `gorm:"size:255" json:"request_id"`
	JobID         string         `gorm:"size:255" json:"job_id"`
	CrawlID       string         `gorm:"size:255" json:"crawl_id"`
	DocumentURL   string         `gorm:"size:2048" json:"document_url"`
	ExtraMetadata datatypes.JSON `json:"extra_metadata"`
}

func (OperationMetric) TableName() string { return "operation_metrics" }
