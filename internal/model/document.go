// Package model holds the document types shared by the webhook intake,
// job queue, indexing pipeline, and content store.
package model

// Document is one scraped page as delivered by the crawler webhook.
type Document struct {
	// URL is the canonical request URL. Never empty for a valid document.
	URL string `json:"url"`
	// ResolvedURL is the final URL after redirects.
	ResolvedURL string `json:"resolved_url,omitempty"`
	// StatusCode is the HTTP status the crawler observed.
	StatusCode int `json:"status_code,omitempty"`
	// ContentType is the MIME-type family (e.g., "text/html").
	ContentType string `json:"content_type,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Country     string `json:"country,omitempty"`
	IsMobile    bool   `json:"is_mobile,omitempty"`

	// Markdown is the body used for indexing. Must be non-empty after
	// cleaning for the document to be indexable.
	Markdown string `json:"markdown"`
	// HTML is the raw body, stored but never indexed.
	HTML string `json:"html,omitempty"`

	Links         []string       `json:"links,omitempty"`
	ScreenshotURL string         `json:"screenshot_url,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// CrawlID associates the document with a crawl session. Attached by
	// the webhook intake before enqueueing.
	CrawlID string `json:"crawl_id,omitempty"`
}

// Content source tags recorded alongside stored documents.
const (
	SourceSingleScrape = "single_scrape"
	SourceCrawl        = "crawl"
	SourceBatchScrape  = "batch_scrape"
	SourceRescrape     = "rescrape"
)
