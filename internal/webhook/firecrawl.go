package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/searchbridge/searchbridge/internal/model"
)

// Firecrawl event types.
const (
	EventCrawlPage            = "crawl.page"
	EventBatchScrapePage      = "batch_scrape.page"
	EventCrawlStarted         = "crawl.started"
	EventCrawlCompleted       = "crawl.completed"
	EventCrawlFailed          = "crawl.failed"
	EventBatchScrapeStarted   = "batch_scrape.started"
	EventBatchScrapeCompleted = "batch_scrape.completed"
	EventExtractStarted       = "extract.started"
	EventExtractCompleted     = "extract.completed"
	EventExtractFailed        = "extract.failed"
)

// FirecrawlEvent is the webhook body sent by the crawler.
type FirecrawlEvent struct {
	Success  bool            `json:"success"`
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Data     []PageData      `json:"data"`
	Error    string          `json:"error,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// PageData is one scraped page inside a page event.
type PageData struct {
	Markdown   string          `json:"markdown"`
	HTML       string          `json:"html,omitempty"`
	RawHTML    string          `json:"rawHtml,omitempty"`
	Screenshot string          `json:"screenshot,omitempty"`
	Links      []string        `json:"links,omitempty"`
	Metadata   PageMetadata    `json:"metadata"`
	// Extract is deprecated upstream and rejected here.
	Extract    json.RawMessage `json:"extract,omitempty"`
}

// PageMetadata is the per-page metadata block.
type PageMetadata struct {
	URL         string `json:"url"`
	SourceURL   string `json:"sourceURL"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Country     string `json:"country"`
	IsMobile    bool   `json:"isMobile"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
}

// FailedDocument reports one page that did not validate, by its position
// in the event's data array.
type FailedDocument struct {
	Index  int      `json:"index"`
	URL    string   `json:"url,omitempty"`
	Errors []string `json:"errors"`
}

// pageURL picks the page's URL, falling back to the pre-redirect source.
func (p PageData) pageURL() string {
	if p.Metadata.URL != "" {
		return p.Metadata.URL
	}
	return p.Metadata.SourceURL
}

// validate returns field-level reasons this page cannot be indexed.
func (p PageData) validate() []string {
	var reasons []string
	if p.pageURL() == "" {
		reasons = append(reasons, "metadata.url is required")
	}
	if strings.TrimSpace(p.Markdown) == "" {
		reasons = append(reasons, "markdown is empty")
	}
	if len(p.Extract) > 0 && string(p.Extract) != "null" {
		reasons = append(reasons, "extract field is deprecated and not accepted")
	}
	return reasons
}

// toDocument converts a validated page into the pipeline's document shape.
func (p PageData) toDocument(crawlID string) model.Document {
	html := p.HTML
	if html == "" {
		html = p.RawHTML
	}
	return model.Document{
		URL:           p.pageURL(),
		ResolvedURL:   p.Metadata.SourceURL,
		StatusCode:    p.Metadata.StatusCode,
		ContentType:   p.Metadata.ContentType,
		Title:         p.Metadata.Title,
		Description:   p.Metadata.Description,
		Language:      p.Metadata.Language,
		Country:       p.Metadata.Country,
		IsMobile:      p.Metadata.IsMobile,
		Markdown:      p.Markdown,
		HTML:          html,
		Links:         p.Links,
		ScreenshotURL: p.Screenshot,
		CrawlID:       crawlID,
		Metadata: map[string]any{
			"language":    p.Metadata.Language,
			"country":     p.Metadata.Country,
			"status_code": p.Metadata.StatusCode,
		},
	}
}

// sample returns a truncated preview of the first data item for validation
// failure logs.
func (e *FirecrawlEvent) sample() string {
	if len(e.Data) == 0 {
		return ""
	}
	raw, err := json.Marshal(e.Data[0])
	if err != nil {
		return fmt.Sprintf("unmarshalable: %v", err)
	}
	const maxSample = 500
	if len(raw) > maxSample {
		raw = raw[:maxSample]
	}
	return string(raw)
}
