// Package crawler is the client for the external scraping service, used
// when a change notification requires fetching a page outside the normal
// webhook flow.
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/model"
)

// Config configures the scrape client.
type Config struct {
	// URL is the crawler API base URL.
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds one scrape call (default 60s; scrapes render pages).
	Timeout time.Duration
}

// Client calls the crawler's scrape endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Metadata struct {
			URL         string `json:"url"`
			SourceURL   string `json:"sourceURL"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Language    string `json:"language"`
			StatusCode  int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Scrape fetches one page as Markdown and HTML.
func (c *Client) Scrape(ctx context.Context, url string) (model.Document, error) {
	if url == "" {
		return model.Document{}, apperr.New(apperr.CodeInvalidInput, "scrape URL is required", nil)
	}

	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown", "html"}})
	if err != nil {
		return model.Document{}, apperr.Wrap(apperr.CodeInternal, err)
	}

	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/v1/scrape"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.Document{}, apperr.Wrap(apperr.CodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Document{}, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.Document{}, apperr.Newf(apperr.CodeUpstreamUnavailable,
			"crawler returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.Document{}, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	if !parsed.Success {
		return model.Document{}, apperr.Newf(apperr.CodeUpstreamUnavailable, "scrape failed: %s", parsed.Error)
	}
	if strings.TrimSpace(parsed.Data.Markdown) == "" {
		return model.Document{}, apperr.New(apperr.CodeUpstreamEmpty, "scrape returned no content", nil)
	}

	docURL := parsed.Data.Metadata.URL
	if docURL == "" {
		docURL = url
	}
	return model.Document{
		URL:         docURL,
		ResolvedURL: parsed.Data.Metadata.SourceURL,
		StatusCode:  parsed.Data.Metadata.StatusCode,
		Title:       parsed.Data.Metadata.Title,
		Description: parsed.Data.Metadata.Description,
		Language:    parsed.Data.Metadata.Language,
		Markdown:    parsed.Data.Markdown,
		HTML:        parsed.Data.HTML,
	}, nil
}
