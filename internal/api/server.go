// Package api is the HTTP surface: search, stats, health, webhook intake,
// and read endpoints over stored content.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/config"
	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/search"
	"github.com/searchbridge/searchbridge/internal/webhook"
)

// Searcher runs queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Row, int, error)
}

// ContentReader serves the stored-content read endpoints and stats.
type ContentReader interface {
	ByURL(ctx context.Context, url string, limit int) ([]contentstore.ScrapedContent, error)
	BySession(ctx context.Context, sessionID string, limit, offset int) ([]contentstore.ScrapedContent, error)
	SessionByJobID(ctx context.Context, jobID string) (*contentstore.CrawlSession, error)
	TotalDocuments(ctx context.Context) int64
}

// VectorStats exposes the vector store's observational surface.
type VectorStats interface {
	Count(ctx context.Context) uint64
	Healthy(ctx context.Context) error
}

// KeywordStats exposes the BM25 corpus size.
type KeywordStats interface {
	DocCount() int
}

// Pinger checks queue broker connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbedHealth probes the inference service.
type EmbedHealth interface {
	Healthy(ctx context.Context) error
}

// Server wires handlers to the shared services.
type Server struct {
	cfg        *config.Config
	searcher   Searcher
	dispatcher *webhook.Dispatcher
	content    ContentReader
	vectors    VectorStats
	keywords   KeywordStats
	queue      Pinger
	embedder   EmbedHealth
}

// New creates a Server.
func New(cfg *config.Config, searcher Searcher, dispatcher *webhook.Dispatcher, content ContentReader,
	vectors VectorStats, keywords KeywordStats, queue Pinger, embedder EmbedHealth) *Server {
	return &Server{
		cfg:        cfg,
		searcher:   searcher,
		dispatcher: dispatcher,
		content:    content,
		vectors:    vectors,
		keywords:   keywords,
		queue:      queue,
		embedder:   embedder,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = s.cfg.Server.CORSOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	for _, origin := range s.cfg.Server.CORSOrigins {
		if origin == "*" {
			corsCfg.AllowOrigins = nil
			corsCfg.AllowAllOrigins = true
			break
		}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/webhook/firecrawl", s.handleFirecrawlWebhook)
		api.POST("/webhook/changedetection", s.handleChangeDetectionWebhook)

		authed := api.Group("", s.requireBearer())
		{
			authed.POST("/search", s.handleSearch)
			authed.GET("/stats", s.handleStats)
			authed.GET("/content", s.handleContentByURL)
			authed.GET("/sessions/:job_id", s.handleSession)
			authed.GET("/sessions/:job_id/content", s.handleSessionContent)
		}
	}

	return r
}

// requireBearer authenticates with a constant-time comparison against the
// API secret. Both "Bearer <secret>" and a bare "<secret>" are accepted.
func (s *Server) requireBearer() gin.HandlerFunc {
	secret := []byte(s.cfg.Auth.APISecret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")

		if len(secret) == 0 ||
			subtle.ConstantTimeCompare([]byte(token), secret) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
			return
		}
		c.Next()
	}
}

type searchRequest struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	Filters search.Filters `json:"filters"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "malformed request body"})
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if req.Limit < 1 || req.Limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be between 1 and 100"})
		return
	}
	if req.Offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "offset must not be negative"})
		return
	}
	if req.Mode == "" {
		req.Mode = search.ModeHybrid
	}

	rows, total, err := s.searcher.Search(c.Request.Context(), search.Request{
		Query:   req.Query,
		Mode:    req.Mode,
		Limit:   req.Limit,
		Offset:  req.Offset,
		Filters: req.Filters,
	})
	if err != nil {
		if apperr.HasCode(err, apperr.CodeInvalidMode) || apperr.HasCode(err, apperr.CodeInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": rows,
		"total":   total,
		"query":   req.Query,
		"mode":    req.Mode,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	points := s.vectors.Count(ctx)

	c.JSON(http.StatusOK, gin.H{
		"total_documents": s.content.TotalDocuments(ctx),
		"total_chunks":    points,
		"qdrant_points":   points,
		"bm25_documents":  s.keywords.DocCount(),
		"collection_name": s.cfg.Vector.Collection,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := gin.H{}
	status := "healthy"

	check := func(name string, err error) {
		if err != nil {
			services[name] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			services[name] = "healthy"
		}
	}

	check("redis", s.queue.Ping(ctx))
	check("qdrant", s.vectors.Healthy(ctx))
	check("tei", s.embedder.Healthy(ctx))

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleFirecrawlWebhook verifies the signature over the raw body, parses
// the event, and hands it to the dispatcher.
func (s *Server) handleFirecrawlWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !s.verifySignature(c, body, c.GetHeader("X-Firecrawl-Signature")) {
		return
	}

	var event webhook.FirecrawlEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":             "invalid payload",
			"validation_errors": []string{err.Error()},
			"hint":              "body must be a Firecrawl webhook event",
		})
		return
	}

	outcome := s.dispatcher.HandleFirecrawl(c.Request.Context(), &event)
	c.JSON(outcome.Status, outcome.Body)
}

func (s *Server) handleChangeDetectionWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !s.verifySignature(c, body, c.GetHeader("X-Signature")) {
		return
	}

	var payload webhook.ChangePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	outcome := s.dispatcher.HandleChangeDetection(c.Request.Context(), &payload)
	c.JSON(outcome.Status, outcome.Body)
}

// verifySignature writes the error response itself and reports whether the
// request may proceed.
func (s *Server) verifySignature(c *gin.Context, body []byte, header string) bool {
	err := webhook.VerifySignature(s.cfg.Auth.WebhookSecret, body, header)
	if err == nil {
		return true
	}

	switch apperr.GetCode(err) {
	case apperr.CodeInvalidInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signature header"})
	case apperr.CodeSignatureFailure:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook verification unavailable"})
	}
	return false
}

func (s *Server) handleContentByURL(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "url query parameter is required"})
		return
	}
	limit := queryInt(c, "limit", 10)

	rows, err := s.content.ByURL(c.Request.Context(), url, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "content lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "results": rows, "count": len(rows)})
}

func (s *Server) handleSession(c *gin.Context) {
	session, err := s.content.SessionByJobID(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "session lookup failed"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleSessionContent(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	rows, err := s.content.BySession(c.Request.Context(), c.Param("job_id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "content lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("job_id"), "results": rows, "count": len(rows)})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
