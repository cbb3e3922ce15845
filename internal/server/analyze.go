package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newscheck/config"
	"github.com/mohammad-safakhou/newscheck/internal/analysis"
	"github.com/mohammad-safakhou/newscheck/internal/fetch"
	"github.com/mohammad-safakhou/newscheck/internal/index"
	"github.com/mohammad-safakhou/newscheck/internal/llm"
	"github.com/mohammad-safakhou/newscheck/internal/store"
	"github.com/mohammad-safakhou/newscheck/internal/telemetry"
	"github.com/mohammad-safakhou/newscheck/internal/usage"
)

// Analyzer runs one article through the pipeline. Satisfied by the
// orchestrator; narrowed to an interface so handler tests can fake it.
type Analyzer interface {
	Analyze(ctx context.Context, article analysis.Article) (analysis.Output, error)
}

// AnalyzeRequest is the body of POST /api/analyze and /api/analyze/stream.
// Content is optional when the fetcher is enabled; Force skips the cache.
type AnalyzeRequest struct {
	URL     string `json:"url" query:"url"`
	Title   string `json:"title" query:"title"`
	Content string `json:"content" query:"content"`
	Force   bool   `json:"force" query:"force"`
}

// AnalyzeResponse is the synchronous analysis result.
type AnalyzeResponse struct {
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Issues   []analysis.Issue `json:"issues"`
	Cached   bool             `json:"cached"`
	CachedAt *time.Time       `json:"cached_at,omitempty"`
}

// SearchResponse wraps full-text hits over cached analyses.
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []index.Hit `json:"hits"`
}

// AnalysisHandler serves the analysis endpoints.
type AnalysisHandler struct {
	Cfg      *config.Config
	Analyzer Analyzer
	Streamer *analysis.Streamer
	Cache    store.CacheStore
	Gate     *usage.Gate
	Index    *index.Index
	Fetcher  *fetch.Fetcher
	Logger   *log.Logger
	Tele     *telemetry.Telemetry
}

func (h *AnalysisHandler) Register(g *echo.Group, secret []byte, allowAnonymous bool) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret, allowAnonymous) })
	g.POST("/analyze", h.analyze)
	if h.Cfg.Server.StreamEnabled {
		// GET supports EventSource clients, POST everything else
		g.GET("/analyze/stream", h.stream)
		g.POST("/analyze/stream", h.stream)
	}
	g.GET("/analyses/search", h.searchAnalyses)
}

// analyze serves the synchronous path: cache lookup, quota check, fresh run,
// persist.
func (h *AnalysisHandler) analyze(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}

	if rec, ok := h.cached(c.Request().Context(), req.URL, req.Force); ok {
		cachedAt := rec.CachedAt
		return c.JSON(http.StatusOK, AnalyzeResponse{
			URL: rec.URL, Title: rec.Title, Issues: rec.Issues, Cached: true, CachedAt: &cachedAt,
		})
	}

	article, err := h.resolveArticle(c, req)
	if err != nil {
		return err
	}

	sub := subject(c)
	if allowed, _ := h.Gate.Allow(c.Request().Context(), sub); !allowed {
		return echo.NewHTTPError(http.StatusTooManyRequests, "monthly analysis limit reached")
	}

	ctx := c.Request().Context()
	if h.Cfg.General.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Cfg.General.DefaultTimeout)
		defer cancel()
	}

	out, err := h.Analyzer.Analyze(ctx, article)
	if err != nil {
		return mapAnalysisError(err)
	}

	h.persist(c.Request().Context(), article, out)
	if err := h.Gate.Record(c.Request().Context(), sub); err != nil {
		h.Logger.Printf("usage record failed for %s: %v", sub, err)
	}

	return c.JSON(http.StatusOK, AnalyzeResponse{
		URL: article.URL, Title: article.Title, Issues: out.Issues, Cached: false,
	})
}

// stream serves the SSE path. Cached results replay through the same event
// sequence as a live run.
func (h *AnalysisHandler) stream(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return err
	}

	var (
		events <-chan analysis.StreamEvent
		live   bool
	)
	if rec, ok := h.cached(c.Request().Context(), req.URL, req.Force); ok {
		article := analysis.Article{Title: rec.Title, URL: rec.URL, Content: rec.Content}
		events = h.Streamer.Replay(c.Request().Context(), article, analysis.Output{Issues: rec.Issues})
	} else {
		article, err := h.resolveArticle(c, req)
		if err != nil {
			return err
		}
		sub := subject(c)
		if allowed, _ := h.Gate.Allow(c.Request().Context(), sub); !allowed {
			return echo.NewHTTPError(http.StatusTooManyRequests, "monthly analysis limit reached")
		}
		events = h.Streamer.Live(c.Request().Context(), article)
		live = true
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, _ := resp.Writer.(http.Flusher)
	completed := false
	for ev := range events {
		payload, err := analysis.EncodeEvent(ev)
		if err != nil {
			h.Logger.Printf("failed to encode stream event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			// client went away; the producer stops via request context
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
		if ev.Kind() == analysis.EventComplete {
			completed = true
		}
	}
	if live && completed {
		if err := h.Gate.Record(c.Request().Context(), subject(c)); err != nil {
			h.Logger.Printf("usage record failed for %s: %v", subject(c), err)
		}
	}
	return nil
}

// searchAnalyses serves full-text search over cached analyses.
func (h *AnalysisHandler) searchAnalyses(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		limit = n
	}
	hits, err := h.Index.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: q, Hits: hits})
}

// bindRequest binds body or query parameters and validates the URL.
func (h *AnalysisHandler) bindRequest(c echo.Context) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	return req, nil
}

// resolveArticle fills missing content via the headless fetcher when one is
// configured. Called only after the cache has missed.
func (h *AnalysisHandler) resolveArticle(c echo.Context, req AnalyzeRequest) (analysis.Article, error) {
	if strings.TrimSpace(req.Content) == "" {
		if h.Fetcher == nil {
			return analysis.Article{}, echo.NewHTTPError(http.StatusBadRequest, "content is required when fetching is disabled")
		}
		res, err := h.Fetcher.Fetch(c.Request().Context(), req.URL)
		if err != nil {
			return analysis.Article{}, echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("failed to fetch article: %v", err))
		}
		req.Content = res.Text
		if req.Title == "" {
			req.Title = res.Title
		}
	}
	return analysis.Article{Title: req.Title, URL: req.URL, Content: req.Content}, nil
}

// cached returns a usable cache record. Stale and missing records both miss;
// force skips the lookup entirely.
func (h *AnalysisHandler) cached(ctx context.Context, url string, force bool) (store.AnalysisRecord, bool) {
	if force {
		return store.AnalysisRecord{}, false
	}
	rec, err := h.Cache.Lookup(ctx, url)
	if errors.Is(err, store.ErrNotFound) {
		h.Tele.RecordCacheLookup("miss")
		return store.AnalysisRecord{}, false
	}
	if err != nil {
		h.Logger.Printf("cache lookup failed for %s, running fresh: %v", url, err)
		h.Tele.RecordCacheLookup("error")
		return store.AnalysisRecord{}, false
	}
	if !rec.Fresh(time.Now(), h.Cfg.Cache.FreshnessWindow) {
		h.Tele.RecordCacheLookup("stale")
		return store.AnalysisRecord{}, false
	}
	h.Tele.RecordCacheLookup("hit")
	return rec, true
}

// persist writes a fresh result to the cache and the search index. Failures
// are logged and swallowed; the analysis already succeeded.
func (h *AnalysisHandler) persist(ctx context.Context, article analysis.Article, out analysis.Output) {
	rec := store.AnalysisRecord{
		URL:     article.URL,
		Title:   article.Title,
		Content: article.Content,
		Issues:  out.Issues,
	}
	if err := h.Cache.Upsert(ctx, rec); err != nil {
		h.Logger.Printf("cache write failed for %s: %v", article.URL, err)
		return
	}
	if err := h.Index.Add(indexDoc(article, out)); err != nil {
		h.Logger.Printf("index update failed for %s: %v", article.URL, err)
	}
}

func indexDoc(article analysis.Article, out analysis.Output) index.Document {
	var explanations strings.Builder
	for _, issue := range out.Issues {
		explanations.WriteString(issue.Explanation)
		explanations.WriteByte('\n')
	}
	return index.Document{
		URL:          article.URL,
		Title:        article.Title,
		Content:      article.Content,
		Explanations: explanations.String(),
		CachedAt:     time.Now().UTC(),
	}
}

// mapAnalysisError translates pipeline failures into HTTP status codes.
func mapAnalysisError(err error) error {
	var comm *llm.CommError
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "model call timed out")
	case errors.As(err, &comm):
		return echo.NewHTTPError(http.StatusBadGateway, comm.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
