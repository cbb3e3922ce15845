package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newscheck/config"
	"github.com/mohammad-safakhou/newscheck/internal/analysis"
	"github.com/mohammad-safakhou/newscheck/internal/fetch"
	"github.com/mohammad-safakhou/newscheck/internal/index"
	"github.com/mohammad-safakhou/newscheck/internal/llm"
	"github.com/mohammad-safakhou/newscheck/internal/search"
	"github.com/mohammad-safakhou/newscheck/internal/store"
	"github.com/mohammad-safakhou/newscheck/internal/telemetry"
	"github.com/mohammad-safakhou/newscheck/internal/usage"
)

// Run wires all dependencies and serves HTTP until the listener fails.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.New()
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(tele.Handler()))

	ctx := context.Background()

	// Cache store: Postgres when configured, in-memory otherwise
	var cache store.CacheStore
	if cfg.Storage.Postgres.Configured() {
		dsn := cfg.Storage.Postgres.DSN()
		if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres connect failed: %w", err)
		}
		cache = st
	} else {
		baseLogger.Printf("postgres not configured, using in-memory cache store")
		cache = store.NewMemoryStore()
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Configured() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connect failed: %w", err)
		}
	}

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}

	var searcher analysis.SnippetSearcher
	if cfg.Search.Enabled {
		apiKey := cfg.Search.BraveAPIKey
		if search.Provider(cfg.Search.Provider) == search.SerperProvider {
			apiKey = cfg.Search.SerperAPIKey
		}
		ws, err := search.NewWebSearcher(search.Provider(cfg.Search.Provider), apiKey)
		if err != nil {
			return err
		}
		searcher = &snippetSearcher{ws: ws, timeout: cfg.Search.Timeout}
	}

	orch := analysis.NewOrchestrator(analysis.Config{
		Strategy:            analysis.Strategy(cfg.Analysis.Strategy),
		OnExtractionFailure: analysis.FailurePolicy(cfg.Analysis.OnExtractionFailure),
		DetectLanguage:      cfg.Analysis.DetectLanguage,
		MinParagraphLength:  cfg.Analysis.MinParagraphLength,
		ParagraphDelay:      cfg.Analysis.ParagraphDelay,
		MaxSnippets:         cfg.Analysis.MaxSnippets,
		Segmenter: analysis.SegmenterConfig{
			MinFragmentLength:   cfg.Analysis.Segmenter.MinFragmentLength,
			MinMeaningfulLength: cfg.Analysis.Segmenter.MinMeaningfulLength,
			MinSentences:        cfg.Analysis.Segmenter.MinSentences,
			MinChunkLength:      cfg.Analysis.Segmenter.MinChunkLength,
			MaxChunkLength:      cfg.Analysis.Segmenter.MaxChunkLength,
			TargetFragments:     cfg.Analysis.Segmenter.TargetFragments,
			MinContentLength:    cfg.Analysis.Segmenter.MinContentLength,
		},
	}, provider, searcher, nil, tele)

	idx, err := index.New()
	if err != nil {
		return err
	}
	warmIndex(ctx, cache, idx, baseLogger)

	sink := &persistSink{cache: cache, idx: idx, logger: baseLogger}
	streamer := analysis.NewStreamer(orch, sink, cfg.Analysis.StreamEventDelay, nil, tele)

	limit := 0
	if cfg.Usage.Enabled {
		limit = cfg.Usage.MonthlyLimit
	}
	gate := usage.NewGate(rdb, limit, nil)

	var fetcher *fetch.Fetcher
	if cfg.Fetch.Enabled {
		fetcher = fetch.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
	}

	janitor := &Janitor{
		Cache:     cache,
		Rdb:       rdb,
		Retention: cfg.Cache.Retention,
		CronSpec:  cfg.Cache.JanitorCron,
	}
	janitor.Start()
	defer close(janitor.Stop)

	handler := &AnalysisHandler{
		Cfg:      cfg,
		Analyzer: orch,
		Streamer: streamer,
		Cache:    cache,
		Gate:     gate,
		Index:    idx,
		Fetcher:  fetcher,
		Logger:   baseLogger,
		Tele:     tele,
	}
	handler.Register(e.Group("/api"), []byte(cfg.Server.JWTSecret), cfg.Server.AllowAnonymous)

	return e.Start(cfg.Server.Address)
}

// warmIndex loads all cached analyses into the search index at startup.
func warmIndex(ctx context.Context, cache store.CacheStore, idx *index.Index, logger *log.Logger) {
	records, err := cache.All(ctx)
	if err != nil {
		logger.Printf("index warm-up skipped: %v", err)
		return
	}
	for _, rec := range records {
		doc := indexDoc(
			analysis.Article{Title: rec.Title, URL: rec.URL, Content: rec.Content},
			analysis.Output{Issues: rec.Issues},
		)
		doc.CachedAt = rec.CachedAt
		if err := idx.Add(doc); err != nil {
			logger.Printf("index warm-up failed for %s: %v", rec.URL, err)
		}
	}
	if len(records) > 0 {
		logger.Printf("search index warmed with %d analyses", len(records))
	}
}

// persistSink stores stream results in the cache and the search index.
type persistSink struct {
	cache  store.CacheStore
	idx    *index.Index
	logger *log.Logger
}

func (p *persistSink) Save(ctx context.Context, article analysis.Article, out analysis.Output) error {
	rec := store.AnalysisRecord{
		URL:     article.URL,
		Title:   article.Title,
		Content: article.Content,
		Issues:  out.Issues,
	}
	if err := p.cache.Upsert(ctx, rec); err != nil {
		return err
	}
	if err := p.idx.Add(indexDoc(article, out)); err != nil {
		p.logger.Printf("index update failed for %s: %v", article.URL, err)
	}
	return nil
}

// snippetSearcher adapts a web search provider to the pipeline's snippet
// interface, with its own timeout per query.
type snippetSearcher struct {
	ws      search.WebSearcher
	timeout time.Duration
}

func (s *snippetSearcher) Snippets(ctx context.Context, query string, k int) ([]analysis.SearchSnippet, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	results, err := s.ws.Discover(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]analysis.SearchSnippet, 0, len(results))
	for _, r := range results {
		out = append(out, analysis.SearchSnippet{Title: r.Title, URL: r.URL, Excerpt: r.Snippet})
	}
	return out, nil
}
