package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newscheck/config"
	"github.com/mohammad-safakhou/newscheck/internal/analysis"
	"github.com/mohammad-safakhou/newscheck/internal/index"
	"github.com/mohammad-safakhou/newscheck/internal/llm"
	"github.com/mohammad-safakhou/newscheck/internal/store"
	"github.com/mohammad-safakhou/newscheck/internal/usage"
)

type fakeAnalyzer struct {
	out   analysis.Output
	err   error
	calls int
}

func (f *fakeAnalyzer) Analyze(context.Context, analysis.Article) (analysis.Output, error) {
	f.calls++
	if f.err != nil {
		return analysis.Output{}, f.err
	}
	return f.out, nil
}

type staticGenerator struct{ response string }

func (s staticGenerator) Generate(context.Context, string) (string, error) {
	return s.response, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{AllowAnonymous: true, StreamEnabled: true},
		Cache:  config.CacheConfig{FreshnessWindow: 24 * time.Hour},
	}
}

func newTestHandler(t *testing.T, cfg *config.Config, an Analyzer) (*echo.Echo, *AnalysisHandler) {
	t.Helper()
	idx, err := index.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	gen := staticGenerator{response: `{"issues": [{"text": "claim", "explanation": "e", "confidence_score": 0.9}]}`}
	orch := analysis.NewOrchestrator(analysis.Config{}, gen, nil, nil, nil)
	cache := store.NewMemoryStore()
	sink := &persistSink{cache: cache, idx: idx, logger: log.New(log.Writer(), "[TEST] ", 0)}

	h := &AnalysisHandler{
		Cfg:      cfg,
		Analyzer: an,
		Streamer: analysis.NewStreamer(orch, sink, 0, nil, nil),
		Cache:    cache,
		Gate:     usage.NewGate(nil, 0, nil),
		Index:    idx,
		Logger:   log.New(log.Writer(), "[TEST] ", 0),
	}
	e := echo.New()
	h.Register(e.Group("/api"), []byte(cfg.Server.JWTSecret), cfg.Server.AllowAnonymous)
	return e, h
}

func postJSON(e *echo.Echo, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeFreshThenCached(t *testing.T) {
	an := &fakeAnalyzer{out: analysis.Output{Issues: []analysis.Issue{{Text: "claim", Explanation: "e", ConfidenceScore: 0.9}}}}
	e, _ := newTestHandler(t, testConfig(), an)
	body := `{"url": "https://news.example/a", "title": "T", "content": "The content."}`

	rec := postJSON(e, "/api/analyze", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Cached || len(resp.Issues) != 1 {
		t.Fatalf("unexpected first response: %+v", resp)
	}

	rec = postJSON(e, "/api/analyze", body)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Cached {
		t.Fatalf("second request should hit the cache: %+v", resp)
	}
	if an.calls != 1 {
		t.Fatalf("analyzer should run once, ran %d times", an.calls)
	}
}

func TestAnalyzeForceSkipsCache(t *testing.T) {
	an := &fakeAnalyzer{out: analysis.Output{Issues: []analysis.Issue{}}}
	e, _ := newTestHandler(t, testConfig(), an)
	body := `{"url": "https://news.example/a", "content": "The content."}`

	postJSON(e, "/api/analyze", body)
	rec := postJSON(e, "/api/analyze", `{"url": "https://news.example/a", "content": "The content.", "force": true}`)
	var resp AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Cached {
		t.Fatal("force must bypass the cache")
	}
	if an.calls != 2 {
		t.Fatalf("expected 2 fresh runs, got %d", an.calls)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	e, _ := newTestHandler(t, testConfig(), &fakeAnalyzer{})

	if rec := postJSON(e, "/api/analyze", `{"content": "x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing url should 400, got %d", rec.Code)
	}
	// no fetcher configured, so content is mandatory
	if rec := postJSON(e, "/api/analyze", `{"url": "https://x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing content should 400, got %d", rec.Code)
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("generate: %w", llm.ErrTimeout), http.StatusGatewayTimeout},
		{&llm.CommError{Provider: "openai", Err: fmt.Errorf("status 500")}, http.StatusBadGateway},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e, _ := newTestHandler(t, testConfig(), &fakeAnalyzer{err: tc.err})
		rec := postJSON(e, "/api/analyze", `{"url": "https://x", "content": "c"}`)
		if rec.Code != tc.code {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
	}
}

func TestStreamEndpoint(t *testing.T) {
	e, _ := newTestHandler(t, testConfig(), &fakeAnalyzer{})
	rec := postJSON(e, "/api/analyze/stream", `{"url": "https://news.example/s", "content": "The content."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`"type":"start"`, `"type":"issue"`, `"type":"complete"`, "data: "} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream body missing %s:\n%s", want, body)
		}
	}
}

func TestStreamReplaysCachedResult(t *testing.T) {
	e, h := newTestHandler(t, testConfig(), &fakeAnalyzer{})
	_ = h.Cache.Upsert(context.Background(), store.AnalysisRecord{
		URL:    "https://news.example/cached",
		Issues: []analysis.Issue{{Text: "old finding", Explanation: "e", ConfidenceScore: 0.4}},
	})

	rec := postJSON(e, "/api/analyze/stream", `{"url": "https://news.example/cached", "content": "The content."}`)
	body := rec.Body.String()
	if !strings.Contains(body, "old finding") {
		t.Fatalf("expected cached issue in stream:\n%s", body)
	}
	if !strings.Contains(body, `"type":"complete"`) {
		t.Fatalf("replay must complete:\n%s", body)
	}
}

func TestStreamGETServesCachedWithoutContent(t *testing.T) {
	// EventSource clients can only issue GETs with query params; a cached
	// URL must replay without the caller resupplying content
	e, h := newTestHandler(t, testConfig(), &fakeAnalyzer{})
	_ = h.Cache.Upsert(context.Background(), store.AnalysisRecord{
		URL:     "https://news.example/evtsrc",
		Content: "stored content",
		Issues:  []analysis.Issue{{Text: "finding", Explanation: "e", ConfidenceScore: 0.5}},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze/stream?url=https%3A%2F%2Fnews.example%2Fevtsrc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"type":"complete"`) {
		t.Fatalf("expected completed replay:\n%s", rec.Body)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e, h := newTestHandler(t, testConfig(), &fakeAnalyzer{})
	_ = h.Index.Add(index.Document{URL: "https://news.example/b", Title: "Budget vote splits council"})

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/search?q=budget", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].URL != "https://news.example/b" {
		t.Fatalf("unexpected hits: %+v", resp.Hits)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/analyses/search", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing q should 400, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowAnonymous = false
	cfg.Server.JWTSecret = "test-secret"
	an := &fakeAnalyzer{out: analysis.Output{Issues: []analysis.Issue{}}}
	e, _ := newTestHandler(t, cfg, an)
	body := `{"url": "https://x", "content": "c"}`

	if rec := postJSON(e, "/api/analyze", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should 401, got %d", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(cfg.Server.JWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	rec := postJSON(e, "/api/analyze", body, "Authorization", "Bearer "+signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token should pass, got %d: %s", rec.Code, rec.Body)
	}

	if rec := postJSON(e, "/api/analyze", body, "Authorization", "Bearer not-a-token"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token should 401, got %d", rec.Code)
	}
}
