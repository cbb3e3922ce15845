package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGenerator replays canned responses and records the prompts it saw.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return `{"issues": []}`, nil
}

func issueJSON(texts ...string) string {
	var parts []string
	for _, t := range texts {
		parts = append(parts, fmt.Sprintf(`{"text": %q, "explanation": "e", "confidence_score": 0.9}`, t))
	}
	return `{"issues": [` + strings.Join(parts, ",") + `]}`
}

func TestAnalyzeSingleStrategy(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		`{"issues": [{"text": "a", "explanation": "e", "confidence_score": 1.7}, {"text": "b", "explanation": "e", "confidence_score": -0.5}]}`,
	}}
	o := NewOrchestrator(Config{Strategy: StrategySingle}, gen, nil, nil, nil)

	out, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(out.Issues))
	}
	if out.Issues[0].ConfidenceScore != 1.0 || out.Issues[1].ConfidenceScore != 0.0 {
		t.Fatalf("confidence not clamped: %+v", out.Issues)
	}
	if gen.calls != 1 {
		t.Fatalf("expected 1 model call, got %d", gen.calls)
	}
}

func TestAnalyzeExtractionDowngrade(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"Sorry, I cannot produce a structured answer."}}
	o := NewOrchestrator(Config{OnExtractionFailure: FailureDowngrade}, gen, nil, nil, nil)

	out, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "c"})
	if err != nil {
		t.Fatalf("downgrade should swallow extraction failure, got %v", err)
	}
	if out.Issues == nil || len(out.Issues) != 0 {
		t.Fatalf("expected empty non-nil issue list, got %#v", out.Issues)
	}
}

func TestAnalyzeExtractionStrict(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"no json here"}}
	o := NewOrchestrator(Config{OnExtractionFailure: FailureStrict}, gen, nil, nil, nil)

	_, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "c"})
	if err == nil {
		t.Fatal("strict mode should propagate extraction failure")
	}
	var aErr *AnalysisError
	if !errors.As(err, &aErr) || aErr.Stage != "extraction" {
		t.Fatalf("expected extraction-stage AnalysisError, got %v", err)
	}
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected wrapped *ExtractionError, got %v", err)
	}
}

func TestAnalyzeModelFailure(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("boom")}}
	o := NewOrchestrator(Config{}, gen, nil, nil, nil)

	_, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "c"})
	var aErr *AnalysisError
	if !errors.As(err, &aErr) || aErr.Stage != "model call" {
		t.Fatalf("expected model-call AnalysisError, got %v", err)
	}
}

func TestAnalyzeParagraphsSkipsFailures(t *testing.T) {
	// three paragraphs; the middle model call returns garbage
	content := strings.Join([]string{
		"First paragraph with enough length to clear the minimum threshold for analysis.",
		"Second paragraph with enough length to clear the minimum threshold for analysis.",
		"Third paragraph with enough length to clear the minimum threshold for analysis.",
	}, "\n\n")
	gen := &fakeGenerator{responses: []string{
		issueJSON("first issue"),
		"garbage response",
		issueJSON("third issue"),
	}}

	var slept []time.Duration
	o := NewOrchestrator(Config{
		Strategy:       StrategyParagraph,
		ParagraphDelay: time.Second,
	}, gen, nil, nil, nil)
	o.sleep = func(d time.Duration) { slept = append(slept, d) }

	out, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: content})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d: %+v", len(out.Issues), out.Issues)
	}
	if out.Issues[0].Text != "first issue" || out.Issues[1].Text != "third issue" {
		t.Fatalf("issues out of order: %+v", out.Issues)
	}
	if gen.calls != 3 {
		t.Fatalf("expected 3 model calls, got %d", gen.calls)
	}
	// pacing only between calls, never before the first
	if len(slept) != 2 {
		t.Fatalf("expected 2 pacing sleeps, got %d", len(slept))
	}
}

func TestAnalyzeParagraphsEmptyContent(t *testing.T) {
	gen := &fakeGenerator{}
	o := NewOrchestrator(Config{Strategy: StrategyParagraph}, gen, nil, nil, nil)
	out, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Issues) != 0 || gen.calls != 0 {
		t.Fatalf("expected no issues and no model calls, got %d issues, %d calls", len(out.Issues), gen.calls)
	}
}

func TestAnalyzeDetectLanguage(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"German\n", `{"issues": []}`}}
	o := NewOrchestrator(Config{DetectLanguage: true}, gen, nil, nil, nil)

	if _, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected detection plus analysis call, got %d", gen.calls)
	}
	if !strings.Contains(gen.prompts[1], "written in German") {
		t.Fatal("analysis prompt should carry the detected language")
	}
}

func TestAnalyzeDetectLanguageDegrades(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("model down")}, responses: []string{"", `{"issues": []}`}}
	o := NewOrchestrator(Config{DetectLanguage: true}, gen, nil, nil, nil)

	if _, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: "c"}); err != nil {
		t.Fatalf("detection failure should not fail the analysis: %v", err)
	}
	if !strings.Contains(gen.prompts[1], "written in English") {
		t.Fatal("expected English fallback after failed detection")
	}
}

func TestGatherSnippetsDegrades(t *testing.T) {
	content := strings.Join([]string{
		"First paragraph with enough length to clear the minimum threshold for analysis.",
		"Second paragraph with enough length to clear the minimum threshold for analysis.",
	}, "\n\n")
	gen := &fakeGenerator{responses: []string{issueJSON("a"), issueJSON("b")}}
	searcher := failingSearcher{}
	o := NewOrchestrator(Config{Strategy: StrategyParagraph}, gen, searcher, nil, nil)
	o.sleep = func(time.Duration) {}

	out, err := o.Analyze(context.Background(), Article{URL: "https://x", Content: content})
	if err != nil {
		t.Fatalf("search failure should not fail the analysis: %v", err)
	}
	if len(out.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(out.Issues))
	}
}

type failingSearcher struct{}

func (failingSearcher) Snippets(context.Context, string, int) ([]SearchSnippet, error) {
	return nil, errors.New("search unavailable")
}
