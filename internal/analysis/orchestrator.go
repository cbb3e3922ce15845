package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newscheck/internal/telemetry"
)

// Strategy selects how an article is fed to the model.
type Strategy string

const (
	// StrategySingle analyzes the whole article in one model call.
	StrategySingle Strategy = "single"
	// StrategyParagraph segments the article and analyzes each paragraph
	// with its own model call.
	StrategyParagraph Strategy = "paragraph"
)

// FailurePolicy decides what happens when JSON extraction fails on the
// single-call path.
type FailurePolicy string

const (
	// FailureDowngrade treats extraction failure as "no extractable
	// issues" and returns an empty result.
	FailureDowngrade FailurePolicy = "downgrade"
	// FailureStrict propagates extraction failure to the caller.
	FailureStrict FailurePolicy = "strict"
)

// AnalysisError wraps an upstream failure with the pipeline stage it
// occurred in.
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Config carries the orchestrator's tunables.
type Config struct {
	Strategy            Strategy
	OnExtractionFailure FailurePolicy
	DetectLanguage      bool
	MinParagraphLength  int
	ParagraphDelay      time.Duration
	MaxSnippets         int
	Segmenter           SegmenterConfig
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategySingle
	}
	if c.OnExtractionFailure == "" {
		c.OnExtractionFailure = FailureDowngrade
	}
	if c.MinParagraphLength <= 0 {
		c.MinParagraphLength = 50
	}
	if c.MaxSnippets <= 0 {
		c.MaxSnippets = 3
	}
	return c
}

// Orchestrator drives one article through segmentation, prompting, the
// model, and extraction. All collaborators are injected; nothing is read
// from process-wide state.
type Orchestrator struct {
	cfg       Config
	generator TextGenerator
	searcher  SnippetSearcher
	segmenter *Segmenter
	prompts   *PromptBuilder
	logger    *log.Logger
	tele      *telemetry.Telemetry

	// sleep is swapped out in tests to avoid real pacing delays.
	sleep func(time.Duration)
}

// NewOrchestrator wires an orchestrator. searcher may be nil to disable
// snippet gathering; tele may be nil to disable metrics.
func NewOrchestrator(cfg Config, generator TextGenerator, searcher SnippetSearcher, logger *log.Logger, tele *telemetry.Telemetry) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		generator: generator,
		searcher:  searcher,
		segmenter: NewSegmenter(cfg.Segmenter),
		prompts:   NewPromptBuilder(),
		logger:    logger,
		tele:      tele,
		sleep:     time.Sleep,
	}
}

// Analyze produces the ordered issue list for one article. Issue order is
// deterministic: paragraph order, then model output order within each
// paragraph.
func (o *Orchestrator) Analyze(ctx context.Context, article Article) (Output, error) {
	started := time.Now()
	language := "English"
	if o.cfg.DetectLanguage {
		if detected, err := o.detectLanguage(ctx, article); err != nil {
			o.logger.Printf("language detection failed, defaulting to English: %v", err)
		} else {
			language = detected
		}
	}

	var (
		out Output
		err error
	)
	switch o.cfg.Strategy {
	case StrategyParagraph:
		out, err = o.analyzeParagraphs(ctx, article, language)
	default:
		out, err = o.analyzeWhole(ctx, article, language)
	}
	if err != nil {
		o.tele.RecordAnalysis("error", time.Since(started), 0)
		return Output{}, err
	}
	out = clampOutput(out)
	o.tele.RecordAnalysis("success", time.Since(started), len(out.Issues))
	return out, nil
}

// analyzeWhole is the single-call strategy: one prompt, one model call, one
// extraction.
func (o *Orchestrator) analyzeWhole(ctx context.Context, article Article, language string) (Output, error) {
	prompt := o.prompts.WholeArticle(article, language)
	raw, err := o.generate(ctx, prompt)
	if err != nil {
		return Output{}, &AnalysisError{Stage: "model call", Err: err}
	}
	out, err := DecodeOutput(raw)
	if err != nil {
		var exErr *ExtractionError
		if errors.As(err, &exErr) && o.cfg.OnExtractionFailure == FailureDowngrade {
			// Parsing failure is treated as "no confidently extractable
			// issues", not a system fault. Strict mode opts out of this.
			o.logger.Printf("extraction failed for %s, returning empty result: %v", article.URL, err)
			return Output{Issues: []Issue{}}, nil
		}
		return Output{}, &AnalysisError{Stage: "extraction", Err: err}
	}
	return out, nil
}

// analyzeParagraphs segments the article and analyzes each paragraph with
// its own model call. Paragraph failures are logged and skipped so the rest
// of the article still yields a result.
func (o *Orchestrator) analyzeParagraphs(ctx context.Context, article Article, language string) (Output, error) {
	chunks := o.segmenter.Segment(article.Content)
	if len(chunks) == 0 {
		return Output{Issues: []Issue{}}, nil
	}

	out := Output{Issues: []Issue{}}
	call := 0
	for i, text := range chunks {
		if len(text) < o.cfg.MinParagraphLength {
			continue
		}
		if call > 0 && o.cfg.ParagraphDelay > 0 {
			// fixed pacing between model calls, not adaptive backoff
			o.sleep(o.cfg.ParagraphDelay)
		}
		call++

		p := Paragraph{Index: i, Text: text}
		p.Snippets = o.gatherSnippets(ctx, text)

		raw, err := o.generate(ctx, o.prompts.ParagraphPrompt(article, p, language))
		if err != nil {
			o.logger.Printf("paragraph %d: model call failed, skipping: %v", i, err)
			continue
		}
		parsed, err := DecodeOutput(raw)
		if err != nil {
			o.logger.Printf("paragraph %d: extraction failed, skipping: %v", i, err)
			continue
		}
		out.Issues = append(out.Issues, parsed.Issues...)
	}
	return out, nil
}

// gatherSnippets fetches fact-check snippets for a paragraph. Search
// failures degrade to no snippets.
func (o *Orchestrator) gatherSnippets(ctx context.Context, paragraph string) []SearchSnippet {
	if o.searcher == nil {
		return nil
	}
	query := paragraph
	if len(query) > 160 {
		query = query[:160]
	}
	query = strings.TrimSpace(query) + " fact check"
	snippets, err := o.searcher.Snippets(ctx, query, o.cfg.MaxSnippets)
	if err != nil {
		o.logger.Printf("snippet search failed, continuing without snippets: %v", err)
		return nil
	}
	return snippets
}

func (o *Orchestrator) detectLanguage(ctx context.Context, article Article) (string, error) {
	raw, err := o.generate(ctx, o.prompts.LanguagePrompt(article))
	if err != nil {
		return "", err
	}
	language := strings.TrimSpace(raw)
	if idx := strings.IndexByte(language, '\n'); idx != -1 {
		language = strings.TrimSpace(language[:idx])
	}
	if language == "" || len(language) > 30 {
		return "", fmt.Errorf("implausible language answer %q", clip(language))
	}
	return language, nil
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	started := time.Now()
	raw, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		o.tele.RecordModelCall("error", time.Since(started))
		return "", err
	}
	o.tele.RecordModelCall("success", time.Since(started))
	return raw, nil
}

// clampOutput enforces the 0.0..1.0 confidence invariant on model output.
func clampOutput(out Output) Output {
	for i := range out.Issues {
		if out.Issues[i].ConfidenceScore < 0 {
			out.Issues[i].ConfidenceScore = 0
		}
		if out.Issues[i].ConfidenceScore > 1 {
			out.Issues[i].ConfidenceScore = 1
		}
	}
	if out.Issues == nil {
		out.Issues = []Issue{}
	}
	return out
}
