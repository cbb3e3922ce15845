package analysis

import (
	"context"
	"strings"
)

// WholeArticleSentinel is the value an Issue carries in its Text field when
// the finding applies to the article as a whole rather than a specific span.
const WholeArticleSentinel = "__entire_article__"

// Article is the immutable analysis input. URL doubles as the cache key and
// is deliberately not normalized.
type Article struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchSnippet is a web search result attached to a paragraph for
// fact-check context.
type SearchSnippet struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
}

// Paragraph is one segmented chunk of article content. Paragraphs live for a
// single orchestrator run and are never persisted.
type Paragraph struct {
	Index    int
	Text     string
	Snippets []SearchSnippet
}

// Issue is a single structured finding in an article.
type Issue struct {
	Text            string   `json:"text"`
	Explanation     string   `json:"explanation"`
	ConfidenceScore float64  `json:"confidence_score"`
	SourceURLs      []string `json:"source_urls,omitempty"`
}

// WholeArticle reports whether the issue applies to the entire article.
func (i Issue) WholeArticle() bool {
	t := strings.TrimSpace(i.Text)
	return t == "" || t == WholeArticleSentinel
}

// Output is an ordered sequence of issues for one article. An empty issue
// list is a valid result meaning "no issues found".
type Output struct {
	Issues []Issue `json:"issues"`
}

// TextGenerator is the single blocking model capability the pipeline
// consumes. Implementations live in internal/llm.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SnippetSearcher retrieves web search snippets for a fact-check query.
// Failures are non-fatal for callers; a nil searcher disables snippets.
type SnippetSearcher interface {
	Snippets(ctx context.Context, query string, k int) ([]SearchSnippet, error)
}

// ResultSink persists a finished analysis. The stream coordinator calls it
// on completion; persistence failures must not fail the stream.
type ResultSink interface {
	Save(ctx context.Context, article Article, out Output) error
}
