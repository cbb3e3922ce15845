package analysis

import (
	"fmt"
	"strings"
	"time"
)

// outputSchemaDescription is appended verbatim to every analysis prompt so
// the model's output is self-describing.
const outputSchemaDescription = `Respond ONLY with valid JSON in the following format:
{
  "issues": [
    {
      "text": "the exact text that contains the issue, copied verbatim from the article (or "` + WholeArticleSentinel + `" when the issue applies to the whole article)",
      "explanation": "a concise, strictly fact-based explanation (2-3 lines maximum) of why it is biased, misleading, or lacking context",
      "confidence_score": 0.0,
      "source_urls": ["https://credible-source.example/..."]
    }
  ]
}
"confidence_score" is a number between 0.0 and 1.0. "source_urls" may be omitted when no supporting source is available. If there are no clear issues, return {"issues": []}.
Do not include any other text or explanation.`

const issueCriteria = `Identify sections that meet any of the following criteria:
1. Information presented in a way that is biased or selectively framed.
2. Claims or statements that are factually inaccurate, misleading, or deceptive.
3. Sections where the omission of key facts could lead to a significant misunderstanding of the topic.
4. Content that, due to its presentation or framing, might cause a reader to form an incorrect understanding of the actual events or issues.
5. Comparisons between studies or statistics that are invalid because the underlying data is not comparable.

Do NOT flag content solely because it concerns future or otherwise unverifiable events.
An empty issues list is an acceptable and expected result when nothing qualifies.`

// PromptBuilder renders analysis prompts. The clock is injectable so tests
// can pin the embedded current date.
type PromptBuilder struct {
	Now func() time.Time
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{Now: time.Now}
}

func (b *PromptBuilder) date() string {
	return b.Now().UTC().Format("2006-01-02")
}

func normalizeLanguage(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return "English"
	}
	return language
}

// WholeArticle renders the single-call prompt covering the full article.
func (b *PromptBuilder) WholeArticle(article Article, language string) string {
	language = normalizeLanguage(language)
	return fmt.Sprintf(`You are an impartial and highly discerning analyst. Your goal is to identify sections in news articles that could be biased, misleading, or cause a reader to misunderstand the facts, and to provide concise, valuable, strictly factual explanations that clarify them.

Current date: %s
IMPORTANT: All explanations must be written in %s.

Analyze this article carefully:

Title: %s
URL: %s
Content:
%s

%s

For each identified section:
1. Copy the problematic text EXACTLY as it appears in the article. The "text" value must be a verbatim substring of the content above; do not paraphrase, trim words, or fix typos, because the caller locates the span in the original text.
2. Provide a concise, fact-based explanation in %s that clarifies the issue and supplies the missing truth or context.
3. Assign a confidence score between 0.0 and 1.0.
4. Include URLs of credible sources that support the explanation, when available.

%s`, b.date(), language, article.Title, article.URL, article.Content, issueCriteria, language, outputSchemaDescription)
}

// ParagraphPrompt renders the per-paragraph prompt, scoped to one paragraph
// and its optional search snippets.
func (b *PromptBuilder) ParagraphPrompt(article Article, p Paragraph, language string) string {
	language = normalizeLanguage(language)
	var snippets strings.Builder
	if len(p.Snippets) > 0 {
		snippets.WriteString("Relevant web search results for fact-checking this paragraph:\n")
		for _, s := range p.Snippets {
			fmt.Fprintf(&snippets, "- %s (%s): %s\n", s.Title, s.URL, s.Excerpt)
		}
	} else {
		snippets.WriteString("No web search results are available for this paragraph; rely on your own knowledge.\n")
	}
	return fmt.Sprintf(`You are an impartial and highly discerning analyst reviewing ONE paragraph of a news article for bias, misleading claims, or missing context.

Current date: %s
IMPORTANT: All explanations must be written in %s.

Article title: %s
Article URL: %s

Paragraph %d:
%s

%s
%s

For each identified section:
1. Copy the problematic text EXACTLY as it appears in the paragraph above; the "text" value must be a verbatim substring, never a paraphrase.
2. Provide a concise, fact-based explanation in %s (2-3 lines maximum).
3. Assign a confidence score between 0.0 and 1.0.
4. Include URLs of credible sources when available.

Only consider the paragraph shown; ignore the rest of the article.

%s`, b.date(), language, article.Title, article.URL, p.Index+1, p.Text, snippets.String(), issueCriteria, language, outputSchemaDescription)
}

// LanguagePrompt renders the short language-detection pre-step prompt.
func (b *PromptBuilder) LanguagePrompt(article Article) string {
	content := article.Content
	if len(content) > 1000 {
		content = content[:1000] + "..."
	}
	return fmt.Sprintf(`Detect the language of this article and respond with just the language name in English (e.g. "Spanish", "French", "German", "English"):

Title: %s
Content: %s`, article.Title, content)
}
