package analysis

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SegmenterConfig holds the thresholds for each segmentation strategy.
// Zero values fall back to the defaults below.
type SegmenterConfig struct {
	MinFragmentLength   int // markup paragraphs shorter than this are dropped
	MinMeaningfulLength int // blank-line fragments shorter than this are dropped
	MinSentences        int // sentences needed before a line-accumulated chunk may flush
	MinChunkLength      int // minimum size of a line-accumulated chunk
	MaxChunkLength      int // hard flush bound for a line-accumulated chunk
	TargetFragments     int // approximate fragment count for sentence grouping
	MinContentLength    int // below this the whole-content fallback yields nothing
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.MinFragmentLength <= 0 {
		c.MinFragmentLength = 30
	}
	if c.MinMeaningfulLength <= 0 {
		c.MinMeaningfulLength = 50
	}
	if c.MinSentences <= 0 {
		c.MinSentences = 3
	}
	if c.MinChunkLength <= 0 {
		c.MinChunkLength = 200
	}
	if c.MaxChunkLength <= 0 {
		c.MaxChunkLength = 800
	}
	if c.TargetFragments <= 0 {
		c.TargetFragments = 5
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = 30
	}
	return c
}

// Segmenter splits raw article content into paragraph-like chunks. It never
// blocks and performs no I/O.
type Segmenter struct {
	cfg        SegmenterConfig
	strategies []segmentStrategy
}

type segmentStrategy struct {
	name  string
	apply func(content string) []string
}

var (
	markupParaRe  = regexp.MustCompile(`(?i)<p[\s>/]`)
	blankLineRe   = regexp.MustCompile(`\n[ \t\r]*\n`)
	sentenceEndRe = regexp.MustCompile(`[.!?]+[)\]"']*(\s+|$)`)
)

// NewSegmenter builds a segmenter with the strategy cascade in fixed order:
// markup paragraphs, blank-line split, line accumulation, sentence grouping,
// whole-content fallback. The first strategy producing a usable result wins.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	s := &Segmenter{cfg: cfg.withDefaults()}
	s.strategies = []segmentStrategy{
		{"markup", s.markupParagraphs},
		{"blank-lines", s.blankLineSplit},
		{"line-accumulate", s.lineAccumulate},
		{"sentence-group", s.sentenceGroups},
		{"whole-content", s.wholeContent},
	}
	return s
}

// Segment returns the ordered paragraph chunks of content. Empty or
// whitespace-only input yields an empty result, not an error.
func (s *Segmenter) Segment(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	for _, strat := range s.strategies {
		if out := strat.apply(trimmed); len(out) > 0 {
			return out
		}
	}
	return nil
}

// markupParagraphs extracts <p> tag inner text when the content looks like
// HTML. Residual markup inside a paragraph is flattened by goquery's Text.
func (s *Segmenter) markupParagraphs(content string) []string {
	if !markupParaRe.MatchString(content) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) > s.cfg.MinFragmentLength {
			out = append(out, text)
		}
	})
	return out
}

// blankLineSplit treats blank lines as paragraph boundaries. Accepted only
// when it produces at least two meaningful fragments.
func (s *Segmenter) blankLineSplit(content string) []string {
	parts := blankLineRe.Split(content, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > s.cfg.MinMeaningfulLength {
			out = append(out, p)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// lineAccumulate greedily merges single lines into chunks, flushing once a
// chunk holds enough sentences and characters, or grows past the hard bound.
func (s *Segmenter) lineAccumulate(content string) []string {
	lines := strings.Split(content, "\n")
	var out []string
	var b strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(b.String())
		if chunk != "" {
			out = append(out, chunk)
		}
		b.Reset()
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)
		chunk := b.String()
		sentences := strings.Count(chunk, ".")
		if (sentences >= s.cfg.MinSentences && len(chunk) > s.cfg.MinChunkLength) || len(chunk) > s.cfg.MaxChunkLength {
			flush()
		}
	}
	flush()
	if len(out) < 2 {
		return nil
	}
	return out
}

// sentenceGroups splits on sentence-ending punctuation and groups sentences
// so the result lands near TargetFragments chunks.
func (s *Segmenter) sentenceGroups(content string) []string {
	sentences := splitSentences(content)
	if len(sentences) < 2 {
		return nil
	}
	perGroup := (len(sentences) + s.cfg.TargetFragments - 1) / s.cfg.TargetFragments
	if perGroup < 1 {
		perGroup = 1
	}
	var out []string
	for i := 0; i < len(sentences); i += perGroup {
		end := i + perGroup
		if end > len(sentences) {
			end = len(sentences)
		}
		chunk := strings.TrimSpace(strings.Join(sentences[i:end], " "))
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// wholeContent is the terminal fallback: the trimmed content as a single
// fragment, provided it is long enough to analyze at all.
func (s *Segmenter) wholeContent(content string) []string {
	if len(content) > s.cfg.MinContentLength {
		return []string{content}
	}
	return nil
}

// splitSentences cuts text at punctuation boundaries, keeping the
// punctuation with the preceding sentence.
func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		sentence := strings.TrimSpace(text[last:loc[1]])
		if sentence != "" {
			out = append(out, sentence)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
