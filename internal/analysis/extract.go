package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExtractionError reports that no JSON document could be recovered from a
// model response. Snippet carries a truncated prefix of the raw text for
// diagnostics.
type ExtractionError struct {
	Snippet string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no JSON document found in model response: %q", e.Snippet)
}

const extractionSnippetLen = 120

var reasoningBlockRe = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>.*?</(think|thinking|reasoning)>`)

type extractStrategy struct {
	name  string
	apply func(s string) (string, bool)
}

var extractStrategies = []extractStrategy{
	{"balanced", extractBalanced},
	{"fenced", extractFenced},
	{"brace-walk", extractBraceWalk},
}

// ExtractJSON recovers the first well-formed JSON object or array from a raw
// model response. The response may interleave the payload with reasoning
// markup, prose, or markdown fences; strategies are tried in order and the
// first parseable candidate wins.
func ExtractJSON(raw string) (json.RawMessage, error) {
	s := trimBOM(strings.TrimSpace(reasoningBlockRe.ReplaceAllString(raw, "")))
	for _, strat := range extractStrategies {
		if candidate, ok := strat.apply(s); ok && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	snippet := s
	if snippet == "" {
		snippet = strings.TrimSpace(raw)
	}
	if len(snippet) > extractionSnippetLen {
		snippet = snippet[:extractionSnippetLen]
	}
	return nil, &ExtractionError{Snippet: snippet}
}

// DecodeOutput extracts and unmarshals an analysis result. A bare top-level
// issue array is accepted alongside the canonical {"issues": [...]} object.
func DecodeOutput(raw string) (Output, error) {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return Output{}, err
	}
	trimmed := strings.TrimSpace(string(doc))
	if strings.HasPrefix(trimmed, "[") {
		var issues []Issue
		if err := json.Unmarshal(doc, &issues); err != nil {
			return Output{}, &ExtractionError{Snippet: clip(trimmed)}
		}
		return Output{Issues: issues}, nil
	}
	var out Output
	if err := json.Unmarshal(doc, &out); err != nil {
		return Output{}, &ExtractionError{Snippet: clip(trimmed)}
	}
	return out, nil
}

func clip(s string) string {
	if len(s) > extractionSnippetLen {
		return s[:extractionSnippetLen]
	}
	return s
}

// extractBalanced scans for the first '{' or '[' and returns the balanced
// span, tracking nesting and skipping braces inside strings.
func extractBalanced(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := balancedFrom(s, i); ok {
				return out, true
			}
		}
	}
	return "", false
}

// extractFenced looks inside fenced code blocks (``` with an optional json
// tag, or single backticks) for a payload.
func extractFenced(s string) (string, bool) {
	for _, fence := range []string{"```json", "```", "`"} {
		start := strings.Index(s, fence)
		if start == -1 {
			continue
		}
		rest := s[start+len(fence):]
		if fence != "`" {
			// drop the remainder of the fence line (language tag etc.)
			if nl := strings.IndexByte(rest, '\n'); nl != -1 {
				rest = rest[nl+1:]
			}
		}
		closer := "```"
		if fence == "`" {
			closer = "`"
		}
		end := strings.Index(rest, closer)
		if end == -1 {
			continue
		}
		inner := strings.TrimSpace(rest[:end])
		if inner != "" {
			return inner, true
		}
	}
	return "", false
}

// extractBraceWalk is the loosest fallback: from the first '{' walk forward
// counting depth until it returns to zero, ignoring string context.
func extractBraceWalk(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// balancedFrom extracts a balanced JSON value starting at startIdx. It
// handles strings and escape sequences correctly.
func balancedFrom(s string, startIdx int) (string, bool) {
	start := s[startIdx]
	if start != '{' && start != '[' {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		escape   bool
	)
	push := func(b byte) { stack = append(stack, b) }
	popMatches := func(b byte) bool {
		if len(stack) == 0 {
			return false
		}
		top := stack[len(stack)-1]
		if (top == '{' && b == '}') || (top == '[' && b == ']') {
			stack = stack[:len(stack)-1]
			return true
		}
		return false
	}

	push(start)
	for i := startIdx + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			push(c)
		case '}', ']':
			if !popMatches(c) {
				return "", false
			}
			if len(stack) == 0 {
				return s[startIdx : i+1], true
			}
		}
	}
	return "", false
}

// trimBOM removes an optional UTF-8 BOM.
func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
