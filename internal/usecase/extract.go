package usecase

import (
	"encoding/json"
	"strings"
)

// StructuredResult is the outcome of asking a model for JSON. When the raw
// reply can't be recovered into a document, ParseFailed is set and Raw still
// carries the text so callers can degrade to plain display.
type StructuredResult struct {
	Raw         string         `json:"raw"`
	Data        map[string]any `json:"data,omitempty"`
	ParseFailed bool           `json:"parseFailed,omitempty"`
}

// ParseStructured recovers a JSON document from a model reply.
func ParseStructured(raw string) StructuredResult {
	if data, ok := ExtractJSON(raw); ok {
		return StructuredResult{Raw: raw, Data: data}
	}
	return StructuredResult{Raw: raw, ParseFailed: true}
}

// ExtractJSON pulls a JSON object out of a model reply. Models wrap JSON in
// markdown fences or chat around it, so after a direct parse this tries the
// first fenced block, then the outermost brace span.
func ExtractJSON(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if data, ok := tryParse(raw); ok {
		return data, true
	}
	if block, ok := fencedBlock(raw); ok {
		if data, ok := tryParse(block); ok {
			return data, true
		}
	}
	if span, ok := braceSpan(raw); ok {
		if data, ok := tryParse(span); ok {
			return data, true
		}
	}
	return nil, false
}

func tryParse(s string) (map[string]any, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, false
	}
	return data, true
}

// fencedBlock returns the contents of the first ``` fence, tolerating a
// language tag on the opening line.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// braceSpan returns the text from the first '{' to its matching '}',
// tracking strings so braces inside values don't end the span early.
func braceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
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
