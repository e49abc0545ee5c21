// Package jsonrepair recovers parseable JSON from near-JSON model output.
//
// The external generator streams text that can arrive fenced in markdown,
// truncated mid-token, or peppered with control characters and typographic
// quotes. This package turns that text into parsed structures, falling back
// to the first balanced object/array span when nothing else works.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON indicates that no recoverable JSON object or array exists in the
// input. The underlying parse error is wrapped.
var ErrNoJSON = errors.New("no recoverable JSON found")

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	splitNumberRe   = regexp.MustCompile(`(\d)[ \t\r\n]+(\d)`)
)

// ParseLenient parses text into a generic JSON value, repairing common model
// output defects along the way. Repair steps are attempted in order, each
// only when the previous one fails:
//
//  1. strip a surrounding markdown code fence
//  2. strict parse
//  3. cleaning pass (quotes, control chars, split numbers, trailing commas)
//  4. first balanced {...} or [...] span, object candidate tried first
func ParseLenient(text string) (any, error) {
	raw, err := Repair(text)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseLenientInto repairs text and unmarshals the result into v.
func ParseLenientInto(text string, v any) error {
	raw, err := Repair(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Repair returns the raw bytes of the first repaired candidate that parses
// as JSON. It fails with ErrNoJSON (wrapping the strict parse error) only
// when no candidate parses.
func Repair(text string) (json.RawMessage, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNoJSON)
	}

	strictErr := checkParse(text)
	if strictErr == nil {
		return json.RawMessage(text), nil
	}

	cleaned := clean(text)
	if cleaned != text && checkParse(cleaned) == nil {
		return json.RawMessage(cleaned), nil
	}

	for _, candidate := range spanCandidates(cleaned) {
		if checkParse(candidate) == nil {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrNoJSON, strictErr)
}

func checkParse(s string) error {
	var v any
	return json.Unmarshal([]byte(s), &v)
}

// stripCodeFence removes a leading ``` or ```json fence line and its closing
// fence if both are present.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNL := strings.Index(trimmed, "\n")
	if firstNL < 0 {
		return s
	}
	closing := strings.LastIndex(trimmed, "```")
	if closing <= firstNL {
		return s
	}
	return strings.TrimSpace(trimmed[firstNL+1 : closing])
}

// clean applies the lossy cleanup pass: typographic quotes to ASCII, illegal
// control characters stripped, whitespace injected between digits of a single
// number collapsed (a streamed-token-boundary artifact), trailing commas
// before } or ] removed.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '“', '”', '„', '«', '»':
			b.WriteByte('"')
		case '‘', '’', '‚':
			b.WriteByte('\'')
		default:
			if r < 0x20 && r != '\n' && r != '\r' {
				continue
			}
			b.WriteRune(r)
		}
	}
	out := b.String()
	// A number can be split by more than one stream boundary; replacement
	// consumes the trailing digit, so repeat until stable.
	for {
		next := splitNumberRe.ReplaceAllString(out, "$1$2")
		if next == out {
			break
		}
		out = next
	}
	out = trailingCommaRe.ReplaceAllString(out, "$1")
	return out
}

// spanCandidates extracts balanced delimiter spans. The object candidate is
// returned before the array candidate so {...} wins when both parse.
func spanCandidates(s string) []string {
	var out []string
	if obj := balancedSpan(s, '{'); obj != "" {
		out = append(out, obj)
	}
	if arr := balancedSpan(s, '['); arr != "" {
		out = append(out, arr)
	}
	return out
}

// balancedSpan scans from the first occurrence of open, tracking nesting
// depth across both object and array delimiters, and returns the first
// balanced span.
func balancedSpan(s string, open byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
