package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable indicates no JSON document could be recovered from the
// provider's text output.
var ErrUnparseable = errors.New("unparseable provider output")

// DecodeStructured extracts a JSON document from provider text output and
// decodes it into v. Providers rarely emit bare JSON even when asked, so
// decoding degrades through three stages: the whole text as JSON, then the
// first fenced code block, then the outermost brace-delimited substring.
func DecodeStructured(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty output", ErrUnparseable)
	}

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	if fenced, ok := extractFenced(text); ok {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}

	if braced, ok := extractBraced(text); ok {
		if err := json.Unmarshal([]byte(braced), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: no decodable JSON in %d bytes of output", ErrUnparseable, len(text))
}

// extractFenced returns the body of the first fenced code block.
func extractFenced(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBraced returns the substring from the first '{' to the last '}'.
func extractBraced(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
