package gateway

import (
	"errors"
	"regexp"
	"strings"
)

// maxMessageLen caps a single chat message after sanitization.
const maxMessageLen = 10_000

var (
	// ErrEmptyMessage is returned when a message is empty after cleanup.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrMessageTooLong is returned when a message exceeds maxMessageLen.
	ErrMessageTooLong = errors.New("message too long")
)

// Runs of horizontal whitespace collapse to one space; newlines survive.
var horizontalSpace = regexp.MustCompile(`[^\S\n]+`)

// sanitizeMessage normalizes a user message: NUL bytes stripped, runs of
// spaces and tabs collapsed, surrounding whitespace trimmed.
func sanitizeMessage(s string) (string, error) {
	s = strings.ReplaceAll(s, "\x00", "")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyMessage
	}
	if len(s) > maxMessageLen {
		return "", ErrMessageTooLong
	}
	return s, nil
}
