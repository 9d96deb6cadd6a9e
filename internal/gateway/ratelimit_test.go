package gateway

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("user-1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("user-1") {
		t.Error("request over the limit should be denied")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("user-1") {
		t.Fatal("first request for user-1 should be allowed")
	}
	if !rl.Allow("user-2") {
		t.Error("user-2 must not be throttled by user-1's requests")
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow("user-1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("user-1") {
		t.Fatal("second request inside window should be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow("user-1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		fails error
	}{
		{name: "plain", in: "build me an app", want: "build me an app"},
		{name: "trims", in: "  hello  ", want: "hello"},
		{name: "strips nul", in: "he\x00llo", want: "hello"},
		{name: "collapses spaces and tabs", in: "a  \t b", want: "a b"},
		{name: "keeps newlines", in: "line one\nline two", want: "line one\nline two"},
		{name: "empty", in: "   ", fails: ErrEmptyMessage},
		{name: "nul only", in: "\x00\x00", fails: ErrEmptyMessage},
		{name: "too long", in: strings.Repeat("x", maxMessageLen+1), fails: ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeMessage(tt.in)
			if tt.fails != nil {
				if !errors.Is(err, tt.fails) {
					t.Fatalf("expected %v, got %v", tt.fails, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("sanitizeMessage failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
