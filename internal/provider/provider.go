// Package provider abstracts the external AI capability behind a narrow
// interface so the orchestration layers never depend on how completions
// are produced.
package provider

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrBinaryNotFound indicates the provider binary is not installed.
	ErrBinaryNotFound = errors.New("provider binary not found")
	// ErrTimeout indicates the invocation exceeded its deadline.
	ErrTimeout = errors.New("provider invocation timed out")
	// ErrInvocationFailed indicates the provider exited non-zero.
	ErrInvocationFailed = errors.New("provider invocation failed")
)

// Invocation is one request to the capability provider.
type Invocation struct {
	// Prompt is the user-facing task text.
	Prompt string
	// Context is optional supporting material appended below the prompt.
	Context string
	// SystemPrompt frames the role for this invocation.
	SystemPrompt string
	// Resume is an opaque continuation token from a prior Result. Empty
	// starts a fresh exchange.
	Resume string
	// WorkDir is the directory the provider runs in. Tool-enabled
	// invocations read and write files relative to it.
	WorkDir string
	// Tools lists the tool names the provider may use. Empty disables
	// all tools, which makes the invocation pure text generation.
	Tools []string
}

// Result is the final output of an invocation.
type Result struct {
	Text string
	// ContinuationToken resumes this exchange in a later invocation.
	// May be empty when the provider does not support continuation.
	ContinuationToken string
	ToolsUsed         []string
}

// Delta is one streamed fragment of an in-progress invocation.
type Delta struct {
	Text string
	// Final is set on the last delta, which also carries the
	// continuation token.
	Final             bool
	ContinuationToken string
}

// Provider defines the interface for the external AI capability.
type Provider interface {
	// Invoke runs one request to completion and returns the full result.
	Invoke(ctx context.Context, inv Invocation) (*Result, error)

	// Stream runs one request and yields output fragments as they
	// arrive. Iteration stops on the first error.
	Stream(ctx context.Context, inv Invocation) iter.Seq2[*Delta, error]

	// Available reports whether the provider can serve requests.
	Available() error
}
