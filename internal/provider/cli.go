package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxInvocationTimeout caps any single provider call regardless of the
// configured timeout.
const maxInvocationTimeout = 300 * time.Second

// CLI invokes the capability provider through its command-line binary,
// one subprocess per call. Continuation tokens are the CLI's native
// session identifiers, passed back via --resume.
type CLI struct {
	binary  string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Provider = (*CLI)(nil)

// NewCLI creates a CLI-backed provider.
func NewCLI(binary, model string, timeout time.Duration, logger *slog.Logger) *CLI {
	if timeout <= 0 || timeout > maxInvocationTimeout {
		timeout = maxInvocationTimeout
	}
	return &CLI{
		binary:  binary,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Available reports whether the provider binary is on PATH.
func (c *CLI) Available() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, c.binary)
	}
	return nil
}

// cliResult is the JSON envelope the binary prints in json output mode.
type cliResult struct {
	Result    string   `json:"result"`
	SessionID string   `json:"session_id"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	IsError   bool     `json:"is_error"`
}

// Invoke runs one request to completion.
func (c *CLI) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := c.buildArgs(inv, "json")
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = workDir(inv)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	c.logger.Debug("provider invocation finished",
		"model", c.model,
		"resumed", inv.Resume != "",
		"duration", time.Since(started),
		"err", err)

	if err != nil {
		return nil, c.runError(ctx, err, stderr.String())
	}

	var envelope cliResult
	if jsonErr := json.Unmarshal(stdout.Bytes(), &envelope); jsonErr != nil {
		// Older binaries print plain text in -p mode. Use it as-is
		// and forfeit continuation for this exchange.
		return &Result{Text: strings.TrimSpace(stdout.String())}, nil
	}
	if envelope.IsError {
		return nil, fmt.Errorf("%w: %s", ErrInvocationFailed, envelope.Result)
	}

	return &Result{
		Text:              strings.TrimSpace(envelope.Result),
		ContinuationToken: envelope.SessionID,
		ToolsUsed:         envelope.ToolsUsed,
	}, nil
}

// streamLine is one NDJSON line in stream-json output mode.
type streamLine struct {
	Type    string `json:"type"`
	Result  string `json:"result"`
	Session string `json:"session_id"`
	IsError bool   `json:"is_error"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// Stream runs one request and yields output fragments as they arrive.
func (c *CLI) Stream(ctx context.Context, inv Invocation) iter.Seq2[*Delta, error] {
	return func(yield func(*Delta, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		args := c.buildArgs(inv, "stream-json")
		args = append(args, "--verbose")
		cmd := exec.CommandContext(ctx, c.binary, args...)
		cmd.Dir = workDir(inv)

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("provider stdout pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, c.runError(ctx, err, stderr.String()))
			return
		}
		defer cmd.Wait() //nolint:errcheck // reaped below when the scan completes

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			var line streamLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue // skip non-JSON noise
			}
			switch line.Type {
			case "assistant":
				for _, block := range line.Message.Content {
					if block.Type != "text" || block.Text == "" {
						continue
					}
					if !yield(&Delta{Text: block.Text}, nil) {
						return
					}
				}
			case "result":
				if line.IsError {
					yield(nil, fmt.Errorf("%w: %s", ErrInvocationFailed, line.Result))
					return
				}
				if !yield(&Delta{Final: true, ContinuationToken: line.Session}, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("provider stream read: %w", err))
			return
		}
		if err := cmd.Wait(); err != nil {
			yield(nil, c.runError(ctx, err, stderr.String()))
		}
	}
}

func (c *CLI) buildArgs(inv Invocation, outputFormat string) []string {
	args := []string{
		"-p",
		"--model", c.model,
		"--output-format", outputFormat,
		"--dangerously-skip-permissions",
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", inv.SystemPrompt)
	}
	if inv.Resume != "" {
		args = append(args, "--resume", inv.Resume)
	}
	if len(inv.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(inv.Tools, ","))
	} else {
		args = append(args, "--tools", "")
	}
	args = append(args, composePrompt(inv))
	return args
}

func (c *CLI) runError(ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, c.binary)
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvocationFailed, msg)
}

// composePrompt merges the task and its supporting context into the final
// prompt text.
func composePrompt(inv Invocation) string {
	if inv.Context == "" {
		return inv.Prompt
	}
	return fmt.Sprintf("%s\n\n## Context\n```\n%s\n```", inv.Prompt, inv.Context)
}

// workDir picks the subprocess working directory. Tool-less invocations
// run from the user home so the provider picks up no ambient project state.
func workDir(inv Invocation) string {
	if inv.WorkDir != "" {
		return inv.WorkDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
