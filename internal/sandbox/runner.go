package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// RunSpec describes one command execution. Args is always an argv vector;
// nothing in this package ever goes through a shell.
type RunSpec struct {
	Dir  string
	Args []string
	Env  []string
}

// RunOutput is the raw outcome of one command execution.
type RunOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands on behalf of a sandbox. The process runner is
// the default; the docker runner trades startup latency for stronger
// isolation.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*RunOutput, error)
}

// ProcessRunner executes commands as local subprocesses.
type ProcessRunner struct{}

var _ Runner = (*ProcessRunner)(nil)

// NewProcessRunner creates the default subprocess-based runner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run executes the command, honoring the context deadline.
func (r *ProcessRunner) Run(ctx context.Context, spec RunSpec) (*RunOutput, error) {
	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &RunOutput{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, err
	}
	return out, nil
}

// restrictedEnv builds the minimal environment sandboxed commands run with.
// HOME points inside the sandbox so tools cannot write user dotfiles.
func restrictedEnv(workDir string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + workDir,
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
		"PYTHONPATH=" + workDir,
	}
}
