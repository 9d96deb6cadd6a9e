// Package sandbox provides isolated execution of generated code with path,
// size, and command validation.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// maxFileSize caps any single written file at 1MB.
	maxFileSize = 1024 * 1024
	// maxTimeout caps command execution at 5 minutes.
	maxTimeout = 300 * time.Second
	// defaultTimeout applies when the caller passes none.
	defaultTimeout = 30 * time.Second
	// maxOutputCap caps captured stdout/stderr at 100KB each.
	maxOutputCap = 100_000
	// defaultMaxOutput applies when the caller passes none.
	defaultMaxOutput = 50_000

	truncationMarker = "\n... [output truncated]"
)

var (
	// ErrNotInitialized indicates the sandbox directory was never set up
	// or has already been cleaned up.
	ErrNotInitialized = errors.New("sandbox not initialized")
	// ErrInvalidPath indicates a path that is absolute, traverses upward,
	// or resolves outside the sandbox directory.
	ErrInvalidPath = errors.New("invalid sandbox path")
	// ErrExtensionNotAllowed indicates a file type outside the allow-list.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrFileTooLarge indicates content over the per-file size cap.
	ErrFileTooLarge = errors.New("file too large")
)

// allowedExtensions is the closed set of file types the sandbox accepts.
// Extensionless files (Makefile, Procfile) are also accepted.
var allowedExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".json": true, ".txt": true,
	".md": true, ".html": true, ".css": true, ".yaml": true, ".yml": true,
}

var (
	nameSanitizer  = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	pythonPkgCheck = regexp.MustCompile(`^[a-zA-Z0-9_\-\[\]<>=.,\s]+$`)
	nodePkgCheck   = regexp.MustCompile(`^[@a-zA-Z0-9_\-/]+$`)
)

// Result is the outcome of one sandboxed command.
type Result struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	// Error is set when the command never produced an exit status
	// (timeout, missing binary, uninitialized sandbox).
	Error string `json:"error,omitempty"`
}

// failure builds a Result for a command that never ran to completion.
func failure(format string, args ...any) *Result {
	return &Result{Success: false, ExitCode: -1, Error: fmt.Sprintf(format, args...)}
}

// Sandbox is an isolated working directory for one project's generated
// code. Not safe for concurrent use; the pool hands out one per project.
type Sandbox struct {
	runner    Runner
	workDir   string
	owned     bool // Setup created workDir; Cleanup may remove it
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

// New creates a sandbox with the given runner. Timeout and output caps are
// clamped to their hard limits.
func New(runner Runner, timeout time.Duration, logger *slog.Logger) *Sandbox {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	return &Sandbox{
		runner:    runner,
		timeout:   timeout,
		maxOutput: defaultMaxOutput,
		logger:    logger,
	}
}

// Setup creates the temporary working directory. The project name is
// sanitized before use in the directory prefix.
func (s *Sandbox) Setup(projectName string) (string, error) {
	safe := sanitizeName(projectName)
	dir, err := os.MkdirTemp("", fmt.Sprintf("vibe_%s_", safe))
	if err != nil {
		return "", fmt.Errorf("create sandbox directory: %w", err)
	}
	s.workDir = dir
	s.owned = true
	return dir, nil
}

// Attach binds the sandbox to an existing directory, typically a project
// directory. Attached directories survive Cleanup.
func (s *Sandbox) Attach(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("attach sandbox: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("attach sandbox: %s is not a directory", dir)
	}
	s.workDir = dir
	s.owned = false
	return nil
}

// WorkDir returns the sandbox directory, or "" before Setup.
func (s *Sandbox) WorkDir() string { return s.workDir }

// Cleanup releases the working directory, removing it from disk only when
// Setup created it. Safe to call repeatedly.
func (s *Sandbox) Cleanup() {
	if s.workDir == "" {
		return
	}
	if s.owned {
		if err := os.RemoveAll(s.workDir); err != nil {
			s.logger.Warn("sandbox cleanup failed", "dir", s.workDir, "error", err)
		}
	}
	s.workDir = ""
}

// sanitizeName reduces a name to filesystem-safe characters, at most 50.
func sanitizeName(name string) string {
	safe := nameSanitizer.ReplaceAllString(name, "_")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	return safe
}

// validatePath checks that rel stays strictly inside the sandbox and
// returns the absolute path.
func (s *Sandbox) validatePath(rel string) (string, error) {
	if s.workDir == "" {
		return "", ErrNotInitialized
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidPath, rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: traversal in %q", ErrInvalidPath, rel)
		}
	}
	full := filepath.Join(s.workDir, rel)
	inside, err := filepath.Rel(s.workDir, full)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes sandbox", ErrInvalidPath, rel)
	}
	return full, nil
}

// WriteFile writes one file into the sandbox after validating its path,
// extension, and size. Returns the absolute path written.
func (s *Sandbox) WriteFile(rel, content string) (string, error) {
	full, err := s.validatePath(rel)
	if err != nil {
		return "", err
	}
	if ext := strings.ToLower(filepath.Ext(rel)); ext != "" && !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %s", ErrExtensionNotAllowed, ext)
	}
	if len(content) > maxFileSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(content), maxFileSize)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return full, nil
}

// WriteFiles writes a batch of files, skipping invalid entries so one bad
// path does not abort the rest.
func (s *Sandbox) WriteFiles(files map[string]string) []string {
	var written []string
	for rel, content := range files {
		full, err := s.WriteFile(rel, content)
		if err != nil {
			s.logger.Warn("skipping sandbox file", "path", rel, "error", err)
			continue
		}
		written = append(written, full)
	}
	return written
}

// ReadFile reads one file from the sandbox.
func (s *Sandbox) ReadFile(rel string) (string, error) {
	full, err := s.validatePath(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// RunCommand executes an argv vector inside the sandbox. Failures that
// prevent execution are folded into the Result so callers always get
// stdout/stderr context.
func (s *Sandbox) RunCommand(ctx context.Context, args ...string) *Result {
	if s.workDir == "" {
		return failure("%s", ErrNotInitialized)
	}
	if len(args) == 0 {
		return failure("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.runner.Run(ctx, RunSpec{
		Dir:  s.workDir,
		Args: args,
		Env:  restrictedEnv(s.workDir),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failure("command timed out after %s", s.timeout)
		}
		return failure("%s", err)
	}

	return &Result{
		Success:  out.ExitCode == 0,
		Stdout:   s.truncate(out.Stdout),
		Stderr:   s.truncate(out.Stderr),
		ExitCode: out.ExitCode,
	}
}

func (s *Sandbox) truncate(b []byte) string {
	if len(b) <= s.maxOutput {
		return string(b)
	}
	return string(b[:s.maxOutput]) + truncationMarker
}

// RunScript runs a script by its file extension: python3 for .py, node
// for .js and .mjs.
func (s *Sandbox) RunScript(ctx context.Context, rel string) *Result {
	if _, err := s.validatePath(rel); err != nil {
		return failure("%s", err)
	}
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".py":
		return s.RunCommand(ctx, "python3", rel)
	case ".js", ".mjs":
		return s.RunCommand(ctx, "node", rel)
	default:
		return failure("no interpreter for %s", rel)
	}
}

// Lint syntax-checks a file by extension. Unknown extensions pass.
func (s *Sandbox) Lint(ctx context.Context, rel string) *Result {
	if _, err := s.validatePath(rel); err != nil {
		return failure("%s", err)
	}
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".py":
		return s.RunCommand(ctx, "python3", "-m", "py_compile", rel)
	case ".js", ".mjs":
		return s.RunCommand(ctx, "node", "--check", rel)
	default:
		return &Result{Success: true}
	}
}

// InstallPythonDeps writes a requirements file and installs it. Suspicious
// requirement strings are dropped rather than failing the install.
func (s *Sandbox) InstallPythonDeps(ctx context.Context, requirements []string) *Result {
	safe := filterPackages(requirements, pythonPkgCheck, s.logger)
	if len(safe) == 0 {
		return &Result{Success: true}
	}
	if _, err := s.WriteFile("requirements.txt", strings.Join(safe, "\n")); err != nil {
		return failure("%s", err)
	}
	return s.RunCommand(ctx, "pip", "install", "-q", "--no-warn-script-location", "-r", "requirements.txt")
}

// InstallNodeDeps installs node packages, dropping suspicious names.
func (s *Sandbox) InstallNodeDeps(ctx context.Context, packages []string) *Result {
	safe := filterPackages(packages, nodePkgCheck, s.logger)
	if len(safe) == 0 {
		return &Result{Success: true}
	}
	args := append([]string{"npm", "install", "--silent"}, safe...)
	return s.RunCommand(ctx, args...)
}

// InstallDeps dispatches on the plan language.
func (s *Sandbox) InstallDeps(ctx context.Context, language string, deps []string) *Result {
	switch strings.ToLower(language) {
	case "javascript", "typescript", "node", "nodejs":
		return s.InstallNodeDeps(ctx, deps)
	default:
		return s.InstallPythonDeps(ctx, deps)
	}
}

func filterPackages(pkgs []string, check *regexp.Regexp, logger *slog.Logger) []string {
	var safe []string
	for _, p := range pkgs {
		if p == "" {
			continue
		}
		if !check.MatchString(p) {
			logger.Warn("skipping suspicious package", "package", p)
			continue
		}
		safe = append(safe, p)
	}
	return safe
}
