// Package orchestrator runs the phased build pipeline that turns a user
// request into a working project.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/liamavtal/vibe-agents/internal/dialogue"
	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/project"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/roles"
	"github.com/liamavtal/vibe-agents/internal/sandbox"
	"github.com/liamavtal/vibe-agents/internal/store"
)

// Phase is the pipeline state. Transitions are strictly forward except
// for the Debugging/Verifying loop.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseCoding    Phase = "coding"
	PhaseReviewing Phase = "reviewing"
	PhaseTesting   Phase = "testing"
	PhaseDebugging Phase = "debugging"
	PhaseVerifying Phase = "verifying"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

// maxDebugIterations bounds the debug loop per build.
const maxDebugIterations = 3

// fullReplaceThreshold decides between whole-file replacement and a
// targeted substring substitution when applying a fix.
const fullReplaceThreshold = 100

// Request describes one build.
type Request struct {
	Task string
	// Dir is the bound project directory where the implementer works.
	Dir string
	// Project is the existing record, nil when the build creates one.
	Project *domain.Project
	// Context is optional project awareness injected into prompts.
	Context string
	Emit    domain.EmitFunc
}

// Result is the outcome of one build.
type Result struct {
	Success    bool            `json:"success"`
	Phase      Phase           `json:"phase"`
	Project    *domain.Project `json:"project,omitempty"`
	Plan       *domain.Plan    `json:"plan,omitempty"`
	Files      []string        `json:"files"`
	Errors     []string        `json:"errors,omitempty"`
	Iterations int             `json:"debug_iterations"`
}

// executionRecord is one sandboxed run captured for the build log.
type executionRecord struct {
	File    string `json:"file"`
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// buildState tracks one in-flight build.
type buildState struct {
	req        Request
	phase      Phase
	plan       *domain.Plan
	proj       *domain.Project
	errs       []string
	iterations int
	executions []executionRecord
	emit       domain.EmitFunc

	planner     *roles.Worker
	implementer *roles.Worker
	reviewer    *roles.Worker
	tester      *roles.Worker
	fixer       *roles.Worker
	box         *sandbox.Sandbox
}

// Engine coordinates the workers, sandbox pool, and store for builds.
type Engine struct {
	prov   provider.Provider
	repo   store.Repository
	pool   *sandbox.Pool
	logger *slog.Logger
}

// NewEngine creates a build engine executing commands through sandboxes
// drawn from the pool.
func NewEngine(prov provider.Provider, repo store.Repository, pool *sandbox.Pool, logger *slog.Logger) *Engine {
	return &Engine{prov: prov, repo: repo, pool: pool, logger: logger}
}

// Build runs the full pipeline for one request. A failed planning phase
// fails the build outright; later failures degrade it but still produce
// artifacts and a record.
func (e *Engine) Build(ctx context.Context, req Request) (*Result, error) {
	if req.Emit == nil {
		req.Emit = domain.NopEmit
	}

	st := &buildState{req: req, emit: req.Emit, proj: req.Project}
	for _, w := range st.bindWorkers(e.prov, req.Dir) {
		w.OnEvent(req.Emit)
	}

	box, err := e.pool.Acquire(req.Dir, req.Dir)
	if err != nil {
		return nil, fmt.Errorf("bind build sandbox: %w", err)
	}
	st.box = box

	if err := e.phasePlanning(ctx, st); err != nil {
		st.setPhase(PhaseFailed)
		st.errs = append(st.errs, err.Error())
		st.emit(domain.EventError, map[string]string{"phase": string(PhasePlanning), "error": err.Error()})
		return st.result(false), nil
	}

	if err := e.phaseCoding(ctx, st); err != nil {
		return st.fail(PhaseCoding, err), nil
	}
	if err := e.phaseReviewing(ctx, st); err != nil {
		return st.fail(PhaseReviewing, err), nil
	}
	if err := e.phaseTesting(ctx, st); err != nil {
		return st.fail(PhaseTesting, err), nil
	}
	if err := e.phaseVerifying(ctx, st); err != nil {
		return st.fail(PhaseVerifying, err), nil
	}

	e.complete(ctx, st)
	return st.result(true), nil
}

// bindWorkers creates the five role workers for this build, wired to the
// project directory and token persistence.
func (st *buildState) bindWorkers(prov provider.Provider, dir string) []*roles.Worker {
	st.planner = roles.NewWorker(roles.Planner, prov)
	st.implementer = roles.NewWorker(roles.Implementer, prov)
	st.reviewer = roles.NewWorker(roles.Reviewer, prov)
	st.tester = roles.NewWorker(roles.Tester, prov)
	st.fixer = roles.NewWorker(roles.Fixer, prov)

	all := []*roles.Worker{st.planner, st.implementer, st.reviewer, st.tester, st.fixer}
	for _, w := range all {
		w.SetWorkDir(dir)
	}
	return all
}

// bindTokens wires continuation-token persistence once a project record
// exists, and seeds any stored tokens.
func (e *Engine) bindTokens(ctx context.Context, st *buildState) {
	if st.proj == nil {
		return
	}
	projectID := st.proj.ID
	for _, w := range []*roles.Worker{st.planner, st.implementer, st.reviewer, st.tester, st.fixer} {
		role := w.Role.Name
		if tok, err := e.repo.GetToken(ctx, projectID, role); err == nil && tok != "" {
			w.SetResume(tok)
		}
		w.OnToken(func(ctx context.Context, token string) error {
			return e.repo.SaveToken(ctx, projectID, role, token)
		})
	}
}

func (st *buildState) setPhase(p Phase) {
	st.phase = p
	st.emit(domain.EventPhaseChanged, map[string]string{"phase": string(p)})
}

func (st *buildState) fail(p Phase, err error) *Result {
	st.setPhase(PhaseFailed)
	st.errs = append(st.errs, err.Error())
	st.emit(domain.EventError, map[string]string{"phase": string(p), "error": err.Error()})
	return st.result(false)
}

func (st *buildState) result(ok bool) *Result {
	return &Result{
		Success:    ok,
		Phase:      st.phase,
		Project:    st.proj,
		Plan:       st.plan,
		Files:      project.ListFiles(st.req.Dir),
		Errors:     st.errs,
		Iterations: st.iterations,
	}
}

// phasePlanning asks the planner for a structured plan and persists it.
// Any failure here is fatal for the build.
func (e *Engine) phasePlanning(ctx context.Context, st *buildState) error {
	st.setPhase(PhasePlanning)

	var plan domain.Plan
	err := st.planner.ThinkStructured(ctx,
		"Create an implementation plan for: "+st.req.Task, st.req.Context, &plan)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPlan, err)
	}
	if err := plan.Validate(); err != nil {
		return err
	}
	st.plan = &plan

	if st.proj == nil {
		proj, err := e.repo.CreateProject(ctx, plan.ProjectName, st.req.Dir, plan.Summary, plan.JSON())
		if err != nil {
			return fmt.Errorf("create project record: %w", err)
		}
		st.proj = proj
	} else if err := e.repo.UpdateProjectPlan(ctx, st.proj.ID, plan.JSON()); err != nil {
		e.logger.Warn("failed to persist plan", "project_id", st.proj.ID, "error", err)
	}
	e.bindTokens(ctx, st)

	st.emit(domain.EventPlanReady, st.plan)
	return nil
}

// phaseCoding walks the plan's tasks. The implementer writes files
// directly into the project directory through its tools; a syntax lint
// after each task can trigger the debug loop early.
func (e *Engine) phaseCoding(ctx context.Context, st *buildState) error {
	st.setPhase(PhaseCoding)

	before := len(project.ListFiles(st.req.Dir))
	for i, task := range st.plan.Tasks {
		st.emit(domain.EventTaskStart, map[string]any{
			"task_number": i + 1,
			"total":       len(st.plan.Tasks),
			"title":       task.Title,
		})

		taskJSON, _ := json.MarshalIndent(task, "", "  ")
		prompt := fmt.Sprintf("Implement this task in the current directory:\n%s", taskJSON)
		contextText := st.codingContext()
		if _, err := st.implementer.Think(ctx, prompt, contextText); err != nil {
			return err
		}

		if task.File != "" {
			st.emit(domain.EventFileCreated, map[string]string{"path": task.File})
			if res := st.box.Lint(ctx, task.File); !res.Success && res.Stderr != "" {
				e.debugLoop(ctx, st, fmt.Sprintf("Syntax error in %s: %s", task.File, res.Stderr), task.File)
				st.setPhase(PhaseCoding)
			}
		}
	}

	if len(project.ListFiles(st.req.Dir)) == before {
		st.emit(domain.EventWarning, "coding phase produced no files")
	}
	return nil
}

func (st *buildState) codingContext() string {
	var b strings.Builder
	if st.req.Context != "" {
		b.WriteString(st.req.Context)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Tech stack: %s", st.plan.Language())
	if st.plan.TechStack.Framework != "" {
		fmt.Fprintf(&b, " / %s", st.plan.TechStack.Framework)
	}
	if files := project.ListFiles(st.req.Dir); len(files) > 0 {
		fmt.Fprintf(&b, "\nExisting files: %s", strings.Join(files, ", "))
	}
	return b.String()
}

// phaseReviewing runs a reviewer/implementer dialogue over the files the
// coding phase produced.
func (e *Engine) phaseReviewing(ctx context.Context, st *buildState) error {
	st.setPhase(PhaseReviewing)

	out, err := dialogue.Run(ctx, st.implementer, st.reviewer, dialogue.Config{
		Topic: "Code Review: " + truncate(st.req.Task, 100),
		Task: "Review the project files in the current directory. " +
			"Check for bugs, security issues, edge cases, and correctness. " +
			"If the code looks good, say 'APPROVED'. " +
			"If issues exist, list them clearly so they can be fixed.",
		CritiquePrompt: "Re-review the project files after the fixes above. " +
			"Say 'APPROVED' if the issues are resolved.",
		RevisePrompt: "The Reviewer found issues with the code. " +
			"Fix all the issues mentioned above using Edit or Write tools.",
		Converged:   dialogue.Approved,
		CriticFirst: true,
	}, st.emit)
	if err != nil {
		return err
	}

	st.emit(domain.EventReviewComplete, map[string]any{
		"approved":  out.Resolved,
		"exchanges": out.Exchanges,
		"summary":   truncate(out.LastCritique, 1000),
	})
	if !out.Resolved {
		st.errs = append(st.errs, "review ended unapproved")
	}
	return nil
}

// phaseTesting runs a tester/fixer dialogue: the tester writes and runs
// tests, the fixer addresses failures.
func (e *Engine) phaseTesting(ctx context.Context, st *buildState) error {
	st.setPhase(PhaseTesting)

	out, err := dialogue.Run(ctx, st.fixer, st.tester, dialogue.Config{
		Topic: "Test & Debug: " + truncate(st.req.Task, 100),
		Task: "Write tests for the project in the current directory and run them. " +
			"Report clearly what passes and what fails.",
		CritiquePrompt: "Fixes were applied above. Re-run the tests and report " +
			"what passes and what still fails.",
		RevisePrompt: "The test results above show failures. Diagnose the root " +
			"cause and describe targeted fixes for each failure.",
		Converged:   dialogue.TestsPassed,
		CriticFirst: true,
	}, st.emit)
	if err != nil {
		return err
	}

	st.emit(domain.EventTestComplete, map[string]any{
		"passing":   out.Resolved,
		"exchanges": out.Exchanges,
		"summary":   truncate(out.LastCritique, 1000),
	})
	if !out.Resolved {
		st.errs = append(st.errs, "tests not fully passing")
	}
	return nil
}

// phaseVerifying installs dependencies and executes the entry point in
// the sandbox, entering the debug loop on failure.
func (e *Engine) phaseVerifying(ctx context.Context, st *buildState) error {
	st.setPhase(PhaseVerifying)

	files := project.ListFiles(st.req.Dir)
	if len(files) == 0 {
		st.emit(domain.EventWarning, "no files to verify")
		return nil
	}

	if deps := st.plan.TechStack.Dependencies; len(deps) > 0 {
		st.emit(domain.EventInstallingDeps, deps)
		if res := st.box.InstallDeps(ctx, st.plan.Language(), deps); !res.Success {
			st.emit(domain.EventWarning, "dependency install failed: "+firstNonEmpty(res.Error, res.Stderr))
		}
	}

	entry := findEntryPoint(st.plan.Language(), files)
	if entry == "" {
		st.emit(domain.EventWarning, "could not find main entry point")
		return nil
	}

	res := st.box.RunScript(ctx, entry)
	st.recordExecution(entry, res)

	if !res.Success && (res.Stderr != "" || res.Error != "") {
		e.debugLoop(ctx, st, firstNonEmpty(res.Stderr, res.Error), entry)
		st.setPhase(PhaseVerifying)
	}
	return nil
}

// debugLoop asks the fixer for targeted fixes, applies them, and re-runs
// the failing check, up to maxDebugIterations per build. Exhaustion is
// reported but never fails the build.
func (e *Engine) debugLoop(ctx context.Context, st *buildState, errText, entry string) {
	st.setPhase(PhaseDebugging)

	for st.iterations < maxDebugIterations {
		st.iterations++
		st.emit(domain.EventDebugAttempt, map[string]any{
			"attempt": st.iterations,
			"max":     maxDebugIterations,
			"error":   truncate(errText, 500),
		})

		var fix fixProposal
		err := st.fixer.ThinkStructured(ctx, "Fix this error:\n"+errText, st.codingContext(), &fix)
		if err != nil {
			if errors.Is(err, provider.ErrUnparseable) {
				st.emit(domain.EventWarning, "debugger produced no actionable fix")
				break
			}
			st.errs = append(st.errs, err.Error())
			break
		}

		if !st.applyFix(fix) {
			st.emit(domain.EventWarning, "debugger fix was not applicable")
			break
		}

		res := st.box.RunScript(ctx, entry)
		st.recordExecution(entry, res)
		if res.Success {
			st.emit(domain.EventDebugFixed, map[string]string{
				"file":      fix.FilePath,
				"diagnosis": fix.Diagnosis,
			})
			return
		}
		errText = firstNonEmpty(res.Stderr, res.Error)
	}

	st.emit(domain.EventDebugExhausted, map[string]any{
		"attempts": st.iterations,
	})
	st.errs = append(st.errs, fmt.Sprintf("debug loop exhausted after %d attempts", st.iterations))
}

// fixProposal is the fixer's structured output.
type fixProposal struct {
	Diagnosis string `json:"diagnosis"`
	FilePath  string `json:"file_path"`
	Fix       struct {
		Description string `json:"description"`
		OldCode     string `json:"old_code"`
		NewCode     string `json:"new_code"`
	} `json:"fix"`
}

// applyFix writes a proposed fix into the project. Substantial new code
// replaces the whole file; short snippets are substituted for the quoted
// old code. A substitution whose old code is absent leaves the file
// unchanged without signaling, matching the established behavior.
func (st *buildState) applyFix(fix fixProposal) bool {
	if fix.FilePath == "" || fix.Fix.NewCode == "" {
		return false
	}

	if len(fix.Fix.NewCode) > fullReplaceThreshold {
		if _, err := st.box.WriteFile(fix.FilePath, fix.Fix.NewCode); err != nil {
			st.errs = append(st.errs, err.Error())
			return false
		}
	} else {
		if fix.Fix.OldCode == "" {
			return false
		}
		content, err := st.box.ReadFile(fix.FilePath)
		if err != nil {
			st.errs = append(st.errs, err.Error())
			return false
		}
		updated := strings.ReplaceAll(content, fix.Fix.OldCode, fix.Fix.NewCode)
		if _, err := st.box.WriteFile(fix.FilePath, updated); err != nil {
			st.errs = append(st.errs, err.Error())
			return false
		}
	}

	st.emit(domain.EventFileUpdated, map[string]string{
		"path":      fix.FilePath,
		"diagnosis": fix.Diagnosis,
	})
	return true
}

func (st *buildState) recordExecution(file string, res *sandbox.Result) {
	st.executions = append(st.executions, executionRecord{
		File:    file,
		Success: res.Success,
		Stdout:  res.Stdout,
		Stderr:  firstNonEmpty(res.Stderr, res.Error),
	})
	st.emit(domain.EventExecutionResult, map[string]any{
		"file":    file,
		"success": res.Success,
		"stdout":  truncate(res.Stdout, 1000),
		"stderr":  truncate(firstNonEmpty(res.Stderr, res.Error), 1000),
	})
}

// complete enumerates the final tree, updates the record, and saves the
// plan and build log artifacts next to the code.
func (e *Engine) complete(ctx context.Context, st *buildState) {
	files := project.ListFiles(st.req.Dir)

	if st.proj != nil {
		if err := e.repo.TouchProject(ctx, st.proj.ID, len(files)); err != nil {
			e.logger.Warn("failed to update project record", "project_id", st.proj.ID, "error", err)
		}
		st.proj.FileCount = len(files)
	}

	e.saveArtifacts(st)
	st.setPhase(PhaseComplete)
	st.emit(domain.EventBuildComplete, map[string]any{
		"project": st.plan.ProjectName,
		"files":   files,
	})
}

// saveArtifacts writes plan.json and build_log.json into the project
// directory for later resumption and inspection.
func (e *Engine) saveArtifacts(st *buildState) {
	planPath := filepath.Join(st.req.Dir, "plan.json")
	if data, err := json.MarshalIndent(st.plan, "", "  "); err == nil {
		if err := os.WriteFile(planPath, data, 0644); err != nil {
			e.logger.Warn("failed to save plan artifact", "path", planPath, "error", err)
		}
	}

	log := map[string]any{
		"user_request":      st.req.Task,
		"iterations":        st.iterations,
		"execution_results": st.executions,
		"errors":            st.errs,
	}
	logPath := filepath.Join(st.req.Dir, "build_log.json")
	if data, err := json.MarshalIndent(log, "", "  "); err == nil {
		if err := os.WriteFile(logPath, data, 0644); err != nil {
			e.logger.Warn("failed to save build log", "path", logPath, "error", err)
		}
	}
}

// findEntryPoint picks the file to execute for verification, preferring
// conventional entry names per language and falling back to the first file.
func findEntryPoint(language string, files []string) string {
	preferred := map[string][]string{
		"python":     {"main.py", "app.py", "run.py", "__main__.py"},
		"javascript": {"index.js", "main.js", "app.js"},
		"js":         {"index.js", "main.js", "app.js"},
		"node":       {"index.js", "main.js", "app.js"},
	}

	names, ok := preferred[strings.ToLower(language)]
	if !ok {
		names = []string{"main.py"}
	}
	have := make(map[string]bool, len(files))
	for _, f := range files {
		have[f] = true
	}
	for _, n := range names {
		if have[n] {
			return n
		}
	}
	if len(files) > 0 {
		return files[0]
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
