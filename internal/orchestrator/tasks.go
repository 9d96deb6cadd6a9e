package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/roles"
)

// TaskResult is the outcome of a single-role task outside the full
// pipeline.
type TaskResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	// Diagnosis and FixedFile are set for fixer tasks.
	Diagnosis string `json:"diagnosis,omitempty"`
	FixedFile string `json:"fixed_file,omitempty"`
}

// RunTask executes one role against a bound directory without running the
// full pipeline: focused coding, a fix, a review, or a test pass.
func (e *Engine) RunTask(ctx context.Context, role roles.Role, task, dir string, proj *domain.Project, contextText string, emit domain.EmitFunc) (*TaskResult, error) {
	if emit == nil {
		emit = domain.NopEmit
	}
	emit(domain.EventPhaseChanged, map[string]string{"phase": phaseForRole(role)})

	worker := roles.NewWorker(role, e.prov)
	worker.SetWorkDir(dir)
	worker.OnEvent(emit)
	if proj != nil {
		projectID := proj.ID
		roleName := role.Name
		if tok, err := e.repo.GetToken(ctx, projectID, roleName); err == nil && tok != "" {
			worker.SetResume(tok)
		}
		worker.OnToken(func(ctx context.Context, token string) error {
			return e.repo.SaveToken(ctx, projectID, roleName, token)
		})
	}

	if role.Name == roles.Fixer.Name {
		return e.runFixTask(ctx, worker, task, dir, emit)
	}

	text, err := worker.Think(ctx, task, contextText)
	if err != nil {
		return nil, err
	}
	if proj != nil {
		if err := e.repo.TouchProject(ctx, proj.ID, -1); err != nil {
			e.logger.Warn("failed to touch project", "project_id", proj.ID, "error", err)
		}
	}
	return &TaskResult{Type: role.Name, Success: true, Text: text}, nil
}

// runFixTask asks the fixer for a structured fix and applies it to the
// bound directory.
func (e *Engine) runFixTask(ctx context.Context, worker *roles.Worker, task, dir string, emit domain.EmitFunc) (*TaskResult, error) {
	var fix fixProposal
	if err := worker.ThinkStructured(ctx, task, "", &fix); err != nil {
		if errors.Is(err, provider.ErrUnparseable) {
			return &TaskResult{Type: roles.Fixer.Name, Success: false, Text: "no actionable fix produced"}, nil
		}
		return nil, err
	}

	box, err := e.pool.Acquire(dir, dir)
	if err != nil {
		return nil, fmt.Errorf("bind fix sandbox: %w", err)
	}
	st := &buildState{box: box, emit: emit}
	applied := st.applyFix(fix)

	return &TaskResult{
		Type:      roles.Fixer.Name,
		Success:   applied,
		Diagnosis: fix.Diagnosis,
		FixedFile: fix.FilePath,
	}, nil
}

func phaseForRole(role roles.Role) string {
	switch role.Name {
	case roles.Implementer.Name:
		return string(PhaseCoding)
	case roles.Reviewer.Name:
		return string(PhaseReviewing)
	case roles.Tester.Name:
		return string(PhaseTesting)
	case roles.Fixer.Name:
		return string(PhaseDebugging)
	default:
		return string(PhasePlanning)
	}
}
