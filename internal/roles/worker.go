package roles

import (
	"context"
	"fmt"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/provider"
)

// TokenSaver persists a continuation token after a successful invocation.
// Saving is best effort; failures must not abort the exchange.
type TokenSaver func(ctx context.Context, token string) error

// Worker binds a role to the capability provider and carries the role's
// continuation token across invocations, so consecutive calls under the
// same role resume one provider-side conversation.
type Worker struct {
	Role Role

	prov    provider.Provider
	workDir string
	resume  string
	save    TokenSaver
	emit    domain.EmitFunc
}

// NewWorker creates a worker for a role.
func NewWorker(role Role, prov provider.Provider) *Worker {
	return &Worker{
		Role: role,
		prov: prov,
		emit: domain.NopEmit,
	}
}

// SetWorkDir sets the directory tool-enabled invocations operate in.
func (w *Worker) SetWorkDir(dir string) { w.workDir = dir }

// SetResume seeds the continuation token, typically when resuming a
// stored project.
func (w *Worker) SetResume(token string) { w.resume = token }

// Resume returns the current continuation token, or "".
func (w *Worker) Resume() string { return w.resume }

// ClearResume drops the continuation token so the next invocation starts
// a fresh exchange.
func (w *Worker) ClearResume() { w.resume = "" }

// OnToken registers the persistence hook for new continuation tokens.
func (w *Worker) OnToken(save TokenSaver) { w.save = save }

// OnEvent registers the progress-event sink.
func (w *Worker) OnEvent(emit domain.EmitFunc) {
	if emit == nil {
		emit = domain.NopEmit
	}
	w.emit = emit
}

// Think runs one invocation under this role and returns the text result.
func (w *Worker) Think(ctx context.Context, task, contextText string) (string, error) {
	w.emit(domain.EventWorkerMessage, map[string]string{
		"role":  w.Role.Name,
		"state": "thinking",
		"task":  truncate(task, 100),
	})

	res, err := w.prov.Invoke(ctx, provider.Invocation{
		Prompt:       task,
		Context:      contextText,
		SystemPrompt: w.Role.SystemPrompt,
		Resume:       w.resume,
		WorkDir:      w.workDir,
		Tools:        w.Role.Tools,
	})
	if err != nil {
		return "", fmt.Errorf("%s invocation: %w", w.Role.Name, err)
	}

	if res.ContinuationToken != "" {
		w.resume = res.ContinuationToken
		if w.save != nil {
			_ = w.save(ctx, res.ContinuationToken)
		}
	}

	w.emit(domain.EventWorkerMessage, map[string]string{
		"role":  w.Role.Name,
		"state": "responded",
		"text":  truncate(res.Text, 500),
	})
	return res.Text, nil
}

// ThinkStructured runs one invocation and decodes the role's JSON output
// into v.
func (w *Worker) ThinkStructured(ctx context.Context, task, contextText string, v any) error {
	text, err := w.Think(ctx, task, contextText)
	if err != nil {
		return err
	}
	if err := provider.DecodeStructured(text, v); err != nil {
		return fmt.Errorf("%s output: %w", w.Role.Name, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
