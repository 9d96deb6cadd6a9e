package orchestrator

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/roles"
	"github.com/liamavtal/vibe-agents/internal/sandbox"
	"github.com/liamavtal/vibe-agents/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validPlan = `{
	"project_name": "todo-app",
	"summary": "a todo app",
	"tech_stack": {"language": "python"},
	"files": ["main.py"],
	"tasks": [{"title": "write main", "file": "main.py"}]
}`

// roleProvider scripts responses per role, identified by system prompt.
// The onImplement hook simulates the implementer's tool use by writing
// files into the project directory.
type roleProvider struct {
	byRole      map[string][]string
	onImplement func()
	calls       int
}

func (p *roleProvider) Invoke(_ context.Context, inv provider.Invocation) (*provider.Result, error) {
	p.calls++
	role := roleFor(inv.SystemPrompt)
	if role == roles.Implementer.Name && p.onImplement != nil {
		p.onImplement()
	}
	queue := p.byRole[role]
	if len(queue) == 0 {
		return &provider.Result{Text: "done"}, nil
	}
	text := queue[0]
	p.byRole[role] = queue[1:]
	return &provider.Result{Text: text, ContinuationToken: "tok-" + role}, nil
}

func (p *roleProvider) Stream(ctx context.Context, inv provider.Invocation) iter.Seq2[*provider.Delta, error] {
	return func(yield func(*provider.Delta, error) bool) {
		res, err := p.Invoke(ctx, inv)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&provider.Delta{Text: res.Text, Final: true}, nil)
	}
}

func (p *roleProvider) Available() error { return nil }

func roleFor(systemPrompt string) string {
	for _, r := range roles.All() {
		if r.SystemPrompt == systemPrompt {
			return r.Name
		}
	}
	return ""
}

// scriptedRunner replays canned outputs per invocation.
type scriptedRunner struct {
	outputs []*sandbox.RunOutput
	runs    [][]string
}

func (r *scriptedRunner) Run(_ context.Context, spec sandbox.RunSpec) (*sandbox.RunOutput, error) {
	r.runs = append(r.runs, spec.Args)
	if len(r.outputs) == 0 {
		return &sandbox.RunOutput{}, nil
	}
	out := r.outputs[0]
	r.outputs = r.outputs[1:]
	return out, nil
}

type eventLog struct {
	events []domain.EventType
}

func (l *eventLog) emit(t domain.EventType, _ any) {
	l.events = append(l.events, t)
}

func (l *eventLog) has(t domain.EventType) bool {
	for _, e := range l.events {
		if e == t {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, prov provider.Provider, runner sandbox.Runner) (*Engine, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if runner == nil {
		runner = &scriptedRunner{}
	}
	pool := sandbox.NewPool(10, runner, 0, discardLogger())
	t.Cleanup(pool.DestroyAll)
	return NewEngine(prov, repo, pool, discardLogger()), repo
}

func TestBuildHappyPath(t *testing.T) {
	dir := t.TempDir()
	prov := &roleProvider{
		byRole: map[string][]string{
			roles.Planner.Name:  {validPlan},
			roles.Reviewer.Name: {"APPROVED"},
			roles.Tester.Name:   {"all tests passed"},
		},
		onImplement: func() {
			os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0644)
		},
	}
	engine, repo := newTestEngine(t, prov, nil)
	log := &eventLog{}

	res, err := engine.Build(context.Background(), Request{
		Task: "build me a todo app",
		Dir:  dir,
		Emit: log.emit,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Phase != PhaseComplete {
		t.Errorf("expected complete phase, got %s", res.Phase)
	}
	if res.Project == nil || res.Project.Name != "todo-app" {
		t.Fatalf("expected project record, got %+v", res.Project)
	}

	// A record was created with the plan persisted.
	stored, err := repo.GetProject(context.Background(), res.Project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if stored.Plan() == nil {
		t.Error("plan not persisted on record")
	}

	// Continuation tokens were stored per role.
	tok, err := repo.GetToken(context.Background(), res.Project.ID, roles.Reviewer.Name)
	if err != nil || tok == "" {
		t.Errorf("reviewer token not persisted: %q, %v", tok, err)
	}

	// Artifacts live next to the code.
	for _, name := range []string{"plan.json", "build_log.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	for _, want := range []domain.EventType{
		domain.EventPhaseChanged, domain.EventPlanReady, domain.EventTaskStart,
		domain.EventReviewComplete, domain.EventTestComplete,
		domain.EventExecutionResult, domain.EventBuildComplete,
	} {
		if !log.has(want) {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestBuildFailsOnInvalidPlan(t *testing.T) {
	prov := &roleProvider{
		byRole: map[string][]string{
			roles.Planner.Name: {"I cannot plan this right now."},
		},
	}
	engine, _ := newTestEngine(t, prov, nil)
	log := &eventLog{}

	res, err := engine.Build(context.Background(), Request{
		Task: "build something",
		Dir:  t.TempDir(),
		Emit: log.emit,
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if res.Success {
		t.Error("expected failure on invalid plan")
	}
	if res.Phase != PhaseFailed {
		t.Errorf("expected failed phase, got %s", res.Phase)
	}
	if len(res.Files) != 0 {
		t.Errorf("expected zero files, got %v", res.Files)
	}
	if !log.has(domain.EventError) {
		t.Error("missing error event")
	}
}

func TestBuildDebugLoopFixesExecution(t *testing.T) {
	dir := t.TempDir()
	fix := `{"diagnosis": "missing colon", "file_path": "main.py",
		"fix": {"description": "rewrite", "old_code": "", "new_code": "` +
		strings.Repeat("x", fullReplaceThreshold+1) + `"}}`

	prov := &roleProvider{
		byRole: map[string][]string{
			roles.Planner.Name:  {validPlan},
			roles.Reviewer.Name: {"APPROVED"},
			roles.Tester.Name:   {"all tests passed"},
			roles.Fixer.Name:    {fix},
		},
		onImplement: func() {
			os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi'\n"), 0644)
		},
	}
	// Lint ok, first run fails, re-run after fix succeeds.
	runner := &scriptedRunner{outputs: []*sandbox.RunOutput{
		{},
		{Stderr: []byte("SyntaxError: unexpected EOF"), ExitCode: 1},
		{},
	}}
	engine, _ := newTestEngine(t, prov, runner)
	log := &eventLog{}

	res, err := engine.Build(context.Background(), Request{Task: "build todo", Dir: dir, Emit: log.emit})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected degraded-but-successful build, got %+v", res)
	}
	if res.Iterations != 1 {
		t.Errorf("expected 1 debug iteration, got %d", res.Iterations)
	}
	if !log.has(domain.EventDebugFixed) {
		t.Error("missing debug_fixed event")
	}
	if log.has(domain.EventDebugExhausted) {
		t.Error("unexpected debug_exhausted event")
	}

	// The fix replaced the file wholesale.
	content, _ := os.ReadFile(filepath.Join(dir, "main.py"))
	if !strings.HasPrefix(string(content), "xxx") {
		t.Error("fix was not applied to the file")
	}
}

func TestBuildDebugLoopExhausts(t *testing.T) {
	dir := t.TempDir()
	fix := `{"diagnosis": "still broken", "file_path": "main.py",
		"fix": {"description": "rewrite", "old_code": "", "new_code": "` +
		strings.Repeat("y", fullReplaceThreshold+1) + `"}}`

	prov := &roleProvider{
		byRole: map[string][]string{
			roles.Planner.Name:  {validPlan},
			roles.Reviewer.Name: {"APPROVED"},
			roles.Tester.Name:   {"all tests passed"},
			roles.Fixer.Name:    {fix, fix, fix},
		},
		onImplement: func() {
			os.WriteFile(filepath.Join(dir, "main.py"), []byte("broken"), 0644)
		},
	}
	// Lint ok, then every execution fails.
	runner := &scriptedRunner{outputs: []*sandbox.RunOutput{
		{},
		{Stderr: []byte("boom"), ExitCode: 1},
		{Stderr: []byte("boom"), ExitCode: 1},
		{Stderr: []byte("boom"), ExitCode: 1},
		{Stderr: []byte("boom"), ExitCode: 1},
	}}
	engine, _ := newTestEngine(t, prov, runner)
	log := &eventLog{}

	res, err := engine.Build(context.Background(), Request{Task: "build todo", Dir: dir, Emit: log.emit})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// Exhaustion degrades but does not fail the build.
	if !res.Success {
		t.Errorf("expected degraded success, got %+v", res)
	}
	if res.Iterations != maxDebugIterations {
		t.Errorf("expected %d iterations, got %d", maxDebugIterations, res.Iterations)
	}
	if !log.has(domain.EventDebugExhausted) {
		t.Error("missing debug_exhausted event")
	}
	if len(res.Errors) == 0 {
		t.Error("expected exhaustion recorded in errors")
	}
}

func TestApplyFixSubstringReplace(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "calc.py"), []byte("total = a - b\n"), 0644)

	box := sandbox.New(&scriptedRunner{}, 0, discardLogger())
	if err := box.Attach(dir); err != nil {
		t.Fatal(err)
	}
	st := &buildState{box: box, emit: domain.NopEmit}

	var fix fixProposal
	fix.FilePath = "calc.py"
	fix.Fix.OldCode = "a - b"
	fix.Fix.NewCode = "a + b"

	if !st.applyFix(fix) {
		t.Fatal("applyFix returned false")
	}
	content, _ := os.ReadFile(filepath.Join(dir, "calc.py"))
	if string(content) != "total = a + b\n" {
		t.Errorf("unexpected content %q", content)
	}

	// Old code absent: file stays unchanged, fix still counts as applied.
	fix.Fix.OldCode = "not in the file"
	fix.Fix.NewCode = "whatever"
	if !st.applyFix(fix) {
		t.Fatal("applyFix returned false for absent old code")
	}
	content, _ = os.ReadFile(filepath.Join(dir, "calc.py"))
	if string(content) != "total = a + b\n" {
		t.Errorf("file changed unexpectedly: %q", content)
	}
}

func TestFindEntryPoint(t *testing.T) {
	cases := []struct {
		language string
		files    []string
		want     string
	}{
		{"python", []string{"util.py", "app.py", "main.py"}, "main.py"},
		{"python", []string{"server.py"}, "server.py"},
		{"javascript", []string{"lib.js", "index.js"}, "index.js"},
		{"go", []string{"whatever.py"}, "whatever.py"},
		{"python", nil, ""},
	}
	for _, tc := range cases {
		if got := findEntryPoint(tc.language, tc.files); got != tc.want {
			t.Errorf("findEntryPoint(%s, %v) = %q, want %q", tc.language, tc.files, got, tc.want)
		}
	}
}
