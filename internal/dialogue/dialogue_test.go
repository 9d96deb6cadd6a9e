package dialogue

import (
	"context"
	"iter"
	"testing"

	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/roles"
)

// scriptedProvider replays canned responses in order.
type scriptedProvider struct {
	responses []string
	calls     []provider.Invocation
}

func (p *scriptedProvider) Invoke(_ context.Context, inv provider.Invocation) (*provider.Result, error) {
	p.calls = append(p.calls, inv)
	if len(p.responses) == 0 {
		return &provider.Result{Text: "nothing left to say"}, nil
	}
	text := p.responses[0]
	p.responses = p.responses[1:]
	return &provider.Result{Text: text}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, inv provider.Invocation) iter.Seq2[*provider.Delta, error] {
	return func(yield func(*provider.Delta, error) bool) {
		res, err := p.Invoke(ctx, inv)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&provider.Delta{Text: res.Text, Final: true}, nil)
	}
}

func (p *scriptedProvider) Available() error { return nil }

func reviewConfig() Config {
	return Config{
		Topic:          "Code Review: todo app",
		Task:           "implement the todo app",
		CritiquePrompt: "Review the code changes described above.",
		RevisePrompt:   "Fix all the issues mentioned above.",
		Converged:      Approved,
	}
}

func TestRunResolvesOnImmediateApproval(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		"implemented the app",
		"APPROVED",
	}}
	producer := roles.NewWorker(roles.Implementer, prov)
	critic := roles.NewWorker(roles.Reviewer, prov)

	out, err := Run(context.Background(), producer, critic, reviewConfig(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out.Resolved {
		t.Error("expected dialogue to resolve on approval")
	}
	if out.Exchanges != 2 {
		t.Errorf("expected 2 exchanges, got %d", out.Exchanges)
	}
	if len(prov.calls) != 2 {
		t.Errorf("expected 2 provider calls, got %d", len(prov.calls))
	}
}

func TestRunRevisesAfterRejection(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		"implemented the app",
		"found a bug in the date parsing",
		"fixed the date parsing",
		"approved",
	}}
	producer := roles.NewWorker(roles.Implementer, prov)
	critic := roles.NewWorker(roles.Reviewer, prov)

	out, err := Run(context.Background(), producer, critic, reviewConfig(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out.Resolved {
		t.Error("expected dialogue to resolve after revision")
	}
	if out.Exchanges != 4 {
		t.Errorf("expected 4 exchanges, got %d", out.Exchanges)
	}
	// The revision prompt goes to the producer with the transcript.
	revision := prov.calls[2]
	if revision.Prompt != "Fix all the issues mentioned above." {
		t.Errorf("unexpected revision prompt %q", revision.Prompt)
	}
	if revision.Context == "" {
		t.Error("revision call missing transcript context")
	}
}

func TestRunNeverExceedsExchangeBound(t *testing.T) {
	prov := &scriptedProvider{} // every reply is "nothing left to say": never converges
	producer := roles.NewWorker(roles.Implementer, prov)
	critic := roles.NewWorker(roles.Reviewer, prov)

	cfg := reviewConfig()
	cfg.MaxRounds = 3
	out, err := Run(context.Background(), producer, critic, cfg, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Resolved {
		t.Error("dialogue should not have resolved")
	}
	if out.Exchanges > cfg.MaxRounds*2 {
		t.Errorf("exchanges %d exceed bound %d", out.Exchanges, cfg.MaxRounds*2)
	}
}

func TestRunCriticFirstStopsWhenTestsPass(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		"ran pytest: all tests passed",
	}}
	fixer := roles.NewWorker(roles.Fixer, prov)
	tester := roles.NewWorker(roles.Tester, prov)

	out, err := Run(context.Background(), fixer, tester, Config{
		Topic:          "Test & Debug: todo app",
		Task:           "write and run tests for the project",
		CritiquePrompt: "Re-run the tests to see if the issues are resolved.",
		RevisePrompt:   "Diagnose the failures above and apply fixes.",
		Converged:      TestsPassed,
		CriticFirst:    true,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out.Resolved {
		t.Error("expected immediate resolution on green tests")
	}
	if len(prov.calls) != 1 {
		t.Errorf("fixer should not have been invoked, got %d calls", len(prov.calls))
	}
}

func TestApproved(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"APPROVED", true},
		{"Looks good to me, no issues found.", true},
		{"approved, but there is a bug in the parser", true}, // approved count outweighs
		{"I found an issue with error handling", false},
		{"not approved: security vulnerability in auth", false},
		{"lgtm", true},
		{"this has a problem and needs a fix", false},
	}
	for _, tc := range cases {
		if got := Approved(tc.text); got != tc.want {
			t.Errorf("Approved(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestTestsPassed(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"All tests passed (12 passed in 0.3s)", true},
		{"ran the suite: 0 failed, 12 passed", true},
		{"2 tests failed with AssertionError", false},
		{"tests passed but one error in teardown", false},
		{"Traceback (most recent call last)", false},
		{"everything seems fine", false}, // no positive signal
	}
	for _, tc := range cases {
		if got := TestsPassed(tc.text); got != tc.want {
			t.Errorf("TestsPassed(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
