package session

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/liamavtal/vibe-agents/internal/intent"
	"github.com/liamavtal/vibe-agents/internal/project"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/store"
)

// scriptedProvider returns canned classifier outputs in order.
type scriptedProvider struct {
	responses []string
	calls     []provider.Invocation
}

func (p *scriptedProvider) Invoke(_ context.Context, inv provider.Invocation) (*provider.Result, error) {
	p.calls = append(p.calls, inv)
	text := `{"action": "CONVERSATION", "response": "hello"}`
	if len(p.responses) > 0 {
		text = p.responses[0]
		p.responses = p.responses[1:]
	}
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

func newTestConversation(t *testing.T, prov provider.Provider) *Conversation {
	t.Helper()
	repo, err := store.NewSQLite(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	return NewConversation(Deps{
		Classifier: intent.NewClassifier(prov),
		Context:    project.NewContextBuilder(repo),
		Repo:       repo,
		Logger:     discardLogger(),
	}, nil)
}

func TestChatConversationReply(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"action": "CONVERSATION", "response": "Hi! What should we build?"}`,
	}}
	conv := newTestConversation(t, prov)

	res, err := conv.Chat(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if res.Type != "conversation" {
		t.Errorf("expected conversation result, got %s", res.Type)
	}
	if res.Response != "Hi! What should we build?" {
		t.Errorf("unexpected response: %q", res.Response)
	}
}

func TestChatMalformedDegradesToReply(t *testing.T) {
	prov := &scriptedProvider{responses: []string{"sure, sounds good!"}}
	conv := newTestConversation(t, prov)

	res, err := conv.Chat(context.Background(), "thanks")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if res.Type != "conversation" {
		t.Errorf("expected conversation result, got %s", res.Type)
	}
	if res.Response != "sure, sounds good!" {
		t.Errorf("expected raw text as reply, got %q", res.Response)
	}
}

func TestChatEmptyConversationReplyGetsFallback(t *testing.T) {
	prov := &scriptedProvider{responses: []string{
		`{"action": "CONVERSATION", "response": ""}`,
	}}
	conv := newTestConversation(t, prov)

	res, err := conv.Chat(context.Background(), "hm")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if res.Response == "" {
		t.Error("expected a fallback reply for an empty classifier response")
	}
}

func TestChatRoutingContextIncludesHistory(t *testing.T) {
	prov := &scriptedProvider{}
	conv := newTestConversation(t, prov)

	if _, err := conv.Chat(context.Background(), "first message"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if _, err := conv.Chat(context.Background(), "second message"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	last := prov.calls[len(prov.calls)-1]
	if !strings.Contains(last.Context, "first message") {
		t.Errorf("expected routing context to carry earlier messages, got %q", last.Context)
	}
	if !strings.Contains(last.Context, "assistant:") {
		t.Errorf("expected routing context to carry assistant turns, got %q", last.Context)
	}
}

func TestChatHistoryIsBounded(t *testing.T) {
	prov := &scriptedProvider{}
	conv := newTestConversation(t, prov)

	for i := 0; i < 30; i++ {
		if _, err := conv.Chat(context.Background(), "message"); err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
	}
	if len(conv.messages) > maxHistory {
		t.Errorf("expected at most %d messages, got %d", maxHistory, len(conv.messages))
	}
}

func TestClearResetsState(t *testing.T) {
	prov := &scriptedProvider{}
	conv := newTestConversation(t, prov)

	if _, err := conv.Chat(context.Background(), "hello"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	conv.activeProjectID = 7
	conv.activeName = "demo"

	conv.Clear()
	if len(conv.messages) != 0 {
		t.Error("expected transcript cleared")
	}
	if conv.ActiveProjectID() != 0 || conv.ActiveProjectName() != "" {
		t.Error("expected project binding cleared")
	}
}

func TestResumeProjectBindsAndReturnsSummary(t *testing.T) {
	prov := &scriptedProvider{}
	conv := newTestConversation(t, prov)

	dir := t.TempDir()
	p, err := conv.deps.Repo.CreateProject(context.Background(), "todo-app", dir, "a todo app", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	summary, err := conv.ResumeProject(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ResumeProject failed: %v", err)
	}
	if !strings.Contains(summary, "todo-app") {
		t.Errorf("expected summary to name the project, got %q", summary)
	}
	if conv.ActiveProjectID() != p.ID {
		t.Errorf("expected bound project %d, got %d", p.ID, conv.ActiveProjectID())
	}
	if conv.ActiveProjectName() != "todo-app" {
		t.Errorf("expected bound name todo-app, got %s", conv.ActiveProjectName())
	}
}

func TestResumeProjectMissing(t *testing.T) {
	prov := &scriptedProvider{}
	conv := newTestConversation(t, prov)

	if _, err := conv.ResumeProject(context.Background(), 999); err == nil {
		t.Error("expected error for unknown project")
	}
}
