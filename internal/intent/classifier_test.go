package intent

import (
	"testing"

	"github.com/liamavtal/vibe-agents/internal/roles"
)

func TestInterpretConversation(t *testing.T) {
	d := interpret(`{"action": "CONVERSATION", "response": "Hello! What should we build?"}`)
	conv, ok := d.(Conversation)
	if !ok {
		t.Fatalf("expected Conversation, got %T", d)
	}
	if conv.Reply != "Hello! What should we build?" {
		t.Errorf("unexpected reply %q", conv.Reply)
	}
}

func TestInterpretBuild(t *testing.T) {
	d := interpret(`{"action": "BUILD", "task_for_agents": "build a recipe finder web app"}`)
	b, ok := d.(Build)
	if !ok {
		t.Fatalf("expected Build, got %T", d)
	}
	if b.Task != "build a recipe finder web app" {
		t.Errorf("unexpected task %q", b.Task)
	}
}

func TestInterpretRoleTasks(t *testing.T) {
	cases := []struct {
		action string
		want   roles.Role
	}{
		{"CODE_ONLY", roles.Implementer},
		{"FIX", roles.Fixer},
		{"REVIEW", roles.Reviewer},
		{"TEST", roles.Tester},
	}
	for _, tc := range cases {
		d := interpret(`{"action": "` + tc.action + `", "task_for_agents": "do the thing"}`)
		rt, ok := d.(RoleTask)
		if !ok {
			t.Fatalf("action %s: expected RoleTask, got %T", tc.action, d)
		}
		if rt.Role.Name != tc.want.Name {
			t.Errorf("action %s: expected role %s, got %s", tc.action, tc.want.Name, rt.Role.Name)
		}
	}
}

func TestInterpretFencedOutput(t *testing.T) {
	text := "Here is my decision:\n```json\n{\"action\": \"BUILD\", \"task_for_agents\": \"todo app\"}\n```"
	if _, ok := interpret(text).(Build); !ok {
		t.Errorf("expected fenced JSON to classify as Build")
	}
}

func TestInterpretCaseInsensitiveAction(t *testing.T) {
	d := interpret(`{"action": "conversation", "response": "hi"}`)
	if _, ok := d.(Conversation); !ok {
		t.Errorf("expected lowercase action to classify as Conversation, got %T", d)
	}
}

func TestInterpretMalformed(t *testing.T) {
	cases := []string{
		"I think you should just ask me directly.",
		`{"action": "LAUNCH_ROCKETS", "task_for_agents": "no"}`,
		`{"action": "BUILD"}`,
		`{"action": "FIX", "task_for_agents": ""}`,
	}
	for _, text := range cases {
		if _, ok := interpret(text).(Malformed); !ok {
			t.Errorf("interpret(%q): expected Malformed", text)
		}
	}
}
