// Package intent classifies user messages into routing decisions.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/roles"
)

// Decision is a sealed routing decision. The concrete variants are
// Conversation, Build, RoleTask, and Malformed.
type Decision interface {
	isDecision()
}

// Conversation answers the user directly without invoking a pipeline.
type Conversation struct {
	Reply string
}

// Build runs the full build pipeline with the extracted task.
type Build struct {
	Task string
}

// RoleTask invokes a single role with the extracted task.
type RoleTask struct {
	Role roles.Role
	Task string
}

// Malformed carries raw classifier output that could not be interpreted.
// Callers treat it as a conversation with the raw text as the reply.
type Malformed struct {
	Raw string
}

func (Conversation) isDecision() {}
func (Build) isDecision()        {}
func (RoleTask) isDecision()     {}
func (Malformed) isDecision()    {}

const systemPrompt = `You are the coordinator of a multi-agent coding system and the first point of contact for every message.

Classify each request into exactly one action:

- CONVERSATION: greetings, questions, advice, discussion before building. Respond directly.
- BUILD: requests for complete new software ("build me a...", "create an application that...").
- CODE_ONLY: small focused coding tasks ("write a function that...", "add a feature to...").
- FIX: error messages or broken code ("why isn't this working...").
- REVIEW: code quality or security questions ("review this code...").
- TEST: requests to write or run tests.

Respond with ONLY valid JSON, no markdown and no text outside the JSON:

{
    "action": "CONVERSATION|BUILD|CODE_ONLY|FIX|REVIEW|TEST",
    "response": "If CONVERSATION, your direct reply. Otherwise null.",
    "task_for_agents": "If not CONVERSATION, a clear task description. Otherwise null."
}

Default to CONVERSATION when unsure. Prefer CODE_ONLY over BUILD for small tasks.`

// decision is the classifier's wire format.
type decision struct {
	Action   string `json:"action"`
	Response string `json:"response"`
	Task     string `json:"task_for_agents"`
}

// Classifier routes user messages via the capability provider.
type Classifier struct {
	prov provider.Provider
}

// NewClassifier creates a classifier backed by the given provider.
func NewClassifier(prov provider.Provider) *Classifier {
	return &Classifier{prov: prov}
}

// Classify routes one user message. Provider errors are returned; output
// that cannot be interpreted degrades to Malformed rather than failing,
// so a chat session never dies on a sloppy classifier reply.
func (c *Classifier) Classify(ctx context.Context, message, contextText string) (Decision, error) {
	res, err := c.prov.Invoke(ctx, provider.Invocation{
		Prompt:       message,
		Context:      contextText,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("classify message: %w", err)
	}
	return interpret(res.Text), nil
}

// interpret maps raw classifier output to a Decision.
func interpret(text string) Decision {
	var d decision
	if err := provider.DecodeStructured(text, &d); err != nil {
		return Malformed{Raw: strings.TrimSpace(text)}
	}

	task := strings.TrimSpace(d.Task)
	switch strings.ToUpper(strings.TrimSpace(d.Action)) {
	case "CONVERSATION":
		return Conversation{Reply: strings.TrimSpace(d.Response)}
	case "BUILD":
		if task == "" {
			return Malformed{Raw: text}
		}
		return Build{Task: task}
	case "CODE_ONLY":
		return roleTask(roles.Implementer, task, text)
	case "FIX":
		return roleTask(roles.Fixer, task, text)
	case "REVIEW":
		return roleTask(roles.Reviewer, task, text)
	case "TEST":
		return roleTask(roles.Tester, task, text)
	default:
		return Malformed{Raw: text}
	}
}

func roleTask(role roles.Role, task, raw string) Decision {
	if task == "" {
		return Malformed{Raw: raw}
	}
	return RoleTask{Role: role, Task: task}
}
