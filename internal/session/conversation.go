// Package session holds the per-connection session layer: conversations,
// their manager, and the idle janitor.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/intent"
	"github.com/liamavtal/vibe-agents/internal/orchestrator"
	"github.com/liamavtal/vibe-agents/internal/project"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/store"
)

// maxHistory bounds the conversation transcript kept in memory.
const maxHistory = 20

// message is one transcript entry.
type message struct {
	Role    string
	Content string
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	Type     string                   `json:"type"`
	Response string                   `json:"response,omitempty"`
	Build    *orchestrator.Result     `json:"build,omitempty"`
	Task     *orchestrator.TaskResult `json:"task,omitempty"`
}

// Deps bundles the collaborators a conversation needs.
type Deps struct {
	Classifier *intent.Classifier
	Engine     *orchestrator.Engine
	Locator    *project.Locator
	Context    *project.ContextBuilder
	Repo       store.Repository
	Logger     *slog.Logger
}

// Conversation is one session's dialogue state: a bounded transcript and
// an optional bound project. Not safe for concurrent use; the session
// serializes access.
type Conversation struct {
	deps Deps
	emit domain.EmitFunc

	messages        []message
	activeProjectID int64
	activeName      string
}

// NewConversation creates a conversation emitting progress to emit.
func NewConversation(deps Deps, emit domain.EmitFunc) *Conversation {
	if emit == nil {
		emit = domain.NopEmit
	}
	return &Conversation{deps: deps, emit: emit}
}

// ActiveProjectID returns the bound project, or 0.
func (c *Conversation) ActiveProjectID() int64 { return c.activeProjectID }

// ActiveProjectName returns the bound project's name, or "".
func (c *Conversation) ActiveProjectName() string { return c.activeName }

// Chat processes one user message: classify, route, and respond.
func (c *Conversation) Chat(ctx context.Context, userMessage string) (*ChatResult, error) {
	c.remember("user", userMessage)

	decision, err := c.deps.Classifier.Classify(ctx, userMessage, c.routingContext(ctx))
	if err != nil {
		// A missing provider binary degrades to a plain reply so the
		// session stays usable.
		if errors.Is(err, provider.ErrBinaryNotFound) {
			c.deps.Logger.Warn("classifier unavailable", "error", err)
			result := &ChatResult{Type: "conversation", Response: "AI features are currently unavailable."}
			c.remember("assistant", result.Response)
			return result, nil
		}
		return nil, fmt.Errorf("chat: %w", err)
	}

	var result *ChatResult
	switch d := decision.(type) {
	case intent.Conversation:
		reply := d.Reply
		if reply == "" {
			reply = "Could you rephrase that?"
		}
		result = &ChatResult{Type: "conversation", Response: reply}

	case intent.Malformed:
		// Raw classifier text doubles as a direct response.
		result = &ChatResult{Type: "conversation", Response: d.Raw}

	case intent.Build:
		result, err = c.runBuild(ctx, d.Task)

	case intent.RoleTask:
		result, err = c.runRoleTask(ctx, d)

	default:
		result = &ChatResult{Type: "conversation", Response: "I didn't understand that. Can you rephrase?"}
	}
	if err != nil {
		return nil, err
	}

	c.remember("assistant", summarize(result))
	return result, nil
}

// Build runs the full pipeline on task, bypassing intent classification.
func (c *Conversation) Build(ctx context.Context, task string) (*ChatResult, error) {
	c.remember("user", task)
	result, err := c.runBuild(ctx, task)
	if err != nil {
		return nil, err
	}
	c.remember("assistant", summarize(result))
	return result, nil
}

func (c *Conversation) runBuild(ctx context.Context, task string) (*ChatResult, error) {
	target, err := c.deps.Locator.Resolve(ctx, task, c.activeProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve build target: %w", err)
	}

	var contextText string
	if target.Project != nil {
		contextText = c.deps.Context.Build(ctx, target.Project.ID)
	}

	res, err := c.deps.Engine.Build(ctx, orchestrator.Request{
		Task:    task,
		Dir:     target.Directory,
		Project: target.Project,
		Context: contextText,
		Emit:    c.emit,
	})
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	if res.Project != nil {
		c.bindProject(res.Project)
	}
	return &ChatResult{Type: "build", Build: res}, nil
}

func (c *Conversation) runRoleTask(ctx context.Context, d intent.RoleTask) (*ChatResult, error) {
	target, err := c.deps.Locator.Resolve(ctx, d.Task, c.activeProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve task target: %w", err)
	}

	var contextText string
	if target.Project != nil {
		contextText = c.deps.Context.Build(ctx, target.Project.ID)
	}

	res, err := c.deps.Engine.RunTask(ctx, d.Role, d.Task, target.Directory, target.Project, contextText, c.emit)
	if err != nil {
		return nil, fmt.Errorf("%s task: %w", d.Role.Name, err)
	}
	if target.Project != nil {
		c.bindProject(target.Project)
	}
	return &ChatResult{Type: res.Type, Task: res}, nil
}

// ResumeProject binds a stored project to this conversation and returns
// a context summary. Role continuation tokens stored for the project are
// picked up by the next worker invocation.
func (c *Conversation) ResumeProject(ctx context.Context, projectID int64) (string, error) {
	p, err := c.deps.Repo.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("resume project %d: %w", projectID, err)
	}
	c.bindProject(p)

	tokens, err := c.deps.Repo.GetAllTokens(ctx, projectID)
	if err != nil {
		c.deps.Logger.Warn("failed to load role tokens", "project_id", projectID, "error", err)
	}

	summary := c.deps.Context.Summary(ctx, projectID)
	c.emit(domain.EventProjectResumed, map[string]any{
		"project_id":   p.ID,
		"project_name": p.Name,
		"roles":        len(tokens),
	})
	return summary, nil
}

// Clear resets the transcript and project binding.
func (c *Conversation) Clear() {
	c.messages = nil
	c.activeProjectID = 0
	c.activeName = ""
}

func (c *Conversation) bindProject(p *domain.Project) {
	c.activeProjectID = p.ID
	c.activeName = p.Name
}

func (c *Conversation) remember(role, content string) {
	c.messages = append(c.messages, message{Role: role, Content: content})
	if len(c.messages) > maxHistory {
		c.messages = c.messages[len(c.messages)-maxHistory:]
	}
}

// routingContext builds the short context block the classifier sees.
func (c *Conversation) routingContext(ctx context.Context) string {
	var b strings.Builder
	if c.activeProjectID != 0 {
		if summary := c.deps.Context.Summary(ctx, c.activeProjectID); summary != "" {
			b.WriteString(summary)
			b.WriteString("\n")
		}
	}
	recent := c.messages
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	for _, m := range recent {
		preview := m.Content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, preview)
	}
	return b.String()
}

func summarize(res *ChatResult) string {
	switch {
	case res.Response != "":
		return res.Response
	case res.Build != nil:
		return fmt.Sprintf("build %s: %d files", res.Build.Phase, len(res.Build.Files))
	case res.Task != nil:
		if res.Task.Text != "" {
			return res.Task.Text
		}
		return fmt.Sprintf("%s task (success=%t)", res.Task.Type, res.Task.Success)
	default:
		return res.Type
	}
}
