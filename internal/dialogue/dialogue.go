// Package dialogue runs bounded two-role exchanges where one worker
// produces work and the other critiques it until a verdict converges.
package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/roles"
)

// DefaultMaxRounds bounds a dialogue at two produce/critique cycles.
const DefaultMaxRounds = 2

// Entry is one contribution to a dialogue round.
type Entry struct {
	Agent   string `json:"agent"`
	Label   string `json:"label"`
	Content string `json:"content"`
}

// Round is one bounded back-and-forth on a single topic. Exchanges are
// capped at twice the round count so neither role can monopolize it.
type Round struct {
	Topic        string
	Entries      []Entry
	MaxExchanges int
}

// NewRound creates a round bounded by maxRounds produce/critique cycles.
func NewRound(topic string, maxRounds int) *Round {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Round{Topic: topic, MaxExchanges: maxRounds * 2}
}

// Add records a contribution.
func (r *Round) Add(agent, label, content string) {
	r.Entries = append(r.Entries, Entry{Agent: agent, Label: label, Content: content})
}

// AtLimit reports whether the round has used all its exchanges.
func (r *Round) AtLimit() bool {
	return len(r.Entries) >= r.MaxExchanges
}

// Last returns the most recent contribution, or "".
func (r *Round) Last() string {
	if len(r.Entries) == 0 {
		return ""
	}
	return r.Entries[len(r.Entries)-1].Content
}

// Context renders the transcript so far, addressed to the next speaker.
func (r *Round) Context(forAgent string) string {
	if len(r.Entries) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Ongoing Discussion: %s\n\n", r.Topic)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", e.Agent, e.Label, e.Content)
	}
	if forAgent != "" {
		fmt.Fprintf(&b, "Now it's your turn, %s. Respond to the discussion above.", forAgent)
	}
	return b.String()
}

// Config describes one dialogue: a producer who does the work, a critic
// who judges it, and a verdict that decides convergence on the critic's
// output.
type Config struct {
	Topic string
	// Task is the initial prompt given to the producer.
	Task string
	// CritiquePrompt asks the critic to judge the latest work.
	CritiquePrompt string
	// RevisePrompt asks the producer to address the critique.
	RevisePrompt string
	// Converged inspects the critic's reply and reports resolution.
	Converged func(string) bool
	// CriticFirst starts with the critic judging existing work instead
	// of the producer producing. Used by the test/debug loop where the
	// tester speaks first.
	CriticFirst bool
	MaxRounds   int
}

// Run executes a bounded produce/critique dialogue and returns the final
// transcript. The last critic reply decides the Resolved flag.
func Run(ctx context.Context, producer, critic *roles.Worker, cfg Config, emit domain.EmitFunc) (*Outcome, error) {
	if emit == nil {
		emit = domain.NopEmit
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	round := NewRound(cfg.Topic, maxRounds)

	emit(domain.EventDialogueStarted, map[string]any{
		"topic":  cfg.Topic,
		"agents": []string{producer.Role.Title, critic.Role.Title},
	})

	var lastCritique string
	resolved := false

	if !cfg.CriticFirst {
		work, err := producer.Think(ctx, cfg.Task, "")
		if err != nil {
			return nil, fmt.Errorf("dialogue %q: %w", cfg.Topic, err)
		}
		round.Add(producer.Role.Title, producer.Role.Name, work)
	}

	for n := 0; n < maxRounds && !round.AtLimit(); n++ {
		emit(domain.EventDialogueExchange, map[string]any{
			"round": n + 1,
			"from":  producer.Role.Title,
			"to":    critic.Role.Title,
		})

		prompt := cfg.CritiquePrompt
		if cfg.CriticFirst && n == 0 {
			prompt = cfg.Task
		}
		critique, err := critic.Think(ctx, prompt, round.Context(critic.Role.Title))
		if err != nil {
			return nil, fmt.Errorf("dialogue %q: %w", cfg.Topic, err)
		}
		round.Add(critic.Role.Title, critic.Role.Name, critique)
		lastCritique = critique

		if cfg.Converged(critique) {
			resolved = true
			emit(domain.EventDialogueResolved, map[string]any{
				"topic":  cfg.Topic,
				"rounds": n + 1,
			})
			break
		}

		if n < maxRounds-1 && !round.AtLimit() {
			emit(domain.EventDialogueExchange, map[string]any{
				"round": n + 1,
				"from":  critic.Role.Title,
				"to":    producer.Role.Title,
			})
			revision, err := producer.Think(ctx, cfg.RevisePrompt, round.Context(producer.Role.Title))
			if err != nil {
				return nil, fmt.Errorf("dialogue %q: %w", cfg.Topic, err)
			}
			round.Add(producer.Role.Title, producer.Role.Name, revision)
		}
	}

	emit(domain.EventDialogueEnded, map[string]any{
		"topic":     cfg.Topic,
		"exchanges": len(round.Entries),
	})

	return &Outcome{
		Resolved:     resolved,
		Final:        round.Last(),
		LastCritique: lastCritique,
		Exchanges:    len(round.Entries),
	}, nil
}

// Outcome is the result of a completed dialogue.
type Outcome struct {
	// Resolved reports that the verdict converged before the bound.
	Resolved bool
	// Final is the last contribution in the transcript.
	Final string
	// LastCritique is the critic's last reply.
	LastCritique string
	Exchanges    int
}
