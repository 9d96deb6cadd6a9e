package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPlan marks a plan missing its required structure. An invalid
// plan is fatal for the whole build.
var ErrInvalidPlan = errors.New("invalid plan")

// TechStack describes the target technology of a plan.
type TechStack struct {
	Language     string   `json:"language"`
	Framework    string   `json:"framework,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Task is one ordered unit of implementation work.
type Task struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	File        string   `json:"file,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Plan is the structured output of the planning phase.
type Plan struct {
	ProjectName string    `json:"project_name"`
	Summary     string    `json:"summary,omitempty"`
	TechStack   TechStack `json:"tech_stack"`
	Files       []string  `json:"files,omitempty"`
	Tasks       []Task    `json:"tasks"`
}

// ParsePlan decodes and validates a serialized plan.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the required plan structure.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}
	if p.ProjectName == "" {
		return fmt.Errorf("%w: missing project_name", ErrInvalidPlan)
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidPlan)
	}
	return nil
}

// Language returns the plan's lower-level language hint, defaulting to python
// like the provider prompts do.
func (p *Plan) Language() string {
	if p.TechStack.Language == "" {
		return "python"
	}
	return p.TechStack.Language
}

// JSON serializes the plan for storage. Marshal failures cannot occur for
// this type, so the error is intentionally dropped.
func (p *Plan) JSON() string {
	data, _ := json.Marshal(p)
	return string(data)
}
