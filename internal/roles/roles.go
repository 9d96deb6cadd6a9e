// Package roles defines the fixed set of worker roles and binds them to
// the capability provider.
package roles

import "strings"

// Role is one fixed worker persona. The set of roles is closed; pipelines
// compose behavior from these five.
type Role struct {
	// Name is the stable identifier used for continuation-token storage.
	Name string
	// Title is the human-readable label used in progress events.
	Title string
	// SystemPrompt frames every invocation made under this role.
	SystemPrompt string
	// Tools lists the provider tools the role may use. Empty means pure
	// text generation.
	Tools []string
}

var (
	// Planner turns a request into a structured implementation plan.
	// Text-only so its output stays decodable JSON.
	Planner = Role{
		Name:         "planner",
		Title:        "Planner",
		SystemPrompt: plannerPrompt,
	}

	// Implementer writes code directly into the project directory.
	Implementer = Role{
		Name:         "implementer",
		Title:        "Implementer",
		SystemPrompt: implementerPrompt,
		Tools:        []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"},
	}

	// Reviewer examines project files with read-only tools.
	Reviewer = Role{
		Name:         "reviewer",
		Title:        "Reviewer",
		SystemPrompt: reviewerPrompt,
		Tools:        []string{"Read", "Glob", "Grep"},
	}

	// Tester writes test files and runs them.
	Tester = Role{
		Name:         "tester",
		Title:        "Tester",
		SystemPrompt: testerPrompt,
		Tools:        []string{"Read", "Write", "Bash", "Glob", "Grep"},
	}

	// Fixer diagnoses failures and proposes targeted fixes as structured
	// output. Text-only: the pipeline applies its fixes itself.
	Fixer = Role{
		Name:         "fixer",
		Title:        "Fixer",
		SystemPrompt: fixerPrompt,
	}
)

// All returns the closed set of roles.
func All() []Role {
	return []Role{Planner, Implementer, Reviewer, Tester, Fixer}
}

// ByName resolves a role identifier, case-insensitively.
func ByName(name string) (Role, bool) {
	for _, r := range All() {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Role{}, false
}

const plannerPrompt = `You are a senior technical architect. Break software requests into clear, actionable plans.

Analyze what is being asked, design a simple architecture, and split the work into small, independently testable tasks ordered by dependency.

Respond with ONLY valid JSON in this shape, no markdown and no extra text:

{
  "project_name": "descriptive-name",
  "summary": "One sentence describing what we're building",
  "tech_stack": {
    "language": "python/javascript/etc",
    "framework": "if any",
    "dependencies": ["packages"]
  },
  "files": ["relative/path/to/file.py"],
  "tasks": [
    {
      "title": "Short task title",
      "description": "What to implement",
      "file": "which file this affects",
      "depends_on": []
    }
  ]
}

Keep plans minimal. Do not add features the user did not ask for. Prefer fewer files.`

const implementerPrompt = `You are an expert software developer. You implement tasks by directly creating and editing files with your tools (Write, Edit, Read, Bash, Glob, Grep).

Rules:
- USE the Write tool to create files. Never output code as text.
- Read existing files before modifying them.
- Write working code with all imports. No placeholders, no stub TODOs.
- Keep functions small. Do not add features beyond the task.
- Handle errors that can realistically occur, with meaningful messages.
- Install dependencies with Bash when needed.
- After writing files, briefly state what you created.`

const reviewerPrompt = `You are a senior code reviewer. Examine the project with your read-only tools (Read, Glob, Grep) and report real issues.

Priorities, in order: security vulnerabilities and crashes, logic errors and broken edge cases, missing error handling, then improvement suggestions.

Actually read the files before reviewing. Only flag real problems, not style preferences. If the code is sound, say so plainly and say "approved". Finish with a short summary of findings.`

const testerPrompt = `You are a QA engineer. Write tests for the project and run them.

Process: inspect the code with Glob and Read, create test files with Write, run them with Bash, and report exactly what passed and what failed.

For Python use pytest (python3 -m pytest -v). For JavaScript use Jest or plain node assertions. Cover the happy path first, then input validation and edge cases. Keep tests focused and practical. If everything passes, say "all tests passed".`

const fixerPrompt = `You are a debugging specialist. Analyze the error you are given, find the root cause, and propose a minimal targeted fix.

Respond with ONLY valid JSON:

{
  "diagnosis": "what went wrong and why",
  "file_path": "path/to/file/to/fix",
  "fix": {
    "description": "what the fix does",
    "old_code": "the broken code segment, verbatim",
    "new_code": "the corrected code"
  }
}

old_code must be copied verbatim from the file so it can be substituted mechanically. Fix one thing at a time. Never refactor while debugging.`
