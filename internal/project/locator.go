// Package project decides where files live and assembles project context
// for worker prompts.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/store"
)

// scratchDir collects quick snippets that belong to no project.
const scratchDir = "_scratch"

var buildPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)build\s+(?:me\s+)?(?:a\s+)?(.+?)(?:\s+app|\s+tool|\s+website|\s+project)?$`),
	regexp.MustCompile(`(?i)create\s+(?:a\s+)?(.+?)(?:\s+app|\s+tool|\s+website|\s+project)?$`),
	regexp.MustCompile(`(?i)make\s+(?:me\s+)?(?:a\s+)?(.+?)(?:\s+app|\s+tool|\s+website|\s+project)?$`),
}

var (
	nameStrip    = regexp.MustCompile(`[^\w\s-]`)
	nameCollapse = regexp.MustCompile(`\s+`)
)

// Target is a resolved file placement decision.
type Target struct {
	Directory string
	// Project is the matched project record, nil for new or scratch
	// directories.
	Project *domain.Project
}

// Locator determines the target directory for each request.
type Locator struct {
	repo        store.Repository
	projectsDir string
}

// NewLocator creates a locator rooted at projectsDir, creating it if needed.
func NewLocator(repo store.Repository, projectsDir string) (*Locator, error) {
	abs, err := filepath.Abs(projectsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve projects dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &Locator{repo: repo, projectsDir: abs}, nil
}

// ProjectsDir returns the root directory projects are created under.
func (l *Locator) ProjectsDir() string { return l.projectsDir }

// Resolve picks the directory a request's files belong in, in precedence
// order: a project named in the message, then the session's active project
// if its directory still exists, then a fresh directory for build-style
// requests, then scratch.
func (l *Locator) Resolve(ctx context.Context, message string, activeProjectID int64) (*Target, error) {
	if p := l.matchExistingProject(ctx, message); p != nil {
		return &Target{Directory: p.Directory, Project: p}, nil
	}

	if activeProjectID != 0 {
		p, err := l.repo.GetProject(ctx, activeProjectID)
		if err == nil {
			if _, statErr := os.Stat(p.Directory); statErr == nil {
				return &Target{Directory: p.Directory, Project: p}, nil
			}
		}
	}

	if name := ExtractProjectName(message); name != "" {
		dir, err := l.createProjectDir(name)
		if err != nil {
			return nil, err
		}
		return &Target{Directory: dir}, nil
	}

	scratch := filepath.Join(l.projectsDir, scratchDir)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Target{Directory: scratch}, nil
}

// matchExistingProject returns the first recent project whose name appears
// in the message.
func (l *Locator) matchExistingProject(ctx context.Context, message string) *domain.Project {
	projects, err := l.repo.ListProjects(ctx, domain.ProjectActive, 20)
	if err != nil {
		return nil
	}
	lower := strings.ToLower(message)
	for _, p := range projects {
		if p.Name != "" && strings.Contains(lower, strings.ToLower(p.Name)) {
			return p
		}
	}
	return nil
}

// ExtractProjectName pulls a directory-safe project name out of a
// build-style request, or "" when the message is not one.
func ExtractProjectName(message string) string {
	message = strings.TrimSpace(message)
	for _, pat := range buildPatterns {
		m := pat.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		return SanitizeName(m[1])
	}
	return ""
}

// SanitizeName converts natural language into a safe directory name.
func SanitizeName(name string) string {
	clean := nameStrip.ReplaceAllString(name, "")
	clean = nameCollapse.ReplaceAllString(strings.TrimSpace(clean), "-")
	clean = strings.ToLower(clean)
	if len(clean) > 50 {
		clean = clean[:50]
	}
	if clean == "" {
		return "project"
	}
	return clean
}

// createProjectDir creates a fresh directory for the name, adding a numeric
// suffix on collision.
func (l *Locator) createProjectDir(name string) (string, error) {
	base := filepath.Join(l.projectsDir, name)
	target := base
	for counter := 1; ; counter++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = fmt.Sprintf("%s-%d", base, counter)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("create project dir %s: %w", target, err)
	}
	return target, nil
}
