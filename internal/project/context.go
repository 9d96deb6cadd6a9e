package project

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/liamavtal/vibe-agents/internal/store"
)

const (
	// maxKeyFileSize caps config files included inline at 2KB.
	maxKeyFileSize = 2048
	// maxTreeFiles caps the file tree listing.
	maxTreeFiles = 100
)

// keyFiles are small config files worth inlining into worker prompts.
var keyFiles = []string{
	"package.json", "requirements.txt", "pyproject.toml", "Cargo.toml",
	"Makefile", "Dockerfile", "docker-compose.yml",
	"tsconfig.json", ".eslintrc.json", "setup.py", "setup.cfg",
	"README.md", "README.txt",
}

// skipDirs are never walked when building trees.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, ".next": true, "dist": true,
	"build": true, ".cache": true, ".tox": true, "egg-info": true,
}

// ContextBuilder assembles project awareness strings for worker prompts.
type ContextBuilder struct {
	repo store.Repository
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(repo store.Repository) *ContextBuilder {
	return &ContextBuilder{repo: repo}
}

// Build returns the full context block for a project: name, file tree, key
// config files, and stored decisions. Returns "" when the project is gone.
func (b *ContextBuilder) Build(ctx context.Context, projectID int64) string {
	p, err := b.repo.GetProject(ctx, projectID)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Active Project: %s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	fmt.Fprintf(&sb, "Directory: %s\n\n", p.Directory)

	if tree := buildFileTree(p.Directory); tree != "" {
		sb.WriteString("## Project Files\n```\n")
		sb.WriteString(tree)
		sb.WriteString("\n```\n\n")
	}

	for _, name := range keyFiles {
		content, ok := readKeyFile(p.Directory, name)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n```\n%s\n```\n\n", name, content)
	}

	if memory, err := b.repo.GetAllMemory(ctx, projectID); err == nil && len(memory) > 0 {
		sb.WriteString("## Project Decisions\n")
		keys := make([]string, 0, len(memory))
		for k := range memory {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- **%s**: %s\n", k, memory[k])
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Summary returns a short description for routing context, not full
// worker prompts.
func (b *ContextBuilder) Summary(ctx context.Context, projectID int64) string {
	p, err := b.repo.GetProject(ctx, projectID)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	files := ListFiles(p.Directory)
	if len(files) > 0 {
		shown := files
		if len(shown) > 10 {
			shown = shown[:10]
		}
		fmt.Fprintf(&sb, "Files (%d): %s\n", len(files), strings.Join(shown, ", "))
		if len(files) > 10 {
			fmt.Fprintf(&sb, "  ...and %d more\n", len(files)-10)
		}
	}
	return sb.String()
}

// ListFiles returns relative file paths under a directory, capped at
// maxTreeFiles, hidden files and vendored directories excluded.
func ListFiles(directory string) []string {
	var files []string
	_ = filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path != directory && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(directory, path)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		if len(files) >= maxTreeFiles {
			return filepath.SkipAll
		}
		return nil
	})
	return files
}

// buildFileTree renders an indented tree of the project directory.
func buildFileTree(directory string) string {
	if _, err := os.Stat(directory); err != nil {
		return ""
	}

	var lines []string
	lines = append(lines, filepath.Base(directory)+"/")
	count := 0

	_ = filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == directory {
			return nil
		}
		name := d.Name()
		rel, relErr := filepath.Rel(directory, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		indent := strings.Repeat("  ", depth)

		if d.IsDir() {
			if skipDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			lines = append(lines, indent+name+"/")
			return nil
		}
		if strings.HasPrefix(name, ".") && name != ".env.example" && name != ".gitignore" {
			return nil
		}
		lines = append(lines, indent+name)
		count++
		if count >= maxTreeFiles {
			lines = append(lines, indent+"... (truncated)")
			return filepath.SkipAll
		}
		return nil
	})

	return strings.Join(lines, "\n")
}

// readKeyFile reads one config file if it exists and is small enough.
func readKeyFile(directory, name string) (string, bool) {
	path := filepath.Join(directory, name)
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxKeyFileSize {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}
