package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liamavtal/vibe-agents/internal/domain"
	"github.com/liamavtal/vibe-agents/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	tokenMu sync.Mutex // Serializes token upserts to prevent SQLITE_BUSY during build phases
}

const (
	writeRetryAttempts = 3
	writeRetryDelay    = 100 * time.Millisecond
)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		directory TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		plan_json TEXT NOT NULL DEFAULT '',
		file_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
	CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at);

	CREATE TABLE IF NOT EXISTS role_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		token TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
		UNIQUE(project_id, role)
	);
	CREATE INDEX IF NOT EXISTS idx_role_tokens_project ON role_tokens(project_id);

	CREATE TABLE IF NOT EXISTS memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
		UNIQUE(project_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_project ON memory(project_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateProject inserts a new active project record.
func (s *SQLiteStore) CreateProject(ctx context.Context, name, directory, description, planJSON string) (*domain.Project, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, directory, status, created_at, updated_at, plan_json, file_count)
		 VALUES (?, ?, ?, 'active', ?, ?, ?, 0)`,
		name, description, directory, now.Unix(), now.Unix(), planJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("project insert id: %w", err)
	}

	return &domain.Project{
		ID:          id,
		Name:        name,
		Description: description,
		Directory:   directory,
		Status:      domain.ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		PlanJSON:    planJSON,
	}, nil
}

const projectColumns = `id, name, description, directory, status, created_at, updated_at, plan_json, file_count`

// GetProject retrieves a project by ID, excluding soft-deleted records.
func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ? AND status != 'deleted'`, id)
	return scanProject(row)
}

// GetProjectByName retrieves the most recently updated project with the given name.
func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE name = ? AND status != 'deleted'
		 ORDER BY updated_at DESC LIMIT 1`, name)
	return scanProject(row)
}

// ListProjects lists projects with the given status, most recently updated first.
func (s *SQLiteStore) ListProjects(ctx context.Context, status domain.ProjectStatus, limit int) ([]*domain.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectPlan replaces the serialized plan for a project.
func (s *SQLiteStore) UpdateProjectPlan(ctx context.Context, id int64, planJSON string) error {
	return s.execProjectUpdate(ctx, id,
		`UPDATE projects SET plan_json = ?, updated_at = ? WHERE id = ?`,
		planJSON, time.Now().Unix(), id)
}

// UpdateProjectStatus changes the lifecycle status of a project.
func (s *SQLiteStore) UpdateProjectStatus(ctx context.Context, id int64, status domain.ProjectStatus) error {
	return s.execProjectUpdate(ctx, id,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
}

// TouchProject bumps updated_at and, when fileCount >= 0, the file count.
func (s *SQLiteStore) TouchProject(ctx context.Context, id int64, fileCount int) error {
	if fileCount >= 0 {
		return s.execProjectUpdate(ctx, id,
			`UPDATE projects SET updated_at = ?, file_count = ? WHERE id = ?`,
			time.Now().Unix(), fileCount, id)
	}
	return s.execProjectUpdate(ctx, id,
		`UPDATE projects SET updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
}

func (s *SQLiteStore) execProjectUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update project %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project %d rows affected: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("update project %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveToken stores or replaces the continuation token for a (project, role) pair.
// Retries on SQLite concurrency errors since tokens are written after every
// capability invocation, often from several sessions at once.
func (s *SQLiteStore) SaveToken(ctx context.Context, projectID int64, role, token string) error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	err := shared.RetrySQLite(writeRetryAttempts, writeRetryDelay, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO role_tokens (project_id, role, token, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_id, role)
			 DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
			projectID, role, token, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("save token for project %d role %s: %w", projectID, role, err)
	}
	return nil
}

// GetToken retrieves the continuation token for a (project, role) pair.
func (s *SQLiteStore) GetToken(ctx context.Context, projectID int64, role string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM role_tokens WHERE project_id = ? AND role = ?`,
		projectID, role).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get token for project %d role %s: %w", projectID, role, err)
	}
	return token, nil
}

// GetAllTokens retrieves every stored role token for a project.
func (s *SQLiteStore) GetAllTokens(ctx context.Context, projectID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, token FROM role_tokens WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query tokens for project %d: %w", projectID, err)
	}
	defer rows.Close()

	tokens := make(map[string]string)
	for rows.Next() {
		var role, token string
		if err := rows.Scan(&role, &token); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens[role] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// SetMemory stores or replaces a key/value decision for a project.
func (s *SQLiteStore) SetMemory(ctx context.Context, projectID int64, key, value string) error {
	err := shared.RetrySQLite(writeRetryAttempts, writeRetryDelay, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO memory (project_id, key, value, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_id, key)
			 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			projectID, key, value, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("set memory for project %d key %s: %w", projectID, key, err)
	}
	return nil
}

// GetMemory retrieves a stored value, or "" when absent.
func (s *SQLiteStore) GetMemory(ctx context.Context, projectID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM memory WHERE project_id = ? AND key = ?`,
		projectID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get memory for project %d key %s: %w", projectID, key, err)
	}
	return value, nil
}

// GetAllMemory retrieves all stored key/value pairs for a project.
func (s *SQLiteStore) GetAllMemory(ctx context.Context, projectID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM memory WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query memory for project %d: %w", projectID, err)
	}
	defer rows.Close()

	mem := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		mem[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory: %w", err)
	}
	return mem, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row *sql.Row) (*domain.Project, error) {
	p, err := scanProjectRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanProjectRow(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Directory, &status,
		&createdAt, &updatedAt, &p.PlanJSON, &p.FileCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}

	p.Status = domain.ProjectStatus(status)
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
