package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamavtal/vibe-agents/internal/domain"
)

// DefaultMaxSessions bounds sessions per connection.
const DefaultMaxSessions = 10

// ErrSessionLimit is returned by Create when the connection already holds
// the maximum number of sessions.
var ErrSessionLimit = errors.New("session limit reached")

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Status is a session's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Session is one independent conversation owned by a connection.
type Session struct {
	ID        string
	Conv      *Conversation
	CreatedAt time.Time

	mu         sync.Mutex
	status     Status
	lastActive time.Time
}

// Status returns the session's current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the session's state and refreshes its activity time.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.lastActive = time.Now()
}

// Touch refreshes the session's activity time.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the session's last activity time.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Info is a serializable session snapshot for list_sessions.
type Info struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	ProjectID   int64  `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// ConversationFactory builds a conversation bound to an event emitter.
type ConversationFactory func(emit domain.EmitFunc) *Conversation

// Manager owns the sessions of one connection. Safe for concurrent use.
type Manager struct {
	newConv ConversationFactory
	max     int
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager with the given per-connection session cap.
// max <= 0 falls back to DefaultMaxSessions.
func NewManager(newConv ConversationFactory, max int, logger *slog.Logger) *Manager {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Manager{
		newConv:  newConv,
		max:      max,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session whose events go to emit.
func (m *Manager) Create(emit domain.EmitFunc) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.max {
		return nil, fmt.Errorf("%w (max %d)", ErrSessionLimit, m.max)
	}

	id := newSessionID()
	now := time.Now()
	s := &Session{
		ID:         id,
		Conv:       m.newConv(emit),
		CreatedAt:  now,
		status:     StatusIdle,
		lastActive: now,
	}
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id, "count", len(m.sessions))
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close removes a session. Persistent state (project records, role
// tokens) survives; only in-memory conversation state is dropped.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Conv.Clear()
	delete(m.sessions, id)
	m.logger.Info("session closed", "session_id", id, "count", len(m.sessions))
	return nil
}

// CloseAll tears down every session. Called when the connection drops.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Conv.Clear()
		delete(m.sessions, id)
	}
}

// List returns a snapshot of all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, Info{
			ID:          s.ID,
			Status:      s.Status(),
			ProjectID:   s.Conv.ActiveProjectID(),
			ProjectName: s.Conv.ActiveProjectName(),
			CreatedAt:   s.CreatedAt.Unix(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt < infos[j].CreatedAt })
	return infos
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// newSessionID returns a short random id, enough to be unique within a
// connection.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
