package sandbox

import (
	"log/slog"
	"sync"
	"time"
)

// Pool manages the live sandboxes, one per project, bounded at a fixed
// capacity. When full, the oldest sandbox is evicted to make room.
type Pool struct {
	mu      sync.Mutex
	limit   int
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger

	boxes map[string]*Sandbox
	order []string // creation order, oldest first
}

// NewPool creates a sandbox pool. limit must be positive.
func NewPool(limit int, runner Runner, timeout time.Duration, logger *slog.Logger) *Pool {
	return &Pool{
		limit:   limit,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
		boxes:   make(map[string]*Sandbox),
	}
}

// Create sets up a new sandbox for a project, evicting the oldest sandbox
// when the pool is at capacity. An existing sandbox for the same project
// is replaced.
func (p *Pool) Create(projectID string) (*Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.boxes[projectID]; ok {
		old.Cleanup()
		p.removeLocked(projectID)
	}
	for len(p.boxes) >= p.limit && len(p.order) > 0 {
		oldest := p.order[0]
		p.logger.Info("evicting oldest sandbox", "project_id", oldest)
		p.boxes[oldest].Cleanup()
		p.removeLocked(oldest)
	}

	box := New(p.runner, p.timeout, p.logger)
	if _, err := box.Setup(projectID); err != nil {
		return nil, err
	}
	p.boxes[projectID] = box
	p.order = append(p.order, projectID)
	return box, nil
}

// Acquire returns the sandbox bound to a project directory, creating an
// attached one (and evicting the oldest) as needed. Attached sandboxes
// never delete the directory on cleanup.
func (p *Pool) Acquire(projectID, dir string) (*Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if box, ok := p.boxes[projectID]; ok && box.WorkDir() == dir {
		return box, nil
	}
	if old, ok := p.boxes[projectID]; ok {
		old.Cleanup()
		p.removeLocked(projectID)
	}
	for len(p.boxes) >= p.limit && len(p.order) > 0 {
		oldest := p.order[0]
		p.logger.Info("evicting oldest sandbox", "project_id", oldest)
		p.boxes[oldest].Cleanup()
		p.removeLocked(oldest)
	}

	box := New(p.runner, p.timeout, p.logger)
	if err := box.Attach(dir); err != nil {
		return nil, err
	}
	p.boxes[projectID] = box
	p.order = append(p.order, projectID)
	return box, nil
}

// Get returns the sandbox for a project, or nil.
func (p *Pool) Get(projectID string) *Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.boxes[projectID]
}

// Destroy cleans up and removes a project's sandbox. No-op when absent.
func (p *Pool) Destroy(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if box, ok := p.boxes[projectID]; ok {
		box.Cleanup()
		p.removeLocked(projectID)
	}
}

// DestroyAll cleans up every sandbox, typically at shutdown.
func (p *Pool) DestroyAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, box := range p.boxes {
		box.Cleanup()
		delete(p.boxes, id)
	}
	p.order = nil
}

// Len returns the number of live sandboxes.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.boxes)
}

func (p *Pool) removeLocked(projectID string) {
	delete(p.boxes, projectID)
	for i, id := range p.order {
		if id == projectID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
