package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/thumbflow/pkg/apperr"
)

const defaultVisibility = 30 * time.Second

// MemoryOptions tunes the in-process backend.
type MemoryOptions struct {
	MaxAttempts int
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type memEntry struct {
	task     Task
	lease    string
	leased   bool
	deadline time.Time
}

// Memory is an in-process Queue. Its state does not survive the process, so
// it only suits tests and deployments where the worker pool is embedded.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	maxAttempts int
	entries     map[string]*memEntry
	ready       []string
	leases      map[string]string
	dead        []Task
	closed      bool
}

// NewMemory creates an empty in-process queue.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		now:         opts.Now,
		maxAttempts: opts.MaxAttempts,
		entries:     map[string]*memEntry{},
		leases:      map[string]string{},
	}
}

func (m *Memory) Enqueue(ctx context.Context, task Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if _, exists := m.entries[task.ID]; exists {
		return "", fmt.Errorf("enqueue task %s: duplicate id", task.ID)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = m.now().UTC()
	}
	task.Attempt = 0
	m.entries[task.ID] = &memEntry{task: task}
	m.ready = append(m.ready, task.ID)
	return task.ID, nil
}

func (m *Memory) Dequeue(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	now := m.now()
	m.reapLocked(now)

	var out []Delivery
	for len(out) < max && len(m.ready) > 0 {
		id := m.ready[0]
		m.ready = m.ready[1:]
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		e.task.Attempt++
		e.lease = uuid.NewString()
		e.leased = true
		e.deadline = now.Add(visibility)
		m.leases[e.lease] = id
		out = append(out, Delivery{Task: e.task, Lease: e.lease})
	}
	return out, nil
}

func (m *Memory) Ack(ctx context.Context, lease string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(m.now())
	id, ok := m.leases[lease]
	if !ok {
		return ErrLeaseExpired
	}
	delete(m.leases, lease)
	delete(m.entries, id)
	return nil
}

func (m *Memory) Nack(ctx context.Context, lease string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(m.now())
	id, ok := m.leases[lease]
	if !ok {
		return ErrLeaseExpired
	}
	delete(m.leases, lease)
	e := m.entries[id]
	if m.releaseLocked(e) {
		return apperr.New(apperr.ErrDeadLettered, "queue.nack", e.task.SourceKey,
			fmt.Errorf("task %s exhausted %d attempts", id, e.task.Attempt))
	}
	return nil
}

func (m *Memory) DeadLetters(ctx context.Context, limit int) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(m.now())
	n := len(m.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]Task(nil), m.dead[:n]...), nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reapLocked(m.now())
	return Stats{
		Ready:        int64(len(m.ready)),
		InFlight:     int64(len(m.leases)),
		DeadLettered: int64(len(m.dead)),
	}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// reapLocked returns every lease whose visibility window has elapsed.
func (m *Memory) reapLocked(now time.Time) {
	for lease, id := range m.leases {
		e := m.entries[id]
		if now.Before(e.deadline) {
			continue
		}
		delete(m.leases, lease)
		m.releaseLocked(e)
	}
}

// releaseLocked makes a leased entry visible again, or dead-letters it when
// it has used up its attempts. It reports whether the entry was dead-lettered.
func (m *Memory) releaseLocked(e *memEntry) bool {
	e.leased = false
	e.lease = ""
	if e.task.Attempt >= m.maxAttempts {
		delete(m.entries, e.task.ID)
		m.dead = append(m.dead, e.task)
		return true
	}
	m.ready = append(m.ready, e.task.ID)
	return false
}
