// Package queue provides an at-least-once work queue of derivation tasks.
//
// A dequeued task stays invisible for the visibility timeout passed to
// Dequeue. If it is not acked within that window it becomes visible again
// and its next delivery carries Attempt+1. Once a task has been delivered
// MaxAttempts times without an ack it is moved to the dead-letter set.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLeaseExpired is returned when acking or nacking a delivery whose
	// visibility window has already elapsed.
	ErrLeaseExpired = errors.New("lease expired or unknown")
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// DefaultMaxAttempts is used when a backend is configured without a ceiling.
const DefaultMaxAttempts = 5

// Task is a unit of derivation work.
type Task struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace,omitempty"`
	SourceKey  string    `json:"source_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempt is the delivery number, starting at 1.
	Attempt int `json:"attempt"`
}

// Delivery pairs a task with the lease token needed to settle it.
type Delivery struct {
	Task  Task
	Lease string
}

// Stats is a point-in-time view of queue occupancy.
type Stats struct {
	Ready        int64 `json:"ready"`
	InFlight     int64 `json:"in_flight"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Queue is the contract shared by all backends. Dequeue may return the
// deliveries it already leased together with an error; callers must still
// settle them.
type Queue interface {
	Enqueue(ctx context.Context, task Task) (string, error)
	Dequeue(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, lease string) error
	Nack(ctx context.Context, lease string) error
	DeadLetters(ctx context.Context, limit int) ([]Task, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Backend     string
	MaxAttempts int
	// OpTimeout bounds each backend call. Zero disables the bound.
	OpTimeout time.Duration
	Redis     RedisConfig
}

// New builds the configured backend.
func New(cfg Config) (Queue, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemory(MemoryOptions{MaxAttempts: cfg.MaxAttempts}), nil
	case "redis":
		rc := cfg.Redis
		rc.MaxAttempts = cfg.MaxAttempts
		rc.OpTimeout = cfg.OpTimeout
		return NewRedis(rc)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}
