// Package events emits pipeline notifications. Events are informational:
// a failed publish never changes the outcome of the operation that raised it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	TypeIngestionCreated    = "ingestion.created"
	TypeDerivationCompleted = "derivation.completed"
)

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
	Close(ctx context.Context) error
}

// Emit encodes event as JSON and publishes it keyed by key.
func Emit(ctx context.Context, p Publisher, eventType, key string, event any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	headers := map[string]string{"event_type": eventType}
	if err := p.Publish(ctx, []byte(key), payload, headers); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, []byte, []byte, map[string]string) error { return nil }
func (Nop) Close(context.Context) error                                      { return nil }

// Message is an event captured by Memory.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Memory keeps published events in order.
type Memory struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (m *Memory) Publish(_ context.Context, key []byte, value []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.msgs = append(m.msgs, Message{Key: string(key), Value: value, Headers: headers})
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

// Messages returns a snapshot of captured events.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.msgs...)
}
