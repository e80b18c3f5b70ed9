package objectstore

import (
	"context"
	"maps"
	"sync"

	"github.com/your-org/thumbflow/pkg/apperr"
)

// Memory is an in-process Client. It is strongly consistent per key and is
// used for tests and single-process deployments.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
	puts    int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: map[string]Object{}}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{
		Key:         key,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		Metadata:    maps.Clone(metadata),
	}
	m.puts++
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, apperr.NotFound("objectstore.get", key, nil)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	obj.Metadata = maps.Clone(obj.Metadata)
	return &obj, nil
}

// Keys returns the stored keys in no particular order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

// Puts counts successful writes.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *Memory) Close() error {
	return nil
}
