// Package objectstoretest provides object store doubles for tests.
package objectstoretest

import (
	"context"
	"sync"

	"github.com/your-org/thumbflow/pkg/storage/objectstore"
)

// FailingClient returns Err from every Put and Get.
type FailingClient struct {
	Err error

	mu    sync.Mutex
	calls int
}

// Failing builds a client whose calls all fail with err.
func Failing(err error) *FailingClient {
	return &FailingClient{Err: err}
}

func (f *FailingClient) Put(context.Context, string, []byte, string, map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.Err
}

func (f *FailingClient) Get(context.Context, string) (*objectstore.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.Err
}

func (f *FailingClient) Close() error { return nil }

// Calls counts Put and Get invocations.
func (f *FailingClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
