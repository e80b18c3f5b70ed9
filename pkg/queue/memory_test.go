package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/thumbflow/pkg/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(MemoryOptions{})

	id, err := q.Enqueue(ctx, Task{SourceKey: "img.png", Namespace: "bucket"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := q.Dequeue(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].Task.ID)
	assert.Equal(t, "img.png", got[0].Task.SourceKey)
	assert.Equal(t, 1, got[0].Task.Attempt)
	assert.False(t, got[0].Task.EnqueuedAt.IsZero())

	again, err := q.Dequeue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased task must stay invisible")

	require.NoError(t, q.Ack(ctx, got[0].Lease))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	assert.ErrorIs(t, q.Ack(ctx, got[0].Lease), ErrLeaseExpired)
}

func TestMemoryBatchDequeue(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(MemoryOptions{})
	for i := 0; i < 15; i++ {
		_, err := q.Enqueue(ctx, Task{SourceKey: fmt.Sprintf("img-%d.png", i)})
		require.NoError(t, err)
	}

	first, err := q.Dequeue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, first, 10)

	second, err := q.Dequeue(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, second, 5)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), stats.InFlight)
	assert.Equal(t, int64(0), stats.Ready)
}

func TestMemoryRedeliveryIncrementsAttemptByOne(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemory(MemoryOptions{Now: clock.Now, MaxAttempts: 5})

	_, err := q.Enqueue(ctx, Task{SourceKey: "img.png"})
	require.NoError(t, err)

	first, err := q.Dequeue(ctx, 1, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(29 * time.Second)
	none, err := q.Dequeue(ctx, 1, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, none)

	clock.Advance(time.Second)
	second, err := q.Dequeue(ctx, 1, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Task.ID, second[0].Task.ID)
	assert.Equal(t, first[0].Task.Attempt+1, second[0].Task.Attempt)
	assert.NotEqual(t, first[0].Lease, second[0].Lease)

	// The first lease is stale once the task was redelivered.
	assert.ErrorIs(t, q.Ack(ctx, first[0].Lease), ErrLeaseExpired)
	require.NoError(t, q.Ack(ctx, second[0].Lease))
}

func TestMemoryNackRedeliversImmediately(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(MemoryOptions{MaxAttempts: 3})
	_, err := q.Enqueue(ctx, Task{SourceKey: "a.gif"})
	require.NoError(t, err)

	d, err := q.Dequeue(ctx, 1, time.Hour)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d[0].Lease))

	d2, err := q.Dequeue(ctx, 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, d2, 1)
	assert.Equal(t, 2, d2[0].Task.Attempt)
}

func TestMemoryDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemory(MemoryOptions{Now: clock.Now, MaxAttempts: 2})
	_, err := q.Enqueue(ctx, Task{SourceKey: "a.jpg"})
	require.NoError(t, err)

	d, err := q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d[0].Lease))

	d, err = q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, d, 1)
	err = q.Nack(ctx, d[0].Lease)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrDeadLettered)

	none, err := q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Empty(t, none)

	dead, err := q.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "a.jpg", dead[0].SourceKey)
	assert.Equal(t, 2, dead[0].Attempt)
}

func TestMemoryVisibilityExpiryDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemory(MemoryOptions{Now: clock.Now, MaxAttempts: 1})
	_, err := q.Enqueue(ctx, Task{SourceKey: "a.png"})
	require.NoError(t, err)

	_, err = q.Dequeue(ctx, 1, time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{DeadLettered: 1}, stats)
}

func TestMemoryClosed(t *testing.T) {
	q := NewMemory(MemoryOptions{})
	require.NoError(t, q.Close())
	_, err := q.Enqueue(context.Background(), Task{SourceKey: "a.png"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryConcurrentConsumersSeeEachTaskOnce(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(MemoryOptions{})
	const n = 200
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(ctx, Task{SourceKey: fmt.Sprintf("%d.png", i)})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.Dequeue(ctx, 3, time.Minute)
				if err != nil || len(batch) == 0 {
					return
				}
				for _, d := range batch {
					mu.Lock()
					seen[d.Task.ID]++
					mu.Unlock()
					_ = q.Ack(ctx, d.Lease)
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s", id)
	}
}
