package derivation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/thumbflow/pkg/apperr"
	"github.com/your-org/thumbflow/pkg/events"
	"github.com/your-org/thumbflow/pkg/queue"
	"github.com/your-org/thumbflow/pkg/retry"
	"github.com/your-org/thumbflow/pkg/storage/objectstore"
)

var fastRetry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type fixture struct {
	store  *objectstore.Memory
	queue  *queue.Memory
	events *events.Memory
	worker *Worker
}

func newFixture(t *testing.T, transform Transform, maxAttempts int) *fixture {
	t.Helper()
	f := &fixture{
		store:  objectstore.NewMemory(),
		queue:  queue.NewMemory(queue.MemoryOptions{MaxAttempts: maxAttempts}),
		events: &events.Memory{},
	}
	f.worker = NewWorker(Params{
		Store:       f.store,
		Queue:       f.queue,
		Transform:   transform,
		Publisher:   f.events,
		Logger:      zaptest.NewLogger(t),
		Retry:       fastRetry,
		TaskTimeout: time.Second,
	})
	return f
}

func (f *fixture) deliver(t *testing.T, key string) queue.Delivery {
	t.Helper()
	ctx := context.Background()
	_, err := f.queue.Enqueue(ctx, queue.Task{SourceKey: key})
	require.NoError(t, err)
	return f.next(t)
}

func (f *fixture) next(t *testing.T) queue.Delivery {
	t.Helper()
	batch, err := f.queue.Dequeue(context.Background(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	return batch[0]
}

func TestHandleStoresThumbnailAndAcks(t *testing.T) {
	f := newFixture(t, nil, 5)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "a.b.png", []byte("source"), "image/png", nil))

	require.NoError(t, f.worker.Handle(ctx, f.deliver(t, "a.b.png")))

	thumb, err := f.store.Get(ctx, "a.b-thumbnail.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("source"), thumb.Data)
	assert.Equal(t, "image/png", thumb.ContentType)
	assert.Equal(t, "a.b.png", thumb.Metadata["source_key"])

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats, "task acked")

	msgs := f.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.TypeDerivationCompleted, msgs[0].Headers["event_type"])
}

func TestHandleIsIdempotentUnderRedelivery(t *testing.T) {
	f := newFixture(t, nil, 5)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "photo.jpeg", []byte("jpeg-bytes"), "image/jpeg", nil))

	_, err := f.queue.Enqueue(ctx, queue.Task{SourceKey: "photo.jpeg"})
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, queue.Task{SourceKey: "photo.jpeg"})
	require.NoError(t, err)

	require.NoError(t, f.worker.Handle(ctx, f.next(t)))
	once, err := f.store.Get(ctx, "photo-thumbnail.jpeg")
	require.NoError(t, err)
	keysOnce := f.store.Keys()

	require.NoError(t, f.worker.Handle(ctx, f.next(t)))
	twice, err := f.store.Get(ctx, "photo-thumbnail.jpeg")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.ElementsMatch(t, keysOnce, f.store.Keys())
}

func TestHandleMissingSourceNacks(t *testing.T) {
	f := newFixture(t, nil, 3)
	ctx := context.Background()

	err := f.worker.Handle(ctx, f.deliver(t, "ghost.png"))
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.store.Get(ctx, "ghost-thumbnail.png")
	assert.True(t, apperr.IsNotFound(err), "nothing derived")

	redelivered := f.next(t)
	assert.Equal(t, 2, redelivered.Task.Attempt)
}

func TestHandleDeadLettersAfterRetryCeiling(t *testing.T) {
	f := newFixture(t, nil, 2)
	ctx := context.Background()

	require.Error(t, f.worker.Handle(ctx, f.deliver(t, "ghost.gif")))
	err := f.worker.Handle(ctx, f.next(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrDeadLettered)

	dead, err := f.queue.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "ghost.gif", dead[0].SourceKey)
}

type panicTransform struct{}

func (panicTransform) Derive(context.Context, []byte, string, string) ([]byte, string, error) {
	panic("codec exploded")
}

func TestHandleRecoversTransformPanics(t *testing.T) {
	f := newFixture(t, panicTransform{}, 5)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "a.png", []byte("x"), "image/png", nil))

	err := f.worker.Handle(ctx, f.deliver(t, "a.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec exploded")

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Ready, "task nacked, not acked")
}

type flakyStore struct {
	*objectstore.Memory
	putFailures int
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	if s.putFailures > 0 {
		s.putFailures--
		return apperr.Transient("objectstore.put", key, errors.New("timeout talking to backend"))
	}
	return s.Memory.Put(ctx, key, data, contentType, metadata)
}

func TestHandleRetriesTransientDerivedWrites(t *testing.T) {
	store := &flakyStore{Memory: objectstore.NewMemory(), putFailures: 2}
	q := queue.NewMemory(queue.MemoryOptions{})
	w := NewWorker(Params{Store: store, Queue: q, Logger: zaptest.NewLogger(t), Retry: fastRetry})
	ctx := context.Background()
	require.NoError(t, store.Memory.Put(ctx, "a.jpg", []byte("x"), "image/jpeg", nil))

	_, err := q.Enqueue(ctx, queue.Task{SourceKey: "a.jpg"})
	require.NoError(t, err)
	batch, err := q.Dequeue(ctx, 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, w.Handle(ctx, batch[0]))
	_, err = store.Get(ctx, "a-thumbnail.jpg")
	assert.NoError(t, err)
}

func TestHandleStaleLeaseAckIsReported(t *testing.T) {
	f := newFixture(t, nil, 5)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "a.png", []byte("x"), "image/png", nil))

	d := f.deliver(t, "a.png")
	d.Lease = "stale"
	err := f.worker.Handle(ctx, d)
	assert.ErrorIs(t, err, queue.ErrLeaseExpired)

	_, err = f.store.Get(ctx, "a-thumbnail.png")
	assert.NoError(t, err, "artifact stays stored")
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeTransform(t *testing.T) {
	src := encodePNG(t, 400, 200)
	out, ct, err := Resize{Width: 100, Height: 100}.Derive(context.Background(), src, "image/png", "wide.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	again, _, err := Resize{Width: 100, Height: 100}.Derive(context.Background(), src, "image/png", "wide.png")
	require.NoError(t, err)
	assert.Equal(t, out, again, "deterministic output")
}

func TestResizeRejectsGarbage(t *testing.T) {
	_, _, err := Resize{Width: 10, Height: 10}.Derive(context.Background(), []byte("nope"), "image/png", "x.png")
	assert.Error(t, err)
}

func TestNewTransform(t *testing.T) {
	tr, err := NewTransform("", 0, 0)
	require.NoError(t, err)
	assert.IsType(t, PassThrough{}, tr)

	tr, err = NewTransform("resize", 64, 64)
	require.NoError(t, err)
	assert.Equal(t, Resize{Width: 64, Height: 64}, tr)

	_, err = NewTransform("resize", 0, 64)
	assert.Error(t, err)
	_, err = NewTransform("sepia", 1, 1)
	assert.Error(t, err)
}
