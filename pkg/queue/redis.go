package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/thumbflow/pkg/apperr"
)

// RedisConfig configures the Redis Streams backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string

	MaxAttempts int
	OpTimeout   time.Duration
}

// Redis implements Queue on a Redis Stream consumer group.
//
// Pending entries that stay idle longer than the visibility timeout are
// reclaimed with XAUTOCLAIM. Delivery counts live in a hash keyed by task id
// so they survive the re-adds done by Nack. Exhausted tasks are moved to a
// separate dead-letter stream.
type Redis struct {
	rc          redis.UniversalClient
	stream      string
	group       string
	consumer    string
	attemptsKey string
	deadStream  string
	maxAttempts int
	opTimeout   time.Duration
}

// NewRedis dials Redis and ensures the consumer group exists.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	q, err := NewRedisFromClient(context.Background(), rc, cfg)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return q, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(ctx context.Context, rc redis.UniversalClient, cfg RedisConfig) (*Redis, error) {
	if cfg.Stream == "" {
		return nil, errors.New("redis queue: stream name is required")
	}
	if cfg.Group == "" {
		cfg.Group = "derivation"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()[:8]
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	q := &Redis{
		rc:          rc,
		stream:      cfg.Stream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		attemptsKey: cfg.Stream + ":attempts",
		deadStream:  cfg.Stream + ":dead",
		maxAttempts: cfg.MaxAttempts,
		opTimeout:   cfg.OpTimeout,
	}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Redis) ensureGroup(ctx context.Context) error {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()
	err := q.rc.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", q.group, err)
	}
	return nil
}

func (q *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, q.opTimeout)
}

func (q *Redis) Enqueue(ctx context.Context, task Task) (string, error) {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	task.Attempt = 0
	raw, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": string(raw)},
	}).Err(); err != nil {
		return "", apperr.Transient("queue.enqueue", task.SourceKey, err)
	}
	return task.ID, nil
}

func (q *Redis) Dequeue(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	ctx, cancel := q.opCtx(ctx)
	defer cancel()

	// Entries idle past the visibility window belong to dead or slow consumers.
	msgs, _, err := q.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperr.Transient("queue.dequeue", "", err)
	}

	if remaining := max - len(msgs); remaining > 0 {
		streams, err := q.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    int64(remaining),
			Block:    -1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, apperr.Transient("queue.dequeue", "", err)
		}
		for _, s := range streams {
			msgs = append(msgs, s.Messages...)
		}
	}

	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		d, ok, err := q.deliver(ctx, m)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// deliver bumps the delivery count of m and turns it into a Delivery, or
// dead-letters it when the count exceeds the ceiling.
func (q *Redis) deliver(ctx context.Context, m redis.XMessage) (Delivery, bool, error) {
	raw, _ := m.Values["payload"].(string)
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil || task.ID == "" {
		// Unparseable entries can never succeed.
		if err := q.drop(ctx, m.ID, ""); err != nil {
			return Delivery{}, false, err
		}
		return Delivery{}, false, nil
	}

	attempt, err := q.rc.HIncrBy(ctx, q.attemptsKey, task.ID, 1).Result()
	if err != nil {
		return Delivery{}, false, apperr.Transient("queue.dequeue", task.SourceKey, err)
	}
	task.Attempt = int(attempt)
	if task.Attempt > q.maxAttempts {
		task.Attempt = q.maxAttempts
		return Delivery{}, false, q.deadLetter(ctx, m.ID, task)
	}
	return Delivery{Task: task, Lease: encodeLease(m.ID, task.ID, task.Attempt)}, true, nil
}

func (q *Redis) Ack(ctx context.Context, lease string) error {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()
	msgID, taskID, _, err := q.checkLease(ctx, lease)
	if err != nil {
		return err
	}
	return q.drop(ctx, msgID, taskID)
}

func (q *Redis) Nack(ctx context.Context, lease string) error {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()
	msgID, taskID, attempt, err := q.checkLease(ctx, lease)
	if err != nil {
		return err
	}

	msgs, err := q.rc.XRangeN(ctx, q.stream, msgID, msgID, 1).Result()
	if err != nil {
		return apperr.Transient("queue.nack", "", err)
	}
	if len(msgs) == 0 {
		return ErrLeaseExpired
	}
	raw, _ := msgs[0].Values["payload"].(string)

	if attempt >= q.maxAttempts {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return q.drop(ctx, msgID, taskID)
		}
		task.Attempt = attempt
		if err := q.deadLetter(ctx, msgID, task); err != nil {
			return err
		}
		return apperr.New(apperr.ErrDeadLettered, "queue.nack", task.SourceKey,
			fmt.Errorf("task %s exhausted %d attempts", taskID, attempt))
	}

	// Re-adding makes the task visible immediately; the attempt hash is kept.
	_, err = q.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, msgID)
		pipe.XDel(ctx, q.stream, msgID)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]any{"payload": raw},
		})
		return nil
	})
	if err != nil {
		return apperr.Transient("queue.nack", "", err)
	}
	return nil
}

func (q *Redis) DeadLetters(ctx context.Context, limit int) ([]Task, error) {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()
	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = q.rc.XRangeN(ctx, q.deadStream, "-", "+", int64(limit)).Result()
	} else {
		msgs, err = q.rc.XRange(ctx, q.deadStream, "-", "+").Result()
	}
	if err != nil {
		return nil, apperr.Transient("queue.dead_letters", "", err)
	}
	tasks := make([]Task, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["payload"].(string)
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (q *Redis) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := q.opCtx(ctx)
	defer cancel()
	total, err := q.rc.XLen(ctx, q.stream).Result()
	if err != nil {
		return Stats{}, apperr.Transient("queue.stats", "", err)
	}
	pending, err := q.rc.XPending(ctx, q.stream, q.group).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, apperr.Transient("queue.stats", "", err)
	}
	var inFlight int64
	if pending != nil {
		inFlight = pending.Count
	}
	dead, err := q.rc.XLen(ctx, q.deadStream).Result()
	if err != nil {
		return Stats{}, apperr.Transient("queue.stats", "", err)
	}
	return Stats{Ready: total - inFlight, InFlight: inFlight, DeadLettered: dead}, nil
}

func (q *Redis) Close() error {
	return q.rc.Close()
}

// checkLease verifies that lease still names the latest delivery of its task.
func (q *Redis) checkLease(ctx context.Context, lease string) (string, string, int, error) {
	msgID, taskID, attempt, ok := decodeLease(lease)
	if !ok {
		return "", "", 0, ErrLeaseExpired
	}
	current, err := q.rc.HGet(ctx, q.attemptsKey, taskID).Int()
	if errors.Is(err, redis.Nil) {
		return "", "", 0, ErrLeaseExpired
	}
	if err != nil {
		return "", "", 0, apperr.Transient("queue.lease", "", err)
	}
	if current != attempt {
		return "", "", 0, ErrLeaseExpired
	}
	return msgID, taskID, attempt, nil
}

func (q *Redis) drop(ctx context.Context, msgID, taskID string) error {
	_, err := q.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, msgID)
		pipe.XDel(ctx, q.stream, msgID)
		if taskID != "" {
			pipe.HDel(ctx, q.attemptsKey, taskID)
		}
		return nil
	})
	if err != nil {
		return apperr.Transient("queue.ack", "", err)
	}
	return nil
}

func (q *Redis) deadLetter(ctx context.Context, msgID string, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = q.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.deadStream,
			Values: map[string]any{"payload": string(raw)},
		})
		pipe.XAck(ctx, q.stream, q.group, msgID)
		pipe.XDel(ctx, q.stream, msgID)
		pipe.HDel(ctx, q.attemptsKey, task.ID)
		return nil
	})
	if err != nil {
		return apperr.Transient("queue.dead_letter", task.SourceKey, err)
	}
	return nil
}

func encodeLease(msgID, taskID string, attempt int) string {
	return msgID + "|" + taskID + "|" + strconv.Itoa(attempt)
}

func decodeLease(lease string) (msgID, taskID string, attempt int, ok bool) {
	parts := strings.Split(lease, "|")
	if len(parts) != 3 {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, false
	}
	return parts[0], parts[1], n, true
}
