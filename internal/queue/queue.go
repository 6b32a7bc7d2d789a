package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/resilience"
)

// DefaultMaxAttempts applies when neither the task nor the enqueuer sets a limit.
const DefaultMaxAttempts = 8

// Task is a unit of background work such as sending an order email.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	// Attempt counts deliveries so far; the handler sees 1 on first delivery.
	Attempt int
	Delay   time.Duration
}

// keys builds the Redis key layout shared by producers and workers.
type keys struct {
	prefix string
}

func (k keys) join(parts ...string) string {
	out := "queue"
	if k.prefix != "" {
		out = k.prefix
	}
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

func (k keys) ready(kind string) string {
	if k.prefix == "" {
		return "queue:" + kind
	}
	return k.join("queue", kind)
}
func (k keys) processing(kind string) string { return k.join(kind, "processing") }
func (k keys) deadLetter(kind string) string { return k.join(kind, "dlq") }
func (k keys) dedup(kind, key string) string { return k.join("dedup", kind, key) }

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue schedules t. With an idempotency key the task is accepted once per
// deduplication window; later calls are silently dropped.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, DefaultMaxAttempts),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	k := keys{e.Prefix}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := e.R.SetNX(ctx, k.dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup: %w", err)
		}
		if !fresh {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, k.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	QueueDepth.WithLabelValues(kind).Inc()
	return nil
}

// EnqueueJSON encodes v as the task payload.
func (e Enqueuer) EnqueueJSON(ctx context.Context, kind, idempotencyKey string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: encode %s payload: %w", kind, err)
	}
	return e.Enqueue(ctx, Task{Kind: kind, Payload: payload, IdempotencyKey: idempotencyKey})
}

func sanitizeKind(kind string) string {
	if kind == "" {
		return ""
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

// Handler processes one task. A returned error schedules a retry.
type Handler func(context.Context, Task) error

// Worker consumes tasks of one kind. A task that is not acknowledged within
// VisibilityTimeout is redelivered. Exhausted tasks go to Store when set and
// to a Redis list otherwise.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline cancels the handler context before the visibility timeout
	// expires. Zero means the visibility timeout itself.
	SoftDeadline time.Duration
	Handler      Handler
	RetryBase    time.Duration
	RetryJitter  float64
	Store        Store
	Logger       *zerolog.Logger
	PollInterval time.Duration
}

// Run processes tasks until ctx is cancelled and waits for in-flight handlers.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	soft := w.SoftDeadline
	if soft <= 0 || soft > visibility {
		soft = visibility
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	k := keys{w.Prefix}
	sem := make(chan struct{}, max(w.Concurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	requeue := time.NewTicker(visibility / 2)
	defer requeue.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeue.C:
			if err := w.requeueExpired(ctx, k, kind); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		msg, raw, ok, err := w.claim(ctx, k, kind, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			if !sleep(ctx, poll) {
				return nil
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			jobCtx, cancel := context.WithTimeout(ctx, soft)
			defer cancel()
			task := Task{Kind: kind, Payload: msg.Payload, IdempotencyKey: msg.Key, MaxAttempts: msg.MaxAttempts, Attempt: msg.Attempt}
			started := time.Now()
			err := w.Handler(jobCtx, task)
			observeHandled(kind, started, err)
			if err != nil {
				w.fail(context.WithoutCancel(ctx), k, raw, msg, err)
				return
			}
			w.ack(context.WithoutCancel(ctx), k, raw, msg)
		}()
	}
}

// claim pops the next due task and parks it in the processing set.
func (w Worker) claim(ctx context.Context, k keys, kind string, visibility time.Duration) (taskMessage, string, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, k.ready(kind), &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now, 10), Count: 1}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return taskMessage{}, "", false, err
	}
	if len(due) == 0 {
		return taskMessage{}, "", false, nil
	}
	removed, err := w.R.ZRem(ctx, k.ready(kind), due[0]).Result()
	if err != nil {
		return taskMessage{}, "", false, err
	}
	if removed == 0 {
		// another worker won the race
		return taskMessage{}, "", false, nil
	}
	QueueDepth.WithLabelValues(kind).Dec()
	msg, err := decodeMessage(due[0])
	if err != nil {
		w.log().Warn().Err(err).Str("kind", kind).Msg("queue_message_undecodable")
		return taskMessage{}, "", false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return taskMessage{}, "", false, err
	}
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(kind), redis.Z{Score: float64(deadline), Member: string(encoded)}).Err(); err != nil {
		return taskMessage{}, "", false, err
	}
	return msg, string(encoded), true, nil
}

func (w Worker) fail(ctx context.Context, k keys, raw string, msg taskMessage, cause error) {
	_ = w.R.ZRem(ctx, k.processing(msg.Kind), raw).Err()
	msg.LastError = cause.Error()

	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(ctx, k, msg)
		return
	}
	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	msg.AvailableAt = time.Now().Add(resilience.Backoff(base, msg.Attempt, w.RetryJitter)).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, k.ready(msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
		w.log().Error().Err(err).Str("kind", msg.Kind).Str("key", msg.Key).Msg("queue_retry_schedule_failed")
		return
	}
	QueueDepth.WithLabelValues(msg.Kind).Inc()
	w.log().Debug().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_retry")
}

func (w Worker) deadLetter(ctx context.Context, k keys, msg taskMessage) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	logger := w.log().With().Str("kind", msg.Kind).Str("key", msg.Key).Int("attempts", msg.Attempt).Str("last_error", msg.LastError).Logger()
	stored := false
	if w.Store != nil {
		lastErr := msg.LastError
		_, err := w.Store.InsertQueueDlq(ctx, DLQEntry{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        encoded,
			Attempts:       msg.Attempt,
			LastError:      &lastErr,
		})
		if err != nil {
			logger.Error().Err(err).Msg("queue_dlq_persist_failed")
		} else {
			stored = true
		}
	}
	if !stored {
		_ = w.R.LPush(ctx, k.deadLetter(msg.Kind), encoded).Err()
	}
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Kind, msg.Key)).Err()
	}
	QueueDLQSize.WithLabelValues(msg.Kind).Inc()
	logger.Warn().Msg("queue_task_dead_lettered")
}

func (w Worker) ack(ctx context.Context, k keys, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, k.processing(msg.Kind), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Kind, msg.Key)).Err()
	}
}

// requeueExpired moves tasks whose visibility timeout passed back to ready.
func (w Worker) requeueExpired(ctx context.Context, k keys, kind string) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	expired, err := w.R.ZRangeByScore(ctx, k.processing(kind), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, k.processing(kind), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, k.ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err()
		QueueDepth.WithLabelValues(kind).Inc()
		QueueRedeliveredTotal.WithLabelValues(kind).Inc()
		w.log().Info().Str("kind", kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_redelivered")
	}
	return nil
}

func (w Worker) log() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	LastError   string `json:"last_error,omitempty"`
}
