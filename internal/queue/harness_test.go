package queue_test

import (
	"context"
	"database/sql"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/queue"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// startWorker runs w until the test ends or the returned stop is called.
func startWorker(t *testing.T, w queue.Worker) (stop func()) {
	t.Helper()
	if w.Logger == nil {
		nop := zerolog.New(io.Discard)
		w.Logger = &nop
	}
	if w.Concurrency == 0 {
		w.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return stop
}

// deadLetters is an in-memory queue.Store ordered newest first.
type deadLetters struct {
	mu   sync.Mutex
	rows []queue.DLQEntry
}

func (d *deadLetters) InsertQueueDlq(_ context.Context, e queue.DLQEntry) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	d.rows = append([]queue.DLQEntry{e}, d.rows...)
	return e.ID, nil
}

func (d *deadLetters) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = slices.DeleteFunc(d.rows, func(e queue.DLQEntry) bool { return e.ID == id })
	return nil
}

func (d *deadLetters) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.IndexFunc(d.rows, func(e queue.DLQEntry) bool { return e.ID == id })
	if i < 0 {
		return queue.DLQEntry{}, sql.ErrNoRows
	}
	return d.rows[i], nil
}

func (d *deadLetters) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []queue.DLQEntry
	for _, e := range d.rows {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return slices.Clone(out), nil
}

func (d *deadLetters) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	rows, err := d.ListQueueDlq(ctx, kind, 0, 0)
	return int64(len(rows)), err
}

func (d *deadLetters) QueueDlqSizeByKind(context.Context) (map[string]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sizes := map[string]int64{}
	for _, e := range d.rows {
		sizes[e.Kind]++
	}
	return sizes, nil
}

func (d *deadLetters) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}
