package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/brennholz-api/internal/db"
)

// ErrStoreUnavailable indicates the DLQ store dependency is not configured.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// Store persists dead lettered tasks so they outlive their Redis keys.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	// ListQueueDlq returns newest first; an empty kind lists every kind.
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is one row of queue_dlq. Payload holds the full encoded task
// message, not just the handler payload.
type DLQEntry struct {
	ID             uuid.UUID `db:"id"`
	Kind           string    `db:"kind"`
	IdempotencyKey string    `db:"idem_key"`
	Payload        []byte    `db:"payload"`
	Attempts       int       `db:"attempts"`
	LastError      *string   `db:"last_error"`
	CreatedAt      time.Time `db:"created_at"`
}

const maxListRows = 500

// NewStore returns the Postgres backed Store.
func NewStore(q db.DBTX) Store {
	return pgStore{q: q}
}

type pgStore struct {
	q db.DBTX
}

const selectDLQ = `SELECT id, kind, idem_key, payload, attempts, last_error, created_at FROM queue_dlq`

func (s pgStore) ready() error {
	if s.q == nil {
		return ErrStoreUnavailable
	}
	return nil
}

func (s pgStore) InsertQueueDlq(ctx context.Context, e DLQEntry) (uuid.UUID, error) {
	if err := s.ready(); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := s.q.QueryRow(ctx,
		`INSERT INTO queue_dlq (kind, idem_key, payload, attempts, last_error) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.Kind, e.IdempotencyKey, e.Payload, e.Attempts, e.LastError,
	).Scan(&id)
	return id, err
}

func (s pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `DELETE FROM queue_dlq WHERE id = $1`, id)
	return err
}

// GetQueueDlq maps a missing row to sql.ErrNoRows.
func (s pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	if err := s.ready(); err != nil {
		return DLQEntry{}, err
	}
	rows, err := s.q.Query(ctx, selectDLQ+` WHERE id = $1`, id)
	if err != nil {
		return DLQEntry{}, err
	}
	entry, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[DLQEntry])
	if db.IsNoRows(err) {
		return DLQEntry{}, sql.ErrNoRows
	}
	return entry, err
}

func (s pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	limit = min(max(limit, 1), maxListRows)
	offset = max(offset, 0)
	rows, err := s.q.Query(ctx,
		selectDLQ+` WHERE ($1 = '' OR kind = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		strings.TrimSpace(kind), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[DLQEntry])
}

func (s pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int64
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM queue_dlq WHERE $1 = '' OR kind = $1`, strings.TrimSpace(kind)).Scan(&n)
	return n, err
}

func (s pgStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, `SELECT kind, COUNT(*) FROM queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	sizes := map[string]int64{}
	var (
		kind string
		n    int64
	)
	_, err = pgx.ForEachRow(rows, []any{&kind, &n}, func() error {
		sizes[kind] = n
		return nil
	})
	return sizes, err
}
