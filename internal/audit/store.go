package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/brennholz-api/internal/db"
)

// Entry is one recorded admin action.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   *string         `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	IP           *string         `json:"ip,omitempty"`
	UserAgent    *string         `json:"userAgent,omitempty"`
	RequestID    *string         `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e Entry) (uuid.UUID, error)
	List(ctx context.Context, resourceType string, limit, offset int) ([]Entry, error)
}

// PGStore implements Store on admin_audit_logs.
type PGStore struct {
	DB db.DBTX
}

const entryColumns = `id, actor, action, resource_type, resource_id, method, path, status, ip, user_agent, request_id, metadata, created_at`

// Insert writes e and returns the generated id.
func (s PGStore) Insert(ctx context.Context, e Entry) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.DB.QueryRow(ctx, `
		INSERT INTO admin_audit_logs (actor, action, resource_type, resource_id, method, path, status, ip, user_agent, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path, e.Status,
		e.IP, e.UserAgent, e.RequestID, e.Metadata,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert audit log: %w", err)
	}
	return id, nil
}

// List returns the newest entries, optionally narrowed to one resource type.
func (s PGStore) List(ctx context.Context, resourceType string, limit, offset int) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+entryColumns+`
		FROM admin_audit_logs
		WHERE ($1 = '' OR resource_type = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, resourceType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method, &e.Path,
		&e.Status, &e.IP, &e.UserAgent, &e.RequestID, &e.Metadata, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("scan audit log: %w", err)
	}
	return e, nil
}
