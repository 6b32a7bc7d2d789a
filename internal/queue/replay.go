package queue

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Replayer moves dead lettered tasks back onto their ready queue. It backs
// both the admin endpoint and the operator CLI.
type Replayer struct {
	Store Store
	Queue Enqueuer
}

// ReplayResult lists replayed entries and per-entry failures.
type ReplayResult struct {
	Replayed []uuid.UUID       `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

func (r *ReplayResult) fail(id, reason string) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[id] = reason
}

// ReplayIDs replays the given entries. Unknown or malformed ids are reported
// in Failed rather than aborting the batch.
func (r Replayer) ReplayIDs(ctx context.Context, ids []string) (ReplayResult, error) {
	if r.Store == nil || r.Queue.R == nil {
		return ReplayResult{}, ErrStoreUnavailable
	}
	res := ReplayResult{Replayed: []uuid.UUID{}}
	for _, raw := range uniqueStrings(ids) {
		id, err := uuid.Parse(raw)
		if err != nil {
			res.fail(raw, "invalid uuid")
			continue
		}
		entry, err := r.Store.GetQueueDlq(ctx, id)
		if err != nil {
			res.fail(raw, err.Error())
			continue
		}
		if err := r.replay(ctx, entry); err != nil {
			res.fail(raw, err.Error())
			continue
		}
		res.Replayed = append(res.Replayed, id)
	}
	return res, nil
}

// ReplayKind replays up to limit of the newest entries of one kind.
func (r Replayer) ReplayKind(ctx context.Context, kind string, limit int) (ReplayResult, error) {
	if r.Store == nil || r.Queue.R == nil {
		return ReplayResult{}, ErrStoreUnavailable
	}
	kind = sanitizeKind(strings.TrimSpace(kind))
	if kind == "" {
		return ReplayResult{}, errors.New("queue: kind required")
	}
	entries, err := r.Store.ListQueueDlq(ctx, kind, limit, 0)
	if err != nil {
		return ReplayResult{}, err
	}
	res := ReplayResult{Replayed: []uuid.UUID{}}
	for _, entry := range entries {
		if err := r.replay(ctx, entry); err != nil {
			res.fail(entry.ID.String(), err.Error())
			continue
		}
		res.Replayed = append(res.Replayed, entry.ID)
	}
	return res, nil
}

// replay re-enqueues with a fresh attempt budget and deletes the DLQ row.
func (r Replayer) replay(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	task := Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}
	if err := r.Queue.Enqueue(ctx, task); err != nil {
		return err
	}
	if err := r.Store.DeleteQueueDlq(ctx, entry.ID); err != nil {
		return err
	}
	QueueDLQSize.WithLabelValues(msg.Kind).Dec()
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
