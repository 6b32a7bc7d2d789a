package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/common"
)

// AdminHandler exposes dead letter inspection and replay for side effect tasks.
type AdminHandler struct {
	Store             Store
	Queue             Enqueuer
	PageSize          int
	Logger            zerolog.Logger
	VisibilityTimeout time.Duration
}

type dlqItem struct {
	ID             uuid.UUID   `json:"id"`
	Kind           string      `json:"kind"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Attempts       int         `json:"attempts"`
	LastError      *string     `json:"lastError,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Message        taskMessage `json:"message"`
}

// ListDLQ handles GET /admin/queue/dlq?kind=&limit=&page=.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue store unavailable", nil)
		return
	}
	ctx := r.Context()
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	page, perPage := common.ParsePagination(r, h.pageSize())

	entries, err := h.Store.ListQueueDlq(ctx, kind, perPage, (page-1)*perPage)
	if err != nil {
		h.Logger.Error().Err(err).Msg("dlq_list_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list dead letters", nil)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.Logger.Error().Err(err).Msg("dlq_count_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not count dead letters", nil)
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			continue
		}
		items = append(items, dlqItem{
			ID:             entry.ID,
			Kind:           entry.Kind,
			IdempotencyKey: entry.IdempotencyKey,
			Attempts:       entry.Attempts,
			LastError:      entry.LastError,
			CreatedAt:      entry.CreatedAt,
			Message:        msg,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

// ReplayDLQ handles POST /admin/queue/dlq/replay with either ids or a kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	replayer := Replayer{Store: h.Store, Queue: h.Queue}
	var (
		res ReplayResult
		err error
	)
	switch {
	case len(req.IDs) > 0:
		res, err = replayer.ReplayIDs(r.Context(), req.IDs)
	case strings.TrimSpace(req.Kind) != "":
		limit := req.Limit
		if limit <= 0 {
			limit = h.pageSize()
		}
		res, err = replayer.ReplayKind(r.Context(), req.Kind, limit)
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}
	if errors.Is(err, ErrStoreUnavailable) {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("dlq_replay_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "replay failed", nil)
		return
	}
	h.Logger.Info().Int("replayed", len(res.Replayed)).Int("failed", len(res.Failed)).Msg("dlq_replayed")
	common.JSON(w, http.StatusOK, res)
}

// Stats handles GET /admin/queue/stats?kind= with ready, in-flight and dead
// letter counts plus the lag of the oldest ready task.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.Queue.R == nil || h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "queue dependencies unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ctx := r.Context()
	k := keys{h.Queue.Prefix}

	ready, err := h.Queue.R.ZCard(ctx, k.ready(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	inflight, err := h.Queue.R.ZCard(ctx, k.processing(kind)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
		return
	}
	dead, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not count dead letters", nil)
		return
	}

	var lagMillis int64
	if oldest, err := h.Queue.R.ZRangeWithScores(ctx, k.ready(kind), 0, 0).Result(); err == nil && len(oldest) > 0 {
		if ts := time.Unix(0, int64(oldest[0].Score)); ts.Before(time.Now()) {
			lagMillis = time.Since(ts).Milliseconds()
		}
	}
	QueueDepth.WithLabelValues(kind).Set(float64(ready))
	QueueDLQSize.WithLabelValues(kind).Set(float64(dead))

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"kind":               kind,
		"ready":              ready,
		"processing":         inflight,
		"dlq":                dead,
		"oldest_lag_ms":      lagMillis,
		"visibility_timeout": visibility.Seconds(),
	})
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
