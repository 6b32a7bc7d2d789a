// Package audit records mutating admin requests.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/obs"
)

// Actors.
const (
	ActorAdmin    = "admin"
	ActorOperator = "operator"
)

// Record describes one action before it is persisted.
type Record struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Metadata     map[string]any
}

// Service persists audit entries.
type Service struct {
	Store   Store
	Enabled bool
}

// Record stores rec enriched with request details.
func (s Service) Record(ctx context.Context, req *http.Request, rec Record) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := routeOf(req)
	status := rec.Status
	if status == 0 {
		status = http.StatusOK
	}
	actor := strings.TrimSpace(rec.Actor)
	if actor == "" {
		actor = ActorAdmin
	}

	requestID := middleware.GetReqID(req.Context())
	if requestID == "" {
		requestID = req.Header.Get("X-Request-ID")
	}

	_, err := s.Store.Insert(ctx, Entry{
		Actor:        actor,
		Action:       buildAction(rec.Action, req.Method, route),
		ResourceType: buildResource(rec.ResourceType, route),
		ResourceID:   optional(rec.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       status,
		IP:           optional(common.ClientIP(req)),
		UserAgent:    optional(req.Header.Get("User-Agent")),
		RequestID:    optional(requestID),
		Metadata:     metadata(rec.Metadata, req.URL.RawQuery),
	})
	return err
}

// routeOf prefers the matched chi pattern so ids do not leak into actions.
func routeOf(req *http.Request) string {
	if route := obs.RoutePatternFromContext(req.Context()); route != "" {
		return route
	}
	if rc := chi.RouteContext(req.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return strings.TrimSpace(req.URL.Path)
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

// buildResource derives "orders.status" from "/admin/orders/{number}/status".
func buildResource(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	var parts []string
	for _, seg := range strings.Split(strings.Trim(route, "/ "), "/") {
		if seg == "" || seg == "admin" || strings.HasPrefix(seg, "{") {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ".")
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func metadata(m map[string]any, query string) json.RawMessage {
	if len(m) == 0 {
		if strings.TrimSpace(query) == "" {
			return nil
		}
		m = map[string]any{"query": query}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}
