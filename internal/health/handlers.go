// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/brennholz-api/internal/common"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Check is a named probe with its own deadline.
type Check struct {
	Name    string
	Timeout time.Duration
	Probe   Probe
}

// Gate flips readiness off while the process drains.
type Gate struct {
	draining atomic.Bool
}

// Drain marks the process as shutting down.
func (g *Gate) Drain() { g.draining.Store(true) }

// Draining reports whether Drain was called.
func (g *Gate) Draining() bool { return g != nil && g.draining.Load() }

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
	Gate   *Gate
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check and answers 503 when one fails or the process is
// draining. The body maps check names to "ok" or the failure message.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Gate.Draining() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if len(h.Checks) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no checks configured"})
		return
	}

	status := make(map[string]string, len(h.Checks))
	code := http.StatusOK
	for _, c := range h.Checks {
		if err := run(r.Context(), c); err != nil {
			status[c.Name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[c.Name] = "ok"
	}
	common.JSON(w, code, status)
}

func run(ctx context.Context, c Check) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Probe(ctx)
}
