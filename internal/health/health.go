// Package health provides the HTTP introspection endpoints for the Parlo
// process:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /statusz — pipeline status; returns the live session snapshot.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail"); /readyz adds a "checks" map with the result of each named
// checker, /statusz adds a "session" object.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "transport",
	// "input_device"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusSource supplies the live pipeline snapshot served on /statusz. The
// returned value must be JSON-marshalable.
type StatusSource func() any

// result is the JSON response body for health endpoints.
type result struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Session any               `json:"session,omitempty"`
}

// Handler serves the introspection endpoints. It is safe for concurrent use;
// the checker list and status source are fixed at construction time.
type Handler struct {
	checkers []Checker
	status   StatusSource
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStatusSource wires the /statusz payload. Without it /statusz serves
// only the top-level status field.
func WithStatusSource(src StatusSource) Option {
	return func(h *Handler) { h.status = src }
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Statusz serves the live pipeline snapshot.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.status != nil {
		res.Session = h.status()
	}
	writeJSON(w, http.StatusOK, res)
}

// Register adds the /healthz, /readyz and /statusz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
