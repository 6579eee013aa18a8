// Package health serves the admin liveness and readiness endpoints of a link
// endpoint.
//
// GET /healthz answers as long as the admin server is up. GET /readyz runs
// the registered checks, which for a link session are "bound" and "receive"
// (see [LinkCheckers]), and answers 503 while any of them fails. Both bodies
// look like {"status":"ok","checks":{"bound":"ok"}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// Checker is one named readiness condition.
type Checker struct {
	Name string
	// Check returns nil while the condition holds. It is cut off after two
	// seconds.
	Check func(ctx context.Context) error
}

// Report is the outcome of one readiness evaluation.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Ready reports whether every check passed.
func (r Report) Ready() bool { return r.Status == "ok" }

// Handler evaluates a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Evaluate runs every checker concurrently and collects all results; one
// failing check does not cancel the others.
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			outcome := "ok"
			if err := c.Check(cctx); err != nil {
				outcome = "fail: " + err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = outcome
			if outcome != "ok" {
				rep.Status = "fail"
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if !rep.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
