// Package health serves the liveness and readiness endpoints of the control
// API.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every [Checker] and answers 503 if any of them fails.
//   - GET /api/health is /readyz plus the configured STT backend and intent
//     interpreters.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// DefaultTimeout bounds a single check when [New] is not given one.
const DefaultTimeout = 5 * time.Second

// Checker probes one subsystem. Check returns nil when it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Condition adapts an in-memory predicate, such as a breaker state, to a
// [Checker] that fails with msg while ok reports false.
func Condition(name, msg string, ok func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if ok() {
			return nil
		}
		return errors.New(msg)
	}}
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the JSON body of every endpoint.
type Report struct {
	Status       string                 `json:"status"`
	STT          string                 `json:"stt,omitempty"`
	Interpreters []string               `json:"interpreters,omitempty"`
	Checks       map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Its checkers are fixed at
// construction and it is safe for concurrent use.
type Handler struct {
	checkers     []Checker
	timeout      time.Duration
	stt          string
	interpreters []string
}

// New returns a handler running checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultTimeout,
	}
}

// WithTimeout bounds each check by d and returns h.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// WithProviders sets the backend names reported by /api/health and returns h.
func (h *Handler) WithProviders(stt string, interpreters ...string) *Handler {
	h.stt = stt
	h.interpreters = append([]string(nil), interpreters...)
	return h
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /api/health", h.APIHealth)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: statusOK})
}

// Readyz reports the result of every checker.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	writeJSON(w, httpStatus(rep), rep)
}

// APIHealth is [Handler.Readyz] with the provider summary added.
func (h *Handler) APIHealth(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	rep.STT = h.stt
	rep.Interpreters = h.interpreters
	writeJSON(w, httpStatus(rep), rep)
}

// Check runs all checkers concurrently and collects their results. The
// report fails when any checker fails.
func (h *Handler) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: statusOK, Checks: make(map[string]CheckResult, len(results))}
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if results[i].Status != statusOK {
			rep.Status = statusFail
		}
	}
	return rep
}

func (h *Handler) run(parent context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Status:    statusOK,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = statusFail
		res.Error = err.Error()
	}
	return res
}

func httpStatus(rep Report) int {
	if rep.Status == statusOK {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
