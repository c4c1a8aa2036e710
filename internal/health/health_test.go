package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func pass(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failWith(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func get(t *testing.T, h *Handler, path string) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	code, rep := get(t, New(failWith("coordinator", "stopped")), "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("GET /healthz = %d %q, want 200 ok", code, rep.Status)
	}
	if rep.Checks != nil {
		t.Errorf("checks = %v, want none", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantErrors map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{pass("coordinator"), pass("stt")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantErrors: map[string]string{"coordinator": "", "stt": ""},
		},
		{
			name:       "one fails",
			checkers:   []Checker{failWith("coordinator", "not running"), pass("stt")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantErrors: map[string]string{"coordinator": "not running", "stt": ""},
		},
		{
			name:       "all fail",
			checkers:   []Checker{failWith("capture", "device lost"), failWith("stt", "circuit open")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantErrors: map[string]string{"capture": "device lost", "stt": "circuit open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := get(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if rep.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, tt.wantStatus)
			}
			for name, wantErr := range tt.wantErrors {
				got, ok := rep.Checks[name]
				if !ok {
					t.Errorf("check %q missing", name)
					continue
				}
				if got.Error != wantErr {
					t.Errorf("check %q error = %q, want %q", name, got.Error, wantErr)
				}
				if wantStatus := map[bool]string{true: "ok", false: "fail"}[wantErr == ""]; got.Status != wantStatus {
					t.Errorf("check %q status = %q, want %q", name, got.Status, wantStatus)
				}
			}
		})
	}
}

func TestCheck_RunsConcurrently(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	release := make(chan struct{})
	blocking := func(name string) Checker {
		return Checker{Name: name, Check: func(ctx context.Context) error {
			if running.Add(1) == 2 {
				close(release)
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
	}

	rep := New(blocking("a"), blocking("b")).WithTimeout(2 * time.Second).Check(context.Background())
	if rep.Status != "ok" {
		t.Errorf("status = %q, want ok (checks %v)", rep.Status, rep.Checks)
	}
}

func TestCheck_Timeout(t *testing.T) {
	t.Parallel()
	slow := Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	rep := New(slow).WithTimeout(10 * time.Millisecond).Check(context.Background())
	if got := rep.Checks["slow"]; got.Status != "fail" || got.Error != context.DeadlineExceeded.Error() {
		t.Errorf("slow check = %+v, want a deadline failure", got)
	}
}

func TestCheck_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "coordinator", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCondition(t *testing.T) {
	t.Parallel()
	var open atomic.Bool
	c := Condition("remote", "remote command service circuit open", func() bool { return !open.Load() })

	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() error: %v", err)
	}
	open.Store(true)
	if err := c.Check(context.Background()); err == nil || err.Error() != "remote command service circuit open" {
		t.Errorf("Check() error = %v, want the condition message", err)
	}
}

func TestAPIHealth_ReportsProviders(t *testing.T) {
	t.Parallel()
	h := New(Condition("stt", "all stt providers unavailable", func() bool { return false })).
		WithProviders("whisper", "phrase", "llm")

	code, rep := get(t, h, "/api/health")
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if rep.STT != "whisper" {
		t.Errorf("stt = %q, want whisper", rep.STT)
	}
	if want := []string{"phrase", "llm"}; !slices.Equal(rep.Interpreters, want) {
		t.Errorf("interpreters = %v, want %v", rep.Interpreters, want)
	}
	if rep.Checks["stt"].Error != "all stt providers unavailable" {
		t.Errorf("stt check = %+v", rep.Checks["stt"])
	}
}

func TestWithTimeout_IgnoresNonPositive(t *testing.T) {
	t.Parallel()
	if h := New().WithTimeout(0); h.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", h.timeout, DefaultTimeout)
	}
}
