package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/clock"
	"github.com/MrWong99/hearken/pkg/detectionlog/mock"
)

type fakeTicking struct {
	running bool
	last    time.Time
	hop     time.Duration
}

func (f *fakeTicking) Running() bool              { return f.running }
func (f *fakeTicking) LastTick() time.Time        { return f.last }
func (f *fakeTicking) HopInterval() time.Duration { return f.hop }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func readyz(t *testing.T, h *Handler) (int, Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(&fakeTicking{})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" || body.Recognizer != nil {
		t.Errorf("body = %+v, want bare ok", body)
	}
}

func TestRecognizer_TickState(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	now := clk.Now()
	hop := 10 * time.Millisecond

	tests := []struct {
		name    string
		r       fakeTicking
		wantErr string
	}{
		{"stopped", fakeTicking{hop: hop}, "not running"},
		{"never ticked", fakeTicking{running: true, hop: hop}, "no tick yet"},
		{"fresh", fakeTicking{running: true, last: now.Add(-20 * time.Millisecond), hop: hop}, ""},
		{"at limit", fakeTicking{running: true, last: now.Add(-50 * time.Millisecond), hop: hop}, ""},
		{"stalled", fakeTicking{running: true, last: now.Add(-51 * time.Millisecond), hop: hop}, "exceeds 50ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := New(&tt.r, WithClock(clk)).Recognizer()
			if st.HopMS != 10 || st.StaleAfterMS != 50 {
				t.Errorf("hop/stale = %v/%v ms, want 10/50", st.HopMS, st.StaleAfterMS)
			}
			if tt.wantErr == "" {
				if !st.Ready() {
					t.Errorf("unexpected error: %s", st.Error)
				}
				return
			}
			if st.Ready() || !strings.Contains(st.Error, tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", st.Error, tt.wantErr)
			}
		})
	}
}

func TestReadyz_ReportsRecognizer(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	last := clk.Now().Add(-30 * time.Millisecond)
	h := New(&fakeTicking{running: true, last: last, hop: 10 * time.Millisecond}, WithClock(clk))

	code, body := readyz(t, h)
	if code != http.StatusOK || body.Status != "ok" {
		t.Fatalf("readyz = %d %q, want 200 ok", code, body.Status)
	}
	r := body.Recognizer
	if r == nil {
		t.Fatal("missing recognizer section")
	}
	if !r.Running || r.LastTick == nil || !r.LastTick.Equal(last) {
		t.Errorf("recognizer = %+v", r)
	}
	if r.TickAgeMS != 30 {
		t.Errorf("tick_age_ms = %v, want 30", r.TickAgeMS)
	}
	if body.Dependencies != nil {
		t.Errorf("dependencies = %v, want none", body.Dependencies)
	}
}

func TestReadyz_StalledRecognizer(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	r := &fakeTicking{running: true, last: clk.Now(), hop: 10 * time.Millisecond}
	h := New(r, WithClock(clk))

	clk.Advance(time.Second)
	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Fatalf("readyz = %d %q, want 503 fail", code, body.Status)
	}
	if !strings.Contains(body.Recognizer.Error, "exceeds") {
		t.Errorf("recognizer error = %q", body.Recognizer.Error)
	}
}

func TestReadyz_Dependencies(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	r := &fakeTicking{running: true, last: clk.Now(), hop: 10 * time.Millisecond}
	store := &mock.Store{}
	h := New(r, WithClock(clk), WithDependency("detection_log", store))

	code, body := readyz(t, h)
	if code != http.StatusOK || body.Dependencies["detection_log"] != "ok" {
		t.Fatalf("readyz = %d %v", code, body.Dependencies)
	}

	store.PingErr = errors.New("connection refused")
	code, body = readyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if got := body.Dependencies["detection_log"]; got != "fail: connection refused" {
		t.Errorf("detection_log = %q", got)
	}
	if !body.Recognizer.Ready() {
		t.Errorf("recognizer should still be ready: %s", body.Recognizer.Error)
	}
}

func TestReadyz_PingHasDeadline(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	r := &fakeTicking{running: true, last: clk.Now(), hop: 10 * time.Millisecond}
	var hadDeadline bool
	h := New(r, WithClock(clk), WithDependency("db", pingFunc(func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})))

	readyz(t, h)
	if !hadDeadline {
		t.Error("ping context should carry a deadline")
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	mux := http.NewServeMux()
	New(&fakeTicking{running: true, last: clk.Now(), hop: time.Millisecond}, WithClock(clk)).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /readyz = %d, want 405", rec.Code)
	}
}
