// Package health serves the recognizer's liveness and readiness endpoints.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz answers
// 200 only while the recognizer is ticking on schedule and every registered
// dependency, such as the detection log store, answers its ping. The
// readiness body carries the recognizer's tick state so an operator can see
// why an instance dropped out of rotation.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/hearken/internal/clock"
)

// StaleHops is how many hop intervals may pass without a tick before the
// recognizer is reported as stalled.
const StaleHops = 5

// pingTimeout bounds a single dependency ping.
const pingTimeout = 5 * time.Second

// Ticking is the view of the recognizer that readiness depends on.
type Ticking interface {
	Running() bool
	LastTick() time.Time
	HopInterval() time.Duration
}

// Pinger is implemented by dependencies that can check their own
// reachability, such as the detection log store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RecognizerState is the recognizer section of a readiness report.
type RecognizerState struct {
	Running      bool       `json:"running"`
	LastTick     *time.Time `json:"last_tick,omitempty"`
	TickAgeMS    float64    `json:"tick_age_ms,omitempty"`
	HopMS        float64    `json:"hop_ms"`
	StaleAfterMS float64    `json:"stale_after_ms"`
	Error        string     `json:"error,omitempty"`
}

// Ready reports whether the recognizer state passes readiness.
func (s RecognizerState) Ready() bool { return s.Error == "" }

// Report is the JSON body of /healthz and /readyz.
type Report struct {
	Status       string            `json:"status"`
	Recognizer   *RecognizerState  `json:"recognizer,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

type dependency struct {
	name string
	p    Pinger
}

// Option configures a [Handler].
type Option func(*Handler)

// WithClock sets the clock tick age is measured against. Defaults to the
// wall clock.
func WithClock(clk clock.Clock) Option {
	return func(h *Handler) {
		if clk != nil {
			h.clk = clk
		}
	}
}

// WithDependency adds a named dependency whose ping gates readiness.
// Dependencies are pinged in registration order.
func WithDependency(name string, p Pinger) Option {
	return func(h *Handler) { h.deps = append(h.deps, dependency{name: name, p: p}) }
}

// Handler serves /healthz and /readyz for one recognizer. It is safe for
// concurrent use.
type Handler struct {
	rec  Ticking
	clk  clock.Clock
	deps []dependency
}

// New returns a Handler reporting on rec.
func New(rec Ticking, opts ...Option) *Handler {
	h := &Handler{rec: rec, clk: clock.Real{}}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Recognizer evaluates the recognizer's tick state. It is not ready when the
// run loop has stopped, has not ticked yet, or last ticked more than
// [StaleHops] hop intervals ago.
func (h *Handler) Recognizer() RecognizerState {
	hop := h.rec.HopInterval()
	limit := StaleHops * hop
	st := RecognizerState{
		Running:      h.rec.Running(),
		HopMS:        ms(hop),
		StaleAfterMS: ms(limit),
	}
	last := h.rec.LastTick()
	if !last.IsZero() {
		st.LastTick = &last
		st.TickAgeMS = ms(h.clk.Now().Sub(last))
	}

	switch {
	case !st.Running:
		st.Error = "not running"
	case last.IsZero():
		st.Error = "no tick yet"
	default:
		if age := h.clk.Now().Sub(last); age > limit {
			st.Error = fmt.Sprintf("last tick %s ago exceeds %s", age.Round(time.Millisecond), limit)
		}
	}
	return st
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz returns 200 when the recognizer is ticking and every dependency
// answers its ping, 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	st := h.Recognizer()
	res := Report{Status: "ok", Recognizer: &st}
	ok := st.Ready()

	if len(h.deps) > 0 {
		res.Dependencies = make(map[string]string, len(h.deps))
	}
	for _, d := range h.deps {
		if err := ping(r.Context(), d.p); err != nil {
			res.Dependencies[d.name] = "fail: " + err.Error()
			ok = false
			continue
		}
		res.Dependencies[d.name] = "ok"
	}

	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return p.Ping(ctx)
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
