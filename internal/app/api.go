package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/internal/windower"
	"github.com/MrWong99/hearken/pkg/detectionlog"
)

// maxRecentLimit caps the page size of GET /detections.
const maxRecentLimit = 1000

// breakerReporter is implemented by classifiers wrapped in circuit breakers.
type breakerReporter interface {
	BreakerStates() map[string]resilience.State
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Running     bool              `json:"running"`
	Labels      []string          `json:"labels"`
	Commands    []string          `json:"commands"`
	Threshold   float64           `json:"threshold"`
	Suppression string            `json:"suppression"`
	HopInterval string            `json:"hop_interval"`
	LastTick    *time.Time        `json:"last_tick,omitempty"`
	LastLabel   string            `json:"last_label,omitempty"`
	LastEmitted *time.Time        `json:"last_emitted,omitempty"`
	Windowing   windowingStatus   `json:"windowing"`
	Emitted     uint64            `json:"emitted"`
	Dropped     uint64            `json:"decisions_dropped"`
	DriftTicks  uint64            `json:"drift_ticks"`
	Published   uint64            `json:"published"`
	Subscribers int               `json:"subscribers"`
	Breakers    map[string]string `json:"breakers,omitempty"`
	Recorder    *recorderStatus   `json:"detection_log,omitempty"`
}

type windowingStatus struct {
	SamplesIngested   uint64 `json:"samples_ingested"`
	FramesProduced    uint64 `json:"frames_produced"`
	ReadyCount        uint64 `json:"ready_count"`
	SkippedTicks      uint64 `json:"skipped_ticks"`
	TransformErrors   uint64 `json:"transform_errors"`
	SpectrogramLength int    `json:"spectrogram_length"`
}

func toWindowing(s windower.Stats) windowingStatus {
	return windowingStatus{
		SamplesIngested:   s.SamplesIngested,
		FramesProduced:    s.FramesProduced,
		ReadyCount:        s.ReadyCount,
		SkippedTicks:      s.SkippedTicks,
		TransformErrors:   s.TransformErrors,
		SpectrogramLength: s.SpectrogramLength,
	}
}

type recorderStatus struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// entryJSON is the wire form of a detection log entry.
type entryJSON struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Label       string    `json:"label"`
	Score       float32   `json:"score"`
	Source      string    `json:"source"`
	DetectedAt  time.Time `json:"detected_at"`
	Fingerprint []float32 `json:"fingerprint,omitempty"`
	Distance    *float64  `json:"distance,omitempty"`
}

func toJSON(e detectionlog.Entry) entryJSON {
	return entryJSON{
		ID:          e.ID,
		Kind:        e.Kind,
		Label:       e.Label,
		Score:       e.Score,
		Source:      e.Source,
		DetectedAt:  e.DetectedAt,
		Fingerprint: e.Fingerprint,
	}
}

// similarRequest is the body of POST /detections/similar.
type similarRequest struct {
	Fingerprint []float32 `json:"fingerprint"`
	TopK        int       `json:"top_k"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := a.rec.Stats()
	state := a.det.State()
	published, _ := a.broker.Stats()

	res := statusResponse{
		Running:     a.rec.Running(),
		Labels:      a.rec.Labels(),
		Commands:    a.rec.Commands(),
		Threshold:   a.det.Threshold(),
		Suppression: a.det.Suppression().String(),
		HopInterval: a.rec.HopInterval().String(),
		LastLabel:   state.LastLabel,
		Windowing:   toWindowing(stats.Windower),
		Emitted:     stats.Emitted,
		Dropped:     stats.DecisionsDropped,
		DriftTicks:  stats.DriftTicks,
		Published:   published,
		Subscribers: a.broker.Subscribers(),
	}
	if t := a.rec.LastTick(); !t.IsZero() {
		res.LastTick = &t
	}
	if !state.LastTime.IsZero() {
		res.LastEmitted = &state.LastTime
	}
	if br, ok := a.providers.Classifier.(breakerReporter); ok {
		res.Breakers = make(map[string]string)
		for name, s := range br.BreakerStates() {
			res.Breakers[name] = s.String()
		}
	}
	if a.recorder != nil {
		rs := a.recorder.Stats()
		res.Recorder = &recorderStatus{Written: rs.Written, Failed: rs.Failed, Dropped: rs.Dropped}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRecent serves GET /detections?label=&kind=&after=&before=&limit=.
// Times are RFC 3339.
func (a *App) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := detectionlog.Filter{
		Label: q.Get("label"),
		Kind:  q.Get("kind"),
	}

	var errs []error
	var err error
	if f.After, err = parseTime(q.Get("after")); err != nil {
		errs = append(errs, fmt.Errorf("after: %w", err))
	}
	if f.Before, err = parseTime(q.Get("before")); err != nil {
		errs = append(errs, fmt.Errorf("before: %w", err))
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 || limit > maxRecentLimit {
			errs = append(errs, fmt.Errorf("limit must be between 1 and %d", maxRecentLimit))
		}
	}
	if err := errors.Join(errs...); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := a.store.Recent(r.Context(), limit, f)
	if err != nil {
		slog.Warn("app: query detections", "err", err)
		writeError(w, http.StatusBadGateway, errors.New("detection log unavailable"))
		return
	}
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = toJSON(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSimilar serves POST /detections/similar.
func (a *App) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(req.Fingerprint) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("fingerprint is required"))
		return
	}
	if req.TopK < 0 || req.TopK > maxRecentLimit {
		writeError(w, http.StatusBadRequest, fmt.Errorf("top_k must be between 0 and %d", maxRecentLimit))
		return
	}

	matches, err := a.store.Similar(r.Context(), req.Fingerprint, req.TopK)
	if err != nil {
		slog.Warn("app: similar detections", "err", err)
		writeError(w, http.StatusBadGateway, errors.New("detection log unavailable"))
		return
	}
	out := make([]entryJSON, len(matches))
	for i, m := range matches {
		out[i] = toJSON(m.Entry)
		d := m.Distance
		out[i].Distance = &d
	}
	writeJSON(w, http.StatusOK, out)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("app: write response", "err", err)
	}
}
