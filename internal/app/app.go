// Package app wires all hearken subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts recognition and the HTTP surface and blocks until
// the context ends or the capture stream is lost, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTransform, WithStore, WithClock, WithTicker, etc.). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/clock"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/detector"
	"github.com/MrWong99/hearken/internal/eventstream"
	"github.com/MrWong99/hearken/internal/health"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/internal/windower"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/detectionlog"
	"github.com/MrWong99/hearken/pkg/detectionlog/postgres"
	"github.com/MrWong99/hearken/pkg/feature"
	"github.com/MrWong99/hearken/pkg/feature/mel"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
)

// shutdownGrace bounds the HTTP server drain when Run returns.
const shutdownGrace = 5 * time.Second

// Providers holds the capture source and the classifier. Populated by
// main.go via [BuildProviders] and the config registry.
type Providers struct {
	Audio      audio.Source
	Classifier classifier.Classifier
}

// App owns all subsystem lifetimes and orchestrates the recognition pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems; initialised in New, torn down in Shutdown.
	transform feature.Transform
	win       *windower.Windower
	det       *detector.Engine
	broker    *eventstream.Broker
	rec       *recognizer.Recognizer
	store     detectionlog.Store
	recorder  *detectionlog.Recorder
	handler   http.Handler

	metrics  *observe.Metrics
	clock    clock.Clock
	ticker   recognizer.Ticker
	logLevel *slog.LevelVar

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTransform injects a spectral transform instead of building a mel
// transform from config.
func WithTransform(t feature.Transform) Option {
	return func(a *App) { a.transform = t }
}

// WithStore injects a detection log store instead of connecting to
// storage.postgres_dsn. The caller keeps ownership; Shutdown does not close
// it.
func WithStore(s detectionlog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock injects the time source for detection, drift and readiness.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithTicker replaces the hop ticker.
func WithTicker(t recognizer.Ticker) Option {
	return func(a *App) { a.ticker = t }
}

// WithLogLevel lets hot reloads change the level of the handler that
// observes lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil || providers.Classifier == nil {
		return nil, errors.New("app: audio source and classifier are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		clock:     clock.Real{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Framing ───────────────────────────────────────────────────────
	if err := a.initWindower(); err != nil {
		return nil, fmt.Errorf("app: init windower: %w", err)
	}

	// ── 2. Decision engine ───────────────────────────────────────────────
	if err := a.initDetector(); err != nil {
		return nil, fmt.Errorf("app: init detector: %w", err)
	}

	// ── 3. Event broker ──────────────────────────────────────────────────
	a.broker = eventstream.NewBroker(
		eventstream.WithIncludeOther(cfg.Detection.IncludeOtherLabel),
		eventstream.WithMetrics(a.metrics),
	)

	// ── 4. Detection log ─────────────────────────────────────────────────
	if err := a.initDetectionLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init detection log: %w", err)
	}

	// ── 5. Recognizer ────────────────────────────────────────────────────
	if err := a.initRecognizer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()

	a.closers = append(a.closers, a.providers.Classifier.Close)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initWindower() error {
	f := a.cfg.Features
	if a.transform == nil {
		t, err := mel.New(mel.Config{
			SampleRate:   f.SampleRate,
			WindowLength: f.WindowLength,
			MelCount:     f.MelCount,
			MFCC:         f.MFCCEnabled(),
			MinFreq:      f.MinFreq,
			MaxFreq:      f.MaxFreq,
		})
		if err != nil {
			return err
		}
		a.transform = t
	}

	win, err := windower.New(windower.Config{
		SampleRate:     f.SampleRate,
		WindowLength:   f.WindowLength,
		HopLength:      f.HopLength,
		Duration:       f.Duration,
		RetainEvict:    f.RetainEvict,
		BufferCapacity: f.BufferCapacity,
	}, a.transform)
	if err != nil {
		return err
	}
	a.win = win
	return nil
}

func (a *App) initDetector() error {
	d := a.cfg.Detection
	det, err := detector.New(detector.Config{
		Labels:             detector.Labels(d.CommandLabels),
		Threshold:          d.ScoreThreshold,
		Suppression:        d.Suppression,
		SmoothingWindow:    d.SmoothingWindow,
		MinSamples:         d.MinSamples,
		MinElapsedFraction: d.MinElapsedFraction,
	}, a.providers.Classifier, detector.WithClock(a.clock))
	if err != nil {
		return err
	}
	a.det = det
	return nil
}

// initDetectionLog connects the PostgreSQL store or uses an injected one.
// Without either the detection log is disabled.
func (a *App) initDetectionLog(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Storage.PostgresDSN
		if dsn == "" {
			slog.Info("app: storage.postgres_dsn is empty; detection log disabled")
			return nil
		}
		store, err := postgres.NewStore(ctx, dsn, a.cfg.Storage.FingerprintDimensions)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	a.recorder = detectionlog.NewRecorder(a.store)
	return nil
}

func (a *App) initRecognizer() error {
	opts := []recognizer.Option{
		recognizer.WithPublisher(a.broker),
		recognizer.WithMetrics(a.metrics),
		recognizer.WithClock(a.clock),
		recognizer.WithDriftTolerance(a.cfg.Detection.DriftToleranceHops),
	}
	if a.ticker != nil {
		opts = append(opts, recognizer.WithTicker(a.ticker))
	}
	if a.recorder != nil {
		opts = append(opts, recognizer.WithPublishHook(a.recordDetection))
	}
	rec, err := recognizer.New(a.providers.Audio, a.win, a.det, opts...)
	if err != nil {
		return err
	}
	a.rec = rec
	return nil
}

// recordDetection queues a published event for the detection log.
func (a *App) recordDetection(ev eventstream.Event, snapshot []feature.Frame) {
	a.recorder.Submit(detectionlog.Entry{
		ID:          ev.ID,
		Kind:        ev.Kind,
		Label:       ev.Label,
		Score:       ev.Score,
		Source:      a.cfg.Audio.Name,
		DetectedAt:  ev.Time,
		Fingerprint: detectionlog.Fingerprint(snapshot),
	})
}

// routes builds the HTTP surface: health checks, metrics, the event stream and the
// detection log API.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	healthOpts := []health.Option{health.WithClock(a.clock)}
	if a.store != nil {
		healthOpts = append(healthOpts, health.WithDependency("detection_log", a.store))
	}
	health.New(a.rec, healthOpts...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /events", eventstream.Handler(a.broker,
		eventstream.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	))
	mux.HandleFunc("GET /status", a.handleStatus)
	if a.store != nil {
		mux.HandleFunc("GET /detections", a.handleRecent)
		mux.HandleFunc("POST /detections/similar", a.handleSimilar)
	}

	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler served on server.listen_addr.
func (a *App) Handler() http.Handler { return a.handler }

// Broker returns the event broker.
func (a *App) Broker() *eventstream.Broker { return a.broker }

// Recognizer returns the recognition loop.
func (a *App) Recognizer() *recognizer.Recognizer { return a.rec }

// Detector returns the decision engine.
func (a *App) Detector() *detector.Engine { return a.det }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts recognition and, when server.listen_addr is set, the HTTP
// server. It blocks until ctx is cancelled or the recognizer stops on its
// own. When ctx is done, Run returns context.Canceled (or the underlying
// cause); when the capture stream is lost it returns the recognizer error.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
	}
	if err := a.rec.Start(ctx); err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		return fmt.Errorf("app: %w", err)
	}
	done := a.rec.Done()

	g, gctx := errgroup.WithContext(ctx)
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(gctx) })
	}
	if ln != nil {
		g.Go(func() error { return a.serve(gctx, ln) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-done:
			if err := a.rec.Err(); err != nil {
				return fmt.Errorf("app: %w", err)
			}
			return fmt.Errorf("app: %w", recognizer.ErrStreamEnded)
		}
	})

	slog.Info("app: running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"commands", a.rec.Commands(),
		"detection_log", a.store != nil,
	)
	err := g.Wait()
	if stopErr := a.rec.Stop(); stopErr != nil {
		slog.Warn("app: stop recognizer", "err", stopErr)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// serve runs the HTTP server on ln until ctx is done.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("app: http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	// Event stream clients are hijacked connections; closing the broker ends
	// them so Shutdown does not wait for the grace period.
	a.broker.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("app: http server shutdown", "err", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http server: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		// Stop capture first so nothing new is published.
		if err := a.rec.Stop(); err != nil {
			slog.Warn("app: stop recognizer", "err", err)
		}
		a.broker.Close()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll runs closers registered so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
