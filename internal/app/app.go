// Package app wires the Aria subsystems into a running server.
//
// The App owns the HTTP surface (call control, WebRTC signaling, health
// probes and metrics) and the [CallManager] that runs one voice orchestrator
// per meeting. New assembles everything, Run serves until its context ends,
// and Shutdown drains calls and tears the rest down in order.
//
// Collaborators are injected through [Deps] so tests can run the whole
// server against mocks.
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

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/health"
	"github.com/aria-ai/aria/internal/meeting"
	"github.com/aria-ai/aria/internal/observe"
	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/types"
)

// Deps are the collaborators of an [App].
type Deps struct {
	Store     meeting.Store
	Platform  audio.Platform
	Providers *Providers

	// Signaling, if set, registers the peer signaling routes.
	Signaling interface{ Register(*http.ServeMux) }

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler, if set, is served at /metrics.
	MetricsHandler http.Handler

	// LogLevel, if set, follows server.log_level on config reloads.
	LogLevel *slog.LevelVar
}

// Option customises an [App].
type Option func(*App)

// WithHealthChecker adds a readiness check next to the database ping.
func WithHealthChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// WithTranscriptHook receives every accepted transcript of every call.
func WithTranscriptHook(fn func(meetingID string, ev types.TranscriptEvent)) Option {
	return func(a *App) { a.onTranscript = fn }
}

// App owns the lifetime of all subsystems.
type App struct {
	cfg  *config.Config
	deps Deps

	checkers     []health.Checker
	onTranscript func(meetingID string, ev types.TranscriptEvent)

	calls   *CallManager
	health  *health.Handler
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	closers  []func() error
	stopOnce sync.Once
}

// New builds the App. It does not start listening; see [App.Run].
func New(cfg *config.Config, deps Deps, opts ...Option) (*App, error) {
	if deps.Store == nil {
		return nil, errors.New("app: meeting store is required")
	}
	if deps.Platform == nil {
		return nil, errors.New("app: call transport is required")
	}
	if deps.Providers == nil || deps.Providers.STT == nil || deps.Providers.LLM == nil || deps.Providers.TTS == nil {
		return nil, errors.New("app: stt, llm and tts providers are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	a := &App{cfg: cfg, deps: deps}
	for _, o := range opts {
		o(a)
	}

	a.calls = NewCallManager(CallManagerConfig{
		Store:        deps.Store,
		Platform:     deps.Platform,
		Providers:    deps.Providers,
		Voice:        cfg.Voice,
		Metrics:      deps.Metrics,
		OnTranscript: a.onTranscript,
	})

	checkers := append([]health.Checker{{Name: "database", Check: deps.Store.Ping}}, a.checkers...)
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.health.Register(mux)
	a.registerCallRoutes(mux)
	if deps.Signaling != nil {
		deps.Signaling.Register(mux)
	}
	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}
	a.handler = observe.Middleware(deps.Metrics)(mux)
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Calls returns the call manager.
func (a *App) Calls() *CallManager { return a.calls }

// AddCloser registers fn to run at the end of Shutdown. Closers run in
// reverse registration order.
func (a *App) AddCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Run serves HTTP on server.listen_addr until ctx is cancelled. It returns
// nil after a cancellation and the listener error otherwise. Callers still
// call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		errc <- err
	}()
	slog.Info("app: serving", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// ApplyConfig reacts to a reloaded config file. Voice thresholds and the log
// level change live; other sections are reported as needing a restart.
func (a *App) ApplyConfig(_, next *config.Config, diff config.ConfigDiff) {
	if diff.ThresholdsChanged {
		a.calls.SetThresholds(thresholdsFrom(next.Voice))
	}
	if diff.LogLevelChanged && a.deps.LogLevel != nil {
		a.deps.LogLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("app: log level changed", "level", diff.NewLogLevel)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "sections", diff.RestartRequired)
	}
}

// Shutdown marks the server as draining, stops every call (storing their
// summaries), closes the HTTP server and runs the closers. It is idempotent;
// later calls return nil.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "calls", len(a.calls.Active()))
		a.health.SetDraining(true)

		if err := a.calls.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		a.mu.Lock()
		srv := a.server
		closers := a.closers
		a.mu.Unlock()

		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return errors.Join(errs...)
}

// SlogLevel maps a config log level to its slog level. Unknown levels map
// to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
