// Command aria is the main entry point for the Aria voice agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-ai/aria/internal/app"
	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/meeting"
	"github.com/aria-ai/aria/internal/observe"
	"github.com/aria-ai/aria/pkg/audio/device"
	"github.com/aria-ai/aria/pkg/audio/webrtc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	meetingID := flag.String("meeting", "", "local mode: meeting whose agent and summary to use")
	instructions := flag.String("instructions", "", "local mode: system prompt, overrides the meeting's agent")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aria: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aria: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("aria starting",
		"version", version,
		"config", *configPath,
		"mode", cfg.Server.Mode,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	mic := app.NewCaptureTap(device.NewMicrophone())
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg, app.BuiltinDeps{Capture: mic, Voice: cfg.Voice})
	sttNames, llmNames, ttsNames := reg.Registered()
	slog.Debug("provider registry", "stt", sttNames, "llm", llmNames, "tts", ttsNames)
	providers, err := app.BuildProviders(cfg.Providers, reg, app.WithBuildMetrics(metrics))
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Meeting store ─────────────────────────────────────────────────────────
	var (
		store meeting.Store
		pool  *pgxpool.Pool
	)
	if cfg.Database.DSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to open database", "err", err)
			return 1
		}
		defer pool.Close()
		pg := meeting.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "err", err)
			return 1
		}
		store = pg
	}

	if cfg.Server.Mode == config.ModeLocal {
		return runLocal(ctx, cfg, providers, metrics, mic, store, *meetingID, *instructions)
	}
	if store == nil {
		slog.Error("call mode needs database.dsn")
		return 1
	}

	// ── Call transport ────────────────────────────────────────────────────────
	platform := webrtc.New(webrtc.WithSTUNServers(cfg.Transport.STUNServers...))

	application, err := app.New(cfg, app.Deps{
		Store:          store,
		Platform:       platform,
		Providers:      providers,
		Signaling:      webrtc.NewSignalingServer(platform),
		Metrics:        metrics,
		MetricsHandler: telemetry.Handler(),
		LogLevel:       level,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		application.AddCloser(func() error { watcher.Stop(); return nil })
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runLocal runs one call on the host microphone and speaker until the
// process is signalled.
func runLocal(ctx context.Context, cfg *config.Config, providers *app.Providers, metrics *observe.Metrics,
	mic *app.CaptureTap, store meeting.Store, meetingID, instructions string) int {
	if instructions == "" && meetingID != "" {
		if store == nil {
			slog.Error("-meeting needs database.dsn")
			return 1
		}
		m, err := store.Get(ctx, meetingID)
		if err != nil {
			slog.Error("failed to load meeting", "meeting_id", meetingID, "err", err)
			return 1
		}
		instructions, err = store.FetchAgentInstructions(ctx, m.AgentID)
		if err != nil {
			slog.Error("failed to load agent instructions", "agent_id", m.AgentID, "err", err)
			return 1
		}
	}

	speaker, err := device.NewSpeaker()
	if err != nil {
		slog.Error("failed to open speaker", "err", err)
		return 1
	}

	slog.Info("local call ready, speak into the microphone; Ctrl+C ends the call")
	err = app.RunLocal(ctx, app.LocalCall{
		Providers:    providers,
		Voice:        cfg.Voice,
		Metrics:      metrics,
		Tap:          mic,
		Sink:         speaker,
		Instructions: instructions,
		Store:        store,
		MeetingID:    meetingID,
	})
	if err != nil {
		slog.Error("local call failed", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
