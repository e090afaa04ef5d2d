// Command parlo is the Parlo voice pipeline daemon: it captures microphone
// audio, streams it to a realtime speech service and plays the replies back,
// exposing health and metrics endpoints while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parlodev/parlo/internal/capture"
	"github.com/parlodev/parlo/internal/config"
	"github.com/parlodev/parlo/internal/health"
	"github.com/parlodev/parlo/internal/observe"
	"github.com/parlodev/parlo/internal/playback"
	"github.com/parlodev/parlo/internal/session"
	"github.com/parlodev/parlo/internal/transport"
	"github.com/parlodev/parlo/internal/transport/realtime"
	"github.com/parlodev/parlo/pkg/audio/device"
	padevice "github.com/parlodev/parlo/pkg/audio/device/portaudio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parlo.yaml", "path to the YAML configuration file")
	modeFlag := flag.String("mode", "dictate", "session mode: dictate (capture + transcripts) or discuss (full duplex)")
	flag.Parse()

	mode, err := parseMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parlo: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlo: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("parlo starting",
		"config", *configPath,
		"mode", mode,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Audio pipeline ────────────────────────────────────────────────────────
	streamCfg := device.StreamConfig{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSize:        cfg.Audio.FrameSize,
		NoiseSuppression: cfg.Audio.Input.NoiseSuppression,
		EchoCancellation: cfg.Audio.Input.EchoCancellation,
		AutoGain:         cfg.Audio.Input.AutoGain,
	}

	cap := capture.New(padevice.NewInput(), streamCfg, capture.WithMetrics(metrics))
	play := playback.New(padevice.NewOutput(), streamCfg,
		playback.WithMetrics(metrics),
		playback.WithMaxQueueDepth(cfg.Playback.MaxQueueDepth),
	)
	if err := play.SetVolume(cfg.Playback.Volume); err != nil {
		slog.Error("invalid playback volume", "err", err)
		return 1
	}

	var dialerOpts []realtime.Option
	if cfg.Transport.Model != "" {
		dialerOpts = append(dialerOpts, realtime.WithModel(cfg.Transport.Model))
	}
	if cfg.Transport.URL != "" {
		dialerOpts = append(dialerOpts, realtime.WithBaseURL(cfg.Transport.URL))
	}
	dialer := realtime.New(cfg.Transport.APIKey, dialerOpts...)

	coord := session.New(dialer, cap, play,
		transport.SessionConfig{
			Model:        cfg.Transport.Model,
			Voice:        cfg.Transport.Voice,
			Instructions: cfg.Transport.Instructions,
		},
		session.WithMetrics(metrics),
		session.WithReconnectPolicy(
			cfg.Transport.Reconnect.MaxRetries,
			cfg.Transport.Reconnect.Backoff,
			cfg.Transport.Reconnect.MaxBackoff,
		),
		session.WithTranscriptHandler(printTranscript),
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		applyDiff(config.Compare(old, updated), logLevel, coord)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server: health + metrics ─────────────────────────────────────────
	mux := http.NewServeMux()
	healthHandler := health.New(
		[]health.Checker{
			{Name: "session", Check: func(_ context.Context) error {
				if s := coord.State(); s != session.StateActive {
					return fmt.Errorf("session %s", s)
				}
				return nil
			}},
		},
		health.WithStatusSource(func() any { return newStatusView(coord.Snapshot()) }),
	)
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: observe.Middleware(metrics)(mux)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// ── Start the session ─────────────────────────────────────────────────────
	printStartupSummary(cfg, mode)

	if err := coord.Start(ctx, mode); err != nil {
		slog.Error("failed to start session", "err", err)
		stop()
		_ = g.Wait()
		return 1
	}

	slog.Info("session ready — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	if err := coord.Stop(); err != nil {
		slog.Warn("session stop error", "err", err)
	}
	if err := g.Wait(); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// parseMode maps the -mode flag value to a session mode.
func parseMode(s string) (session.Mode, error) {
	switch s {
	case "dictate", "dictation":
		return session.ModeDictation, nil
	case "discuss", "discussion":
		return session.ModeDiscussion, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want dictate or discuss)", s)
	}
}

// printTranscript writes one transcript entry to stdout, prefixed by the
// speaker role.
func printTranscript(tr transport.Transcript) {
	fmt.Printf("[%s] %s\n", tr.Role, tr.Text)
}

// applyDiff applies hot-reloadable config changes to the running pipeline and
// logs the ones that need a restart.
func applyDiff(d config.Diff, logLevel *slog.LevelVar, coord *session.Coordinator) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.VolumeChanged {
		if err := coord.SetVolume(d.NewVolume); err != nil {
			slog.Warn("cannot apply new volume", "err", err)
		} else {
			slog.Info("playback volume updated", "volume", d.NewVolume)
		}
	}
	if d.TransportChanged {
		slog.Warn("transport settings changed — restart to apply")
	}
	if d.AudioChanged {
		slog.Warn("audio settings changed — restart to apply")
	}
}

// statusView is the JSON shape served on /statusz.
type statusView struct {
	State   string  `json:"state"`
	Mode    string  `json:"mode"`
	Capture string  `json:"capture"`
	Playing bool    `json:"playing"`
	Muted   bool    `json:"muted"`
	Volume  float64 `json:"volume"`
	LastErr string  `json:"last_error,omitempty"`
}

func newStatusView(s session.Snapshot) statusView {
	v := statusView{
		State:   s.State.String(),
		Mode:    s.Mode.String(),
		Capture: s.Capture.String(),
		Playing: s.Playing,
		Muted:   s.Muted,
		Volume:  s.Volume,
	}
	if s.LastErr != nil {
		v.LastErr = s.LastErr.Error()
	}
	return v
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode session.Mode) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Parlo — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", mode.String())
	printRow("Model", cfg.Transport.Model)
	printRow("Voice", cfg.Transport.Voice)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Frame size", fmt.Sprintf("%d samples", cfg.Audio.FrameSize))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}
