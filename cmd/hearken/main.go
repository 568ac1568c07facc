// Command hearken listens to a capture stream and publishes spoken command
// detections over HTTP.
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

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hearken/internal/app"
	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/recognizer"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/audio/discord"
	"github.com/MrWong99/hearken/pkg/audio/pcm"
	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/classifier/onnx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload detection tunables when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearken: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearken: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("hearken starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		AudioSource:    cfg.Audio.Name,
		Model:          cfg.Model.Name,
		CommandLabels:  cfg.Detection.CommandLabels,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	var sessions sessionCloser
	registerBuiltinProviders(reg, &sessions)
	defer sessions.close()

	providers, err := app.BuildProviders(cfg, reg, tel.Metrics, nil)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level), app.WithMetrics(tel.Metrics))
	if err != nil {
		_ = providers.Classifier.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.Reload)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("hearken ready; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, recognizer.ErrStreamEnded) {
			slog.Error("capture stream ended", "err", err)
		} else {
			slog.Error("run error", "err", err)
		}
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider kinds to the implementations that ship with
// hearken. Used for startup logging.
var builtinProviders = map[string][]string{
	"audio": {"pcm", "discord"},
	"model": {"onnx"},
}

// sessionCloser closes Discord sessions opened by the discord factory.
type sessionCloser []*discordgo.Session

func (s *sessionCloser) close() {
	for _, sess := range *s {
		if err := sess.Close(); err != nil {
			slog.Warn("discord session close error", "err", err)
		}
	}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, sessions *sessionCloser) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	// pcm reads interleaved little-endian int16 from a file or, for path "-",
	// standard input.
	reg.RegisterAudio("pcm", func(entry config.ProviderEntry) (audio.Source, error) {
		path := config.OptString(entry.Options, "path")
		if path == "" {
			return nil, errors.New("pcm: option path is required (use \"-\" for stdin)")
		}
		opts := []pcm.Option{
			pcm.WithFormat(
				config.OptInt(entry.Options, "sample_rate", config.DefaultSampleRate),
				config.OptInt(entry.Options, "channels", 1),
			),
			pcm.WithRealtime(config.OptBool(entry.Options, "realtime", path != "-")),
		}
		if n := config.OptInt(entry.Options, "chunk_frames", 0); n > 0 {
			opts = append(opts, pcm.WithChunkFrames(n))
		}
		if path == "-" {
			return pcm.NewStdin(opts...), nil
		}
		return pcm.NewFile(path, opts...), nil
	})

	reg.RegisterAudio("discord", func(entry config.ProviderEntry) (audio.Source, error) {
		token := config.OptString(entry.Options, "token")
		guildID := config.OptString(entry.Options, "guild_id")
		channelID := config.OptString(entry.Options, "channel_id")
		if token == "" || guildID == "" || channelID == "" {
			return nil, errors.New("discord: options token, guild_id and channel_id are required")
		}
		sess, err := discordgo.New("Bot " + token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		if err := sess.Open(); err != nil {
			return nil, fmt.Errorf("discord: open session: %w", err)
		}
		*sessions = append(*sessions, sess)

		var opts []discord.Option
		if id := config.OptString(entry.Options, "user_id"); id != "" {
			opts = append(opts, discord.WithUserID(id))
		}
		return discord.New(sess, guildID, channelID, opts...), nil
	})

	// ── Models ────────────────────────────────────────────────────────────────

	reg.RegisterClassifier("onnx", func(m config.ModelConfig, numLabels int) (classifier.Classifier, error) {
		return onnx.New(onnx.Config{
			ModelPath:   m.Path,
			LibraryPath: config.OptString(m.Options, "library_path"),
			InputName:   config.OptString(m.Options, "input_name"),
			OutputName:  config.OptString(m.Options, "output_name"),
			Layout:      config.OptString(m.Options, "layout"),
			NumLabels:   numLabels,
		})
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         hearken: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", cfg.Audio.Name)
	printRow("Model", cfg.Model.Name)
	printRow("Fallbacks", fmt.Sprint(len(cfg.Model.Fallbacks)))
	printRow("Commands", fmt.Sprint(len(cfg.Detection.CommandLabels)))
	printRow("Threshold", fmt.Sprintf("%.2f", cfg.Detection.ScoreThreshold))
	printRow("Hop", cfg.Features.HopInterval().String())
	if cfg.Storage.PostgresDSN != "" {
		printRow("Detection log", "postgres")
	} else {
		printRow("Detection log", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}
