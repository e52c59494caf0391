// Command murmur is the main entry point for the Murmur voice note server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/murmurhq/murmur/internal/auth"
	"github.com/murmurhq/murmur/internal/capture"
	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/enhance"
	"github.com/murmurhq/murmur/internal/observe"
	"github.com/murmurhq/murmur/internal/server"
	"github.com/murmurhq/murmur/internal/store/postgres"
	"github.com/murmurhq/murmur/internal/transcribe"
	"github.com/murmurhq/murmur/pkg/provider/llm"
	"github.com/murmurhq/murmur/pkg/provider/llm/anyllm"
	oaillm "github.com/murmurhq/murmur/pkg/provider/llm/openai"
	"github.com/murmurhq/murmur/pkg/provider/stt"
	oaistt "github.com/murmurhq/murmur/pkg/provider/stt/openai"
	"github.com/murmurhq/murmur/pkg/provider/stt/whispercpp"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "murmur: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("murmur starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create transcription provider", "err", err)
		return 1
	}
	llmProvider, err := reg.CreateLLM(cfg.Providers.Enhance)
	if err != nil {
		slog.Error("failed to create enhancement provider", "err", err)
		return 1
	}

	styles, err := config.StyleTable(cfg)
	if err != nil {
		slog.Error("invalid style configuration", "err", err)
		return 1
	}

	transcriber, err := transcribe.NewGateway(sttProvider, cfg.Providers.STT.Name, metrics)
	if err != nil {
		slog.Error("failed to create transcription gateway", "err", err)
		return 1
	}
	enhancer, err := enhance.NewGateway(llmProvider, cfg.Providers.Enhance.Name, styles, metrics)
	if err != nil {
		slog.Error("failed to create enhancement gateway", "err", err)
		return 1
	}
	captureMgr, err := capture.NewManager(cfg.Capture.MaxDuration, cfg.Capture.GuestMaxDuration, metrics)
	if err != nil {
		slog.Error("failed to create capture manager", "err", err)
		return 1
	}

	// ── Storage + accounts (optional) ─────────────────────────────────────────
	deps := server.Deps{
		Transcriber: transcriber,
		Enhancer:    enhancer,
		Capture:     captureMgr,
		Styles:      styles,
		Metrics:     metrics,
	}
	if cfg.Storage.PostgresDSN != "" {
		st, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer st.Close()

		authSvc, err := auth.NewService(st.Users(), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			slog.Error("failed to create auth service", "err", err)
			return 1
		}
		deps.Auth = authSvc
		deps.Notes = st.Notes()
		slog.Info("postgres connected, accounts and note storage enabled")
	} else {
		slog.Warn("no postgres DSN configured — running guest-only, notes will not persist")
	}

	printStartupSummary(cfg)

	srv, err := server.New(cfg.Server, deps)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whispercpp", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whispercpp.Option
		if entry.Model != "" {
			opts = append(opts, whispercpp.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whispercpp.WithLanguage(lang))
		}
		return whispercpp.New(entry.BaseURL, opts...)
	})

	// ── Enhancement LLMs ──────────────────────────────────────────────────────
	// openai goes through the native client; the rest share the any-llm
	// pattern of optional APIKey + optional BaseURL.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Murmur — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Enhance", cfg.Providers.Enhance.Name, cfg.Providers.Enhance.Model)
	if cfg.Storage.PostgresDSN != "" {
		fmt.Printf("║  Storage         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Storage         : %-19s ║\n", "(none — guest only)")
	}
	fmt.Printf("║  Capture limit   : %-19s ║\n", cfg.Capture.MaxDuration)
	fmt.Printf("║  Guest limit     : %-19s ║\n", cfg.Capture.GuestMaxDuration)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
