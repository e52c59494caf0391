package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/murmurhq/murmur/internal/style"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":     {"openai", "whispercpp"},
	"enhance": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Defaults applied by [Validate] when the corresponding field is zero.
const (
	DefaultListenAddr       = ":8080"
	DefaultTokenTTL         = 24 * time.Hour
	DefaultMaxDuration      = 3 * time.Minute
	DefaultGuestMaxDuration = time.Minute
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for optional fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("enhance", cfg.Providers.Enhance.Name)
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required; audio cannot be processed without a transcription backend"))
	}
	if cfg.Providers.Enhance.Name == "" {
		errs = append(errs, errors.New("providers.enhance.name is required; transcripts cannot be rewritten without an LLM backend"))
	}

	// Storage / auth
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; notes cannot be saved and accounts cannot be created")
	} else if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when storage.postgres_dsn is set"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must not be negative", cfg.Auth.TokenTTL))
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}

	// Capture
	if cfg.Capture.MaxDuration < 0 || cfg.Capture.GuestMaxDuration < 0 {
		errs = append(errs, errors.New("capture durations must not be negative"))
	}
	if cfg.Capture.MaxDuration == 0 {
		cfg.Capture.MaxDuration = DefaultMaxDuration
	}
	if cfg.Capture.GuestMaxDuration == 0 {
		cfg.Capture.GuestMaxDuration = DefaultGuestMaxDuration
	}
	if cfg.Capture.GuestMaxDuration > cfg.Capture.MaxDuration {
		errs = append(errs, fmt.Errorf("capture.guest_max_duration %s exceeds capture.max_duration %s",
			cfg.Capture.GuestMaxDuration, cfg.Capture.MaxDuration))
	}

	// Styles — build the merged table once so startup fails on a bad entry.
	if _, err := StyleTable(cfg); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// StyleTable merges the built-in style table with cfg.Styles.Extra (entries
// with a matching id replace the built-in one) and returns the validated table.
func StyleTable(cfg *Config) (*style.Table, error) {
	merged := style.Builtin()
	for _, extra := range cfg.Styles.Extra {
		idx := slices.IndexFunc(merged, func(s style.Style) bool { return s.ID == extra.ID })
		if idx >= 0 {
			merged[idx] = extra
		} else {
			merged = append(merged, extra)
		}
	}
	return style.NewTable(merged, cfg.Styles.Default)
}

// validateProviderName logs a warning when name is non-empty and not in the
// known-provider list for kind. Unknown names are not fatal — the registry
// decides at construction time whether a factory exists.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known := ValidProviderNames[kind]
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name", "kind", kind, "name", name, "known", known)
	}
}
