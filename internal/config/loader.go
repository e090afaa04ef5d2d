package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	// Defaults go in before decoding so that explicitly configured zero
	// values (playback.volume: 0 for silence) are not mistaken for absent
	// fields and overwritten.
	cfg.ApplyDefaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// Transport
	if cfg.Transport.URL != "" &&
		!strings.HasPrefix(cfg.Transport.URL, "ws://") &&
		!strings.HasPrefix(cfg.Transport.URL, "wss://") {
		errs = append(errs, fmt.Errorf("transport.url %q must use the ws:// or wss:// scheme", cfg.Transport.URL))
	}
	if cfg.Transport.APIKey == "" {
		slog.Warn("transport.api_key is empty; sessions will fail to authenticate unless the endpoint is open")
	}
	if cfg.Transport.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect.max_retries must not be negative"))
	}
	if cfg.Transport.Reconnect.Backoff < 0 || cfg.Transport.Reconnect.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect backoff durations must not be negative"))
	}
	if b, mb := cfg.Transport.Reconnect.Backoff, cfg.Transport.Reconnect.MaxBackoff; b > 0 && mb > 0 && b > mb {
		errs = append(errs, fmt.Errorf("transport.reconnect.backoff %v exceeds max_backoff %v", b, mb))
	}

	// Playback
	if cfg.Playback.MaxQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("playback.max_queue_depth must not be negative"))
	}
	if cfg.Playback.Volume < 0 || cfg.Playback.Volume > 1 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", cfg.Playback.Volume))
	}

	return errors.Join(errs...)
}

// SlogLevel maps a [LogLevel] to its slog equivalent. Unknown levels map to
// info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
