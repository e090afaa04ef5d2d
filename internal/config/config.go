// Package config provides the configuration schema, loader, and file watcher
// for the Parlo voice pipeline.
package config

import (
	"time"

	"github.com/parlodev/parlo/pkg/audio"
)

// LogLevel controls log verbosity for the Parlo process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parlo. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Transport TransportConfig `yaml:"transport"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// ServerConfig holds network and logging settings for the local
// health/metrics endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz and /metrics
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig holds the capture/playback format and input enhancement
// settings.
type AudioConfig struct {
	// SampleRate is the capture and playback rate in Hz. Defaults to 24000,
	// the rate the remote speech service expects.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per capture frame. Defaults to 4096.
	FrameSize int `yaml:"frame_size"`

	// Input configures microphone signal conditioning.
	Input InputConfig `yaml:"input"`
}

// InputConfig requests signal conditioning from the input device. Devices
// that cannot honour a flag capture plain audio instead.
type InputConfig struct {
	NoiseSuppression bool `yaml:"noise_suppression"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	AutoGain         bool `yaml:"auto_gain"`
}

// TransportConfig describes the remote speech service connection.
type TransportConfig struct {
	// URL overrides the default service endpoint. Must be a ws:// or wss://
	// URL when set.
	URL string `yaml:"url"`

	// APIKey authenticates against the service.
	APIKey string `yaml:"api_key"`

	// Model selects the remote speech model.
	Model string `yaml:"model"`

	// Voice selects the synthesised voice for discussion sessions.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt steering assistant replies.
	Instructions string `yaml:"instructions"`

	// Reconnect tunes the redial policy after connection loss.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig tunes the exponential-backoff redial policy.
type ReconnectConfig struct {
	// MaxRetries is the number of redial attempts before giving up.
	// Zero keeps the built-in default.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay between attempts; it doubles each retry.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// PlaybackConfig holds playback engine settings.
type PlaybackConfig struct {
	// MaxQueueDepth bounds the number of decoded buffers awaiting playback.
	// Zero keeps the built-in default.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// Volume is the initial playback gain in [0, 1]. Defaults to 1 when
	// absent; an explicit 0 configures silence.
	Volume float64 `yaml:"volume"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = audio.SampleRate
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = audio.FrameSize
	}
	if c.Playback.Volume == 0 {
		c.Playback.Volume = 1.0
	}
}
