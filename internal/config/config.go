// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry for the hark voice activation daemon.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity for the hark daemon.
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

// SubmitMode selects what happens to a finished utterance.
type SubmitMode string

const (
	// SubmitLocal transcribes with the configured STT provider and interprets
	// the transcript in-process.
	SubmitLocal SubmitMode = "local"

	// SubmitRemote posts the audio to a remote command service.
	SubmitRemote SubmitMode = "remote"

	// SubmitNone only emits utterance events; nothing is transcribed.
	SubmitNone SubmitMode = "none"
)

// IsValid reports whether m is a recognised submit mode.
func (m SubmitMode) IsValid() bool {
	switch m {
	case SubmitLocal, SubmitRemote, SubmitNone:
		return true
	}
	return false
}

// Config is the root configuration structure for hark.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detection DetectionConfig `yaml:"detection"`
	Providers ProvidersConfig `yaml:"providers"`
	Submit    SubmitConfig    `yaml:"submit"`
	Commands  CommandsConfig  `yaml:"commands"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8090").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which implementation to use for each pipeline
// stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Audio selects the capture source ("portaudio", "wavfile").
	Audio ProviderEntry `yaml:"audio"`

	// VAD selects the energy classifier shared by wake and voice activity
	// detection ("rms", "mean_abs", "webrtc").
	VAD ProviderEntry `yaml:"vad"`

	// STT selects the primary speech-to-text backend.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary STT backend fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// LLM, when set, enables intent extraction for transcripts that match no
	// configured command phrase.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM backend fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SubmitConfig controls where finished utterances are sent.
type SubmitConfig struct {
	// Mode is local, remote or none. When empty it is inferred: local if an
	// STT provider is configured, remote if a remote URL is set, else none.
	Mode SubmitMode `yaml:"mode"`

	// Language is the BCP-47 language hint passed to STT (e.g., "en", "de").
	Language string `yaml:"language"`

	// Timeout bounds a single submission, including retries.
	Timeout time.Duration `yaml:"timeout"`

	// Remote configures the remote command service used in remote mode.
	Remote RemoteConfig `yaml:"remote"`
}

// RemoteConfig describes a remote command endpoint that accepts base64
// encoded audio and answers with a recognised command.
type RemoteConfig struct {
	// URL is the full endpoint URL (e.g., "http://localhost:8080/api/navigate").
	URL string `yaml:"url"`

	// Format is the audio container sent to the service. Default "wav".
	Format string `yaml:"format"`

	// AIProvider and MapProvider are forwarded verbatim to the service.
	AIProvider  string `yaml:"ai_provider"`
	MapProvider string `yaml:"map_provider"`
}

// CommandsConfig configures the phrase interpreter that turns transcripts
// into commands.
type CommandsConfig struct {
	// PhoneticThreshold is the minimum Jaro-Winkler similarity between
	// Double Metaphone codes for a phonetic match. Default 0.70.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity between the
	// spelled words for a fuzzy match. Default 0.85.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// Phrases lists the recognised commands.
	Phrases []CommandPhrase `yaml:"phrases"`
}

// CommandPhrase maps a spoken phrase to an intent.
type CommandPhrase struct {
	// Phrase is the trigger text (e.g., "navigate to").
	Phrase string `yaml:"phrase"`

	// Intent is the command identifier reported on a match.
	Intent string `yaml:"intent"`

	// Parameter, when set, captures the words following Phrase under this name
	// (e.g., "destination").
	Parameter string `yaml:"parameter"`

	// Feedback is the confirmation text reported on a match. "{param}" is
	// replaced with the captured parameter value.
	Feedback string `yaml:"feedback"`
}

// TriggerConfig configures manual activation.
type TriggerConfig struct {
	// Hotkey is a global shortcut such as "ctrl+shift+space". Empty disables
	// the hotkey trigger.
	Hotkey string `yaml:"hotkey"`
}

// ArchiveConfig configures on-disk retention of dispatched utterances.
type ArchiveConfig struct {
	// Dir receives one WAV file per utterance. Empty disables archiving.
	Dir string `yaml:"dir"`
}

// RecoveryConfig controls automatic restart after the capture device is lost.
type RecoveryConfig struct {
	// AutoResume restarts listening after a capture interruption.
	AutoResume bool `yaml:"auto_resume"`

	// MaxRetries is the number of restart attempts. Default 10.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial delay between attempts. Default 1s.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the exponential delay. Default 30s.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Defaults returns a Config populated with the built-in defaults. YAML input
// is decoded on top of it, so omitted keys keep these values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8090",
			LogLevel:   LogInfo,
		},
		Detection: DefaultDetection(),
		Providers: ProvidersConfig{
			Audio: ProviderEntry{Name: "portaudio"},
			VAD:   ProviderEntry{Name: "rms"},
		},
		Submit: SubmitConfig{
			Timeout: 30 * time.Second,
			Remote:  RemoteConfig{Format: "wav"},
		},
		Commands: CommandsConfig{
			PhoneticThreshold: 0.70,
			FuzzyThreshold:    0.85,
		},
		Recovery: RecoveryConfig{
			MaxRetries: 10,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// ─── ProviderEntry option helpers ──────────────────────────────────────────────

// OptString returns Options[key] as a string, or def when absent or of a
// different type.
func (e ProviderEntry) OptString(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// OptInt returns Options[key] as an int. YAML numbers decode as int or
// float64; both are accepted.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptFloat returns Options[key] as a float64.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// OptBool returns Options[key] as a bool.
func (e ProviderEntry) OptBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptDuration returns Options[key] parsed with [time.ParseDuration]. A bare
// number is read as seconds.
func (e ProviderEntry) OptDuration(key string, def time.Duration) (time.Duration, error) {
	switch v := e.Options[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: option %q: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("config: option %q: unsupported type %T", key, e.Options[key])
}
