package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio", "wavfile"},
	"vad":   {"rms", "mean_abs", "webrtc"},
	"stt":   {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

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

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Useful in tests where configs are constructed from
// string literals. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.Submit.Mode == "" {
		cfg.Submit.Mode = inferSubmitMode(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
//
// Out-of-range detection parameters are not errors: they are clamped when
// the configuration is applied.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Unknown provider names only warn.
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	if cfg.Providers.Audio.Name == "wavfile" && cfg.Providers.Audio.OptString("path", "") == "" {
		errs = append(errs, errors.New("providers.audio: wavfile requires options.path"))
	}

	// Submission
	if cfg.Submit.Mode != "" && !cfg.Submit.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("submit.mode %q is invalid; valid values: local, remote, none", cfg.Submit.Mode))
	}
	switch cfg.Submit.Mode {
	case SubmitLocal:
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("submit.mode local requires providers.stt"))
		}
	case SubmitRemote:
		if cfg.Submit.Remote.URL == "" {
			errs = append(errs, errors.New("submit.mode remote requires submit.remote.url"))
		} else if u, err := url.Parse(cfg.Submit.Remote.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("submit.remote.url %q is not an absolute URL", cfg.Submit.Remote.URL))
		}
	}
	if cfg.Submit.Timeout < 0 {
		errs = append(errs, fmt.Errorf("submit.timeout %v must not be negative", cfg.Submit.Timeout))
	}

	// Commands
	if t := cfg.Commands.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("commands.phonetic_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Commands.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("commands.fuzzy_threshold %.2f is out of range [0, 1]", t))
	}
	phrasesSeen := make(map[string]int, len(cfg.Commands.Phrases))
	for i, p := range cfg.Commands.Phrases {
		prefix := fmt.Sprintf("commands.phrases[%d]", i)
		if strings.TrimSpace(p.Phrase) == "" {
			errs = append(errs, fmt.Errorf("%s.phrase is required", prefix))
		} else {
			key := strings.ToLower(strings.TrimSpace(p.Phrase))
			if prev, ok := phrasesSeen[key]; ok {
				errs = append(errs, fmt.Errorf("%s.phrase %q is a duplicate of commands.phrases[%d]", prefix, p.Phrase, prev))
			}
			phrasesSeen[key] = i
		}
		if p.Intent == "" {
			errs = append(errs, fmt.Errorf("%s.intent is required", prefix))
		}
	}
	if cfg.Submit.Mode == SubmitLocal && len(cfg.Commands.Phrases) == 0 && cfg.Providers.LLM.Name == "" {
		slog.Warn("no command phrases and no LLM provider configured; transcripts will be reported as plain text")
	}

	// Recovery
	if cfg.Recovery.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("recovery.max_retries %d must not be negative", cfg.Recovery.MaxRetries))
	}
	if cfg.Recovery.Backoff < 0 || cfg.Recovery.MaxBackoff < 0 {
		errs = append(errs, errors.New("recovery backoff durations must not be negative"))
	}

	return errors.Join(errs...)
}

// inferSubmitMode picks a submit mode when none is configured: local when an
// STT provider is set, remote when a remote URL is set, otherwise none.
func inferSubmitMode(cfg *Config) SubmitMode {
	switch {
	case cfg.Providers.STT.Name != "":
		return SubmitLocal
	case cfg.Submit.Remote.URL != "":
		return SubmitRemote
	default:
		return SubmitNone
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
