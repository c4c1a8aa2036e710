package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/audio/portaudio"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/llm/anyllm"
	"github.com/MrWong99/hark/pkg/provider/stt"
	"github.com/MrWong99/hark/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/hark/pkg/provider/stt/openai"
	"github.com/MrWong99/hark/pkg/provider/stt/whisper"
	"github.com/MrWong99/hark/pkg/provider/vad/webrtc"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. m may be nil.
func registerBuiltinProviders(reg *config.Registry, m *observe.Metrics) {
	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Source, error) {
		opts := []portaudio.Option{
			portaudio.WithDevice(entry.OptString("device", "")),
		}
		if rate := entry.OptInt("sample_rate", 0); rate > 0 {
			opts = append(opts, portaudio.WithSampleRate(rate))
		}
		if ch := entry.OptInt("channels", 0); ch > 0 {
			opts = append(opts, portaudio.WithChannels(ch))
		}
		if n := entry.OptInt("frames_per_buffer", 0); n > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		if n := entry.OptInt("queue_size", 0); n > 0 {
			opts = append(opts, portaudio.WithQueueSize(n))
		}
		if m != nil {
			opts = append(opts, portaudio.WithDropHook(func() {
				m.RecordPipelineError(context.Background(), "frame_dropped")
			}))
		}
		return gate(portaudio.New(opts...), entry), nil
	})

	reg.RegisterAudio("wavfile", func(entry config.ProviderEntry) (audio.Source, error) {
		path := entry.OptString("path", "")
		if path == "" {
			return nil, errors.New("wavfile: options.path is required")
		}
		opts := []wavfile.Option{
			wavfile.WithRealtime(entry.OptBool("realtime", true)),
		}
		d, err := entry.OptDuration("frame_duration", wavfile.DefaultFrameDuration)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wavfile.WithFrameDuration(d))
		trailing, err := entry.OptDuration("trailing_silence", 0)
		if err != nil {
			return nil, err
		}
		if trailing > 0 {
			opts = append(opts, wavfile.WithTrailingSilence(trailing))
		}
		return gate(wavfile.New(path, opts...), entry), nil
	})

	// ── Energy classifiers ────────────────────────────────────────────────────

	reg.RegisterClassifier("rms", func(config.ProviderEntry) (audio.Classifier, error) {
		return audio.RMS, nil
	})
	reg.RegisterClassifier("mean_abs", func(config.ProviderEntry) (audio.Classifier, error) {
		return audio.MeanAbsolute, nil
	})
	reg.RegisterClassifier("webrtc", func(entry config.ProviderEntry) (audio.Classifier, error) {
		return webrtc.New(entry.OptInt("mode", webrtc.DefaultMode))
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptInt("concurrency", 0); n > 0 {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization", ""); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		timeout, err := entry.OptDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted backends take an API key; local servers (ollama, llama.cpp,
	// llamafile) only need base_url when not on their default port.
	for _, name := range anyllm.SupportedProviders {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && name != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	for _, kind := range []string{"audio", "vad", "stt", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// gate wraps src with a permission check when options.microphone_access is
// set to false, so that listening fails with a device-unavailable error
// without opening the device.
func gate(src audio.Source, entry config.ProviderEntry) audio.Source {
	allowed := entry.OptBool("microphone_access", true)
	return audio.Gated(src, audio.GateFunc(func() bool { return allowed }))
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume, together with the Close functions of providers that hold native
// resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error
	track := func(p any) {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}
	fail := func(err error) (*app.Providers, []func() error, error) {
		for _, c := range slices.Backward(closers) {
			_ = c()
		}
		return nil, nil, err
	}

	src, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return fail(fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err))
	}
	ps.Source = src
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	if name := cfg.Providers.VAD.Name; name != "" {
		c, err := reg.CreateClassifier(cfg.Providers.VAD)
		if err != nil {
			return fail(fmt.Errorf("create vad provider %q: %w", name, err))
		}
		ps.Classifier = c
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return fail(fmt.Errorf("create stt provider %q: %w", name, err))
		} else {
			ps.STT = p
			track(p)
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	for i, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return fail(fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err))
		}
		ps.STTFallbacks = append(ps.STTFallbacks, p)
		track(p)
		slog.Info("provider created", "kind", "stt_fallback", "name", entry.Name)
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return fail(fmt.Errorf("create llm provider %q: %w", name, err))
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return fail(fmt.Errorf("create llm fallback %d %q: %w", i, entry.Name, err))
		}
		ps.LLMFallbacks = append(ps.LLMFallbacks, p)
		slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name)
	}

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          hark · startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "Audio", cfg.Providers.Audio.Name, cfg.Providers.Audio.OptString("device", ""))
	printProvider(w, "VAD", cfg.Providers.VAD.Name, "")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Fprintf(w, "║  Submit mode     : %-19s ║\n", cfg.Submit.Mode)
	fmt.Fprintf(w, "║  Commands        : %-19d ║\n", len(cfg.Commands.Phrases))
	fmt.Fprintf(w, "║  Sensitivity     : %-19.2f ║\n", cfg.Detection.Sensitivity)
	fmt.Fprintf(w, "║  Silence         : %-19s ║\n", cfg.Detection.SilenceDuration.Round(time.Millisecond))
	if cfg.Trigger.Hotkey != "" {
		printValue(w, "Hotkey", cfg.Trigger.Hotkey)
	}
	if cfg.Server.ListenAddr != "" {
		printValue(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(w, kind, value)
}

func printValue(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
