package app

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// ApplyConfig applies the hot-reloadable parts of a changed configuration.
// It has the signature expected by [config.NewWatcher].
//
// Detection parameters take effect with the next recording session, the log
// level and command phrases immediately. Everything else is reported as
// needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.DetectionChanged {
		got := a.detection.Set(d.NewDetection)
		slog.Info("detection parameters updated",
			"sensitivity", got.Sensitivity,
			"silence_threshold", got.SilenceThreshold,
			"silence_duration", got.SilenceDuration,
			"continuous", got.ContinuousListening,
		)
	}

	if d.CommandsChanged {
		if a.phrases != nil {
			a.phrases.Store(new.Commands)
			slog.Info("command phrases reloaded", "phrases", a.phrases.Len())
		} else {
			slog.Info("command phrases changed but local interpretation is disabled")
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require restart", "sections", d.RestartRequired)
	}
}

// LogLevel maps a config log level to its slog level. Unknown values map to
// info.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// phraseSlot is a [command.Interpreter] whose phrase set can be replaced
// while submissions are in flight.
type phraseSlot struct {
	cur atomic.Pointer[command.PhraseInterpreter]
}

func newPhraseSlot(cfg config.CommandsConfig) *phraseSlot {
	s := &phraseSlot{}
	s.Store(cfg)
	return s
}

// Store compiles cfg and makes it the active phrase set.
func (s *phraseSlot) Store(cfg config.CommandsConfig) {
	var opts []command.PhraseOption
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, command.WithPhoneticThreshold(cfg.PhoneticThreshold))
	}
	if cfg.FuzzyThreshold > 0 {
		opts = append(opts, command.WithFuzzyThreshold(cfg.FuzzyThreshold))
	}
	s.cur.Store(command.NewPhraseInterpreter(cfg.Phrases, opts...))
}

func (s *phraseSlot) Interpret(ctx context.Context, transcript string) (*command.Command, error) {
	return s.cur.Load().Interpret(ctx, transcript)
}

func (s *phraseSlot) Name() string { return s.cur.Load().Name() }

func (s *phraseSlot) Len() int { return s.cur.Load().Len() }

func (s *phraseSlot) Keywords() []stt.KeywordBoost { return s.cur.Load().Keywords() }
