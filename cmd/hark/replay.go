package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/coordinator"
	"github.com/MrWong99/hark/pkg/audio/wavfile"
)

// replayEventBuffer is large because frames are delivered as fast as the
// pipeline consumes them.
const replayEventBuffer = 1024

// replayOptions are the flags of the replay command.
type replayOptions struct {
	manual   bool
	trailing time.Duration
	realtime bool
}

func newReplayCmd(opts *options) *cobra.Command {
	ro := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Run the capture pipeline against a recorded WAV file",
		Long: `Replay a WAV file through wake detection, voice activity detection and
submission, printing every pipeline event as one JSON object per line.

Timestamps are taken from the file position, so results do not depend on
how fast the machine processes the audio. The command exits once the file
is exhausted and every dispatched utterance has been answered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel)
			slog.SetDefault(logger)
			return replay(cmd.Context(), cfg, args[0], ro, afero.NewOsFs(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&ro.manual, "manual", false, "start recording at the first frame instead of waiting for the wake sound")
	cmd.Flags().DurationVar(&ro.trailing, "trailing-silence", time.Second, "digital silence appended after the recording")
	cmd.Flags().BoolVar(&ro.realtime, "realtime", false, "pace frames at playback speed")
	return cmd
}

// replayEvent is the JSON line written for each pipeline event.
type replayEvent struct {
	coordinator.Event
	Error string `json:"error,omitempty"`
}

// replay runs the pipeline over the WAV file at path and writes events to w.
func replay(ctx context.Context, cfg *config.Config, path string, ro *replayOptions, fsys afero.Fs, w io.Writer) error {
	// The replay has no control surface and must not restart at end of file.
	cfg.Server.ListenAddr = ""
	cfg.Trigger.Hotkey = ""
	cfg.Recovery.AutoResume = false
	cfg.Providers.Audio = config.ProviderEntry{Name: "wavfile", Options: map[string]any{"path": path}}

	if _, err := fsys.Stat(path); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, nil)
	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	providers.Source = wavfile.New(path,
		wavfile.WithFS(fsys),
		wavfile.WithRealtime(ro.realtime),
		wavfile.WithTrailingSilence(ro.trailing),
	)

	application, err := app.New(cfg, providers,
		app.WithClock(coordinator.NewFrameClock(time.Time{})),
		app.WithEventBuffer(replayEventBuffer),
		app.WithAutoStart(!ro.manual),
	)
	if err != nil {
		return err
	}
	events, unsubscribe := application.Hub().Subscribe()
	defer unsubscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return application.Run(gctx) })
	if ro.manual {
		g.Go(func() error {
			return application.Coordinator().TriggerManualRecording(gctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return followReplay(gctx, events, cfg.Submit.Mode != config.SubmitNone, cfg.Submit.Timeout, w)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = nil
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return errors.Join(err, application.Shutdown(shutdownCtx))
}

// followReplay prints events until the source reports end of file and every
// dispatched utterance has a result. Submissions still outstanding after
// timeout are abandoned.
func followReplay(ctx context.Context, events <-chan coordinator.Event, submits bool, timeout time.Duration, w io.Writer) error {
	enc := json.NewEncoder(w)
	pending := make(map[string]struct{})
	var deadline <-chan time.Time
	eof := false

	for {
		if eof && len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			slog.Warn("replay: submissions timed out", "pending", len(pending))
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg := replayEvent{Event: ev}
			if ev.Err != nil {
				msg.Error = ev.Err.Error()
			}
			if err := enc.Encode(msg); err != nil {
				return fmt.Errorf("replay: write event: %w", err)
			}

			switch ev.Kind {
			case coordinator.EventUtteranceReady:
				if submits {
					pending[ev.SessionID] = struct{}{}
				}
			case coordinator.EventTranscriptionReady:
				delete(pending, ev.SessionID)
			case coordinator.EventError:
				switch ev.ErrorKind {
				case coordinator.ErrSubmitFailedKind:
					delete(pending, ev.SessionID)
				case coordinator.ErrCaptureInterruptedKind:
					if !errors.Is(ev.Err, io.EOF) {
						return fmt.Errorf("replay: %w", ev.Err)
					}
					eof = true
					if timeout > 0 {
						deadline = time.After(timeout)
					}
				case coordinator.ErrDeviceUnavailableKind:
					return fmt.Errorf("replay: %w", ev.Err)
				}
			}
		}
	}
}
