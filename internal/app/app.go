// Package app wires the hark subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture pipeline together with the control
// API, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSubmitter,
// WithTrigger, WithArchiveFS, etc.). When an option is not provided, New
// builds the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hark/internal/archive"
	"github.com/MrWong99/hark/internal/command"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/coordinator"
	"github.com/MrWong99/hark/internal/health"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/recovery"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/internal/trigger"
	"github.com/MrWong99/hark/pkg/audio"
	"github.com/MrWong99/hark/pkg/provider/llm"
	"github.com/MrWong99/hark/pkg/provider/stt"
	vadenergy "github.com/MrWong99/hark/pkg/provider/vad/energy"
	wakeenergy "github.com/MrWong99/hark/pkg/provider/wake/energy"
)

const (
	// triggerTimeout bounds a single hotkey-initiated pipeline call.
	triggerTimeout = 2 * time.Second

	// shutdownGrace is how long the HTTP server may drain connections.
	shutdownGrace = 5 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// Source is the capture device. Required.
	Source audio.Source

	// Classifier maps frames to energy for both wake and voice activity
	// detection. Defaults to [audio.RMS].
	Classifier audio.Classifier

	// STT is the primary transcription backend, used in local submit mode.
	STT stt.Provider

	// STTFallbacks are tried in order when STT fails.
	STTFallbacks []stt.Provider

	// LLM, when set, extracts intents from transcripts no phrase matched.
	LLM llm.Provider

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []llm.Provider
}

// App owns all subsystem lifetimes and orchestrates the hark pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or defaulted in New.
	metrics     *observe.Metrics
	clock       coordinator.Clock
	level       *slog.LevelVar
	archiveFS   afero.Fs
	trigger     trigger.Source
	submitter   command.Submitter
	autoStart   bool
	eventBuffer int

	// Subsystems, initialised in New and torn down in Shutdown.
	detection    *config.DetectionStore
	coord        *coordinator.Coordinator
	hub          *Hub
	sttGroup     *resilience.STTFallback
	phrases      *phraseSlot
	interpreters []command.Interpreter
	remote       *command.RemoteSubmitter
	archive      *archive.Sink
	resumer      *recovery.Resumer
	health       *health.Handler
	server       *http.Server

	// pending holds dispatched utterances awaiting their transcription so the
	// archive sidecar can be written. Owned by the event loop.
	pending *pendingSet

	// captureLost is set when the resumer gave up and cleared on the next
	// successful start.
	captureLost atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics recorder instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock sets the pipeline clock, e.g. a [coordinator.FrameClock] for
// offline replay.
func WithClock(c coordinator.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogLevel lets config reloads change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithArchiveFS sets the filesystem the utterance archive writes to.
// Default: the OS filesystem.
func WithArchiveFS(fs afero.Fs) Option {
	return func(a *App) { a.archiveFS = fs }
}

// WithTrigger injects a manual trigger source instead of the configured
// hotkey.
func WithTrigger(src trigger.Source) Option {
	return func(a *App) { a.trigger = src }
}

// WithSubmitter injects the utterance submitter instead of building one from
// submit.mode.
func WithSubmitter(s command.Submitter) Option {
	return func(a *App) { a.submitter = s }
}

// WithAutoStart controls whether Run starts wake listening immediately.
// Default true.
func WithAutoStart(on bool) Option {
	return func(a *App) { a.autoStart = on }
}

// WithEventBuffer sets the coordinator's event buffer capacity.
func WithEventBuffer(n int) Option {
	return func(a *App) { a.eventBuffer = n }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil {
		return nil, errors.New("app: an audio source is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		autoStart: true,
		pending:   newPendingSet(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.providers.Classifier == nil {
		a.providers.Classifier = audio.RMS
	}

	// ── 1. Detection parameters ─────────────────────────────────────────
	a.detection = config.NewDetectionStore(cfg.Detection)

	// ── 2. Submitter ────────────────────────────────────────────────────
	if a.submitter == nil {
		if err := a.initSubmitter(); err != nil {
			return nil, fmt.Errorf("app: init submitter: %w", err)
		}
	}

	// ── 3. Archive ──────────────────────────────────────────────────────
	if err := a.initArchive(); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 4. Coordinator ──────────────────────────────────────────────────
	snap := a.detection.Snapshot()
	coord, err := coordinator.New(coordinator.Config{
		Source: providers.Source,
		Wake: wakeenergy.New(snap.Sensitivity,
			wakeenergy.WithClassifier(providers.Classifier),
			wakeenergy.WithBaseThreshold(snap.WakeBaseThreshold),
		),
		VAD:           vadenergy.New(vadenergy.WithClassifier(providers.Classifier)),
		Detection:     a.detection,
		Submitter:     a.submitter,
		Clock:         a.clock,
		Metrics:       a.metrics,
		EventBuffer:   a.eventBuffer,
		SubmitTimeout: cfg.Submit.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init coordinator: %w", err)
	}
	a.coord = coord
	a.hub = NewHub(a.eventBuffer)

	// ── 5. Capture recovery ─────────────────────────────────────────────
	if cfg.Recovery.AutoResume {
		a.resumer = recovery.New(recovery.Config{
			Listener:   a.coord,
			MaxRetries: cfg.Recovery.MaxRetries,
			Backoff:    cfg.Recovery.Backoff,
			MaxBackoff: cfg.Recovery.MaxBackoff,
			OnResume:   func(int) { a.captureLost.Store(false) },
			OnGiveUp:   func(error) { a.captureLost.Store(true) },
		})
	}

	// ── 6. Manual trigger ───────────────────────────────────────────────
	if a.trigger == nil && cfg.Trigger.Hotkey != "" {
		hk, err := trigger.ParseHotkey(cfg.Trigger.Hotkey)
		if err != nil {
			return nil, fmt.Errorf("app: init trigger: %w", err)
		}
		a.trigger = hk
	}

	// ── 7. Health + HTTP server ─────────────────────────────────────────
	a.initHealth()
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSubmitter builds the utterance submitter for submit.mode.
func (a *App) initSubmitter() error {
	switch a.cfg.Submit.Mode {
	case config.SubmitLocal:
		return a.initLocal()
	case config.SubmitRemote:
		rc := a.cfg.Submit.Remote
		cb := a.breakerConfig()
		cb.Name = "remote"
		remote, err := command.NewRemoteSubmitter(rc.URL,
			command.WithProviders(rc.AIProvider, rc.MapProvider),
			command.WithBreaker(resilience.NewCircuitBreaker(cb)),
			command.WithRemoteMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		a.remote = remote
		a.submitter = remote
		slog.Info("submitting utterances to remote command service", "url", rc.URL)
	default:
		slog.Info("no submitter configured; utterances are reported as events only")
	}
	return nil
}

// initLocal builds the in-process transcription and interpretation service.
func (a *App) initLocal() error {
	p := a.providers
	if p.STT == nil {
		return errors.New("local submit mode requires an STT provider")
	}

	fbCfg := resilience.FallbackConfig{CircuitBreaker: a.breakerConfig()}
	a.sttGroup = resilience.NewSTTFallback(p.STT, p.STT.Name(), fbCfg)
	for _, fb := range p.STTFallbacks {
		a.sttGroup.AddFallback(fb.Name(), fb)
	}

	a.phrases = newPhraseSlot(a.cfg.Commands)
	a.interpreters = []command.Interpreter{a.phrases}
	if p.LLM != nil {
		var model llm.Provider = p.LLM
		if len(p.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(p.LLM, p.LLM.Name(), fbCfg)
			for _, fb := range p.LLMFallbacks {
				group.AddFallback(fb.Name(), fb)
			}
			model = group
		}
		a.interpreters = append(a.interpreters, command.NewLLMInterpreter(model,
			command.WithIntents(intentNames(a.cfg.Commands.Phrases)...),
			command.WithLLMMetrics(a.metrics),
		))
	}

	a.submitter = command.NewService(a.sttGroup,
		command.WithInterpreters(a.interpreters...),
		command.WithLanguage(a.cfg.Submit.Language),
		command.WithKeywordSource(a.phrases.Keywords),
		command.WithMetrics(a.metrics),
	)
	slog.Info("transcribing utterances locally",
		"stt", p.STT.Name(),
		"stt_fallbacks", len(p.STTFallbacks),
		"phrases", a.phrases.Len(),
		"llm", p.LLM != nil,
		"llm_fallbacks", len(p.LLMFallbacks),
	)
	return nil
}

// breakerConfig is the circuit breaker setup shared by every submission
// backend. State changes are counted in metrics.
func (a *App) breakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
}

// initArchive opens the utterance archive when archive.dir is set.
func (a *App) initArchive() error {
	if a.cfg.Archive.Dir == "" {
		return nil
	}
	if a.archiveFS == nil {
		a.archiveFS = afero.NewOsFs()
	}
	sink, err := archive.New(a.archiveFS, a.cfg.Archive.Dir)
	if err != nil {
		return err
	}
	a.archive = sink
	slog.Info("archiving utterances", "dir", sink.Dir())
	return nil
}

// initHealth registers the readiness checks for the configured subsystems.
func (a *App) initHealth() {
	checkers := []health.Checker{{
		Name: "coordinator",
		Check: func(ctx context.Context) error {
			_, err := a.coord.Status(ctx)
			return err
		},
	}}
	if a.sttGroup != nil {
		checkers = append(checkers, health.Condition("stt", "all stt providers unavailable", a.sttGroup.Healthy))
	}
	if a.remote != nil {
		checkers = append(checkers, health.Condition("remote", "remote command service circuit open", func() bool {
			return a.remote.Breaker().State() != resilience.StateOpen
		}))
	}
	if a.resumer != nil {
		checkers = append(checkers, health.Condition("capture", "capture device lost", func() bool {
			return !a.captureLost.Load()
		}))
	}

	var sttName string
	switch {
	case a.sttGroup != nil:
		sttName = a.sttGroup.Name()
	case a.remote != nil:
		sttName = "remote"
	}
	names := make([]string, 0, len(a.interpreters))
	for _, in := range a.interpreters {
		names = append(names, in.Name())
	}
	a.health = health.New(checkers...).WithProviders(sttName, names...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Coordinator returns the capture pipeline.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Detection returns the live detection parameter store.
func (a *App) Detection() *config.DetectionStore { return a.detection }

// Hub returns the event fan-out used by the websocket stream.
func (a *App) Hub() *Hub { return a.hub }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture pipeline, the event loop, the control API and the
// optional trigger and recovery loops, and blocks until ctx is cancelled or
// one of them fails. A cancelled ctx is a clean exit and yields nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coord.Run(ctx)
	})
	g.Go(func() error {
		a.forwardEvents()
		return nil
	})

	if a.resumer != nil {
		g.Go(func() error {
			return a.resumer.Run(ctx)
		})
	}

	if a.trigger != nil {
		g.Go(func() error {
			if err := a.trigger.Run(ctx, a.fireTrigger(ctx)); err != nil {
				// The pipeline stays usable through the control API.
				slog.Warn("manual trigger unavailable", "err", err)
			}
			return nil
		})
	}

	if a.server != nil {
		g.Go(func() error {
			return a.serve()
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.autoStart {
		g.Go(func() error {
			a.startListening(ctx)
			return nil
		})
	}

	slog.Info("app running",
		"state", a.coord.State(),
		"submit_mode", a.cfg.Submit.Mode,
		"listen_addr", a.cfg.Server.ListenAddr,
	)
	return g.Wait()
}

// startListening enters wake listening at startup. A missing device is not
// fatal: the resumer, when enabled, keeps trying.
func (a *App) startListening(ctx context.Context) {
	err := a.coord.StartListening(ctx)
	switch {
	case err == nil:
		a.captureLost.Store(false)
	case ctx.Err() != nil:
	case a.resumer != nil && errors.Is(err, audio.ErrDeviceUnavailable):
		slog.Warn("capture device unavailable at startup; retrying", "err", err)
		a.resumer.NotifyInterrupted()
	default:
		slog.Error("failed to start listening", "err", err)
	}
}

// fireTrigger returns the callback handed to the trigger source.
func (a *App) fireTrigger(ctx context.Context) func() {
	return func() {
		tctx, cancel := context.WithTimeout(ctx, triggerTimeout)
		defer cancel()
		if err := a.coord.TriggerManualRecording(tctx); err != nil {
			slog.Warn("manual trigger failed", "err", err)
		}
	}
}

func (a *App) serve() error {
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		slog.Info("control API listening", "addr", a.server.Addr, "tls", true)
		err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		slog.Info("control API listening", "addr", a.server.Addr)
		err = a.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("app: serve %s: %w", a.server.Addr, err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the capture device and runs the closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.resumer != nil {
			a.resumer.Cancel()
		}
		// Once Run has returned the source is already released.
		if a.coord.State().Listening() {
			if err := a.coord.StopListening(ctx); err != nil && !errors.Is(err, coordinator.ErrNotRunning) {
				slog.Warn("stop listening error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser registers fn to run during Shutdown, after the pipeline stops.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// intentNames lists the distinct intents of phrases in order.
func intentNames(phrases []config.CommandPhrase) []string {
	seen := make(map[string]struct{}, len(phrases))
	var out []string
	for _, p := range phrases {
		if _, ok := seen[p.Intent]; ok || p.Intent == "" {
			continue
		}
		seen[p.Intent] = struct{}{}
		out = append(out, p.Intent)
	}
	return out
}
