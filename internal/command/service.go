package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/utterance"
	"github.com/MrWong99/hark/pkg/provider/stt"
)

// ServiceOption is a functional option for [NewService].
type ServiceOption func(*Service)

// WithInterpreters sets the interpreter chain. Interpreters run in order and
// the first one returning a command wins.
func WithInterpreters(in ...Interpreter) ServiceOption {
	return func(s *Service) {
		s.interpreters = append(s.interpreters, in...)
	}
}

// WithLanguage sets the BCP-47 language hint passed to the STT provider.
func WithLanguage(lang string) ServiceOption {
	return func(s *Service) {
		s.language = lang
	}
}

// WithKeywords adds STT vocabulary hints, typically from
// [PhraseInterpreter.Keywords].
func WithKeywords(kw []stt.KeywordBoost) ServiceOption {
	return func(s *Service) {
		s.keywords = append(s.keywords, kw...)
	}
}

// WithKeywordSource adds STT vocabulary hints computed on every submission,
// for phrase sets that change while the service runs.
func WithKeywordSource(fn func() []stt.KeywordBoost) ServiceOption {
	return func(s *Service) {
		s.keywordFn = fn
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service is the local [Submitter]: it transcribes an utterance with an STT
// provider and runs the transcript through its interpreters.
type Service struct {
	stt          stt.Provider
	interpreters []Interpreter
	language     string
	keywords     []stt.KeywordBoost
	keywordFn    func() []stt.KeywordBoost
	metrics      *observe.Metrics
}

// NewService returns a Service transcribing with p. Pass a
// [resilience.STTFallback] to get failover across several backends.
func NewService(p stt.Provider, opts ...ServiceOption) *Service {
	s := &Service{stt: p}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Submit transcribes u and interprets the transcript. An utterance with no
// recognisable speech yields a Result with empty Text and no error. A failing
// interpreter is logged and skipped; only transcription errors and context
// cancellation are returned.
func (s *Service) Submit(ctx context.Context, u utterance.Utterance) (Result, error) {
	start := time.Now()
	ctx, span := observe.StartUtteranceSpan(ctx, "command.submit", u.ID, u.Duration,
		attribute.String("utterance.reason", u.Reason.String()))
	defer span.End()
	defer func() {
		s.metrics.SubmitDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("mode", "local")))
	}()

	res := Result{UtteranceID: u.ID}
	tr, err := s.transcribe(ctx, u)
	if err != nil {
		return res, observe.Fail(span, err, "transcription failed")
	}
	res.Text = strings.TrimSpace(tr.Text)
	res.Provider = tr.Provider
	if res.Provider == "" {
		res.Provider = s.stt.Name()
	}
	span.SetAttributes(attribute.String("stt.provider", res.Provider))
	if res.Text == "" {
		return res, nil
	}

	log := observe.Logger(ctx, "utterance", u.ID)
	for _, in := range s.interpreters {
		cmd, err := in.Interpret(ctx, res.Text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			log.Warn("command: interpreter failed", "interpreter", in.Name(), "err", err)
			continue
		}
		if cmd == nil {
			continue
		}
		res.Command = cmd
		res.Interpreter = in.Name()
		s.metrics.RecordCommand(ctx, cmd.Intent, in.Name())
		span.SetAttributes(
			attribute.String("command.intent", cmd.Intent),
			attribute.String("command.interpreter", in.Name()),
		)
		log.Debug("command recognised", "intent", cmd.Intent, "interpreter", in.Name())
		break
	}
	return res, nil
}

func (s *Service) transcribe(ctx context.Context, u utterance.Utterance) (stt.Transcript, error) {
	if len(u.Audio) == 0 {
		return stt.Transcript{}, fmt.Errorf("command: transcribe %s: %w", u.ID, stt.ErrEmptyAudio)
	}

	keywords := s.keywords
	if s.keywordFn != nil {
		keywords = append(slices.Clip(keywords), s.keywordFn()...)
	}

	name := s.stt.Name()
	start := time.Now()
	tr, err := s.stt.Transcribe(ctx, stt.Request{
		Audio:      u.Audio,
		SampleRate: u.SampleRate,
		Language:   s.language,
		Keywords:   keywords,
	})
	if tr.Provider != "" {
		name = tr.Provider
	}
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", name)))
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordProviderRequest(ctx, name, "stt", "error")
			s.metrics.RecordProviderError(ctx, name, "stt")
		}
		return stt.Transcript{}, fmt.Errorf("command: transcribe %s: %w", u.ID, err)
	}
	s.metrics.RecordProviderRequest(ctx, name, "stt", "ok")
	return tr, nil
}

var _ Submitter = (*Service)(nil)
