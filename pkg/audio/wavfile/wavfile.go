// Package wavfile implements [audio.Source] by replaying a recorded WAV file
// as a stream of fixed-size frames. It is used by the replay command and by
// integration tests that drive the pipeline from recorded speech.
package wavfile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/hark/pkg/audio"
)

// DefaultFrameDuration is the length of each emitted frame.
const DefaultFrameDuration = 20 * time.Millisecond

// Option configures a [Source].
type Option func(*Source)

// WithFS reads the file from fsys instead of the OS filesystem.
func WithFS(fsys afero.Fs) Option {
	return func(s *Source) { s.fs = fsys }
}

// WithFrameDuration sets the length of each emitted frame.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDur = d }
}

// WithRealtime paces frames at playback speed instead of as fast as the
// consumer reads them.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// WithTrailingSilence appends d of digital silence after the recording so
// that silence-based end detection can complete.
func WithTrailingSilence(d time.Duration) Option {
	return func(s *Source) { s.trailing = d }
}

// Source replays a WAV file. When the file is exhausted the frame channel
// closes and Err reports [audio.ErrCaptureInterrupted] wrapping [io.EOF].
type Source struct {
	path     string
	fs       afero.Fs
	frameDur time.Duration
	realtime bool
	trailing time.Duration

	mu      sync.Mutex
	running bool
	frames  chan audio.AudioFrame
	quit    chan struct{}
	done    chan struct{}
	err     error
}

// New creates a replay source for the WAV file at path.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:     path,
		fs:       afero.NewOsFs(),
		frameDur: DefaultFrameDuration,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [audio.Source]. The whole file is decoded up front; a
// missing or malformed file is reported as [audio.ErrDeviceUnavailable].
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.frames, nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: wavfile: %w", audio.ErrDeviceUnavailable, err)
	}
	pcm, format, err := audio.DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: wavfile: %s: %w", audio.ErrDeviceUnavailable, s.path, err)
	}
	mono, err := audio.NewConverter(audio.DefaultSampleRate).Convert(audio.AudioFrame{
		Data:       pcm,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: wavfile: %s: %w", audio.ErrDeviceUnavailable, s.path, err)
	}
	pcm = append(mono.Data, make([]byte, audio.PCMBytes(s.trailing, audio.DefaultSampleRate))...)

	s.frames = make(chan audio.AudioFrame)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	s.running = true
	go s.replay(ctx, pcm, s.frames, s.quit, s.done)
	return s.frames, nil
}

func (s *Source) replay(ctx context.Context, pcm []byte, out chan<- audio.AudioFrame, quit, done chan struct{}) {
	defer close(done)
	defer close(out)

	step := audio.PCMBytes(s.frameDur, audio.DefaultSampleRate)
	if step <= 0 {
		step = audio.PCMBytes(DefaultFrameDuration, audio.DefaultSampleRate)
	}

	var tick <-chan time.Time
	if s.realtime {
		t := time.NewTicker(s.frameDur)
		defer t.Stop()
		tick = t.C
	}

	var ts time.Duration
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		frame := audio.AudioFrame{
			Data:       pcm[off:end:end],
			SampleRate: audio.DefaultSampleRate,
			Channels:   1,
			Timestamp:  ts,
		}
		ts += frame.Duration()

		if tick != nil {
			select {
			case <-tick:
			case <-quit:
				return
			case <-ctx.Done():
				s.finish(quit, ctx.Err())
				return
			}
		}
		select {
		case out <- frame:
		case <-quit:
			return
		case <-ctx.Done():
			s.finish(quit, ctx.Err())
			return
		}
	}
	s.finish(quit, io.EOF)
}

func (s *Source) finish(quit chan struct{}, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-quit:
		return
	default:
	}
	s.err = fmt.Errorf("%w: wavfile: %w", audio.ErrCaptureInterrupted, cause)
	s.running = false
	close(quit)
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.quit)
	done := s.done
	s.mu.Unlock()
	<-done
	return nil
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

var _ audio.Source = (*Source)(nil)
