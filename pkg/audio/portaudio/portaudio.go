// Package portaudio implements [audio.Source] on top of the PortAudio
// blocking stream API.
//
// The device is opened at its default rate (commonly 44.1 or 48 kHz) when the
// configured rate is not supported directly, and every buffer is normalised
// to 16 kHz mono before it is handed to the pipeline.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hark/pkg/audio"
)

const (
	// DefaultFramesPerBuffer is the number of samples read per device buffer.
	DefaultFramesPerBuffer = 1024

	// DefaultQueueSize is the capacity of the frame hand-off channel.
	DefaultQueueSize = 32

	// maxReadFailures is the number of consecutive non-overflow read errors
	// after which the device is considered lost.
	maxReadFailures = 3
)

// Option configures a [Source].
type Option func(*Source)

// WithDevice selects the input device by name. Empty or "default" uses the
// system default input.
func WithDevice(name string) Option {
	return func(s *Source) { s.device = name }
}

// WithSampleRate sets the rate requested from the device. When the device
// rejects it, the device's default rate is used instead.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.deviceRate = rate }
}

// WithChannels sets the channel count requested from the device.
func WithChannels(n int) Option {
	return func(s *Source) { s.channels = n }
}

// WithFramesPerBuffer sets the device buffer size in samples per channel.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) { s.framesPerBuffer = n }
}

// WithQueueSize sets the capacity of the frame hand-off channel.
func WithQueueSize(n int) Option {
	return func(s *Source) { s.queueSize = n }
}

// WithDropHook registers fn to be called every time a frame is dropped
// because the consumer fell behind. fn runs on the capture goroutine and
// must not block.
func WithDropHook(fn func()) Option {
	return func(s *Source) { s.onDrop = fn }
}

// Source captures microphone audio via PortAudio. It is safe for concurrent
// use.
type Source struct {
	device          string
	deviceRate      int
	channels        int
	framesPerBuffer int
	queueSize       int
	onDrop          func()

	mu      sync.Mutex
	running bool
	stream  *pa.Stream
	frames  chan audio.AudioFrame
	quit    chan struct{}
	done    chan struct{}
	err     error

	dropped atomic.Uint64
}

// New creates a PortAudio-backed source. No device is opened until Start.
func New(opts ...Option) *Source {
	s := &Source{
		deviceRate:      audio.DefaultSampleRate,
		channels:        audio.DefaultChannels,
		framesPerBuffer: DefaultFramesPerBuffer,
		queueSize:       DefaultQueueSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.frames, nil
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: initialize: %w", audio.ErrDeviceUnavailable, err)
	}

	buf := make([]int16, s.framesPerBuffer*s.channels)
	stream, rate, err := s.open(buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: portaudio: open stream: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: portaudio: start stream: %w", audio.ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.frames = make(chan audio.AudioFrame, s.queueSize)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	s.running = true

	go s.captureLoop(ctx, stream, buf, rate, s.frames, s.quit, s.done)

	slog.Info("portaudio: capture started",
		"device", deviceLabel(s.device),
		"sample_rate", rate,
		"channels", s.channels,
		"frames_per_buffer", s.framesPerBuffer,
	)
	return s.frames, nil
}

// open opens the input device at the requested rate, falling back to the
// device's default rate. It returns the rate the stream runs at.
func (s *Source) open(buf []int16) (*pa.Stream, int, error) {
	dev, err := inputDevice(s.device)
	if err != nil {
		return nil, 0, err
	}
	var errs []error
	for _, rate := range candidateRates(s.deviceRate, dev.DefaultSampleRate) {
		params := pa.StreamParameters{
			Input: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: s.channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(rate),
			FramesPerBuffer: s.framesPerBuffer,
		}
		stream, err := pa.OpenStream(params, buf)
		if err == nil {
			if rate != s.deviceRate {
				slog.Info("portaudio: requested rate unsupported, using device rate",
					"requested", s.deviceRate, "sample_rate", rate)
			}
			return stream, rate, nil
		}
		errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
	}
	return nil, 0, errors.Join(errs...)
}

// candidateRates lists the rates to try in order: the requested one, then the
// device's native rate when it differs.
func candidateRates(requested int, native float64) []int {
	rates := []int{requested}
	if n := int(math.Round(native)); n > 0 && n != requested {
		rates = append(rates, n)
	}
	return rates
}

// captureLoop reads device buffers until quit is closed or the device fails.
// It owns out and closes it on exit.
func (s *Source) captureLoop(ctx context.Context, stream *pa.Stream, buf []int16, rate int, out chan<- audio.AudioFrame, quit, done chan struct{}) {
	defer close(done)
	defer close(out)

	conv := audio.NewConverter(audio.DefaultSampleRate)
	bufDur := time.Duration(s.framesPerBuffer) * time.Second / time.Duration(rate)
	var (
		elapsed  time.Duration
		failures int
	)

	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			s.fail(stream, quit, ctx.Err())
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				s.drop()
				continue
			}
			failures++
			if failures >= maxReadFailures {
				s.fail(stream, quit, err)
				return
			}
			continue
		}
		failures = 0

		frame := audio.FrameFromSamples(conv.ConvertSamples(buf, rate, s.channels), audio.DefaultSampleRate)
		frame.Timestamp = elapsed
		elapsed += bufDur

		select {
		case out <- frame:
		default:
			s.drop()
		}
	}
}

// fail records a device loss, unless Stop raced us, and releases the stream.
func (s *Source) fail(stream *pa.Stream, quit chan struct{}, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-quit:
		return
	default:
	}
	slog.Warn("portaudio: capture interrupted", "err", cause)
	s.err = fmt.Errorf("%w: portaudio: %w", audio.ErrCaptureInterrupted, cause)
	s.running = false
	s.stream = nil
	close(quit)
	_ = stream.Close()
	_ = pa.Terminate()
}

func (s *Source) drop() {
	s.dropped.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
}

// Stop implements [audio.Source]. It waits for the capture goroutine to exit
// (at most one device buffer) before closing the stream.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.quit)
	done, stream := s.done, s.stream
	s.stream = nil
	s.mu.Unlock()

	<-done

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	slog.Info("portaudio: capture stopped", "dropped_frames", s.dropped.Load())
	return errors.Join(errs...)
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns the number of frames dropped since the source was created.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

var _ audio.Source = (*Source)(nil)

// DeviceInfo describes an input device.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListInputDevices returns every device that can capture audio.
func ListInputDevices() ([]DeviceInfo, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var defaultName string
	if def, err := pa.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev.Name == defaultName,
		})
	}
	return out, nil
}

func inputDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" || name == "default" {
		return pa.DefaultInputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
