package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/afero"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/archive"
	"github.com/MrWong99/hark/internal/command"
	cmdmock "github.com/MrWong99/hark/internal/command/mock"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/coordinator"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/trigger"
	"github.com/MrWong99/hark/pkg/audio"
	audiomock "github.com/MrWong99/hark/pkg/audio/mock"
	"github.com/MrWong99/hark/pkg/provider/llm"
	llmmock "github.com/MrWong99/hark/pkg/provider/llm/mock"
	"github.com/MrWong99/hark/pkg/provider/stt"
	sttmock "github.com/MrWong99/hark/pkg/provider/stt/mock"
)

const (
	frameDur    = 20 * time.Millisecond
	waitTimeout = 2 * time.Second
)

var t0 = time.Unix(1_700_000_000, 0)

// testConfig returns a config without HTTP listener or submitter whose
// detection parameters end an utterance after 500 ms of silence.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.ListenAddr = ""
	cfg.Submit.Mode = config.SubmitNone
	cfg.Detection.Sensitivity = 0.5
	cfg.Detection.SilenceThreshold = 0.01
	cfg.Detection.SilenceDuration = 500 * time.Millisecond
	cfg.Detection.MinRecordingDuration = 200 * time.Millisecond
	cfg.Detection.NoSpeechTimeout = 0
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// frameAt returns the i-th 20 ms frame of a stream, every sample at level of
// full scale.
func frameAt(i int, level float64) audio.AudioFrame {
	samples := make([]int16, 320)
	v := int16(level * 32767)
	for j := range samples {
		samples[j] = v
	}
	f := audio.FrameFromSamples(samples, audio.DefaultSampleRate)
	f.Timestamp = time.Duration(i) * frameDur
	return f
}

// speak pushes speech frames followed by silence long enough to end the
// utterance. It returns the index of the next frame.
func speak(t *testing.T, src *audiomock.Source, from int) int {
	t.Helper()
	i := from
	for range 30 {
		if !src.Push(frameAt(i, 0.5)) {
			t.Fatalf("frame %d not delivered", i)
		}
		i++
	}
	for range 40 {
		if !src.Push(frameAt(i, 0)) {
			t.Fatalf("frame %d not delivered", i)
		}
		i++
	}
	return i
}

// startApp runs a in the background and stops it when the test ends.
func startApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return within 5s after context cancellation")
		}
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitEvent reads events until one of kind arrives.
func waitEvent(t *testing.T, events <-chan coordinator.Event, kind coordinator.EventKind) coordinator.Event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func TestNew_RequiresSource(t *testing.T) {
	t.Parallel()

	if _, err := app.New(testConfig(), &app.Providers{}); err == nil {
		t.Error("New() without source: want error")
	}
	if _, err := app.New(testConfig(), nil); err == nil {
		t.Error("New() with nil providers: want error")
	}
}

func TestNew_LocalModeRequiresSTT(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Submit.Mode = config.SubmitLocal
	if _, err := app.New(cfg, &app.Providers{Source: &audiomock.Source{}}, app.WithMetrics(testMetrics(t))); err == nil {
		t.Error("New() in local mode without STT: want error")
	}
}

func TestNew_InvalidHotkey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Trigger.Hotkey = "ctrl+nosuchkey"
	_, err := app.New(cfg, &app.Providers{Source: &audiomock.Source{}}, app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, trigger.ErrInvalidHotkey) {
		t.Errorf("New() error = %v, want ErrInvalidHotkey", err)
	}
}

func TestRun_AutoStartsListening(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	a, err := app.New(testConfig(), &app.Providers{Source: src}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	eventually(t, "wake listening", func() bool {
		return a.Coordinator().State() == coordinator.StateWakeListening
	})
	if got := src.StartCalls(); got != 1 {
		t.Errorf("Start calls = %d, want 1", got)
	}
}

func TestRun_WithoutAutoStartStaysIdle(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	a, err := app.New(testConfig(), &app.Providers{Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithAutoStart(false),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := a.Coordinator().Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.State != coordinator.StateIdle {
		t.Errorf("State = %v, want %v", st.State, coordinator.StateIdle)
	}
	if src.StartCalls() != 0 {
		t.Errorf("Start calls = %d, want 0", src.StartCalls())
	}
}

func TestTrigger_StartsManualRecording(t *testing.T) {
	t.Parallel()

	fire := make(chan struct{})
	a, err := app.New(testConfig(), &app.Providers{Source: &audiomock.Source{}},
		app.WithMetrics(testMetrics(t)),
		app.WithAutoStart(false),
		app.WithTrigger(trigger.Chan(fire)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	fire <- struct{}{}
	eventually(t, "recording", func() bool {
		return a.Coordinator().State() == coordinator.StateRecording
	})
}

// brokenTrigger fails to set up, like a hotkey on a host without a display.
type brokenTrigger struct{}

func (brokenTrigger) Run(context.Context, func()) error { return trigger.ErrHotkeyUnsupported }

func TestTrigger_SetupFailureKeepsPipelineRunning(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	a, err := app.New(testConfig(), &app.Providers{Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithTrigger(brokenTrigger{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	eventually(t, "wake listening", func() bool {
		return a.Coordinator().State() == coordinator.StateWakeListening
	})
}

func TestNew_ConfiguredHotkey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Trigger.Hotkey = "ctrl+shift+space"
	if _, err := app.New(cfg, &app.Providers{Source: &audiomock.Source{}}, app.WithMetrics(testMetrics(t))); err != nil {
		t.Errorf("New() error: %v", err)
	}
}

func TestLocalMode_RecognisesCommand(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Submit.Mode = config.SubmitLocal
	cfg.Submit.Language = "en"
	cfg.Commands.Phrases = []config.CommandPhrase{
		{Phrase: "navigate to", Intent: "navigate_map", Parameter: "destination", Feedback: "Navigating to {param}"},
	}
	src := &audiomock.Source{}
	primary := &sttmock.Provider{ProviderName: "whisper", Err: errors.New("model not loaded")}
	fallback := &sttmock.Provider{ProviderName: "openai", Result: stt.Transcript{Text: "navigate to Berlin"}}

	a, err := app.New(cfg, &app.Providers{
		Source:       src,
		STT:          primary,
		STTFallbacks: []stt.Provider{fallback},
	},
		app.WithMetrics(testMetrics(t)),
		app.WithClock(coordinator.NewFrameClock(t0)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	events, cancel := a.Hub().Subscribe()
	defer cancel()
	startApp(t, a)

	eventually(t, "source running", src.Running)
	speak(t, src, 0)

	ev := waitEvent(t, events, coordinator.EventTranscriptionReady)
	res := ev.Result
	if res == nil || res.Command == nil {
		t.Fatalf("Result = %+v, want a command", res)
	}
	if res.Command.Intent != "navigate_map" || res.Command.Parameters["destination"] != "Berlin" {
		t.Errorf("Command = %+v, want navigate_map to Berlin", res.Command)
	}
	if res.Command.Feedback != "Navigating to Berlin" {
		t.Errorf("Feedback = %q, want %q", res.Command.Feedback, "Navigating to Berlin")
	}
	if len(fallback.Calls()) != 1 {
		t.Errorf("fallback Transcribe calls = %d, want 1", len(fallback.Calls()))
	}
	req := fallback.Calls()[0].Req
	if req.Language != "en" {
		t.Errorf("Language = %q, want %q", req.Language, "en")
	}
	if len(req.Keywords) == 0 {
		t.Error("phrase keywords were not passed to STT")
	}
}

func TestLocalMode_LLMFailsOver(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Submit.Mode = config.SubmitLocal
	src := &audiomock.Source{}
	primary := &llmmock.Provider{ProviderName: "ollama", CompleteErr: errors.New("connection refused")}
	fallback := &llmmock.Provider{
		ProviderName:     "openai",
		CompleteResponse: &llm.CompletionResponse{Content: `{"intent":"navigate_map","parameters":{"end":"Hamburg"}}`},
	}

	a, err := app.New(cfg, &app.Providers{
		Source:       src,
		STT:          &sttmock.Provider{ProviderName: "whisper", Result: stt.Transcript{Text: "take me to Hamburg"}},
		LLM:          primary,
		LLMFallbacks: []llm.Provider{fallback},
	},
		app.WithMetrics(testMetrics(t)),
		app.WithClock(coordinator.NewFrameClock(t0)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	events, cancel := a.Hub().Subscribe()
	defer cancel()
	startApp(t, a)

	eventually(t, "source running", src.Running)
	speak(t, src, 0)

	res := waitEvent(t, events, coordinator.EventTranscriptionReady).Result
	if res == nil || res.Command == nil {
		t.Fatalf("Result = %+v, want a command", res)
	}
	if res.Command.Intent != "navigate_map" || res.Command.Parameters["end"] != "Hamburg" {
		t.Errorf("Command = %+v, want navigate_map to Hamburg", res.Command)
	}
	if len(primary.Calls()) != 1 || len(fallback.Calls()) != 1 {
		t.Errorf("Complete calls = %d primary, %d fallback, want 1 each", len(primary.Calls()), len(fallback.Calls()))
	}
}

func TestArchive_WritesUtteranceAndSidecar(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Archive.Dir = "/archive"
	fs := afero.NewMemMapFs()
	src := &audiomock.Source{}
	sub := &cmdmock.Submitter{Result: command.Result{
		Text:    "open the map",
		Command: &command.Command{Intent: "open_map"},
	}}

	a, err := app.New(cfg, &app.Providers{Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithClock(coordinator.NewFrameClock(t0)),
		app.WithArchiveFS(fs),
		app.WithSubmitter(sub),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	eventually(t, "source running", src.Running)
	speak(t, src, 0)

	var id string
	eventually(t, "archive sidecar", func() bool {
		matches, _ := afero.Glob(fs, "/archive/*.json")
		if len(matches) != 1 {
			return false
		}
		id = strings.TrimSuffix(filepath.Base(matches[0]), ".json")
		return true
	})

	if ok, _ := afero.Exists(fs, filepath.Join("/archive", id+".wav")); !ok {
		t.Errorf("%s.wav was not written", id)
	}
	sink, err := archive.New(fs, "/archive")
	if err != nil {
		t.Fatalf("archive.New() error: %v", err)
	}
	rec, err := sink.Load(id)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if rec.Text != "open the map" || rec.Command == nil || rec.Command.Intent != "open_map" {
		t.Errorf("Record = %+v, want transcript and open_map", rec)
	}
	if rec.Error != "" {
		t.Errorf("Record.Error = %q, want empty", rec.Error)
	}
}

func TestArchive_RecordsSubmitError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Archive.Dir = "/archive"
	fs := afero.NewMemMapFs()
	src := &audiomock.Source{}

	a, err := app.New(cfg, &app.Providers{Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithClock(coordinator.NewFrameClock(t0)),
		app.WithArchiveFS(fs),
		app.WithSubmitter(&cmdmock.Submitter{Err: errors.New("service down")}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	eventually(t, "source running", src.Running)
	speak(t, src, 0)

	var path string
	eventually(t, "archive sidecar", func() bool {
		matches, _ := afero.Glob(fs, "/archive/*.json")
		if len(matches) == 1 {
			path = matches[0]
		}
		return path != ""
	})
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var rec archive.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if !strings.Contains(rec.Error, "service down") {
		t.Errorf("Record.Error = %q, want submit error", rec.Error)
	}
}

func TestRecovery_ResumesAfterCaptureLoss(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Recovery.AutoResume = true
	cfg.Recovery.Backoff = time.Millisecond
	cfg.Recovery.MaxBackoff = time.Millisecond
	src := &audiomock.Source{}

	a, err := app.New(cfg, &app.Providers{Source: src}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)

	eventually(t, "source running", src.Running)
	src.Fail(errors.New("unplugged"))

	eventually(t, "second start", func() bool { return src.StartCalls() >= 2 })
	eventually(t, "wake listening", func() bool {
		return a.Coordinator().State() == coordinator.StateWakeListening
	})
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	a, err := app.New(testConfig(), &app.Providers{Source: src}, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	closed := false
	a.AddCloser(func() error { closed = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	eventually(t, "source running", src.Running)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
	if src.Running() {
		t.Error("source still running after Run returned")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !closed {
		t.Error("closer was not called")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

// ─── HTTP API ────────────────────────────────────────────────────────────────

type stateBody struct {
	State string `json:"state"`
	Error string `json:"error"`
}

func post(t *testing.T, url string) (int, stateBody) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body stateBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func newServer(t *testing.T, src *audiomock.Source) (*app.App, *httptest.Server) {
	t.Helper()
	a, err := app.New(testConfig(), &app.Providers{Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithAutoStart(false),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startApp(t, a)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func TestHandler_ListenStartStop(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	_, srv := newServer(t, src)

	code, body := post(t, srv.URL+"/api/listen/start")
	if code != http.StatusOK || body.State != "wake_listening" {
		t.Errorf("start = %d %+v, want 200 wake_listening", code, body)
	}

	code, body = post(t, srv.URL+"/api/trigger")
	if code != http.StatusOK || body.State != "recording" {
		t.Errorf("trigger = %d %+v, want 200 recording", code, body)
	}

	code, body = post(t, srv.URL+"/api/listen/stop")
	if code != http.StatusOK || body.State != "idle" {
		t.Errorf("stop = %d %+v, want 200 idle", code, body)
	}
	if src.Running() {
		t.Error("source still running after stop")
	}
}

func TestHandler_StartDeviceUnavailable(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{StartError: errors.New("no such device")}
	_, srv := newServer(t, src)

	code, body := post(t, srv.URL+"/api/listen/start")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.State != "idle" || !strings.Contains(body.Error, "no such device") {
		t.Errorf("body = %+v, want idle with device error", body)
	}
}

func TestHandler_State(t *testing.T) {
	t.Parallel()

	_, srv := newServer(t, &audiomock.Source{})

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body stateBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "idle" {
		t.Errorf("state = %q, want idle", body.State)
	}
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	_, srv := newServer(t, &audiomock.Source{})

	for _, path := range []string{"/healthz", "/readyz", "/api/health"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, srv := newServer(t, &audiomock.Source{})

	resp, err := http.Get(srv.URL + "/api/trigger")
	if err != nil {
		t.Fatalf("GET /api/trigger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestHandler_EventStream(t *testing.T) {
	t.Parallel()

	a, srv := newServer(t, &audiomock.Source{})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.CloseNow()
	eventually(t, "subscriber", func() bool { return a.Hub().Subscribers() == 1 })

	post(t, srv.URL+"/api/trigger")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error: %v", err)
		}
		var msg struct {
			Kind       string `json:"kind"`
			SessionID  string `json:"session_id"`
			Activation string `json:"activation"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode event %s: %v", data, err)
		}
		if msg.Kind != "recording_started" {
			continue
		}
		if msg.Activation != "manual" || msg.SessionID == "" {
			t.Errorf("recording_started = %+v, want manual with session id", msg)
		}
		return
	}
}
