package command

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/internal/resilience"
	"github.com/MrWong99/hark/internal/utterance"
	"github.com/MrWong99/hark/pkg/audio"
)

const (
	// IntentNavigate is reported for results of the remote navigate service.
	IntentNavigate = "navigate_map"

	defaultRemoteFormat  = "wav"
	defaultRemoteTimeout = 30 * time.Second

	// maxRemoteBody caps how much of a response body is read.
	maxRemoteBody = 1 << 20
)

// RemoteError is a failure reported by the remote service itself, such as a
// transcript that names no location. It does not count against the circuit
// breaker.
type RemoteError struct {
	// Type is the machine-readable error_type, e.g. "no_location".
	Type string

	// Message is the human-readable error text.
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("command: remote %s: %s", e.Type, e.Message)
}

// navigateRequest is the JSON body accepted by the navigate endpoint.
type navigateRequest struct {
	Type        string `json:"type"`
	Input       string `json:"input"`
	Audio       string `json:"audio"`
	Format      string `json:"format"`
	AIProvider  string `json:"ai_provider,omitempty"`
	MapProvider string `json:"map_provider,omitempty"`
}

// navigateResponse is the JSON body returned by the navigate endpoint, both
// on success and with HTTP 400 on failure.
type navigateResponse struct {
	Success        bool   `json:"success"`
	URL            string `json:"url,omitempty"`
	Start          string `json:"start,omitempty"`
	End            string `json:"end,omitempty"`
	RecognizedText string `json:"recognized_text,omitempty"`
	STTProvider    string `json:"stt_provider,omitempty"`
	AIProvider     string `json:"ai_provider,omitempty"`
	MapProvider    string `json:"map_provider,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorType      string `json:"error_type,omitempty"`
}

// RemoteOption is a functional option for [NewRemoteSubmitter].
type RemoteOption func(*RemoteSubmitter)

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *RemoteSubmitter) {
		r.client = c
	}
}

// WithProviders sets the ai_provider and map_provider forwarded with each
// request. Empty values let the service pick its defaults.
func WithProviders(ai, maps string) RemoteOption {
	return func(r *RemoteSubmitter) {
		r.aiProvider = ai
		r.mapProvider = maps
	}
}

// WithBreaker sets the circuit breaker guarding the endpoint.
func WithBreaker(cb *resilience.CircuitBreaker) RemoteOption {
	return func(r *RemoteSubmitter) {
		r.breaker = cb
	}
}

// WithRemoteMetrics sets the metrics recorder. Default:
// [observe.DefaultMetrics].
func WithRemoteMetrics(m *observe.Metrics) RemoteOption {
	return func(r *RemoteSubmitter) {
		r.metrics = m
	}
}

// RemoteSubmitter posts utterances to a remote navigate service, which
// transcribes them and extracts a route. The audio is sent as a base64
// encoded WAV file.
type RemoteSubmitter struct {
	endpoint    string
	client      *http.Client
	aiProvider  string
	mapProvider string
	breaker     *resilience.CircuitBreaker
	metrics     *observe.Metrics
}

// NewRemoteSubmitter returns a submitter for the navigate endpoint at
// endpoint, e.g. "http://localhost:8080/api/navigate".
func NewRemoteSubmitter(endpoint string, opts ...RemoteOption) (*RemoteSubmitter, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("command: remote endpoint %q is not an absolute URL", endpoint)
	}
	r := &RemoteSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultRemoteTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "remote"})
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Breaker returns the circuit breaker guarding the endpoint.
func (r *RemoteSubmitter) Breaker() *resilience.CircuitBreaker { return r.breaker }

// Submit posts u and maps a successful response to a navigate command.
// Failures reported by the service are returned as *[RemoteError].
func (r *RemoteSubmitter) Submit(ctx context.Context, u utterance.Utterance) (Result, error) {
	start := time.Now()
	ctx, span := observe.StartUtteranceSpan(ctx, "command.remote_submit", u.ID, u.Duration)
	defer span.End()
	defer func() {
		r.metrics.SubmitDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("mode", "remote")))
	}()

	res := Result{UtteranceID: u.ID}
	body, err := r.encode(u)
	if err != nil {
		return res, err
	}

	var resp navigateResponse
	err = r.breaker.Execute(func() error {
		var err error
		resp, err = r.post(ctx, body)
		return err
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.metrics.RecordProviderRequest(ctx, "remote", "submit", "error")
			r.metrics.RecordProviderError(ctx, "remote", "submit")
		}
		return res, observe.Fail(span, fmt.Errorf("command: remote submit %s: %w", u.ID, err), "remote submit failed")
	}
	r.metrics.RecordProviderRequest(ctx, "remote", "submit", "ok")

	res.Text = resp.RecognizedText
	res.Provider = resp.STTProvider
	if !resp.Success {
		rerr := &RemoteError{Type: resp.ErrorType, Message: resp.Error}
		return res, observe.Fail(span, rerr, rerr.Type)
	}

	res.Command = &Command{
		Intent:     IntentNavigate,
		Parameters: map[string]string{"start": resp.Start, "end": resp.End},
		Feedback:   navigateFeedback(resp),
		URL:        resp.URL,
	}
	res.Interpreter = "remote"
	if resp.AIProvider != "" {
		res.Interpreter = "remote/" + resp.AIProvider
	}
	r.metrics.RecordCommand(ctx, IntentNavigate, "remote")
	return res, nil
}

func (r *RemoteSubmitter) encode(u utterance.Utterance) ([]byte, error) {
	if len(u.Audio) == 0 {
		return nil, fmt.Errorf("command: remote submit %s: empty audio", u.ID)
	}
	wav, err := audio.EncodeWAV(u.Audio, u.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("command: remote submit %s: %w", u.ID, err)
	}
	return json.Marshal(navigateRequest{
		Type:        "audio",
		Audio:       base64.StdEncoding.EncodeToString(wav),
		Format:      defaultRemoteFormat,
		AIProvider:  r.aiProvider,
		MapProvider: r.mapProvider,
	})
}

// post sends body and decodes the response. Only transport failures,
// server errors and undecodable bodies are returned as errors; a decoded
// failure response is returned with Success false.
func (r *RemoteSubmitter) post(ctx context.Context, body []byte) (navigateResponse, error) {
	var out navigateResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && out.Success {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return out, nil
}

func navigateFeedback(resp navigateResponse) string {
	switch {
	case resp.Start != "" && resp.End != "":
		return fmt.Sprintf("Route from %s to %s", resp.Start, resp.End)
	case resp.End != "":
		return "Route to " + resp.End
	default:
		return "Route from " + resp.Start
	}
}

var _ Submitter = (*RemoteSubmitter)(nil)
