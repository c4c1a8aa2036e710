package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hark/internal/coordinator"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/audio"
)

// eventWriteTimeout bounds a single websocket write.
const eventWriteTimeout = 5 * time.Second

// Handler returns the control API:
//
//	POST /api/listen/start  enter wake listening
//	POST /api/listen/stop   stop listening and discard any recording
//	POST /api/trigger       start a recording without the wake detector
//	POST /api/finish        end the active recording now
//	GET  /api/state         coordinator status snapshot
//	GET  /api/events        websocket stream of pipeline events
//	GET  /metrics           Prometheus metrics
//
// plus the health endpoints. Every route is wrapped in [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/listen/start", a.handleStart)
	mux.HandleFunc("POST /api/listen/stop", a.handleStop)
	mux.HandleFunc("POST /api/trigger", a.handleTrigger)
	mux.HandleFunc("POST /api/finish", a.handleFinish)
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// stateResponse is the body of every control endpoint.
type stateResponse struct {
	coordinator.Status
	Resuming bool   `json:"resuming,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.coord.StartListening(r.Context())
	if err == nil {
		a.captureLost.Store(false)
	}
	a.respond(w, r, err)
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if a.resumer != nil {
		a.resumer.Cancel()
	}
	a.respond(w, r, a.coord.StopListening(r.Context()))
}

func (a *App) handleTrigger(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, a.coord.TriggerManualRecording(r.Context()))
}

func (a *App) handleFinish(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, a.coord.FinishRecording(r.Context()))
}

func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	a.respond(w, r, nil)
}

// respond writes the current status, or opErr mapped to a status code.
func (a *App) respond(w http.ResponseWriter, r *http.Request, opErr error) {
	log := observe.Logger(r.Context(), "route", r.Pattern)

	var resp stateResponse
	code := http.StatusOK
	if opErr != nil {
		code = statusFor(opErr)
		resp.Error = opErr.Error()
		log.Warn("control request failed", "err", opErr)
	}

	st, err := a.coord.Status(r.Context())
	switch {
	case err == nil:
		resp.Status = st
	case opErr == nil:
		code = statusFor(err)
		resp.Error = err.Error()
	}
	if a.resumer != nil {
		resp.Resuming = a.resumer.Resuming()
	}
	writeJSON(w, code, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, coordinator.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// eventMessage is the websocket representation of a pipeline event.
type eventMessage struct {
	coordinator.Event
	Error string `json:"error,omitempty"`
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := a.hub.Subscribe()
	defer cancel()

	// Client messages are ignored; CloseRead cancels ctx when the peer
	// goes away.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("event subscriber connected", "remote", r.RemoteAddr, "subscribers", a.hub.Subscribers())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "pipeline stopped")
				return
			}
			msg := eventMessage{Event: ev}
			if ev.Err != nil {
				msg.Error = ev.Err.Error()
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				slog.Debug("event subscriber write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
