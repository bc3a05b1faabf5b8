package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/service"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// StreamHandler serves plan progress as server-sent events and over
// websockets.
type StreamHandler struct {
	service  service.GenerationService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a StreamHandler. allowedOrigins limits websocket
// upgrades by Origin header; empty allows same-host requests only.
func NewStreamHandler(svc service.GenerationService, allowedOrigins []string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for StreamHandler")
	}
	h := &StreamHandler{
		service: svc,
		logger:  logger.With(slog.String("component", "stream_handler")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed["*"] || allowed[r.Header.Get("Origin")]
		}
	}
	return h
}

// subscribe parses the stream position and filters and opens the
// subscription. It writes the error response itself on failure.
func (h *StreamHandler) subscribe(w http.ResponseWriter, r *http.Request) (<-chan *domain.ProgressEvent, bool) {
	planID, ok := handlePathUUID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	after, since, err := parseReplayPosition(r)
	if err != nil {
		HandleAPIError(w, r, err, err.Error())
		return nil, false
	}
	opts := progress.SubscribeOptions{
		Types:         parseEventTypes(r),
		AfterSequence: after,
		Since:         since,
	}
	if v := r.URL.Query().Get("min_delta"); v != "" {
		d, perr := strconv.ParseFloat(v, 64)
		if perr != nil || d < 0 || d > 100 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "min_delta must be a number in 0..100")
			return nil, false
		}
		opts.MinDelta = d
	}

	events, err := h.service.SubscribeProgress(r.Context(), planID, opts)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return nil, false
	}
	return events, true
}

// Events handles GET /api/plans/{id}/events as a server-sent event stream.
// Reconnecting clients resume with Last-Event-ID; ?since= replays from a
// timestamp. The stream ends after the plan's terminal event.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	events, ok := h.subscribe(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range events {
		if err := writeSSE(w, e); err != nil {
			log.Debug("event stream closed by client", slog.String("error", err.Error()))
			return
		}
		flusher.Flush()
	}
}

// writeSSE writes one event frame. Heartbeats are sent as comments so they
// do not move the client's Last-Event-ID.
func writeSSE(w http.ResponseWriter, e *domain.ProgressEvent) error {
	if e.Type == domain.EventHeartbeat {
		_, err := fmt.Fprintf(w, ": heartbeat %s\n\n", e.Timestamp.UTC().Format(time.RFC3339))
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Sequence, e.Type, data)
	return err
}

// WebSocket handles GET /api/plans/{id}/ws. Each event is one JSON text
// message; the connection closes normally after the terminal event.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	events, ok := h.subscribe(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	// The read pump only services control frames and notices the client
	// going away.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, open := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
