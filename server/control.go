// Package server exposes the device to local tools: the tray shell toggles
// recording and speaking through it, and Prometheus scrapes /metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/companion/device"
	"github.com/room4-2/companion/metrics"
	"github.com/room4-2/companion/session"
)

const (
	maxTextBody  = 64 * 1024
	pollInterval = 250 * time.Millisecond
)

// Controller is the part of the device the control surface drives
type Controller interface {
	ID() string
	State() session.ConnState
	IsRecording() bool
	IsSpeaking() bool
	PendingImages() int
	QueuedItems() int
	ToggleRecording() error
	ToggleSpeaking() error
	FetchImageFromCamera(ctx context.Context) error
	SendText(text string) error
}

// Snapshot is the device state reported to the shell
type Snapshot struct {
	Session       string `json:"session"`
	State         string `json:"state"`
	Recording     bool   `json:"recording"`
	Speaking      bool   `json:"speaking"`
	PendingImages int    `json:"pending_images"`
	QueuedItems   int    `json:"queued_items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type textRequest struct {
	Text string `json:"text"`
}

// Server is the local control HTTP server
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	device     Controller
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New builds the control server listening on addr
func New(addr string, dev Controller, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		device:  dev,
		metrics: m,
		logger:  logger.With("component", "control"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     sameHost,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /record", s.handleToggle(dev.ToggleRecording))
	mux.HandleFunc("POST /speak", s.handleToggle(dev.ToggleSpeaking))
	mux.HandleFunc("POST /capture", s.handleCapture)
	mux.HandleFunc("POST /text", s.handleText)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.instrument(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("control server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("control server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() Snapshot {
	return Snapshot{
		Session:       s.device.ID(),
		State:         s.device.State().String(),
		Recording:     s.device.IsRecording(),
		Speaking:      s.device.IsSpeaking(),
		PendingImages: s.device.PendingImages(),
		QueuedItems:   s.device.QueuedItems(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.device.State().String(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleToggle(toggle func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := toggle(); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.snapshot())
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.device.FetchImageFromCamera(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTextBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}
	var req textRequest
	if err := sonic.Unmarshal(body, &req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `body must be {"text":"..."}`})
		return
	}
	if err := s.device.SendText(req.Text); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.snapshot())
}

// handleWebSocket pushes a snapshot whenever the device state changes, so
// the shell can mirror the recording and speaking flags.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// reader only detects the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last Snapshot
	first := true
	for {
		if snap := s.snapshot(); first || snap != last {
			data, err := sonic.Marshal(snap)
			if err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			last, first = snap, false
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, device.ErrDeviceUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrQueueClosed):
		code = http.StatusConflict
	}
	s.logger.Warn("control request failed", "error", err, "code", code)
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not implement http.Hijacker")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		// route pattern such as "POST /record"
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.metrics.ControlRequests.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
	})
}

// sameHost accepts requests without an Origin, or from a page served by
// this host
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
