package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/apperrors"
	"github.com/audiolibrelab/wavedeck/internal/capture"
	"github.com/audiolibrelab/wavedeck/internal/config"
	"github.com/audiolibrelab/wavedeck/internal/library"
	"github.com/audiolibrelab/wavedeck/internal/service"
	"golang.org/x/sync/errgroup"
)

// Server exposes the recording session and the recording list over HTTP.
type Server struct {
	service *service.Service
	cfg     *config.Config
	port    string
}

// StatusResponse represents the JSON response for the status endpoint
type StatusResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Session service.Status      `json:"session"`
	Config  *ResolvedConfigInfo `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	OutputDir  string `json:"output_dir"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Device     string `json:"device"`
	Codec      string `json:"codec"`
}

// RecordingsResponse lists recordings most recent first.
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	Count      int                     `json:"count"`
	Slot       library.Slot            `json:"slot"`
}

// GenericResponse is returned by action endpoints.
type GenericResponse struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message,omitempty"`
	Recording *library.Recording `json:"recording,omitempty"`
}

// New creates a web server on top of svc.
func New(svc *service.Service, cfg *config.Config, port string) *Server {
	return &Server{service: svc, cfg: cfg, port: port}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/record/start", s.handleStartRecording)
	mux.HandleFunc("/record/stop", s.handleStopRecording)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/toggle/", s.handleToggle)
	mux.HandleFunc("/api/recordings/delete/", s.handleDelete)
	mux.HandleFunc("/api/recordings/stream/", s.handleStream)
	mux.HandleFunc("/api/recordings/download/", s.handleDownload)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gCtx },
	}

	g.Go(func() error {
		slog.Info("Starting WaveDeck Web Server",
			"port", s.port,
			"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), s.port),
			"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("Shutting down web server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleIndex serves a minimal control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStatus returns the session snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}

	st := s.service.Status()
	response := StatusResponse{
		Status:  strings.ToUpper(string(st.State)),
		Message: statusMessage(st),
		Session: st,
		Config: &ResolvedConfigInfo{
			OutputDir:  s.cfg.Output.Directory,
			SampleRate: s.cfg.Audio.SampleRate,
			Channels:   s.cfg.Audio.Channels,
			Device:     s.cfg.Audio.Device,
			Codec:      st.Codec,
		},
	}
	s.sendJSON(w, http.StatusOK, response)
}

func statusMessage(st service.Status) string {
	switch {
	case st.Banner != nil:
		return st.Banner.Message
	case !st.Supported:
		return "Recording is disabled"
	case st.State == capture.StateRecording:
		return "Recording " + st.ElapsedHuman
	default:
		return "Ready to record"
	}
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}
	if err := s.service.StartRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "operation", "start_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording started"})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "error", err)
		return
	}

	rec, err := s.service.StopRecordingAs(r.Context(), strings.TrimSpace(r.FormValue("name")))
	if err != nil {
		s.sendServiceError(w, err, "operation", "stop_recording")
		return
	}
	if rec == nil {
		s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Not recording"})
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording stopped", Recording: rec})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendMethodNotAllowed(w)
		return
	}
	recs := s.service.Recordings()
	s.sendJSON(w, http.StatusOK, RecordingsResponse{
		Recordings: recs,
		Count:      len(recs),
		Slot:       s.service.Slot(),
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}
	id, ok := s.recordingID(w, r, "/api/recordings/toggle/")
	if !ok {
		return
	}
	if err := s.service.TogglePlay(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "operation", "toggle_play", "id", id)
		return
	}

	message := "Playback paused"
	if slot := s.service.Slot(); slot.ActiveID == id && slot.Playing {
		message = "Playback started"
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		s.sendMethodNotAllowed(w)
		return
	}
	id, ok := s.recordingID(w, r, "/api/recordings/delete/")
	if !ok {
		return
	}
	if err := s.service.Delete(id); err != nil {
		s.sendServiceError(w, err, "operation", "delete", "id", id)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording deleted"})
}

// handleStream serves the encoded bytes for in-browser playback, with range
// support
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.recordingID(w, r, "/api/recordings/stream/")
	if !ok {
		return
	}
	rec, b, err := s.service.Open(id)
	if err != nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(rec))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, service.FileName(rec), rec.CreatedAt, bytes.NewReader(b.Data))
}

// handleDownload serves the encoded bytes as an attachment named after the
// recording
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.recordingID(w, r, "/api/recordings/download/")
	if !ok {
		return
	}
	rec, b, err := s.service.Open(id)
	if err != nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(rec))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", service.FileName(rec)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.Data)))
	if _, err := w.Write(b.Data); err != nil {
		slog.Error("Error serving recording download", "id", id, "error", err)
	}
}

func contentType(rec library.Recording) string {
	if rec.MimeType == "" {
		return "application/octet-stream"
	}
	return rec.MimeType
}

// recordingID extracts the id following prefix. Ids never contain slashes.
func (s *Server) recordingID(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid recording id", "path", r.URL.Path)
		return "", false
	}
	return id, true
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) sendMethodNotAllowed(w http.ResponseWriter) {
	s.sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
}

// sendServiceError reports a service failure using the banner it raised.
// Busy raises no banner, so it reports its own message.
func (s *Server) sendServiceError(w http.ResponseWriter, err error, logContext ...interface{}) {
	msg := err.Error()
	if apperrors.KindOf(err) == apperrors.Busy {
		msg = "Already recording"
	} else if b := s.service.Banner(); b.Message != "" {
		msg = b.Message
	}
	s.sendErrorResponse(w, statusFor(err), msg, append(logContext, "kind", apperrors.KindOf(err).String())...)
}

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Busy:
		return http.StatusConflict
	case apperrors.AccessDenied:
		return http.StatusForbidden
	case apperrors.UnsupportedPlatform:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// sendErrorResponse logs the error and sends a JSON error body
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// the route to a public address reveals the LAN interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
