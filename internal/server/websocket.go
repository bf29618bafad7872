package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/capture"
	"github.com/audiolibrelab/wavedeck/internal/service"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 5 * time.Second
	recordingTick  = time.Second
	snapshotUpdate = "snapshot"
)

var errServiceClosed = errors.New("service closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is pushed to websocket clients after every change.
type Snapshot struct {
	Type       string                  `json:"type"`
	Status     service.Status          `json:"status"`
	Recordings []service.RecordingInfo `json:"recordings"`
}

// handleWebSocket pushes a snapshot on connect, after every change, and
// every second while recording so clients can show the timer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	changes, unsubscribe := s.service.Subscribe()
	defer unsubscribe()

	slog.Debug("WebSocket client connected", "remote", r.RemoteAddr)
	g, ctx := errgroup.WithContext(r.Context())

	// reader: clients only send control frames; a read error means gone
	g.Go(func() error {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		// closing the connection unblocks the reader
		defer conn.Close()

		ticker := time.NewTicker(recordingTick)
		defer ticker.Stop()

		if err := s.push(conn); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return ctx.Err()
			case _, ok := <-changes:
				if !ok {
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
					return errServiceClosed
				}
			case <-ticker.C:
				if s.service.Status().State != capture.StateRecording {
					continue
				}
			}
			if err := s.push(conn); err != nil {
				return err
			}
		}
	})

	err = g.Wait()
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, errServiceClosed),
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		slog.Debug("WebSocket client disconnected", "remote", r.RemoteAddr)
	default:
		slog.Debug("WebSocket connection ended", "remote", r.RemoteAddr, "error", err)
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	snap := Snapshot{
		Type:       snapshotUpdate,
		Status:     s.service.Status(),
		Recordings: s.service.Recordings(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}
