package server

import (
	"net/http"
	"time"

	"github.com/dyluth/mirror/internal/live"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS settings, not by the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connected is the first event every viewer receives.
func (s *Server) connected() live.Event {
	st := s.status()
	return live.Event{
		Type:      live.EventConnected,
		Phase:     string(st.Phase),
		RunID:     st.RunID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"head": s.store.Read().Head},
	}
}

// handleSSE serves GET /api/live as a server-sent-event stream. Events are
// forwarded until the client leaves or the hub drops the subscription.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.hub.Subscribe()
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev live.Event) bool {
		frame, err := ev.MarshalSSE()
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode live event")
			return true
		}
		if _, err := w.Write(frame); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(s.connected()) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			if !send(ev) {
				return
			}
		}
	}
}

// handleWebSocket serves GET /api/live/ws: the same events as /api/live, one
// JSON message each.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer sub.Close()

	// The stream is one-way; reading only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(ev live.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev) == nil
	}

	if !send(s.connected()) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
				time.Now().Add(time.Second))
			return
		case ev := <-sub.Events():
			if !send(ev) {
				return
			}
		}
	}
}
