package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stategraph-go/stategraph/stream"
)

const wsWriteTimeout = 10 * time.Second

// Origin is not restricted; the HTTP API serves permissive CORS as well.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// settleThread records the outcome of a streamed execution on the
// thread. Streamed runs are not recorded as run resources; the terminal
// event carries the outcome to the client.
func (s *Server) settleThread(threadID string, terminal stream.EventType) {
	status := ThreadStatusIdle
	switch terminal {
	case stream.EventInterrupted:
		status = ThreadStatusInterrupted
	case stream.EventError:
		status = ThreadStatusError
	}
	s.mu.Lock()
	s.setThreadStatusLocked(threadID, status)
	s.mu.Unlock()
}

// handleStreamRun executes a run and streams its events as server-sent
// events. Each frame's event field is the engine event type and its
// data field the event JSON. The stream ends after a terminal done,
// interrupted, or error event.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	g, threadID, apiErr := s.resolveRun(&req)
	if apiErr != nil {
		s.writeError(w, apiErr.status, apiErr.code, apiErr.message)
		return
	}
	modes, err := parseStreamModes(req.StreamModes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "", "streaming unsupported")
		return
	}

	events, err := g.Stream(r.Context(), req.buildInput(), req.buildConfig(threadID), modes...)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.mu.Lock()
	s.ensureThreadLocked(threadID, req.GraphID)
	s.setThreadStatusLocked(threadID, ThreadStatusBusy)
	s.mu.Unlock()

	logger := s.logger.With(
		zap.String("graph_id", req.GraphID),
		zap.String("thread_id", threadID))
	logger.Info("stream started")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if ev.IsTerminal() {
			s.settleThread(threadID, ev.Type)
		}
		data, err := ev.ToJSON()
		if err != nil {
			logger.Warn("event encode failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
	logger.Info("stream finished")
}

// handleWebSocket bridges the event stream over a WebSocket. The client
// sends one run request as its first frame; the server answers with a
// frame per event and closes the connection after the terminal event.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	writeEvent := func(ev stream.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}

	var req runRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeEvent(stream.NewErrorEvent(fmt.Sprintf("invalid run request: %v", err), "", 0))
		return
	}
	g, threadID, apiErr := s.resolveRun(&req)
	if apiErr != nil {
		writeEvent(stream.NewErrorEvent(apiErr.message, "", 0))
		return
	}
	modes, err := parseStreamModes(req.StreamModes)
	if err != nil {
		writeEvent(stream.NewErrorEvent(err.Error(), "", 0))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read pump surfaces client disconnects and absorbs control
	// frames. Any further data frames are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	events, err := g.Stream(ctx, req.buildInput(), req.buildConfig(threadID), modes...)
	if err != nil {
		writeEvent(stream.NewErrorEvent(err.Error(), "", 0))
		return
	}

	s.mu.Lock()
	s.ensureThreadLocked(threadID, req.GraphID)
	s.setThreadStatusLocked(threadID, ThreadStatusBusy)
	s.mu.Unlock()

	logger := s.logger.With(
		zap.String("graph_id", req.GraphID),
		zap.String("thread_id", threadID))
	logger.Info("websocket stream started")

	for ev := range events {
		if ev.IsTerminal() {
			s.settleThread(threadID, ev.Type)
		}
		if err := writeEvent(ev); err != nil {
			logger.Warn("websocket write failed", zap.Error(err))
			cancel()
			for range events {
			}
			return
		}
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	logger.Info("websocket stream finished")
}
