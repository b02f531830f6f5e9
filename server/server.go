// Package server exposes registered graphs over HTTP. It provides a
// thread and run API with JSON payloads, server-sent event streaming of
// execution events, and a WebSocket bridge carrying the same stream.
//
// Runs execute asynchronously by default; clients poll the run resource
// or subscribe to one of the streaming endpoints. A run that pauses on
// an interrupt reports the interrupt payload and the checkpoint to
// resume from.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/visualization"
)

// Config holds server settings. A nil or zero config listens on the
// default address without authentication and logs nowhere.
type Config struct {
	// Host is the interface to bind. Defaults to 0.0.0.0.
	Host string
	// Port is the TCP port. Defaults to 8123.
	Port int
	// AuthToken, when set, is required on every request as either an
	// X-API-Key header or an Authorization bearer token.
	AuthToken string
	// Logger receives request and run lifecycle logs. Defaults to a
	// no-op logger.
	Logger *zap.Logger
}

// Server hosts compiled graphs behind an HTTP API.
type Server struct {
	mu      sync.RWMutex
	graphs  map[string]*graph.CompiledGraph
	threads map[string]*Thread
	runs    map[string]*Run

	config  *Config
	logger  *zap.Logger
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer creates a server with the given config. A nil config uses
// defaults.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.Port == 0 {
		config.Port = 8123
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		graphs:  make(map[string]*graph.CompiledGraph),
		threads: make(map[string]*Thread),
		runs:    make(map[string]*Run),
		config:  config,
		logger:  logger.With(zap.String("component", "server")),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /graphs", s.handleListGraphs)
	s.mux.HandleFunc("GET /graphs/{id}", s.handleGetGraph)
	s.mux.HandleFunc("GET /graphs/{id}/diagram", s.handleGraphDiagram)

	s.mux.HandleFunc("POST /threads", s.handleCreateThread)
	s.mux.HandleFunc("GET /threads", s.handleListThreads)
	s.mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	s.mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	s.mux.HandleFunc("GET /threads/{id}/state", s.handleGetThreadState)
	s.mux.HandleFunc("POST /threads/{id}/state", s.handleUpdateThreadState)
	s.mux.HandleFunc("GET /threads/{id}/history", s.handleThreadHistory)
	s.mux.HandleFunc("GET /threads/{id}/runs", s.handleListThreadRuns)

	s.mux.HandleFunc("POST /runs", s.handleCreateRun)
	s.mux.HandleFunc("GET /runs", s.handleListRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	s.mux.HandleFunc("POST /runs/wait", s.handleWaitRun)
	s.mux.HandleFunc("POST /runs/stream", s.handleStreamRun)

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// RegisterGraph makes a compiled graph available under the given id.
// Registering the same id again replaces the previous graph.
func (s *Server) RegisterGraph(graphID string, g *graph.CompiledGraph) {
	s.mu.Lock()
	s.graphs[graphID] = g
	s.mu.Unlock()
	s.logger.Info("graph registered",
		zap.String("graph_id", graphID),
		zap.String("name", g.Name()))
}

// GraphIDs returns the ids of all registered graphs, sorted.
func (s *Server) GraphIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) graph(graphID string) (*graph.CompiledGraph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[graphID]
	return g, ok
}

// ServeHTTP applies CORS and authentication, then dispatches to the
// API routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "", "unauthorized")
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("duration", time.Since(start)))
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.AuthToken == "" {
		return true
	}
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return apiKey == s.config.AuthToken
}

// Start begins serving on the configured address and blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s}
	s.logger.Info("server listening", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully. Runs already started keep
// executing in the background.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GraphInfo describes a registered graph.
type GraphInfo struct {
	GraphID    string   `json:"graph_id"`
	Name       string   `json:"name"`
	Nodes      []string `json:"nodes"`
	Entry      []string `json:"entry"`
	Interrupts []string `json:"interrupts,omitempty"`
}

func describeGraph(graphID string, g *graph.CompiledGraph) *GraphInfo {
	before, after := g.InterruptNodes()
	return &GraphInfo{
		GraphID:    graphID,
		Name:       g.Name(),
		Nodes:      g.NodeNames(),
		Entry:      g.EntryNodes(),
		Interrupts: append(before, after...),
	}
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	infos := make([]*GraphInfo, 0)
	for _, id := range s.GraphIDs() {
		if g, ok := s.graph(id); ok {
			infos = append(infos, describeGraph(id, g))
		}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, ok := s.graph(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("graph %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, describeGraph(id, g))
}

// handleGraphDiagram renders the graph topology as text. The format
// query parameter selects mermaid (the default), dot, or ascii.
func (s *Server) handleGraphDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, ok := s.graph(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("graph %s not found", id))
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(visualization.FormatMermaid)
	}
	diagram, err := visualization.Draw(g, &visualization.Options{
		Format:       visualization.Format(format),
		ShowStartEnd: true,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, diagram)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// errorBody is the JSON shape of every error response. Code carries the
// engine error code when the failure originated in graph execution.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code errs.ErrorCode, message string) {
	s.writeJSON(w, status, errorBody{Error: message, Code: string(code)})
}

// writeEngineError maps a graph error onto an HTTP status by its error
// code and preserves the code in the body.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeInvalidGraph, errs.CodeInvalidUpdate, errs.CodeSerialization:
		status = http.StatusBadRequest
	case errs.CodeNodeNotFound, errs.CodeEdgeTargetNotFound:
		status = http.StatusNotFound
	}
	s.writeError(w, status, code, err.Error())
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves
// v untouched. It writes the 400 response itself and reports whether
// the handler should continue.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, http.StatusBadRequest, "", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
