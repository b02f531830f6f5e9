package server

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stategraph-go/stategraph/graph"
)

// Thread statuses reported by the API.
const (
	ThreadStatusIdle        = "idle"
	ThreadStatusBusy        = "busy"
	ThreadStatusInterrupted = "interrupted"
	ThreadStatusError       = "error"
)

// Thread groups runs that share checkpointed state. A thread is created
// explicitly through the API or implicitly by the first run that names
// it.
type Thread struct {
	ThreadID string `json:"thread_id"`
	// GraphID is the graph the thread last ran against. State and
	// history lookups default to it.
	GraphID   string                 `json:"graph_id,omitempty"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID string                 `json:"thread_id,omitempty"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	s.mu.Lock()
	if _, exists := s.threads[threadID]; exists {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, "", fmt.Sprintf("thread %s already exists", threadID))
		return
	}
	thread := &Thread{
		ThreadID:  threadID,
		Status:    ThreadStatusIdle,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.threads[threadID] = thread
	snapshot := *thread
	s.mu.Unlock()

	s.writeJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	threads := make([]Thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, *t)
	}
	s.mu.RUnlock()

	sort.Slice(threads, func(i, j int) bool {
		if threads[i].CreatedAt.Equal(threads[j].CreatedAt) {
			return threads[i].ThreadID < threads[j].ThreadID
		}
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})
	s.writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.RLock()
	thread, ok := s.threads[id]
	var snapshot Thread
	if ok {
		snapshot = *thread
	}
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("thread %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.threads[id]
	delete(s.threads, id)
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("thread %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// threadGraph resolves the graph a thread state lookup should read. An
// explicit graph id wins over the graph_id query parameter, which wins
// over the graph recorded on the thread.
func (s *Server) threadGraph(w http.ResponseWriter, r *http.Request, threadID, explicit string) (*graph.CompiledGraph, bool) {
	s.mu.RLock()
	thread, ok := s.threads[threadID]
	var recorded string
	if ok {
		recorded = thread.GraphID
	}
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("thread %s not found", threadID))
		return nil, false
	}

	graphID := explicit
	if graphID == "" {
		graphID = r.URL.Query().Get("graph_id")
	}
	if graphID == "" {
		graphID = recorded
	}
	if graphID == "" {
		s.writeError(w, http.StatusBadRequest, "", "thread has no graph; pass graph_id")
		return nil, false
	}
	g, ok := s.graph(graphID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("graph %s not found", graphID))
		return nil, false
	}
	return g, true
}

// ThreadState is the checkpointed state of a thread.
type ThreadState struct {
	ThreadID string                 `json:"thread_id"`
	Values   map[string]interface{} `json:"values"`
}

func (s *Server) handleGetThreadState(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	g, ok := s.threadGraph(w, r, threadID, "")
	if !ok {
		return
	}

	st, err := g.GetState(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if st == nil {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("no state recorded for thread %s", threadID))
		return
	}
	s.writeJSON(w, http.StatusOK, ThreadState{ThreadID: threadID, Values: st})
}

func (s *Server) handleUpdateThreadState(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	var req struct {
		GraphID string                 `json:"graph_id,omitempty"`
		Values  map[string]interface{} `json:"values"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Values) == 0 {
		s.writeError(w, http.StatusBadRequest, "", "values is required")
		return
	}
	g, ok := s.threadGraph(w, r, threadID, req.GraphID)
	if !ok {
		return
	}

	if err := g.UpdateState(r.Context(), threadID, req.Values); err != nil {
		s.writeEngineError(w, err)
		return
	}
	st, err := g.GetState(r.Context(), threadID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.mu.Lock()
	if thread, ok := s.threads[threadID]; ok {
		thread.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, ThreadState{ThreadID: threadID, Values: st})
}

// handleThreadHistory returns a thread's checkpoints, newest first. The
// limit query parameter defaults to 10; zero or negative returns all.
func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	g, ok := s.threadGraph(w, r, threadID, "")
	if !ok {
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	history, err := g.History(r.Context(), threadID, limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

// ensureThreadLocked registers a thread record for a run, creating it
// when the run names a thread the API has not seen. Caller holds s.mu.
func (s *Server) ensureThreadLocked(threadID, graphID string) *Thread {
	thread, ok := s.threads[threadID]
	if !ok {
		thread = &Thread{
			ThreadID:  threadID,
			Status:    ThreadStatusIdle,
			CreatedAt: time.Now(),
		}
		s.threads[threadID] = thread
	}
	thread.GraphID = graphID
	thread.UpdatedAt = time.Now()
	return thread
}

func (s *Server) setThreadStatusLocked(threadID, status string) {
	if thread, ok := s.threads[threadID]; ok {
		thread.Status = status
		thread.UpdatedAt = time.Now()
	}
}
