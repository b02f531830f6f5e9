package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	errs "github.com/stategraph-go/stategraph/errors"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/types"
)

// Run statuses reported by the API. A cancelled run ends with status
// error and code EXECUTION_CANCELLED.
const (
	RunStatusPending     = "pending"
	RunStatusRunning     = "running"
	RunStatusSuccess     = "success"
	RunStatusError       = "error"
	RunStatusInterrupted = "interrupted"
)

// Run is one execution of a graph. Output holds the final state on
// success and the paused state on interrupt.
type Run struct {
	RunID     string                 `json:"run_id"`
	ThreadID  string                 `json:"thread_id"`
	GraphID   string                 `json:"graph_id"`
	Status    string                 `json:"status"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Interrupt *InterruptInfo         `json:"interrupt,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`

	cancel context.CancelFunc
}

// InterruptInfo describes why a run paused and where to resume it.
type InterruptInfo struct {
	Node         string                 `json:"node,omitempty"`
	Kind         string                 `json:"kind"`
	Message      string                 `json:"message,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	CheckpointID string                 `json:"checkpoint_id"`
	Step         int                    `json:"step"`
}

func interruptInfo(ie *errs.InterruptedError) *InterruptInfo {
	info := &InterruptInfo{
		CheckpointID: ie.CheckpointID,
		Step:         ie.Step,
	}
	if ie.Interrupt != nil {
		info.Node = ie.Interrupt.Node
		info.Kind = string(ie.Interrupt.Kind)
		info.Message = ie.Interrupt.Message
		info.Data = ie.Interrupt.Data
	}
	return info
}

// runRequest is the body accepted by the run endpoints. Resume, goto,
// and resume_from continue an interrupted thread; stream_modes applies
// to the streaming endpoints only.
type runRequest struct {
	GraphID        string                 `json:"graph_id"`
	ThreadID       string                 `json:"thread_id,omitempty"`
	Input          map[string]interface{} `json:"input,omitempty"`
	Resume         interface{}            `json:"resume,omitempty"`
	Goto           []string               `json:"goto,omitempty"`
	ResumeFrom     string                 `json:"resume_from,omitempty"`
	RecursionLimit int                    `json:"recursion_limit,omitempty"`
	StreamModes    []string               `json:"stream_modes,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// buildInput maps the request onto the engine's input forms: a Command
// when any resume or goto field is set, otherwise the plain input map.
func (req *runRequest) buildInput() interface{} {
	if req.Resume != nil || len(req.Goto) > 0 {
		cmd := types.NewCommand()
		if len(req.Input) > 0 {
			cmd = cmd.WithUpdate(req.Input)
		}
		if req.Resume != nil {
			cmd = cmd.WithResume(req.Resume)
		}
		if len(req.Goto) > 0 {
			cmd = cmd.WithGoto(req.Goto...)
		}
		return cmd
	}
	if req.Input == nil {
		return nil
	}
	return req.Input
}

func (req *runRequest) buildConfig(threadID string) *types.ExecutionConfig {
	cfg := types.NewExecutionConfig(threadID)
	if req.RecursionLimit > 0 {
		cfg = cfg.WithRecursionLimit(req.RecursionLimit)
	}
	if req.ResumeFrom != "" {
		cfg = cfg.WithResumeFrom(req.ResumeFrom)
	}
	for k, v := range req.Metadata {
		cfg = cfg.WithMetadata(k, v)
	}
	return cfg
}

// apiError carries an HTTP status alongside the message so request
// validation can be shared across the run endpoints.
type apiError struct {
	status  int
	code    errs.ErrorCode
	message string
}

func (e *apiError) Error() string { return e.message }

// resolveRun validates a run request and returns the graph plus the
// thread id the run executes under. A missing thread id gets a
// generated one so checkpoints stay addressable.
func (s *Server) resolveRun(req *runRequest) (*graph.CompiledGraph, string, *apiError) {
	if req.GraphID == "" {
		return nil, "", &apiError{status: http.StatusBadRequest, message: "graph_id is required"}
	}
	g, ok := s.graph(req.GraphID)
	if !ok {
		return nil, "", &apiError{status: http.StatusNotFound, message: fmt.Sprintf("graph %s not found", req.GraphID)}
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	return g, threadID, nil
}

func parseStreamModes(names []string) ([]types.StreamMode, error) {
	modes := make([]types.StreamMode, 0, len(names))
	for _, name := range names {
		mode := types.StreamMode(name)
		switch mode {
		case types.StreamModeValues, types.StreamModeUpdates, types.StreamModeMessages,
			types.StreamModeCustom, types.StreamModeDebug:
			modes = append(modes, mode)
		default:
			return nil, fmt.Errorf("unknown stream mode %q", name)
		}
	}
	return modes, nil
}

// newRun registers a run record and its thread under the lock and
// returns the run plus a response snapshot taken before execution can
// touch it.
func (s *Server) newRun(req *runRequest, threadID string, cancel context.CancelFunc) (*Run, Run) {
	run := &Run{
		RunID:     uuid.New().String(),
		ThreadID:  threadID,
		GraphID:   req.GraphID,
		Status:    RunStatusPending,
		Input:     req.Input,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.runs[run.RunID] = run
	s.ensureThreadLocked(threadID, req.GraphID)
	snapshot := *run
	s.mu.Unlock()
	return run, snapshot
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	g, threadID, apiErr := s.resolveRun(&req)
	if apiErr != nil {
		s.writeError(w, apiErr.status, apiErr.code, apiErr.message)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	run, snapshot := s.newRun(&req, threadID, cancel)

	go func() {
		defer cancel()
		s.executeRun(ctx, run, g, req.buildInput(), req.buildConfig(threadID))
	}()

	s.writeJSON(w, http.StatusCreated, snapshot)
}

// handleWaitRun executes a run synchronously and responds with the
// finished run. Engine failures are reported in the run body, not the
// HTTP status.
func (s *Server) handleWaitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	g, threadID, apiErr := s.resolveRun(&req)
	if apiErr != nil {
		s.writeError(w, apiErr.status, apiErr.code, apiErr.message)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	run, _ := s.newRun(&req, threadID, cancel)

	s.executeRun(ctx, run, g, req.buildInput(), req.buildConfig(threadID))

	s.mu.RLock()
	snapshot := *run
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, snapshot)
}

// executeRun drives one graph execution and records its outcome on the
// run and its thread.
func (s *Server) executeRun(ctx context.Context, run *Run, g *graph.CompiledGraph, input interface{}, cfg *types.ExecutionConfig) {
	s.mu.Lock()
	run.Status = RunStatusRunning
	run.UpdatedAt = time.Now()
	s.setThreadStatusLocked(run.ThreadID, ThreadStatusBusy)
	s.mu.Unlock()

	logger := s.logger.With(
		zap.String("run_id", run.RunID),
		zap.String("graph_id", run.GraphID),
		zap.String("thread_id", run.ThreadID))
	logger.Info("run started")

	output, err := g.Invoke(ctx, input, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	run.UpdatedAt = time.Now()
	switch {
	case err == nil:
		run.Status = RunStatusSuccess
		run.Output = output
		s.setThreadStatusLocked(run.ThreadID, ThreadStatusIdle)
	default:
		if ie, ok := errs.AsInterrupted(err); ok {
			run.Status = RunStatusInterrupted
			run.Interrupt = interruptInfo(ie)
			run.Output = ie.State
			s.setThreadStatusLocked(run.ThreadID, ThreadStatusInterrupted)
		} else {
			run.Status = RunStatusError
			run.Error = err.Error()
			run.Code = string(errs.CodeOf(err))
			s.setThreadStatusLocked(run.ThreadID, ThreadStatusError)
		}
	}
	logger.Info("run finished",
		zap.String("status", run.Status),
		zap.Duration("duration", time.Since(run.CreatedAt)))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.RLock()
	run, ok := s.runs[id]
	var snapshot Run
	if ok {
		snapshot = *run
	}
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("run %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.listRuns(""))
}

func (s *Server) handleListThreadRuns(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	s.mu.RLock()
	_, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("thread %s not found", threadID))
		return
	}
	s.writeJSON(w, http.StatusOK, s.listRuns(threadID))
}

// listRuns snapshots runs, oldest first. An empty thread id returns all
// runs.
func (s *Server) listRuns(threadID string) []Run {
	s.mu.RLock()
	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		if threadID != "" && run.ThreadID != threadID {
			continue
		}
		runs = append(runs, *run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs
}

// handleCancelRun cancels a pending or running run. The run settles
// asynchronously with code EXECUTION_CANCELLED; the response reflects
// the status at cancel time.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	run, ok := s.runs[id]
	var snapshot Run
	var cancel context.CancelFunc
	if ok {
		if run.Status == RunStatusPending || run.Status == RunStatusRunning {
			cancel = run.cancel
		}
		snapshot = *run
	}
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "", fmt.Sprintf("run %s not found", id))
		return
	}
	if cancel != nil {
		cancel()
		s.logger.Info("run cancelled", zap.String("run_id", id))
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}
