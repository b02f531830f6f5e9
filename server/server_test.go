package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stategraph-go/stategraph/checkpoint"
	"github.com/stategraph-go/stategraph/graph"
	"github.com/stategraph-go/stategraph/state"
	"github.com/stategraph-go/stategraph/stream"
)

// compileEchoGraph builds a single-node graph that copies value into
// result with a prefix.
func compileEchoGraph(t *testing.T) *graph.CompiledGraph {
	t.Helper()
	g := graph.NewStateGraph(state.WithChannels("value", "result")).
		AddNode("echo", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
			return graph.NewNodeOutput().WithUpdate("result", "echo:"+nc.State.GetString("value")), nil
		}).
		AddEdge(graph.Start, "echo").
		AddEdge("echo", graph.End)
	cg, err := g.Compile(graph.WithName("echo"))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return cg
}

// compileGateGraph builds a checkpointed two-node pipeline that
// interrupts before its second node.
func compileGateGraph(t *testing.T) *graph.CompiledGraph {
	t.Helper()
	appendLog := func(entry string) graph.NodeFunc {
		return func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
			return graph.NewNodeOutput().WithUpdate("log", entry), nil
		}
	}
	g := graph.NewStateGraph(state.NewSchema().AddListChannel("log").Build()).
		AddNode("a", appendLog("a")).
		AddNode("b", appendLog("b")).
		AddEdge(graph.Start, "a").
		AddEdge("a", "b").
		AddEdge("b", graph.End)
	cg, err := g.Compile(
		graph.WithName("gate"),
		graph.WithCheckpointer(checkpoint.NewMemorySaver()),
		graph.WithInterruptBefore("b"))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return cg
}

// compileCounterGraph builds a checkpointed graph with a summed counter
// channel.
func compileCounterGraph(t *testing.T) *graph.CompiledGraph {
	t.Helper()
	g := graph.NewStateGraph(state.NewSchema().AddCounterChannel("count").Build()).
		AddNode("inc", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
			return graph.NewNodeOutput().WithUpdate("count", 1), nil
		}).
		AddEdge(graph.Start, "inc").
		AddEdge("inc", graph.End)
	cg, err := g.Compile(
		graph.WithName("counter"),
		graph.WithCheckpointer(checkpoint.NewMemorySaver()))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return cg
}

func postJSON(t *testing.T, srv *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

// waitForRun polls a run until it reaches a terminal status.
func waitForRun(t *testing.T, srv *Server, runID string) Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := doRequest(t, srv, http.MethodGet, "/runs/"+runID)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200 polling run, got %d", w.Code)
		}
		var run Run
		if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
			t.Fatalf("Failed to parse run: %v", err)
		}
		switch run.Status {
		case RunStatusSuccess, RunStatusError, RunStatusInterrupted:
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Run %s did not reach a terminal status", runID)
	return Run{}
}

func TestServerHealth(t *testing.T) {
	srv := NewServer(nil)
	w := doRequest(t, srv, http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %s", resp["status"])
	}
}

func TestServerAuthentication(t *testing.T) {
	srv := NewServer(&Config{AuthToken: "test-api-key"})

	w := doRequest(t, srv, http.MethodGet, "/health")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with wrong key, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-API-Key", "test-api-key")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with API key, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer test-api-key")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with bearer token, got %d", w.Code)
	}
}

func TestServerCORS(t *testing.T) {
	srv := NewServer(nil)
	w := doRequest(t, srv, http.MethodOptions, "/health")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header Access-Control-Allow-Origin: *")
	}
}

func TestServerGraphs(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))
	srv.RegisterGraph("gate", compileGateGraph(t))

	w := doRequest(t, srv, http.MethodGet, "/graphs")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var infos []*GraphInfo
	if err := json.Unmarshal(w.Body.Bytes(), &infos); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(infos) != 2 || infos[0].GraphID != "echo" || infos[1].GraphID != "gate" {
		t.Errorf("Expected sorted graphs [echo gate], got %+v", infos)
	}

	w = doRequest(t, srv, http.MethodGet, "/graphs/gate")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var info GraphInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if info.Name != "gate" {
		t.Errorf("Expected name gate, got %s", info.Name)
	}
	if len(info.Nodes) != 2 || info.Nodes[0] != "a" || info.Nodes[1] != "b" {
		t.Errorf("Expected nodes [a b], got %v", info.Nodes)
	}
	if len(info.Entry) != 1 || info.Entry[0] != "a" {
		t.Errorf("Expected entry [a], got %v", info.Entry)
	}
	if len(info.Interrupts) != 1 || info.Interrupts[0] != "b" {
		t.Errorf("Expected interrupts [b], got %v", info.Interrupts)
	}

	w = doRequest(t, srv, http.MethodGet, "/graphs/missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown graph, got %d", w.Code)
	}
}

func TestServerGraphDiagram(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	w := doRequest(t, srv, http.MethodGet, "/graphs/echo/diagram")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "graph TD") {
		t.Errorf("Expected mermaid output, got %q", w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, "/graphs/echo/diagram?format=dot")
	if !strings.Contains(w.Body.String(), "digraph") {
		t.Errorf("Expected dot output, got %q", w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, "/graphs/echo/diagram?format=svg")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unsupported format, got %d", w.Code)
	}
}

func TestServerThreads(t *testing.T) {
	srv := NewServer(nil)

	w := postJSON(t, srv, "/threads", map[string]interface{}{
		"metadata": map[string]interface{}{"user_id": "test-user"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var thread Thread
	if err := json.Unmarshal(w.Body.Bytes(), &thread); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if thread.Status != ThreadStatusIdle {
		t.Errorf("Expected status idle, got %s", thread.Status)
	}
	if thread.ThreadID == "" {
		t.Error("Expected a generated thread id")
	}
	if thread.Metadata["user_id"] != "test-user" {
		t.Errorf("Expected metadata to round-trip, got %v", thread.Metadata)
	}

	w = doRequest(t, srv, http.MethodGet, "/threads")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var threads []Thread
	if err := json.Unmarshal(w.Body.Bytes(), &threads); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(threads) != 1 {
		t.Errorf("Expected 1 thread, got %d", len(threads))
	}

	w = doRequest(t, srv, http.MethodGet, "/threads/"+thread.ThreadID)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodDelete, "/threads/"+thread.ThreadID)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodGet, "/threads/"+thread.ThreadID)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
}

func TestServerCreateThreadConflict(t *testing.T) {
	srv := NewServer(nil)

	w := postJSON(t, srv, "/threads", map[string]interface{}{"thread_id": "fixed"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	w = postJSON(t, srv, "/threads", map[string]interface{}{"thread_id": "fixed"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate thread, got %d", w.Code)
	}
}

func TestServerCreateRunAndPoll(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	w := postJSON(t, srv, "/runs", map[string]interface{}{
		"graph_id": "echo",
		"input":    map[string]interface{}{"value": "hi"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created Run
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if created.Status != RunStatusPending && created.Status != RunStatusRunning {
		t.Errorf("Expected status pending or running, got %s", created.Status)
	}
	if created.ThreadID == "" {
		t.Error("Expected a generated thread id")
	}

	run := waitForRun(t, srv, created.RunID)
	if run.Status != RunStatusSuccess {
		t.Fatalf("Expected status success, got %s (%s)", run.Status, run.Error)
	}
	if run.Output["result"] != "echo:hi" {
		t.Errorf("Expected result echo:hi, got %v", run.Output["result"])
	}

	// The run's thread is registered implicitly and settles back to idle.
	w = doRequest(t, srv, http.MethodGet, "/threads/"+created.ThreadID)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for implicit thread, got %d", w.Code)
	}
	var thread Thread
	if err := json.Unmarshal(w.Body.Bytes(), &thread); err != nil {
		t.Fatalf("Failed to parse thread: %v", err)
	}
	if thread.Status != ThreadStatusIdle {
		t.Errorf("Expected thread status idle, got %s", thread.Status)
	}
	if thread.GraphID != "echo" {
		t.Errorf("Expected thread graph echo, got %s", thread.GraphID)
	}

	w = doRequest(t, srv, http.MethodGet, "/threads/"+created.ThreadID+"/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var runs []Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("Failed to parse runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != created.RunID {
		t.Errorf("Expected the thread's one run, got %+v", runs)
	}
}

func TestServerRunValidation(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	w := postJSON(t, srv, "/runs", map[string]interface{}{
		"input": map[string]interface{}{"value": "hi"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without graph_id, got %d", w.Code)
	}

	w = postJSON(t, srv, "/runs", map[string]interface{}{"graph_id": "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown graph, got %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/runs/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown run, got %d", w.Code)
	}
}

func TestServerWaitRun(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	w := postJSON(t, srv, "/runs/wait", map[string]interface{}{
		"graph_id": "echo",
		"input":    map[string]interface{}{"value": "sync"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var run Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if run.Status != RunStatusSuccess {
		t.Fatalf("Expected status success, got %s (%s)", run.Status, run.Error)
	}
	if run.Output["result"] != "echo:sync" {
		t.Errorf("Expected result echo:sync, got %v", run.Output["result"])
	}
}

func TestServerWaitRunReportsNodeFailure(t *testing.T) {
	srv := NewServer(nil)
	g := graph.NewStateGraph(nil).
		AddNode("boom", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
			return nil, errors.New("downstream unavailable")
		}).
		AddEdge(graph.Start, "boom").
		AddEdge("boom", graph.End)
	cg, err := g.Compile(graph.WithName("boom"))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	srv.RegisterGraph("boom", cg)

	w := postJSON(t, srv, "/runs/wait", map[string]interface{}{"graph_id": "boom"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var run Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if run.Status != RunStatusError {
		t.Fatalf("Expected status error, got %s", run.Status)
	}
	if run.Code != "NODE_EXECUTION_FAILED" {
		t.Errorf("Expected code NODE_EXECUTION_FAILED, got %s", run.Code)
	}
	if run.Error == "" {
		t.Error("Expected an error message")
	}
}

func TestServerInterruptAndResume(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("gate", compileGateGraph(t))

	w := postJSON(t, srv, "/runs/wait", map[string]interface{}{
		"graph_id":  "gate",
		"thread_id": "flow-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var run Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if run.Status != RunStatusInterrupted {
		t.Fatalf("Expected status interrupted, got %s (%s)", run.Status, run.Error)
	}
	if run.Interrupt == nil {
		t.Fatal("Expected interrupt info on the run")
	}
	if run.Interrupt.Node != "b" || run.Interrupt.Kind != "before" {
		t.Errorf("Expected interrupt before b, got %+v", run.Interrupt)
	}
	if run.Interrupt.CheckpointID == "" {
		t.Error("Expected a checkpoint id on the interrupt")
	}

	w = doRequest(t, srv, http.MethodGet, "/threads/flow-1")
	var thread Thread
	if err := json.Unmarshal(w.Body.Bytes(), &thread); err != nil {
		t.Fatalf("Failed to parse thread: %v", err)
	}
	if thread.Status != ThreadStatusInterrupted {
		t.Errorf("Expected thread status interrupted, got %s", thread.Status)
	}

	// Re-running the thread resumes from the interrupt checkpoint.
	w = postJSON(t, srv, "/runs/wait", map[string]interface{}{
		"graph_id":  "gate",
		"thread_id": "flow-1",
	})
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if run.Status != RunStatusSuccess {
		t.Fatalf("Expected status success after resume, got %s (%s)", run.Status, run.Error)
	}
	log, ok := run.Output["log"].([]interface{})
	if !ok || len(log) != 2 || log[0] != "a" || log[1] != "b" {
		t.Errorf("Expected log [a b], got %v", run.Output["log"])
	}
}

func TestServerThreadStateAndHistory(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("counter", compileCounterGraph(t))

	for i := 0; i < 2; i++ {
		w := postJSON(t, srv, "/runs/wait", map[string]interface{}{
			"graph_id":  "counter",
			"thread_id": "t-1",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
	}

	w := doRequest(t, srv, http.MethodGet, "/threads/t-1/state")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var ts ThreadState
	if err := json.Unmarshal(w.Body.Bytes(), &ts); err != nil {
		t.Fatalf("Failed to parse state: %v", err)
	}
	if ts.Values["count"] != float64(2) {
		t.Errorf("Expected count 2, got %v", ts.Values["count"])
	}

	w = doRequest(t, srv, http.MethodGet, "/threads/t-1/history?limit=50")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var history []*checkpoint.Checkpoint
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("Failed to parse history: %v", err)
	}
	if len(history) < 2 {
		t.Fatalf("Expected at least 2 checkpoints, got %d", len(history))
	}
	if history[0].ThreadID != "t-1" {
		t.Errorf("Expected thread t-1 checkpoints, got %s", history[0].ThreadID)
	}

	// Patching state goes through the sum reducer.
	w = postJSON(t, srv, "/threads/t-1/state", map[string]interface{}{
		"values": map[string]interface{}{"count": 5},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ts); err != nil {
		t.Fatalf("Failed to parse state: %v", err)
	}
	if ts.Values["count"] != float64(7) {
		t.Errorf("Expected count 7 after patch, got %v", ts.Values["count"])
	}

	w = doRequest(t, srv, http.MethodGet, "/threads/missing/state")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown thread, got %d", w.Code)
	}
}

func TestServerCancelRun(t *testing.T) {
	srv := NewServer(nil)
	g := graph.NewStateGraph(nil).
		AddNode("waits", func(ctx context.Context, nc *graph.NodeContext) (*graph.NodeOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		AddEdge(graph.Start, "waits").
		AddEdge("waits", graph.End)
	cg, err := g.Compile(graph.WithName("sleepy"))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	srv.RegisterGraph("sleepy", cg)

	w := postJSON(t, srv, "/runs", map[string]interface{}{"graph_id": "sleepy"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var created Run
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	w = postJSON(t, srv, "/runs/"+created.RunID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	run := waitForRun(t, srv, created.RunID)
	if run.Status != RunStatusError {
		t.Fatalf("Expected status error after cancel, got %s", run.Status)
	}
	if run.Code != "EXECUTION_CANCELLED" {
		t.Errorf("Expected code EXECUTION_CANCELLED, got %s", run.Code)
	}
}

func TestServerStreamSSE(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	w := postJSON(t, srv, "/runs/stream", map[string]interface{}{
		"graph_id": "echo",
		"input":    map[string]interface{}{"value": "live"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: state") {
		t.Errorf("Expected a state event frame, got %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Fatalf("Expected a done event frame, got %q", body)
	}

	// The done frame carries the final state.
	var done stream.Event
	for _, frame := range strings.Split(body, "\n\n") {
		if !strings.Contains(frame, "event: done") {
			continue
		}
		for _, line := range strings.Split(frame, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				if err := json.Unmarshal([]byte(data), &done); err != nil {
					t.Fatalf("Failed to parse done event: %v", err)
				}
			}
		}
	}
	if done.Type != stream.EventDone {
		t.Fatalf("Expected parsed done event, got %+v", done)
	}
	if done.State["result"] != "echo:live" {
		t.Errorf("Expected final result echo:live, got %v", done.State["result"])
	}
}

func TestServerStreamValidation(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	w := postJSON(t, srv, "/runs/stream", map[string]interface{}{
		"graph_id":     "echo",
		"stream_modes": []string{"bogus"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown stream mode, got %d", w.Code)
	}

	w = postJSON(t, srv, "/runs/stream", map[string]interface{}{"graph_id": "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown graph, got %d", w.Code)
	}
}

func TestServerWebSocket(t *testing.T) {
	srv := NewServer(nil)
	srv.RegisterGraph("echo", compileEchoGraph(t))

	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(map[string]interface{}{
		"graph_id":     "echo",
		"input":        map[string]interface{}{"value": "ws"},
		"stream_modes": []string{"values", "updates"},
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var events []stream.Event
	for {
		var ev stream.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("Expected normal close, got %v", err)
			}
			break
		}
		events = append(events, ev)
	}

	if len(events) == 0 {
		t.Fatal("Expected events on the websocket")
	}
	last := events[len(events)-1]
	if last.Type != stream.EventDone {
		t.Fatalf("Expected final done event, got %s", last.Type)
	}
	if last.State["result"] != "echo:ws" {
		t.Errorf("Expected final result echo:ws, got %v", last.State["result"])
	}

	sawUpdates := false
	for _, ev := range events {
		if ev.Type == stream.EventUpdates && ev.Node == "echo" {
			sawUpdates = true
		}
	}
	if !sawUpdates {
		t.Error("Expected an updates event from the echo node")
	}
}

func TestServerWebSocketUnknownGraph(t *testing.T) {
	srv := NewServer(nil)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"graph_id": "missing"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var ev stream.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Type != stream.EventError {
		t.Fatalf("Expected error event, got %s", ev.Type)
	}
	if !strings.Contains(ev.Message, "not found") {
		t.Errorf("Expected not found message, got %q", ev.Message)
	}
}
