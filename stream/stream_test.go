package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stategraph-go/stategraph/types"
)

func TestEventConstructors(t *testing.T) {
	st := map[string]interface{}{"count": 3}
	ev := NewStateEvent(st, 2)
	if ev.Type != EventState {
		t.Errorf("Expected type %s, got %s", EventState, ev.Type)
	}
	if ev.Step != 2 {
		t.Errorf("Expected step 2, got %d", ev.Step)
	}
	if ev.State["count"] != 3 {
		t.Errorf("Expected state count 3, got %v", ev.State["count"])
	}
	if ev.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	up := NewUpdatesEvent("agent", map[string]interface{}{"result": "ok"}, 1)
	if up.Node != "agent" {
		t.Errorf("Expected node agent, got %s", up.Node)
	}
	if up.Updates["result"] != "ok" {
		t.Errorf("Expected update result=ok, got %v", up.Updates["result"])
	}

	msg := NewMessageEvent("agent", "hello", true)
	if msg.Content != "hello" || !msg.IsFinal {
		t.Errorf("Expected final message hello, got %q final=%v", msg.Content, msg.IsFinal)
	}

	end := NewNodeEndEvent("agent", 4, 1500*time.Millisecond)
	if end.DurationMS != 1500 {
		t.Errorf("Expected duration 1500ms, got %d", end.DurationMS)
	}

	done := NewDoneEvent(st, 7)
	if done.TotalSteps != 7 || done.Step != 7 {
		t.Errorf("Expected total steps 7, got %d (step %d)", done.TotalSteps, done.Step)
	}
}

func TestEventIsTerminal(t *testing.T) {
	terminals := []Event{
		NewDoneEvent(nil, 1),
		NewInterruptedEvent("gate", "paused", 1),
		NewErrorEvent("boom", "agent", 1),
	}
	for _, ev := range terminals {
		if !ev.IsTerminal() {
			t.Errorf("Expected %s to be terminal", ev.Type)
		}
	}
	if NewStateEvent(nil, 0).IsTerminal() {
		t.Error("Expected state event to be non-terminal")
	}
	if NewNodeStartEvent("agent", 0).IsTerminal() {
		t.Error("Expected node_start event to be non-terminal")
	}
}

func TestEventJSONTags(t *testing.T) {
	ev := NewUpdatesEvent("agent", map[string]interface{}{"k": "v"}, 0)
	data, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["type"] != "updates" {
		t.Errorf("Expected type updates, got %v", decoded["type"])
	}
	if decoded["node"] != "agent" {
		t.Errorf("Expected node agent, got %v", decoded["node"])
	}
	// Step zero still serializes so consumers can order events.
	if _, ok := decoded["step"]; !ok {
		t.Error("Expected step field to be present at step 0")
	}
	// Fields for other event kinds stay absent.
	if _, ok := decoded["state"]; ok {
		t.Error("Expected no state field on updates event")
	}
	if _, ok := decoded["total_steps"]; ok {
		t.Error("Expected no total_steps field on updates event")
	}

	custom := NewCustomEvent("agent", "progress", map[string]interface{}{"pct": 50})
	data, err = custom.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	decoded = nil
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["event_type"] != "progress" {
		t.Errorf("Expected event_type progress, got %v", decoded["event_type"])
	}
}

func TestEmitterModeFiltering(t *testing.T) {
	tests := []struct {
		name  string
		modes []types.StreamMode
		ev    Event
		want  bool
	}{
		{"values passes state", []types.StreamMode{types.StreamModeValues}, NewStateEvent(nil, 0), true},
		{"values drops updates", []types.StreamMode{types.StreamModeValues}, NewUpdatesEvent("a", nil, 0), false},
		{"updates passes updates", []types.StreamMode{types.StreamModeUpdates}, NewUpdatesEvent("a", nil, 0), true},
		{"updates passes step_complete", []types.StreamMode{types.StreamModeUpdates}, NewStepCompleteEvent(0, []string{"a"}), true},
		{"updates drops state", []types.StreamMode{types.StreamModeUpdates}, NewStateEvent(nil, 0), false},
		{"messages passes message", []types.StreamMode{types.StreamModeMessages}, NewMessageEvent("a", "hi", false), true},
		{"messages drops custom", []types.StreamMode{types.StreamModeMessages}, NewCustomEvent("a", "x", nil), false},
		{"custom passes custom", []types.StreamMode{types.StreamModeCustom}, NewCustomEvent("a", "x", nil), true},
		{"debug passes everything", []types.StreamMode{types.StreamModeDebug}, NewNodeStartEvent("a", 0), true},
		{"values drops node_start", []types.StreamMode{types.StreamModeValues}, NewNodeStartEvent("a", 0), false},
		{"combined modes union", []types.StreamMode{types.StreamModeValues, types.StreamModeMessages}, NewMessageEvent("a", "hi", false), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := NewEmitter(1, tt.modes...)
			if got := em.Wants(tt.ev); got != tt.want {
				t.Errorf("Expected Wants=%v for %s under %v, got %v", tt.want, tt.ev.Type, tt.modes, got)
			}
		})
	}
}

func TestEmitterTerminalAlwaysPasses(t *testing.T) {
	modes := []types.StreamMode{
		types.StreamModeValues,
		types.StreamModeUpdates,
		types.StreamModeMessages,
		types.StreamModeCustom,
		types.StreamModeDebug,
	}
	for _, mode := range modes {
		em := NewEmitter(4, mode)
		for _, ev := range []Event{
			NewDoneEvent(nil, 1),
			NewInterruptedEvent("gate", "paused", 1),
			NewErrorEvent("boom", "", 1),
		} {
			if !em.Wants(ev) {
				t.Errorf("Expected terminal %s to pass mode %s", ev.Type, mode)
			}
		}
	}
}

func TestEmitterDefaultsToValues(t *testing.T) {
	em := NewEmitter(0)
	if !em.Wants(NewStateEvent(nil, 0)) {
		t.Error("Expected default emitter to pass state events")
	}
	if em.Wants(NewUpdatesEvent("a", nil, 0)) {
		t.Error("Expected default emitter to drop updates events")
	}
}

func TestEmitterEmitAndClose(t *testing.T) {
	em := NewEmitter(2, types.StreamModeValues)
	ctx := context.Background()

	if err := em.Emit(ctx, NewStateEvent(map[string]interface{}{"a": 1}, 0)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	// Filtered events are dropped without blocking.
	if err := em.Emit(ctx, NewUpdatesEvent("a", nil, 0)); err != nil {
		t.Fatalf("Emit of filtered event failed: %v", err)
	}
	em.Close()
	em.Close()

	var got []Event
	for ev := range em.Events() {
		got = append(got, ev)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Type != EventState {
		t.Errorf("Expected state event, got %s", got[0].Type)
	}

	// Emitting after close drops the event instead of panicking.
	if err := em.Emit(ctx, NewStateEvent(nil, 1)); err != nil {
		t.Errorf("Expected emit after close to be dropped, got %v", err)
	}
}

func TestEmitterEmitHonorsContext(t *testing.T) {
	em := NewEmitter(1, types.StreamModeValues)
	ctx, cancel := context.WithCancel(context.Background())

	// Fill the buffer so the next emit blocks.
	if err := em.Emit(ctx, NewStateEvent(nil, 0)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	cancel()
	err := em.Emit(ctx, NewStateEvent(nil, 1))
	if err == nil {
		t.Fatal("Expected context error from blocked emit")
	}
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
