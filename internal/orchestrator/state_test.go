package orchestrator

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
)

// fanGraph — граф a → fan(x, y) → b.
func fanGraph(t *testing.T) domain.GraphSpec {
	t.Helper()

	a, err := engine.NewPhase("a", "noop", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	fan, err := engine.NewPhase("fan", "join", map[string]any{}, "a")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"x", "y"} {
		sub, err := engine.NewSubTask(id, "noop", map[string]any{})
		if err != nil {
			t.Fatal(err)
		}
		fan.SubTasks = append(fan.SubTasks, sub)
	}
	b, err := engine.NewPhase("b", "noop", map[string]any{}, "fan")
	if err != nil {
		t.Fatal(err)
	}
	return domain.GraphSpec{Name: "fan", Phases: []domain.PhaseDef{a, fan, b}}
}

func nodeIDs(nodes []*engine.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestNewRunState_InvalidGraph(t *testing.T) {
	run := &domain.Run{ID: uuid.New(), Graph: domain.GraphSpec{Phases: []domain.PhaseDef{
		{ID: "a", Kind: "noop", DependsOn: []string{"missing"}},
	}}}

	_, err := NewRunState(run)
	if !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestRunState_ReadyNodes(t *testing.T) {
	state, err := NewRunState(&domain.Run{ID: uuid.New(), Graph: fanGraph(t)})
	if err != nil {
		t.Fatalf("new run state: %v", err)
	}

	ready := nodeIDs(state.GetReadyNodes())
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected [a], got %v", ready)
	}

	state.MarkNodeDispatched(&domain.Task{ID: uuid.New(), NodeID: "a"})
	if got := state.GetReadyNodes(); len(got) != 0 {
		t.Fatalf("dispatched node must not be ready again, got %v", nodeIDs(got))
	}

	state.MarkNodeCompleted("a")
	ready = nodeIDs(state.GetReadyNodes())
	if len(ready) != 2 {
		t.Fatalf("expected both sub-tasks, got %v", ready)
	}

	state.MarkNodeCompleted("fan.x")
	state.MarkNodeDispatched(&domain.Task{ID: uuid.New(), NodeID: "fan.y"})
	if got := state.GetReadyNodes(); len(got) != 0 {
		t.Fatalf("join must wait for every sub-task, got %v", nodeIDs(got))
	}

	state.MarkNodeFailed("fan.y", "boom")
	if !state.HasFailed() {
		t.Error("expected failure")
	}
	if got := state.GetReadyNodes(); len(got) != 0 {
		t.Errorf("failed node must not be ready, got %v", nodeIDs(got))
	}
	if msg := state.FailureMessage(); msg != "fan.y failed: boom" {
		t.Errorf("unexpected failure message %q", msg)
	}
}

func TestRunState_FailureMessageSortsNodes(t *testing.T) {
	state, err := NewRunState(&domain.Run{ID: uuid.New(), Graph: fanGraph(t)})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	state.MarkNodeFailed("fan.y", "disk full")
	state.MarkNodeFailed("a", "exit status 1")

	want := "a failed: exit status 1; fan.y failed: disk full"
	if msg := state.FailureMessage(); msg != want {
		t.Errorf("FailureMessage() = %q, want %q", msg, want)
	}
}

func TestRunState_RestoreFromTasks(t *testing.T) {
	state, err := NewRunState(&domain.Run{ID: uuid.New(), Graph: fanGraph(t)})
	if err != nil {
		t.Fatalf("new run state: %v", err)
	}

	state.RestoreFromTasks([]domain.Task{
		{ID: uuid.New(), NodeID: "a", Status: domain.TaskStatusSucceeded},
		{ID: uuid.New(), NodeID: "fan.x", Status: domain.TaskStatusSucceeded},
		{ID: uuid.New(), NodeID: "fan.y", Status: domain.TaskStatusQueued},
		{ID: uuid.New(), NodeID: "gone", Status: domain.TaskStatusQueued},
	})

	stats := state.Stats()
	if stats.TotalNodes != 5 || stats.CompletedNodes != 2 || stats.RunningNodes != 1 || stats.PendingNodes != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !state.IsNodeRunning("fan.y") {
		t.Error("queued task must count as running")
	}
	if state.Task("gone") != nil {
		t.Error("tasks of unknown nodes must be ignored")
	}
	if got := state.GetReadyNodes(); len(got) != 0 {
		t.Errorf("nothing should be ready, got %v", nodeIDs(got))
	}
}

func TestRunState_Finish(t *testing.T) {
	state, err := NewRunState(&domain.Run{ID: uuid.New(), Graph: fanGraph(t)})
	if err != nil {
		t.Fatalf("new run state: %v", err)
	}

	state.finish()
	state.finish()

	select {
	case <-state.Done():
	default:
		t.Fatal("Done must be closed")
	}
	if !state.IsFinished() {
		t.Error("expected finished")
	}
}
