package repo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

func newRun(name string, created time.Time) *domain.Run {
	return &domain.Run{
		ID:        uuid.New(),
		Name:      name,
		JobStore:  "/tmp/js",
		Status:    domain.RunStatusPending,
		Graph:     domain.GraphSpec{Name: name, Phases: []domain.PhaseDef{{ID: "uniquify", Kind: "uniquify"}}},
		CreatedAt: created,
	}
}

func newTask(runID uuid.UUID, nodeID string, created time.Time) *domain.Task {
	return &domain.Task{
		ID:        uuid.New(),
		RunID:     runID,
		NodeID:    nodeID,
		Kind:      nodeID,
		Status:    domain.TaskStatusQueued,
		Args:      json.RawMessage(`{"x":1}`),
		CreatedAt: created,
	}
}

func TestMemoryStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	first := newRun("first", base)
	second := newRun("second", base.Add(time.Second))
	for _, r := range []*domain.Run{first, second} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	if err := s.CreateRun(ctx, first); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("expected latest run %s, got %s", second.Name, latest.Name)
	}

	first.MarkSucceeded()
	if err := s.UpdateRun(ctx, first); err != nil {
		t.Fatalf("update run: %v", err)
	}

	active, err := s.ListActiveRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Errorf("expected only the second run to be active, got %v", active)
	}

	if _, err := s.GetRun(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_OneTaskPerNode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	run := newRun("r", time.Now())
	_ = s.CreateRun(ctx, run)

	if err := s.CreateTask(ctx, newTask(run.ID, "setup", time.Now())); err != nil {
		t.Fatalf("create task: %v", err)
	}
	err := s.CreateTask(ctx, newTask(run.ID, "setup", time.Now()))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStore_ClaimTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	run := newRun("r", time.Now())
	_ = s.CreateRun(ctx, run)
	task := newTask(run.ID, "uniquify", time.Now())
	_ = s.CreateTask(ctx, task)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimTask(ctx, task.ID)
			if err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidState) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if claimed != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != domain.TaskStatusRunning || got.Attempt != 1 {
		t.Errorf("expected RUNNING attempt 1, got %s attempt %d", got.Status, got.Attempt)
	}

	queued, _ := s.ListQueued(ctx, 10)
	if len(queued) != 0 {
		t.Errorf("expected no queued tasks, got %d", len(queued))
	}
}

func TestMemoryStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	runID := uuid.New()

	save := func(seq int, step, state string) {
		t.Helper()
		err := s.SaveCheckpoint(ctx, &domain.Checkpoint{
			RunID: runID, NodeID: "setup", Seq: seq, Step: step, State: json.RawMessage(state),
		})
		if err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}
	save(1, "caf", `{"n":1}`)
	save(0, "setup", `{"n":0}`)
	save(1, "caf", `{"n":2}`)

	cps, err := s.ListCheckpoints(ctx, runID, "setup")
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(cps))
	}
	if cps[0].Step != "setup" || cps[1].Step != "caf" {
		t.Errorf("expected ordered by seq, got %s, %s", cps[0].Step, cps[1].Step)
	}
	if string(cps[1].State) != `{"n":2}` {
		t.Errorf("expected replaced checkpoint, got %s", cps[1].State)
	}

	other, _ := s.ListCheckpoints(ctx, runID, "export")
	if len(other) != 0 {
		t.Errorf("expected no checkpoints for other node, got %d", len(other))
	}
}

func TestMemoryStore_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "state.json")

	s, err := OpenMemoryStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	run := newRun("persisted", time.Now())
	_ = s.CreateRun(ctx, run)
	task := newTask(run.ID, "uniquify", time.Now())
	_ = s.CreateTask(ctx, task)
	task.MarkRunning()
	task.MarkSucceeded(json.RawMessage(`{"root":"anc1"}`))
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("update task: %v", err)
	}
	_ = s.SaveCheckpoint(ctx, &domain.Checkpoint{RunID: run.ID, NodeID: "setup", Step: "setup", State: json.RawMessage(`{}`)})

	reloaded, err := OpenMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	got, err := reloaded.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Name != "persisted" || len(got.Graph.Phases) != 1 {
		t.Errorf("unexpected reloaded run %+v", got)
	}

	tasks, _ := reloaded.ListTasks(ctx, run.ID)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != domain.TaskStatusSucceeded || string(tasks[0].Result) != `{"root":"anc1"}` {
		t.Errorf("unexpected reloaded task %+v", tasks[0])
	}

	cps, _ := reloaded.ListCheckpoints(ctx, run.ID, "setup")
	if len(cps) != 1 {
		t.Errorf("expected 1 checkpoint, got %d", len(cps))
	}
}

func TestMemoryStore_FailedWriteKeepsMemory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "state.json")

	s, err := OpenMemoryStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	run := newRun("durable", time.Now())
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	task := newTask(run.ID, "setup", time.Now())
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Каталог состояния становится файлом: любая запись падает.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := writeFile(dir, "blocked"); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	updated := *run
	updated.Status = domain.RunStatusFailed
	if err := s.UpdateRun(ctx, &updated); err == nil {
		t.Fatal("expected update to fail")
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != domain.RunStatusPending {
		t.Errorf("run status = %s after failed write, want %s", got.Status, domain.RunStatusPending)
	}

	if _, err := s.ClaimTask(ctx, task.ID); err == nil {
		t.Fatal("expected claim to fail")
	}
	gotTask, _ := s.GetTask(ctx, task.ID)
	if gotTask.Status != domain.TaskStatusQueued {
		t.Errorf("task status = %s after failed write, want %s", gotTask.Status, domain.TaskStatusQueued)
	}

	cp := &domain.Checkpoint{RunID: run.ID, NodeID: "setup", Step: "setup", State: json.RawMessage(`{}`)}
	if err := s.SaveCheckpoint(ctx, cp); err == nil {
		t.Fatal("expected checkpoint save to fail")
	}
	if cps, _ := s.ListCheckpoints(ctx, run.ID, "setup"); len(cps) != 0 {
		t.Errorf("expected no checkpoints after failed write, got %d", len(cps))
	}
}

func TestMemoryStore_ReloadKeepsResultBytes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := OpenMemoryStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	run := newRun("bytes", time.Now())
	_ = s.CreateRun(ctx, run)

	results := map[string]string{
		"uniquify": `{"root":"anc1","ingroups":[{"name":"A","sequence_id":"h1"}]}`,
		"coverage": `[{"id":"c0"},{"id":"c1"}]`,
	}
	created := time.Now()
	for node, result := range results {
		task := newTask(run.ID, node, created)
		created = created.Add(time.Millisecond)
		task.Args = json.RawMessage(`{"state":{"$ref":"rewrite"}}`)
		_ = s.CreateTask(ctx, task)
		task.MarkRunning()
		task.MarkSucceeded(json.RawMessage(result))
		if err := s.UpdateTask(ctx, task); err != nil {
			t.Fatalf("update %s: %v", node, err)
		}
	}

	reloaded, err := OpenMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tasks, _ := reloaded.ListTasks(ctx, run.ID)
	if len(tasks) != len(results) {
		t.Fatalf("expected %d tasks, got %d", len(results), len(tasks))
	}
	for _, task := range tasks {
		if want := results[task.NodeID]; string(task.Result) != want {
			t.Errorf("%s result = %s, want %s", task.NodeID, task.Result, want)
		}
		if string(task.Args) != `{"state":{"$ref":"rewrite"}}` {
			t.Errorf("%s args = %s", task.NodeID, task.Args)
		}
	}
}

func TestOpenMemoryStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := writeFile(path, "{not json"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenMemoryStore(path); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
