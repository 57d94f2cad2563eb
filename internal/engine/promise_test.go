package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

type prepared struct {
	Project map[string]string `json:"project"`
	Root    string            `json:"root"`
}

func TestPromise_Resolve(t *testing.T) {
	results := NewResults()
	results.Add("count", json.RawMessage(`42`))
	results.Add("prepare", json.RawMessage(`{"project":{"A":"exp-1"},"root":"A"}`))

	n, err := Ref[int]("count").Resolve(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}

	whole, err := Ref[prepared]("prepare").Resolve(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if whole.Root != "A" || whole.Project["A"] != "exp-1" {
		t.Errorf("unexpected value: %+v", whole)
	}

	root, err := FieldOf[string]("prepare", "root").Resolve(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root != "A" {
		t.Errorf("expected root A, got %q", root)
	}
}

func TestPromise_ResolveErrors(t *testing.T) {
	results := NewResults()
	results.Add("prepare", json.RawMessage(`{"root":"A"}`))

	tests := []struct {
		name    string
		resolve func() error
		want    error
	}{
		{
			name: "unresolved node",
			resolve: func() error {
				_, err := Ref[int]("missing").Resolve(results)
				return err
			},
			want: ErrUnresolved,
		},
		{
			name: "unknown field",
			resolve: func() error {
				_, err := FieldOf[string]("prepare", "project").Resolve(results)
				return err
			},
			want: ErrUnknownField,
		},
		{
			name: "type mismatch",
			resolve: func() error {
				_, err := FieldOf[int]("prepare", "root").Resolve(results)
				return err
			},
			want: ErrDecodeResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.resolve(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveAll_KeepsPosition(t *testing.T) {
	results := NewResults()
	// Порядок добавления не совпадает с порядком promise
	results.Add("cov.ig_2", json.RawMessage(`"c"`))
	results.Add("cov.ig_0", json.RawMessage(`"a"`))
	results.Add("cov.ig_1", json.RawMessage(`"b"`))

	promises := []Promise[string]{
		Ref[string]("cov.ig_0"),
		Ref[string]("cov.ig_1"),
		Ref[string]("cov.ig_2"),
	}

	values, err := ResolveAll(promises, results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], values[i])
		}
	}
}

func TestResultsFromTasks(t *testing.T) {
	runID := uuid.New()
	tasks := []domain.Task{
		{RunID: runID, NodeID: "a", Status: domain.TaskStatusSucceeded, Result: json.RawMessage(`1`)},
		{RunID: runID, NodeID: "b", Status: domain.TaskStatusFailed, Result: json.RawMessage(`2`)},
		{RunID: runID, NodeID: "c", Status: domain.TaskStatusRunning},
	}

	results := ResultsFromTasks(tasks)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if string(results["a"]) != "1" {
		t.Errorf("unexpected result for a: %s", results["a"])
	}
}

func TestReferencedNodes(t *testing.T) {
	args := json.RawMessage(`{
		"state": {"$node": "uniquify"},
		"parts": [{"$node": "cov.ig_1"}, {"$node": "cov.ig_0", "$field": "id"}],
		"nested": {"inner": {"$node": "uniquify"}},
		"plain": "text"
	}`)

	refs, err := ReferencedNodes(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"cov.ig_0", "cov.ig_1", "uniquify"}
	if len(refs) != len(want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], refs[i])
		}
	}

	empty, err := ReferencedNodes(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected no refs for empty args, got %v, %v", empty, err)
	}
}
