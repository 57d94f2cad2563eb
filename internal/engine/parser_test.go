package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Alignflow/internal/domain"
)

func knownKinds(kinds ...string) KindChecker {
	set := make(map[string]bool)
	for _, k := range kinds {
		set[k] = true
	}
	return func(kind string) bool { return set[kind] }
}

func TestValidate_EmptyPhases(t *testing.T) {
	tests := []struct {
		name string
		spec *domain.GraphSpec
	}{
		{"nil spec", nil},
		{"empty phases", &domain.GraphSpec{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec, nil)
			if !errors.Is(err, ErrEmptyPhases) {
				t.Errorf("expected ErrEmptyPhases, got %v", err)
			}
		})
	}
}

func TestValidate_EmptyID(t *testing.T) {
	spec := &domain.GraphSpec{
		Phases: []domain.PhaseDef{{ID: "", Kind: "noop"}},
	}

	err := Validate(spec, nil)
	if !errors.Is(err, ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got %v", err)
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatal("expected ValidationError")
	}
	if vErr.Field != "id" {
		t.Errorf("expected field 'id', got %q", vErr.Field)
	}
}

func TestValidate_DottedPhaseID(t *testing.T) {
	spec := &domain.GraphSpec{
		Phases: []domain.PhaseDef{{ID: "a.b", Kind: "noop"}},
	}

	if err := Validate(spec, nil); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestValidate_DuplicateID(t *testing.T) {
	tests := []struct {
		name string
		spec *domain.GraphSpec
	}{
		{
			name: "duplicate phases",
			spec: &domain.GraphSpec{Phases: []domain.PhaseDef{
				{ID: "A", Kind: "noop"},
				{ID: "A", Kind: "noop"},
			}},
		},
		{
			name: "duplicate sub-tasks",
			spec: &domain.GraphSpec{Phases: []domain.PhaseDef{
				{ID: "A", Kind: "join", SubTasks: []domain.SubTaskDef{
					{ID: "x", Kind: "work"},
					{ID: "x", Kind: "work"},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.spec, nil); !errors.Is(err, ErrDuplicateID) {
				t.Errorf("expected ErrDuplicateID, got %v", err)
			}
		})
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	spec := &domain.GraphSpec{
		Phases: []domain.PhaseDef{
			{ID: "A", Kind: "uniquify"},
			{ID: "B", Kind: "mystery", DependsOn: []string{"A"}},
		},
	}

	// Без проверки типов спецификация валидна
	if err := Validate(spec, nil); err != nil {
		t.Fatalf("unexpected error without kind checker: %v", err)
	}

	err := Validate(spec, knownKinds("uniquify"))
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}

	spec.Phases[1].Kind = ""
	if err := Validate(spec, nil); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("empty kind: expected ErrUnknownKind, got %v", err)
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	spec := &domain.GraphSpec{
		Phases: []domain.PhaseDef{
			{ID: "A", Kind: "noop", DependsOn: []string{"nonexistent"}},
		},
	}

	if err := Validate(spec, nil); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}
}

func TestValidate_SelfDependency(t *testing.T) {
	tests := []struct {
		name string
		spec *domain.GraphSpec
	}{
		{
			name: "phase",
			spec: &domain.GraphSpec{Phases: []domain.PhaseDef{
				{ID: "A", Kind: "noop", DependsOn: []string{"A"}},
			}},
		},
		{
			name: "sub-task on its phase",
			spec: &domain.GraphSpec{Phases: []domain.PhaseDef{
				{ID: "A", Kind: "join", SubTasks: []domain.SubTaskDef{
					{ID: "x", Kind: "work", DependsOn: []string{"A"}},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.spec, nil); !errors.Is(err, ErrSelfDependency) {
				t.Errorf("expected ErrSelfDependency, got %v", err)
			}
		})
	}
}

func TestValidate_ValidSpec(t *testing.T) {
	spec := &domain.GraphSpec{
		Phases: []domain.PhaseDef{
			{ID: "uniquify", Kind: "uniquify"},
			{ID: "rewrite", Kind: "rewrite.join", DependsOn: []string{"uniquify"}, SubTasks: []domain.SubTaskDef{
				{ID: "primary", Kind: "rewrite.records"},
				{ID: "secondary", Kind: "rewrite.records", DependsOn: []string{"rewrite.primary"}},
			}},
			{ID: "setup", Kind: "setup", DependsOn: []string{"rewrite"}},
		},
	}

	known := knownKinds("uniquify", "rewrite.join", "rewrite.records", "setup")
	if err := Validate(spec, known); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseGraph(t *testing.T) {
	data := []byte(`{
		"name": "align",
		"phases": [
			{"id": "uniquify", "kind": "uniquify"},
			{"id": "setup", "kind": "setup", "depends_on": ["uniquify"]}
		]
	}`)

	spec, err := ParseGraph(data, knownKinds("uniquify", "setup"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "align" || len(spec.Phases) != 2 {
		t.Errorf("unexpected spec: %+v", spec)
	}

	if _, err := ParseGraph([]byte(`{not json`), nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewPhase(t *testing.T) {
	type args struct {
		State Promise[int] `json:"state"`
		Limit int          `json:"limit"`
	}

	phase, err := NewPhase("export", "export", args{State: Ref[int]("prepare"), Limit: 3}, "prepare")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if phase.ID != "export" || phase.Kind != "export" {
		t.Errorf("unexpected phase: %+v", phase)
	}
	if len(phase.DependsOn) != 1 || phase.DependsOn[0] != "prepare" {
		t.Errorf("unexpected depends_on: %v", phase.DependsOn)
	}

	refs, err := ReferencedNodes(phase.Args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 1 || refs[0] != "prepare" {
		t.Errorf("expected [prepare], got %v", refs)
	}

	if _, err := NewPhase("bad", "x", make(chan int)); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("expected ErrInvalidArgs, got %v", err)
	}
}
