package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shaiso/Alignflow/internal/domain"
)

// KindChecker сообщает, известен ли тип шага.
// Обычно это steps.Registry.Has.
type KindChecker func(kind string) bool

// ParseGraph разбирает GraphSpec из JSON и валидирует его.
func ParseGraph(data []byte, known KindChecker) (*domain.GraphSpec, error) {
	var spec domain.GraphSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse graph spec: %w", err)
	}
	if err := Validate(&spec, known); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate выполняет валидацию GraphSpec.
//
// Проверяет:
// - Наличие фаз
// - Уникальность ID фаз и подзадач
// - Корректность типов шагов (если known != nil)
// - Валидность зависимостей (depends_on)
// - Отсутствие self-dependency
//
// Отсутствие циклов проверяет BuildDAG.
func Validate(spec *domain.GraphSpec, known KindChecker) error {
	if spec == nil || len(spec.Phases) == 0 {
		return ErrEmptyPhases
	}

	// Собираем все ID узлов (фазы и подзадачи)
	nodeIDs := make(map[string]bool)

	for i := range spec.Phases {
		if err := ValidatePhase(&spec.Phases[i], nodeIDs, known); err != nil {
			return err
		}
	}

	// Валидируем зависимости
	for i := range spec.Phases {
		phase := &spec.Phases[i]
		if err := validateDependencies(phase.ID, phase.DependsOn, nodeIDs); err != nil {
			return err
		}
		for _, sub := range phase.SubTasks {
			if err := validateDependencies(SubTaskNodeID(phase.ID, sub.ID), sub.DependsOn, nodeIDs); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidatePhase валидирует одну фазу.
// nodeIDs — уже встреченные ID узлов (для проверки уникальности).
func ValidatePhase(phase *domain.PhaseDef, nodeIDs map[string]bool, known KindChecker) error {
	// Проверка ID
	if phase.ID == "" {
		return NewValidationError("", "id", "phase has empty ID", ErrEmptyID)
	}
	if strings.Contains(phase.ID, ".") {
		return NewValidationError(phase.ID, "id",
			"phase ID must not contain '.'", ErrInvalidID)
	}

	// Проверка уникальности ID
	if nodeIDs[phase.ID] {
		return NewValidationError(phase.ID, "id",
			fmt.Sprintf("duplicate node ID: %s", phase.ID), ErrDuplicateID)
	}
	nodeIDs[phase.ID] = true

	// Проверка типа
	if err := validateKind(phase.ID, phase.Kind, known); err != nil {
		return err
	}

	// Проверка self-dependency
	for _, dep := range phase.DependsOn {
		if dep == phase.ID {
			return NewValidationError(phase.ID, "depends_on",
				"phase depends on itself", ErrSelfDependency)
		}
	}

	// Подзадачи
	subIDs := make(map[string]bool)
	for i := range phase.SubTasks {
		sub := &phase.SubTasks[i]

		if sub.ID == "" {
			return NewValidationError(phase.ID, "sub_tasks",
				fmt.Sprintf("sub-task %d has empty ID", i), ErrEmptyID)
		}
		if subIDs[sub.ID] {
			return NewValidationError(phase.ID, "sub_tasks",
				fmt.Sprintf("duplicate sub-task ID: %s", sub.ID), ErrDuplicateID)
		}
		subIDs[sub.ID] = true

		fullID := SubTaskNodeID(phase.ID, sub.ID)
		if nodeIDs[fullID] {
			return NewValidationError(fullID, "id",
				fmt.Sprintf("duplicate node ID: %s", fullID), ErrDuplicateID)
		}
		nodeIDs[fullID] = true

		if err := validateKind(fullID, sub.Kind, known); err != nil {
			return err
		}
		for _, dep := range sub.DependsOn {
			if dep == fullID || dep == phase.ID {
				return NewValidationError(fullID, "depends_on",
					"sub-task depends on itself or its phase", ErrSelfDependency)
			}
		}
	}

	return nil
}

// validateKind проверяет, что тип шага задан и известен.
func validateKind(nodeID, kind string, known KindChecker) error {
	if kind == "" {
		return NewValidationError(nodeID, "kind",
			"node has empty kind", ErrUnknownKind)
	}

	if known != nil && !known(kind) {
		return NewValidationError(nodeID, "kind",
			fmt.Sprintf("unknown step kind: %s", kind), ErrUnknownKind)
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются на существующие узлы.
func validateDependencies(nodeID string, deps []string, nodeIDs map[string]bool) error {
	for _, dep := range deps {
		if !nodeIDs[dep] {
			return NewValidationError(nodeID, "depends_on",
				fmt.Sprintf("depends on unknown node: %s", dep), ErrMissingDependency)
		}
	}
	return nil
}

// NewPhase собирает PhaseDef, сериализуя аргументы в JSON.
func NewPhase(id, kind string, args any, dependsOn ...string) (domain.PhaseDef, error) {
	raw, err := MarshalArgs(args)
	if err != nil {
		return domain.PhaseDef{}, NewValidationError(id, "args", err.Error(), ErrInvalidArgs)
	}
	return domain.PhaseDef{
		ID:        id,
		Kind:      kind,
		Args:      raw,
		DependsOn: dependsOn,
	}, nil
}

// NewSubTask собирает SubTaskDef, сериализуя аргументы в JSON.
func NewSubTask(id, kind string, args any) (domain.SubTaskDef, error) {
	raw, err := MarshalArgs(args)
	if err != nil {
		return domain.SubTaskDef{}, NewValidationError(id, "args", err.Error(), ErrInvalidArgs)
	}
	return domain.SubTaskDef{
		ID:   id,
		Kind: kind,
		Args: raw,
	}, nil
}

// MarshalArgs сериализует аргументы шага. nil даёт пустой аргумент.
func MarshalArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	return data, nil
}
