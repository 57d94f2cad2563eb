package engine

import "errors"

// Ошибки валидации GraphSpec.
var (
	// ErrEmptyPhases — граф не содержит фаз.
	ErrEmptyPhases = errors.New("graph spec has no phases")

	// ErrEmptyID — фаза или подзадача не имеет ID.
	ErrEmptyID = errors.New("node has empty ID")

	// ErrInvalidID — недопустимый ID.
	ErrInvalidID = errors.New("invalid node ID")

	// ErrDuplicateID — несколько узлов с одинаковым ID.
	ErrDuplicateID = errors.New("duplicate node ID")

	// ErrUnknownKind — неизвестный тип шага.
	ErrUnknownKind = errors.New("unknown step kind")

	// ErrMissingDependency — узел зависит от несуществующего узла.
	ErrMissingDependency = errors.New("node depends on unknown node")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — узел зависит от самого себя.
	ErrSelfDependency = errors.New("node depends on itself")

	// ErrInvalidArgs — аргументы узла не сериализуются или не разбираются.
	ErrInvalidArgs = errors.New("invalid node args")
)

// Ошибки разрешения promise.
var (
	// ErrUnresolved — результат узла ещё не вычислен (или не передан).
	ErrUnresolved = errors.New("promise is not resolved")

	// ErrUnknownField — в результате узла нет запрошенного поля.
	ErrUnknownField = errors.New("result has no such field")

	// ErrDecodeResult — результат узла не соответствует типу promise.
	ErrDecodeResult = errors.New("result does not match promise type")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
