package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidGraph — граф run'а не строится.
	ErrInvalidGraph = errors.New("invalid run graph")

	// ErrRunAlreadyActive — run уже обрабатывается этим оркестратором.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotActive — run не обрабатывается и ещё не завершён.
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
