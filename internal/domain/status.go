package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED → (restart) → RUNNING
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён (сигнал процессу CLI).
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED (retry или restart → обратно в QUEUED)
type TaskStatus string

const (
	// TaskStatusQueued — task в очереди, ожидает выполнения.
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusRunning — task выполняется воркером.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — task успешно завершён.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — task завершился с ошибкой (после всех retry
	// или сразу, если ошибка фатальная).
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsRestartable возвращает true, если run можно продолжить через restart.
// Успешно завершённый run продолжать нечего.
func (s RunStatus) IsRestartable() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}
