package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskNotFound — task не найден в хранилище.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotQueued — task не в статусе QUEUED (его уже забрал
	// другой воркер или он завершён).
	ErrTaskNotQueued = errors.New("task is not in QUEUED status")

	// ErrNodeNotFound — узла task нет в графе run'а.
	ErrNodeNotFound = errors.New("graph node not found")
)
