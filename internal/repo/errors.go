package repo

import "errors"

// Ошибки хранилищ состояния runs.
var (
	// ErrNotFound — run, task или контрольная точка не найдены.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — run с таким ID или task для того же узла run'а
	// уже есть.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — переход невозможен из текущего статуса
	// (например, ClaimTask для task не в QUEUED).
	ErrInvalidState = errors.New("invalid state")
)
