package pipeline

import (
	"errors"
	"fmt"
)

// Ошибки подготовки run'а.
var (
	// ErrMissingArtifact — обязательный входной файл отсутствует.
	ErrMissingArtifact = errors.New("required input is missing")

	// ErrNoIngroups — среди геномов события нет ни одного ingroup'а.
	ErrNoIngroups = errors.New("event has no ingroup genomes")
)

// MissingArtifactError — обязательный входной файл не найден.
// Повтор не поможет, поэтому ошибка фатальна.
type MissingArtifactError struct {
	Name     string // логическое имя ("alignments", "og_fragment_0", ...)
	Location string // где искали
}

// Error реализует интерфейс error.
func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("required input %s not found at %s", e.Name, e.Location)
}

// Unwrap возвращает ErrMissingArtifact.
func (e *MissingArtifactError) Unwrap() error {
	return ErrMissingArtifact
}

// Fatal сообщает, что ошибка не исправляется повтором.
func (e *MissingArtifactError) Fatal() bool {
	return true
}
