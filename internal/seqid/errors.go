package seqid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInconsistentInput — набор последовательностей и набор выравниваний
// не согласованы. Повтор такую ошибку не исправит.
var ErrInconsistentInput = errors.New("sequences and alignments are inconsistent")

// MissingIdentifierError — запись выравнивания ссылается на идентификатор,
// которого нет в таблице переименования.
type MissingIdentifierError struct {
	ID   string // исходный идентификатор
	Line int    // номер строки записи (с 1), 0 если неизвестен
}

// Error реализует интерфейс error.
func (e *MissingIdentifierError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("record id %q not found in id map (line %d)", e.ID, e.Line)
	}
	return fmt.Sprintf("record id %q not found in id map", e.ID)
}

// Unwrap возвращает ErrInconsistentInput.
func (e *MissingIdentifierError) Unwrap() error {
	return ErrInconsistentInput
}

// AmbiguousIdentifierError — один и тот же исходный идентификатор встречается
// в нескольких входных последовательностях, и запись выравнивания ссылается на него.
type AmbiguousIdentifierError struct {
	ID         string   // исходный идентификатор
	Candidates []string // все его уникальные формы
	Line       int      // номер строки записи (с 1), 0 если неизвестен
}

// Error реализует интерфейс error.
func (e *AmbiguousIdentifierError) Error() string {
	msg := fmt.Sprintf("record id %q is ambiguous: %s", e.ID, strings.Join(e.Candidates, ", "))
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	return msg
}

// Unwrap возвращает ErrInconsistentInput.
func (e *AmbiguousIdentifierError) Unwrap() error {
	return ErrInconsistentInput
}

// DuplicateRecordError — два заголовка в одном входном файле дают одно имя.
type DuplicateRecordError struct {
	ID    string // исходный идентификатор
	Index int    // позиция входного файла
}

// Error реализует интерфейс error.
func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("sequence %q appears more than once in input %d", e.ID, e.Index)
}

// Unwrap возвращает ErrInconsistentInput.
func (e *DuplicateRecordError) Unwrap() error {
	return ErrInconsistentInput
}

// MalformedRecordError — строка выравнивания содержит меньше токенов,
// чем нужно для идентификаторов.
type MalformedRecordError struct {
	Line   int // номер строки (с 1)
	Tokens int // число токенов в строке
}

// Error реализует интерфейс error.
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("alignment record at line %d has %d tokens, need at least %d",
		e.Line, e.Tokens, minRecordTokens)
}

// Unwrap возвращает ErrInconsistentInput.
func (e *MalformedRecordError) Unwrap() error {
	return ErrInconsistentInput
}
