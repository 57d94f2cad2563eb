package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/seqid"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidArgs — аргументы шага не разбираются или противоречивы.
	ErrInvalidArgs = errors.New("invalid step args")
)

// Step — интерфейс для типов шагов.
//
// Каждая фаза графа выравнивания (uniquify, rewrite, coverage, setup,
// export) реализуется одним или двумя шагами: тело подзадачи и join.
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет шаг и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	RunID  uuid.UUID
	NodeID string

	// Attempt — номер попытки (с 1).
	Attempt int

	// Args — аргументы узла; promise-ссылки ещё не разрешены.
	Args json.RawMessage

	// Results — сохранённые результаты завершённых узлов run'а.
	// Из них шаг разрешает свои promise.
	Results engine.Results

	// Resources — статические лимиты узла (могут быть nil).
	Resources *domain.Resources

	// Store — хранилище артефактов run'а.
	Store artifact.Store

	Logger *slog.Logger
}

// Response — результат выполнения шага.
type Response struct {
	// Result — значение, которое получат потребители promise на этот узел.
	// Сериализуется в JSON.
	Result any
}

// NewResponse создаёт Response с результатом.
func NewResponse(result any) *Response {
	return &Response{Result: result}
}

// DecodeArgs разбирает аргументы шага в T.
func DecodeArgs[T any](req *Request) (T, error) {
	var args T
	if len(req.Args) == 0 {
		return args, fmt.Errorf("%w: %s: empty args", ErrInvalidArgs, req.NodeID)
	}
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return args, fmt.Errorf("%w: %s: %v", ErrInvalidArgs, req.NodeID, err)
	}
	return args, nil
}

func (r *Request) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// FatalError помечает ошибку как неисправимую повтором.
type FatalError struct {
	Err error
}

// Error реализует интерфейс error.
func (e *FatalError) Error() string {
	return e.Err.Error()
}

// Unwrap возвращает исходную ошибку.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal оборачивает err в FatalError. nil остаётся nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal сообщает, что повтор шага не поможет: входные данные
// несогласованы, аргументы неверны или ошибка сама объявляет себя
// фатальной через метод Fatal() bool.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}

	var marked interface{ Fatal() bool }
	if errors.As(err, &marked) && marked.Fatal() {
		return true
	}

	return errors.Is(err, seqid.ErrInconsistentInput) ||
		errors.Is(err, ErrInvalidArgs) ||
		errors.Is(err, engine.ErrUnresolved) ||
		errors.Is(err, engine.ErrUnknownField) ||
		errors.Is(err, engine.ErrDecodeResult)
}

// resolve разрешает promise из результатов запроса.
func resolve[T any](p engine.Promise[T], req *Request) (T, error) {
	v, err := p.Resolve(req.Results)
	if err != nil {
		return v, fmt.Errorf("%s: %w", req.NodeID, err)
	}
	return v, nil
}
