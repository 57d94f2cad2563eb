package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shaiso/Alignflow/internal/domain"
)

// Ключи promise-ссылки в JSON-аргументах узла.
const (
	promiseNodeKey  = "$node"
	promiseFieldKey = "$field"
)

// Promise — отложенное значение типа T: результат узла Node
// (или поле Field этого результата), ещё не вычисленный.
//
// Promise сериализуется в аргументы узла как {"$node": "...", "$field": "..."}.
// BuildDAG превращает каждую такую ссылку в ребро графа, поэтому потребитель
// никогда не запускается раньше производителя. Разрешается promise только
// внутри задачи-потребителя, из сохранённых результатов предшественников.
type Promise[T any] struct {
	Node  string `json:"$node"`
	Field string `json:"$field,omitempty"`
}

// Ref создаёт promise на весь результат узла.
func Ref[T any](node string) Promise[T] {
	return Promise[T]{Node: node}
}

// FieldOf создаёт promise на поле результата узла.
func FieldOf[T any](node, field string) Promise[T] {
	return Promise[T]{Node: node, Field: field}
}

// IsZero возвращает true, если promise не указывает ни на какой узел.
func (p Promise[T]) IsZero() bool {
	return p.Node == ""
}

// String возвращает читаемое представление ("node" или "node#field").
func (p Promise[T]) String() string {
	if p.Field == "" {
		return p.Node
	}
	return p.Node + "#" + p.Field
}

// Resolve достаёт значение из результатов предшественников.
func (p Promise[T]) Resolve(results Results) (T, error) {
	var zero T

	raw, ok := results[p.Node]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnresolved, p)
	}

	if p.Field != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return zero, fmt.Errorf("%w: %s: %v", ErrDecodeResult, p, err)
		}
		fieldRaw, ok := fields[p.Field]
		if !ok {
			return zero, fmt.Errorf("%w: %s", ErrUnknownField, p)
		}
		raw = fieldRaw
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrDecodeResult, p, err)
	}
	return value, nil
}

// ResolveAll разрешает список promise в порядке списка.
// Позиция i результата соответствует позиции i promise.
func ResolveAll[T any](promises []Promise[T], results Results) ([]T, error) {
	values := make([]T, len(promises))
	for i, p := range promises {
		v, err := p.Resolve(results)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Results — результаты завершённых узлов: nodeID → JSON результата.
type Results map[string]json.RawMessage

// NewResults создаёт пустой набор результатов.
func NewResults() Results {
	return make(Results)
}

// Add добавляет результат узла.
func (r Results) Add(nodeID string, result json.RawMessage) {
	r[nodeID] = result
}

// ResultsFromTasks собирает результаты успешно завершённых задач.
func ResultsFromTasks(tasks []domain.Task) Results {
	results := NewResults()
	for _, t := range tasks {
		if t.Status == domain.TaskStatusSucceeded {
			results.Add(t.NodeID, t.Result)
		}
	}
	return results
}

// ReferencedNodes находит все promise-ссылки в JSON-аргументах
// и возвращает ID узлов без повторов, в отсортированном порядке.
func ReferencedNodes(args json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}

	seen := make(map[string]bool)
	collectRefs(doc, seen)

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs, nil
}

func collectRefs(v any, seen map[string]bool) {
	switch val := v.(type) {
	case map[string]any:
		if node, ok := val[promiseNodeKey].(string); ok && node != "" {
			seen[node] = true
		}
		for k, child := range val {
			if k == promiseNodeKey || k == promiseFieldKey {
				continue
			}
			collectRefs(child, seen)
		}
	case []any:
		for _, child := range val {
			collectRefs(child, seen)
		}
	}
}
