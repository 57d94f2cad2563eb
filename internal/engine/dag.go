package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Alignflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// ID — идентификатор узла: ID фазы или "<phase>.<sub>" для подзадачи.
	ID string

	// Kind — тип шага, который выполняет узел.
	Kind string

	// Args — аргументы шага (могут содержать promise-ссылки).
	Args json.RawMessage

	// Resources — статические лимиты ресурсов.
	Resources *domain.Resources

	// Retry — политика повторных попыток узла (nil — политика графа).
	Retry *domain.RetryPolicy

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node

	// IsJoin — true для join-узла фазы с подзадачами.
	// В отличие от подзадач, join исполняется: он собирает их результаты.
	IsJoin bool

	// PhaseID — ID фазы, которой принадлежит узел.
	PhaseID string

	// SubTaskID — ID подзадачи внутри фазы (пусто для фаз и join-узлов).
	SubTaskID string
}

// DAG — направленный ациклический граф фаз run.
type DAG struct {
	// Nodes — все узлы графа (nodeID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// Retry — политика повторных попыток графа.
	Retry *domain.RetryPolicy

	// declared — порядок объявления узлов (для детерминированного обхода).
	declared []*Node
}

// BuildDAG строит DAG из GraphSpec.
//
// Фаза с подзадачами раскрывается так:
// - Каждая подзадача — узел "<phase>.<sub>", зависящий от зависимостей фазы
// - Join-узел с ID фазы зависит от всех подзадач
//
// Ссылка на результат узла (promise) в аргументах — тоже ребро графа:
// объявить promise значит объявить зависимость.
func BuildDAG(spec *domain.GraphSpec) (*DAG, error) {
	if err := Validate(spec, nil); err != nil {
		return nil, err
	}

	dag := &DAG{
		Nodes:     make(map[string]*Node),
		RootNodes: make([]*Node, 0),
		Retry:     spec.Retry,
	}

	// Первый проход: создаём все узлы
	for i := range spec.Phases {
		dag.addPhase(&spec.Phases[i])
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range spec.Phases {
		if err := dag.linkPhase(&spec.Phases[i]); err != nil {
			return nil, err
		}
	}

	// Третий проход: рёбра из promise-ссылок
	for _, node := range dag.declared {
		if err := dag.linkPromises(node); err != nil {
			return nil, err
		}
	}

	// Находим корневые узлы
	dag.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addPhase добавляет узлы фазы в DAG.
func (d *DAG) addPhase(phase *domain.PhaseDef) {
	for i := range phase.SubTasks {
		sub := &phase.SubTasks[i]
		d.addNode(&Node{
			ID:        SubTaskNodeID(phase.ID, sub.ID),
			Kind:      sub.Kind,
			Args:      sub.Args,
			Resources: phase.Resources,
			Retry:     phase.Retry,
			PhaseID:   phase.ID,
			SubTaskID: sub.ID,
		})
	}

	d.addNode(&Node{
		ID:        phase.ID,
		Kind:      phase.Kind,
		Args:      phase.Args,
		Resources: phase.Resources,
		Retry:     phase.Retry,
		IsJoin:    len(phase.SubTasks) > 0,
		PhaseID:   phase.ID,
	})
}

func (d *DAG) addNode(node *Node) {
	node.DependsOn = make([]*Node, 0)
	node.Dependents = make([]*Node, 0)
	d.Nodes[node.ID] = node
	d.declared = append(d.declared, node)
}

// linkPhase связывает узлы фазы по зависимостям.
func (d *DAG) linkPhase(phase *domain.PhaseDef) error {
	node := d.Nodes[phase.ID]

	deps, err := d.lookup(phase.ID, phase.DependsOn)
	if err != nil {
		return err
	}

	if len(phase.SubTasks) == 0 {
		for _, dep := range deps {
			d.addEdge(dep, node)
		}
		return nil
	}

	// Подзадачи наследуют зависимости фазы; join ждёт все подзадачи
	for i := range phase.SubTasks {
		sub := &phase.SubTasks[i]
		subNode := d.Nodes[SubTaskNodeID(phase.ID, sub.ID)]

		for _, dep := range deps {
			d.addEdge(dep, subNode)
		}

		extra, err := d.lookup(subNode.ID, sub.DependsOn)
		if err != nil {
			return err
		}
		for _, dep := range extra {
			d.addEdge(dep, subNode)
		}

		d.addEdge(subNode, node)
	}

	return nil
}

// linkPromises добавляет рёбра для promise-ссылок в аргументах узла.
func (d *DAG) linkPromises(node *Node) error {
	refs, err := ReferencedNodes(node.Args)
	if err != nil {
		return NewValidationError(node.ID, "args", err.Error(), ErrInvalidArgs)
	}
	deps, err := d.lookup(node.ID, refs)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if dep == node {
			return NewValidationError(node.ID, "args",
				"node references its own result", ErrSelfDependency)
		}
		d.addEdge(dep, node)
	}
	return nil
}

func (d *DAG) lookup(nodeID string, ids []string) ([]*Node, error) {
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		dep, exists := d.Nodes[id]
		if !exists {
			return nil, NewValidationError(nodeID, "depends_on",
				fmt.Sprintf("depends on unknown node: %s", id), ErrMissingDependency)
		}
		nodes = append(nodes, dep)
	}
	return nodes, nil
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.declared {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[string]int)
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	// Очередь узлов с inDegree = 0
	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		// Извлекаем узел из очереди
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		// Уменьшаем inDegree у зависимых узлов
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// GetReadyNodes возвращает узлы, готовые к выполнению, в топологическом порядке.
//
// Узел готов, если:
// - Все его зависимости завершены (в completed)
// - Сам узел ещё не завершён и не в процессе (не в completed и не в running)
//
// completed — map nodeID → true для завершённых узлов.
// running — map nodeID → true для узлов в процессе выполнения.
func (d *DAG) GetReadyNodes(completed, running map[string]bool) []*Node {
	ready := make([]*Node, 0)

	for _, node := range d.Order {
		// Пропускаем уже завершённые или выполняющиеся
		if completed[node.ID] || running[node.ID] {
			continue
		}

		// Проверяем, что все зависимости завершены
		allDepsCompleted := true
		for _, dep := range node.DependsOn {
			if !completed[dep.ID] {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, node)
		}
	}

	return ready
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// IsComplete проверяет, все ли узлы завершены.
func (d *DAG) IsComplete(completed map[string]bool) bool {
	for _, node := range d.Nodes {
		if !completed[node.ID] {
			return false
		}
	}
	return true
}

// GetSubTaskNodes возвращает узлы-подзадачи фазы в порядке объявления.
func (d *DAG) GetSubTaskNodes(phaseID string) []*Node {
	nodes := make([]*Node, 0)
	for _, node := range d.declared {
		if node.PhaseID == phaseID && node.SubTaskID != "" {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// RetryPolicy возвращает политику повторных попыток для узла.
func (d *DAG) RetryPolicy(node *Node) *domain.RetryPolicy {
	if node.Retry != nil {
		return node.Retry
	}
	return d.Retry
}

// SubTaskNodeID возвращает ID узла подзадачи.
func SubTaskNodeID(phaseID, subID string) string {
	return phaseID + "." + subID
}
