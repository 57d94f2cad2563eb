package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся, когда Orchestrator начинает или продолжает run,
// и закрывается, когда run завершается (SUCCEEDED/FAILED/CANCELLED).
// Источник истины — хранилище; RunState восстанавливается из tasks.
type RunState struct {
	// Run — данные run из хранилища.
	Run *domain.Run

	// DAG — граф узлов run'а.
	DAG *engine.DAG

	// completed — завершённые узлы (nodeID → true).
	completed map[string]bool

	// running — узлы, для которых есть незавершённая task.
	running map[string]bool

	// failed — упавшие узлы (nodeID → ошибка).
	failed map[string]string

	// tasks — созданные tasks (nodeID → Task).
	tasks map[string]*domain.Task

	// progress сериализует обработку завершений и dispatch.
	progress sync.Mutex

	done     chan struct{}
	finished bool

	mu sync.RWMutex
}

// NewRunState строит граф run'а и создаёт пустое состояние.
func NewRunState(run *domain.Run) (*RunState, error) {
	dag, err := engine.BuildDAG(&run.Graph)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}

	return &RunState{
		Run:       run,
		DAG:       dag,
		completed: make(map[string]bool),
		running:   make(map[string]bool),
		failed:    make(map[string]string),
		tasks:     make(map[string]*domain.Task),
		done:      make(chan struct{}),
	}, nil
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// GetReadyNodes возвращает узлы, готовые к выполнению: все зависимости
// завершены, task ещё не создана.
func (s *RunState) GetReadyNodes() []*engine.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	busy := make(map[string]bool, len(s.running)+len(s.failed))
	for id := range s.running {
		busy[id] = true
	}
	for id := range s.failed {
		busy[id] = true
	}
	return s.DAG.GetReadyNodes(s.completed, busy)
}

// MarkNodeDispatched помечает узел как выполняющийся.
func (s *RunState) MarkNodeDispatched(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[task.NodeID] = true
	s.tasks[task.NodeID] = task
}

// MarkNodeCompleted помечает узел как успешно завершённый.
func (s *RunState) MarkNodeCompleted(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, nodeID)
	s.completed[nodeID] = true
}

// MarkNodeFailed помечает узел как упавший.
func (s *RunState) MarkNodeFailed(nodeID, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, nodeID)
	s.failed[nodeID] = errMsg
}

// IsNodeRunning проверяет, ждёт ли узел завершения task.
func (s *RunState) IsNodeRunning(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[nodeID]
}

// Task возвращает task узла.
func (s *RunState) Task(nodeID string) *domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[nodeID]
}

// IsComplete проверяет, все ли узлы завершены успешно.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DAG.IsComplete(s.completed)
}

// HasFailed проверяет, есть ли упавшие узлы.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failed) > 0
}

// FailureMessage описывает упавшие узлы: "<node> failed: <error>",
// по возрастанию ID узла, через "; ".
func (s *RunState) FailureMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.failed))
	for id := range s.failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	msg := ""
	for i, id := range ids {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed: %s", id, s.failed[id])
	}
	return msg
}

// RestoreFromTasks восстанавливает состояние из списка tasks.
// Незавершённая task считается выполняющейся: её результат придёт позже.
func (s *RunState) RestoreFromTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range tasks {
		task := &tasks[i]
		if s.DAG.GetNode(task.NodeID) == nil {
			continue
		}
		s.tasks[task.NodeID] = task

		switch task.Status {
		case domain.TaskStatusSucceeded:
			s.completed[task.NodeID] = true
		case domain.TaskStatusFailed:
			s.failed[task.NodeID] = task.Error
		case domain.TaskStatusQueued, domain.TaskStatusRunning:
			s.running[task.NodeID] = true
		}
	}
}

// Done закрывается, когда run завершён.
func (s *RunState) Done() <-chan struct{} {
	return s.done
}

// IsFinished возвращает true, если run завершён.
func (s *RunState) IsFinished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

// finish закрывает Done. Повторный вызов ничего не делает.
func (s *RunState) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.DAG.Size()
	return RunStats{
		TotalNodes:     total,
		CompletedNodes: len(s.completed),
		RunningNodes:   len(s.running),
		FailedNodes:    len(s.failed),
		PendingNodes:   total - len(s.completed) - len(s.running) - len(s.failed),
	}
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalNodes     int
	CompletedNodes int
	RunningNodes   int
	FailedNodes    int
	PendingNodes   int
}
