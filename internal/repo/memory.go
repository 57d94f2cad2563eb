package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

// MemoryStore — Store в памяти процесса с сохранением в JSON-файл.
//
// Используется локальным режимом CLI: состояние run'а переживает
// падение процесса и читается при --restart. Каждое изменение
// переписывает файл целиком (через временный файл, fsync и rename) и
// попадает в память только после успешной записи.
type MemoryStore struct {
	mu   sync.RWMutex
	path string

	runs        map[uuid.UUID]*domain.Run
	tasks       map[uuid.UUID]*domain.Task
	checkpoints map[checkpointKey][]domain.Checkpoint
}

type checkpointKey struct {
	runID  uuid.UUID
	nodeID string
}

// change — одно изменение состояния: новая версия run, task или
// контрольной точки.
type change struct {
	run        *domain.Run
	task       *domain.Task
	checkpoint *domain.Checkpoint
}

// memorySnapshot — формат файла состояния.
type memorySnapshot struct {
	Runs        []domain.Run        `json:"runs"`
	Tasks       []domain.Task       `json:"tasks"`
	Checkpoints []domain.Checkpoint `json:"checkpoints,omitempty"`
}

// NewMemoryStore создаёт пустой Store без файла.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[uuid.UUID]*domain.Run),
		tasks:       make(map[uuid.UUID]*domain.Task),
		checkpoints: make(map[checkpointKey][]domain.Checkpoint),
	}
}

// OpenMemoryStore открывает Store, сохраняемый в path.
// Существующий файл загружается.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	for i := range snap.Runs {
		run := snap.Runs[i]
		s.runs[run.ID] = &run
	}
	for i := range snap.Tasks {
		task := snap.Tasks[i]
		s.tasks[task.ID] = &task
	}
	for _, cp := range snap.Checkpoints {
		key := checkpointKey{cp.RunID, cp.NodeID}
		s.checkpoints[key] = append(s.checkpoints[key], cp)
	}
	return s, nil
}

// Path возвращает путь файла состояния (пусто — без файла).
func (s *MemoryStore) Path() string {
	return s.path
}

// --- Runs ---

// CreateRun создаёт run.
func (s *MemoryStore) CreateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: run %s", ErrAlreadyExists, run.ID)
	}
	c := *run
	return s.commit(change{run: &c})
}

// GetRun возвращает копию run.
func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *run
	return &c, nil
}

// LatestRun возвращает последний созданный run.
func (s *MemoryStore) LatestRun(_ context.Context) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Run
	for _, run := range s.runs {
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	c := *latest
	return &c, nil
}

// UpdateRun обновляет run.
func (s *MemoryStore) UpdateRun(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	c := *run
	return s.commit(change{run: &c})
}

// ListActiveRuns возвращает runs в статусах PENDING и RUNNING.
func (s *MemoryStore) ListActiveRuns(_ context.Context, limit int) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunStatusPending || run.Status == domain.RunStatusRunning {
			runs = append(runs, *run)
		}
	}
	sortRuns(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// --- Tasks ---

// CreateTask создаёт task.
func (s *MemoryStore) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.RunID == task.RunID && t.NodeID == task.NodeID {
			return fmt.Errorf("%w: task for %s", ErrAlreadyExists, task.NodeID)
		}
	}
	c := *task
	return s.commit(change{task: &c})
}

// GetTask возвращает копию task.
func (s *MemoryStore) GetTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *task
	return &c, nil
}

// ListTasks возвращает tasks run'а в порядке создания.
func (s *MemoryStore) ListTasks(_ context.Context, runID uuid.UUID) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []domain.Task
	for _, t := range s.tasks {
		if t.RunID == runID {
			tasks = append(tasks, *t)
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

// UpdateTask обновляет task.
func (s *MemoryStore) UpdateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	c := *task
	return s.commit(change{task: &c})
}

// ClaimTask переводит task из QUEUED в RUNNING.
func (s *MemoryStore) ClaimTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if task.Status != domain.TaskStatusQueued {
		return nil, fmt.Errorf("%w: task %s is not queued", ErrInvalidState, id)
	}
	c := *task
	c.MarkRunning()
	c.FinishedAt = nil
	c.Error = ""
	c.Fatal = false
	if err := s.commit(change{task: &c}); err != nil {
		return nil, err
	}
	out := c
	return &out, nil
}

// ListQueued возвращает tasks в статусе QUEUED.
func (s *MemoryStore) ListQueued(_ context.Context, limit int) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusQueued {
			tasks = append(tasks, *t)
		}
	}
	sortTasks(tasks)
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// --- Checkpoints ---

// ListCheckpoints возвращает контрольные точки узла по возрастанию Seq.
func (s *MemoryStore) ListCheckpoints(_ context.Context, runID uuid.UUID, nodeID string) ([]domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := append([]domain.Checkpoint(nil), s.checkpoints[checkpointKey{runID, nodeID}]...)
	sort.Slice(cps, func(i, j int) bool { return cps[i].Seq < cps[j].Seq })
	return cps, nil
}

// SaveCheckpoint записывает контрольную точку.
func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cp
	return s.commit(change{checkpoint: &c})
}

// commit записывает состояние с изменением ch и только затем применяет
// его в памяти. Вызывается под s.mu.
func (s *MemoryStore) commit(ch change) error {
	if err := s.persist(ch); err != nil {
		return err
	}

	switch {
	case ch.run != nil:
		s.runs[ch.run.ID] = ch.run
	case ch.task != nil:
		s.tasks[ch.task.ID] = ch.task
	case ch.checkpoint != nil:
		key := checkpointKey{ch.checkpoint.RunID, ch.checkpoint.NodeID}
		cps := s.checkpoints[key]
		for i := range cps {
			if cps[i].Seq == ch.checkpoint.Seq {
				cps[i] = *ch.checkpoint
				return nil
			}
		}
		s.checkpoints[key] = append(cps, *ch.checkpoint)
	}
	return nil
}

// snapshot собирает содержимое файла: текущее состояние плюс ch.
func (s *MemoryStore) snapshot(ch change) memorySnapshot {
	snap := memorySnapshot{}
	for id, run := range s.runs {
		if ch.run != nil && ch.run.ID == id {
			continue
		}
		snap.Runs = append(snap.Runs, *run)
	}
	if ch.run != nil {
		snap.Runs = append(snap.Runs, *ch.run)
	}

	for id, t := range s.tasks {
		if ch.task != nil && ch.task.ID == id {
			continue
		}
		snap.Tasks = append(snap.Tasks, *t)
	}
	if ch.task != nil {
		snap.Tasks = append(snap.Tasks, *ch.task)
	}

	for _, cps := range s.checkpoints {
		for _, cp := range cps {
			if ch.checkpoint != nil && cp.RunID == ch.checkpoint.RunID &&
				cp.NodeID == ch.checkpoint.NodeID && cp.Seq == ch.checkpoint.Seq {
				continue
			}
			snap.Checkpoints = append(snap.Checkpoints, cp)
		}
	}
	if ch.checkpoint != nil {
		snap.Checkpoints = append(snap.Checkpoints, *ch.checkpoint)
	}
	return snap
}

// persist переписывает файл состояния с изменением ch.
//
// JSON пишется без отступов: Args и Result задач хранятся как есть и
// после перезагрузки совпадают побайтно.
func (s *MemoryStore) persist(ch change) error {
	if s.path == "" {
		return nil
	}

	snap := s.snapshot(ch)
	sortRuns(snap.Runs)
	sortTasks(snap.Tasks)
	sort.Slice(snap.Checkpoints, func(i, j int) bool {
		a, b := snap.Checkpoints[i], snap.Checkpoints[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Seq < b.Seq
	})

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	syncDir(dir)
	return nil
}

// writeSynced пишет data в path и сбрасывает файл на диск.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir фиксирует rename в каталоге. Не все файловые системы
// поддерживают fsync каталога, ошибка игнорируется.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

func sortRuns(runs []domain.Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].NodeID < tasks[j].NodeID
	})
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PgStore)(nil)
