package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task — отдельная единица работы внутри run: одна фаза или одна
// подзадача фазы.
//
// Task создаётся Orchestrator'ом, когда все зависимости узла графа
// завершены. Task выполняется Worker'ом.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// NodeID — ID узла графа ("uniquify", "rewrite.primary", "coverage", ...).
	NodeID string `json:"node_id"`

	// Kind — тип шага, который выполняет Worker.
	Kind string `json:"kind"`

	// Attempt — номер попытки (начиная с 1).
	// Увеличивается при retry.
	Attempt int `json:"attempt"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// Args — аргументы шага в JSON. Могут содержать promise-ссылки
	// на результаты предшествующих узлов.
	Args json.RawMessage `json:"args,omitempty"`

	// Result — результат шага в JSON. Заполняется Worker'ом после
	// успешного выполнения и читается последующими узлами через promise.
	Result json.RawMessage `json:"result,omitempty"`

	// Fatal — ошибка не подлежит повтору (несогласованные входные данные).
	Fatal bool `json:"fatal,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// MarkRunning переводит task в статус RUNNING.
func (t *Task) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.Attempt++
}

// MarkSucceeded переводит task в статус SUCCEEDED с результатом.
func (t *Task) MarkSucceeded(result json.RawMessage) {
	now := time.Now()
	t.Status = TaskStatusSucceeded
	t.FinishedAt = &now
	t.Result = result
	t.Error = ""
	t.Fatal = false
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *Task) MarkFailed(err string, fatal bool) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = err
	t.Fatal = fatal
}

// ResetForRetry подготавливает task для повторной попытки.
// Сбрасывает статус в QUEUED, очищает ошибку.
func (t *Task) ResetForRetry() {
	t.Status = TaskStatusQueued
	t.StartedAt = nil
	t.FinishedAt = nil
	t.Error = ""
	t.Fatal = false
	// Attempt увеличится при следующем MarkRunning()
}

// CanRetry проверяет, можно ли сделать ещё одну попытку.
func (t *Task) CanRetry(maxAttempts int) bool {
	return !t.Fatal && t.Attempt < maxAttempts
}
