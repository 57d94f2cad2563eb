package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения графа фаз выравнивания.
//
// Run создаётся когда:
//   - Пользователь запускает выравнивание (alignflow align)
//   - Пользователь продолжает прерванный run (--restart) — новый Run
//     при этом НЕ создаётся, используется существующий
//
// Каждый run хранит граф фаз, построенный один раз при создании,
// и имеет свой набор tasks.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Name — имя run (обычно имя корневого генома события).
	Name string `json:"name"`

	// JobStore — хранилище артефактов run'а (каталог или s3://bucket/prefix).
	// Воркеры открывают артефакты по этому адресу.
	JobStore string `json:"job_store"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Graph — граф фаз. Строится один раз и при restart не перестраивается.
	Graph GraphSpec `json:"graph"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	// Nil, если run ещё не начался.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	// Nil, если run ещё выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// Restarts — сколько раз run продолжали после прерывания.
	Restarts int `json:"restarts,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkRestarted возвращает прерванный run в RUNNING.
// StartedAt сохраняется от первого запуска.
func (r *Run) MarkRestarted() {
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
	r.Status = RunStatusRunning
	r.FinishedAt = nil
	r.Error = ""
	r.Restarts++
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
