package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GraphSpec — граф фаз одного run.
//
// Строится PhaseGraphBuilder'ом один раз: форма графа — чистая функция
// входных данных, известных до запуска (флаг --nonBlastInput, число
// outgroup-геномов, наличие вторичного выравнивания).
type GraphSpec struct {
	// Name — имя графа (для логов).
	Name string `json:"name,omitempty"`

	// Phases — фазы в порядке объявления.
	Phases []PhaseDef `json:"phases"`

	// Retry — политика повторных попыток по умолчанию для всех узлов.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// PhaseDef — определение фазы.
//
// Фаза без подзадач — обычный узел графа. Фаза с подзадачами
// раскрывается в набор независимых узлов-подзадач и join-узел
// с ID самой фазы, который выполняется после всех подзадач
// и собирает их результаты.
type PhaseDef struct {
	// ID — уникальный идентификатор фазы.
	// Используется в depends_on и в promise-ссылках.
	ID string `json:"id"`

	// Kind — тип шага, выполняющего фазу (или join фазы с подзадачами).
	Kind string `json:"kind"`

	// Args — аргументы шага в JSON.
	Args json.RawMessage `json:"args,omitempty"`

	// DependsOn — фазы, которые должны завершиться до начала этой.
	DependsOn []string `json:"depends_on,omitempty"`

	// SubTasks — независимые подзадачи фазы (fan-out).
	SubTasks []SubTaskDef `json:"sub_tasks,omitempty"`

	// Resources — статические лимиты ресурсов.
	Resources *Resources `json:"resources,omitempty"`

	// Retry — политика повторных попыток для этой фазы.
	// Переопределяет GraphSpec.Retry.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// SubTaskDef — подзадача фазы.
type SubTaskDef struct {
	// ID — идентификатор подзадачи, уникальный в рамках фазы.
	// Полный ID узла: "<phase>.<sub>".
	ID string `json:"id"`

	// Kind — тип шага подзадачи.
	Kind string `json:"kind"`

	// Args — аргументы шага в JSON.
	Args json.RawMessage `json:"args,omitempty"`

	// DependsOn — дополнительные зависимости подзадачи (помимо зависимостей фазы).
	DependsOn []string `json:"depends_on,omitempty"`
}

// Resources — лимиты ресурсов узла. Значения известны при построении графа.
type Resources struct {
	// MemoryBytes — потолок памяти.
	MemoryBytes int64 `json:"memory_bytes,omitempty"`

	// DiskBytes — потолок диска.
	DiskBytes int64 `json:"disk_bytes,omitempty"`

	// Preemptable — можно ли выполнять на вытесняемых узлах.
	Preemptable bool `json:"preemptable,omitempty"`
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

// Checkpoint — запись о завершённом шаге внутри фазы с контрольными точками.
//
// Повторный вход в фазу (retry или restart) продолжает работу после
// последнего записанного шага.
type Checkpoint struct {
	// RunID — run, которому принадлежит фаза.
	RunID uuid.UUID `json:"run_id"`

	// NodeID — узел графа (фаза).
	NodeID string `json:"node_id"`

	// Step — имя завершённого шага.
	Step string `json:"step"`

	// Seq — порядковый номер шага (0, 1, 2, ...).
	Seq int `json:"seq"`

	// State — состояние фазы после шага в JSON.
	State json.RawMessage `json:"state"`

	// CreatedAt — время записи.
	CreatedAt time.Time `json:"created_at"`
}
