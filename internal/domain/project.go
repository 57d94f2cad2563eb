package domain

// Database backends.
const (
	DatabaseKyotoTycoon = "kyoto_tycoon"
	DatabaseRedis       = "redis"
)

// DbConf — описание вспомогательной key-value базы, которую фаза сборки
// поднимает на время своей работы.
type DbConf struct {
	// Type — тип сервера: "kyoto_tycoon" или "redis".
	Type string `json:"type"`

	// Host — адрес, на котором слушает сервер (заполняется при старте).
	Host string `json:"host,omitempty"`

	// Port — порт сервера (заполняется при старте).
	Port int `json:"port,omitempty"`

	// Dir — рабочий каталог сервера (лог, снимок).
	Dir string `json:"dir,omitempty"`

	// SnapshotID — артефакт со снимком базы после остановки сервера.
	SnapshotID ArtifactID `json:"snapshot_id,omitempty"`
}

// Project — проект выравнивания: набор событий и их экспериментов.
type Project struct {
	// Name — имя проекта.
	Name string `json:"name"`

	// Tree — дерево в формате Newick.
	Tree string `json:"tree"`

	// Root — корневое событие проекта.
	Root string `json:"root"`

	// ConfigID — артефакт с конфигурацией.
	ConfigID ArtifactID `json:"config_id,omitempty"`

	// InputSequenceIDs — входные последовательности по именам геномов.
	InputSequenceIDs map[string]ArtifactID `json:"input_sequence_ids,omitempty"`

	// ExpMap — событие → артефакт с описанием эксперимента.
	ExpMap map[string]ArtifactID `json:"exp_map,omitempty"`
}

// Clone возвращает глубокую копию проекта.
func (p Project) Clone() Project {
	c := p
	c.InputSequenceIDs = cloneIDMap(p.InputSequenceIDs)
	c.ExpMap = cloneIDMap(p.ExpMap)
	return c
}

// Experiment — результат фазы сборки для одного события.
type Experiment struct {
	// Root — корневой геном события.
	Root string `json:"root"`

	// Tree — поддерево события в формате Newick.
	Tree string `json:"tree,omitempty"`

	// Ingroups — имена ingroup-геномов.
	Ingroups []string `json:"ingroups"`

	// Outgroups — имена outgroup-геномов.
	Outgroups []string `json:"outgroups,omitempty"`

	// SequenceIDs — последовательности по именам геномов (после переименования).
	SequenceIDs map[string]ArtifactID `json:"sequence_ids,omitempty"`

	// Database — конфигурация базы, с которой работала сборка.
	Database DbConf `json:"database"`

	// HalID — артефакт с выравниванием события.
	HalID ArtifactID `json:"hal_id,omitempty"`

	// FastaID — артефакт с реконструированной предковой последовательностью.
	FastaID ArtifactID `json:"fasta_id,omitempty"`

	// Outputs — прочие артефакты шагов сборки по именам.
	Outputs map[string]ArtifactID `json:"outputs,omitempty"`
}

// Clone возвращает глубокую копию эксперимента.
func (e Experiment) Clone() Experiment {
	c := e
	c.Ingroups = append([]string(nil), e.Ingroups...)
	c.Outgroups = append([]string(nil), e.Outgroups...)
	c.SequenceIDs = cloneIDMap(e.SequenceIDs)
	c.Outputs = cloneIDMap(e.Outputs)
	return c
}

func cloneIDMap(m map[string]ArtifactID) map[string]ArtifactID {
	if m == nil {
		return nil
	}
	c := make(map[string]ArtifactID, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
