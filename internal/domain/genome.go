package domain

// Role — роль генома в событии выравнивания.
type Role string

const (
	// RoleIngroup — лист поддерева события, выравнивается.
	RoleIngroup Role = "ingroup"

	// RoleOutgroup — внешний геном, используется только как опора.
	RoleOutgroup Role = "outgroup"

	// RoleAncestral — внутренний узел дерева (реконструируется).
	RoleAncestral Role = "ancestral"
)

// ArtifactID — непрозрачный дескриптор блоба в хранилище артефактов.
// Пустое значение означает "артефакта нет".
type ArtifactID string

// IsZero возвращает true для пустого дескриптора.
func (id ArtifactID) IsZero() bool {
	return id == ""
}

// String реализует fmt.Stringer.
func (id ArtifactID) String() string {
	return string(id)
}

// Genome — геном, участвующий в событии.
type Genome struct {
	// Name — имя генома (метка листа в дереве).
	Name string `json:"name"`

	// Role — роль в событии.
	Role Role `json:"role"`

	// SequenceID — артефакт с последовательностью (FASTA).
	// Пусто для предковых геномов.
	SequenceID ArtifactID `json:"sequence_id,omitempty"`
}

// HasSequence возвращает true, если у генома есть последовательность.
func (g Genome) HasSequence() bool {
	return !g.SequenceID.IsZero()
}

// SequenceIDs возвращает дескрипторы последовательностей в порядке геномов.
func SequenceIDs(genomes []Genome) []ArtifactID {
	ids := make([]ArtifactID, len(genomes))
	for i, g := range genomes {
		ids[i] = g.SequenceID
	}
	return ids
}

// GenomeNames возвращает имена геномов в исходном порядке.
func GenomeNames(genomes []Genome) []string {
	names := make([]string, len(genomes))
	for i, g := range genomes {
		names[i] = g.Name
	}
	return names
}
