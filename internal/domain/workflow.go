package domain

// WorkflowState — снимок состояния pipeline, передаваемый от фазы к фазе.
//
// Каждая фаза получает снимок через promise и возвращает НОВЫЙ снимок.
// Снимки не изменяются на месте: все With*-методы работают с копией,
// поэтому две фазы никогда не делят изменяемые слайсы или map'ы.
type WorkflowState struct {
	// Root — имя корневого генома события.
	Root string `json:"root"`

	// Tree — поддерево события в формате Newick.
	Tree string `json:"tree,omitempty"`

	// Ingroups — ingroup-геномы в каноническом порядке.
	// Позиция i здесь — позиция i во всех позиционных списках ниже.
	Ingroups []Genome `json:"ingroups"`

	// Outgroups — outgroup-геномы в каноническом порядке.
	Outgroups []Genome `json:"outgroups,omitempty"`

	// AlignmentsID — первичные записи выравниваний.
	AlignmentsID ArtifactID `json:"alignments_id"`

	// SecondaryAlignmentsID — вторичные записи выравниваний (необязательны).
	SecondaryAlignmentsID ArtifactID `json:"secondary_alignments_id,omitempty"`

	// OutgroupFragmentIDs — по одному артефакту на outgroup, в порядке Outgroups.
	OutgroupFragmentIDs []ArtifactID `json:"outgroup_fragment_ids,omitempty"`

	// IngroupCoverageIDs — по одному артефакту покрытия на ingroup, в порядке Ingroups.
	IngroupCoverageIDs []ArtifactID `json:"ingroup_coverage_ids,omitempty"`

	// RemapTableID — сериализованная таблица переименования идентификаторов.
	RemapTableID ArtifactID `json:"remap_table_id,omitempty"`

	// TotalSequenceSize — суммарный размер входных последовательностей в байтах.
	TotalSequenceSize int64 `json:"total_sequence_size"`

	// Database — конфигурация вспомогательной key-value базы.
	Database DbConf `json:"database"`

	// Config — снимок именованных значений конфигурации.
	Config map[string]string `json:"config,omitempty"`
}

// Clone возвращает глубокую копию снимка.
func (s WorkflowState) Clone() WorkflowState {
	c := s
	c.Ingroups = append([]Genome(nil), s.Ingroups...)
	c.Outgroups = append([]Genome(nil), s.Outgroups...)
	c.OutgroupFragmentIDs = append([]ArtifactID(nil), s.OutgroupFragmentIDs...)
	c.IngroupCoverageIDs = append([]ArtifactID(nil), s.IngroupCoverageIDs...)
	if s.Config != nil {
		c.Config = make(map[string]string, len(s.Config))
		for k, v := range s.Config {
			c.Config[k] = v
		}
	}
	return c
}

// WithIngroupSequences возвращает копию с заменёнными последовательностями ingroup'ов.
// ids[i] относится к Ingroups[i].
func (s WorkflowState) WithIngroupSequences(ids []ArtifactID) WorkflowState {
	c := s.Clone()
	for i := range c.Ingroups {
		if i < len(ids) {
			c.Ingroups[i].SequenceID = ids[i]
		}
	}
	return c
}

// WithOutgroupSequences возвращает копию с заменёнными последовательностями outgroup'ов.
func (s WorkflowState) WithOutgroupSequences(ids []ArtifactID) WorkflowState {
	c := s.Clone()
	for i := range c.Outgroups {
		if i < len(ids) {
			c.Outgroups[i].SequenceID = ids[i]
		}
	}
	return c
}

// WithAlignments возвращает копию с новыми первичными и вторичными выравниваниями.
func (s WorkflowState) WithAlignments(primary, secondary ArtifactID) WorkflowState {
	c := s.Clone()
	c.AlignmentsID = primary
	c.SecondaryAlignmentsID = secondary
	return c
}

// WithOutgroupFragments возвращает копию с новым списком фрагментов outgroup'ов.
func (s WorkflowState) WithOutgroupFragments(ids []ArtifactID) WorkflowState {
	c := s.Clone()
	c.OutgroupFragmentIDs = append([]ArtifactID(nil), ids...)
	return c
}

// WithIngroupCoverage возвращает копию, где к IngroupCoverageIDs дописаны ids
// в переданном порядке.
func (s WorkflowState) WithIngroupCoverage(ids []ArtifactID) WorkflowState {
	c := s.Clone()
	c.IngroupCoverageIDs = append(c.IngroupCoverageIDs, ids...)
	return c
}

// WithRemapTable возвращает копию с дескриптором таблицы переименования.
func (s WorkflowState) WithRemapTable(id ArtifactID) WorkflowState {
	c := s.Clone()
	c.RemapTableID = id
	return c
}

// WithTotalSequenceSize возвращает копию с новым суммарным размером.
func (s WorkflowState) WithTotalSequenceSize(n int64) WorkflowState {
	c := s.Clone()
	c.TotalSequenceSize = n
	return c
}

// IngroupNames возвращает имена ingroup'ов в каноническом порядке.
func (s WorkflowState) IngroupNames() []string {
	return GenomeNames(s.Ingroups)
}

// OutgroupNames возвращает имена outgroup'ов в каноническом порядке.
func (s WorkflowState) OutgroupNames() []string {
	return GenomeNames(s.Outgroups)
}
