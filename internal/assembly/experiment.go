package assembly

import (
	"strconv"

	"github.com/shaiso/Alignflow/internal/domain"
)

// ExperimentFromState строит начальный эксперимент фазы из снимка pipeline.
func ExperimentFromState(s domain.WorkflowState) domain.Experiment {
	exp := domain.Experiment{
		Root:        s.Root,
		Tree:        s.Tree,
		Ingroups:    s.IngroupNames(),
		Outgroups:   s.OutgroupNames(),
		SequenceIDs: make(map[string]domain.ArtifactID, len(s.Ingroups)+len(s.Outgroups)),
		Database:    s.Database,
	}
	for _, g := range s.Ingroups {
		if g.HasSequence() {
			exp.SequenceIDs[g.Name] = g.SequenceID
		}
	}
	for _, g := range s.Outgroups {
		if g.HasSequence() {
			exp.SequenceIDs[g.Name] = g.SequenceID
		}
	}

	outputs := make(map[string]domain.ArtifactID)
	if !s.AlignmentsID.IsZero() {
		outputs["alignments"] = s.AlignmentsID
	}
	if !s.SecondaryAlignmentsID.IsZero() {
		outputs["secondary_alignments"] = s.SecondaryAlignmentsID
	}
	if !s.RemapTableID.IsZero() {
		outputs["remap_table"] = s.RemapTableID
	}
	for i, id := range s.OutgroupFragmentIDs {
		outputs[FragmentOutput(i)] = id
	}
	for i, id := range s.IngroupCoverageIDs {
		outputs[CoverageOutput(i)] = id
	}
	if len(outputs) > 0 {
		exp.Outputs = outputs
	}
	return exp
}

// FragmentOutput — имя выхода с фрагментом outgroup'а i.
func FragmentOutput(i int) string {
	return "og_fragment_" + strconv.Itoa(i)
}

// CoverageOutput — имя выхода с покрытием ingroup'а i.
func CoverageOutput(i int) string {
	return "ig_coverage_" + strconv.Itoa(i)
}
