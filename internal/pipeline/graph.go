package pipeline

import (
	"fmt"

	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/steps"
)

// ID фаз графа выравнивания.
const (
	PhaseUniquify      = "uniquify"
	PhaseRewrite       = "rewrite"
	PhaseCoverage      = "coverage"
	PhaseSetup         = "setup"
	PhasePrepareExport = "prepare_export"
	PhaseExport        = "export"
)

// ID подзадач фазы rewrite.
const (
	SubPrimary   = "primary"
	SubSecondary = "secondary"
)

// CoverageSubTask возвращает ID подзадачи покрытия ingroup'а i.
func CoverageSubTask(i int) string {
	return coverageName(i)
}

// BuildGraph строит граф фаз run'а.
//
// Форма графа определяется до запуска:
//
//	uniquify → [rewrite] → [coverage] → setup → prepare_export → export
//
// rewrite есть только для выравниваний не из предыдущего этапа; coverage —
// только если при этом есть outgroup'ы. Подзадачи rewrite: primary и
// secondary (если вторичные выравнивания импортированы). Фрагменты
// outgroup'ов — последовательности, а не записи выравнивания: их
// идентификаторы уникализирует uniquify, переписывать нечего.
func BuildGraph(in *Inputs, cfg *config.Config) (*domain.GraphSpec, error) {
	if cfg == nil {
		cfg = config.FromSnapshot(in.State.Config)
	}
	state := in.State

	b := &graphBuilder{spec: &domain.GraphSpec{Name: "align-" + state.Root}}

	retry, err := retryPolicy(cfg)
	if err != nil {
		return nil, err
	}
	b.spec.Retry = retry

	b.phase(PhaseUniquify, steps.KindUniquify, steps.UniquifyArgs{
		State:            state,
		IncludeOutgroups: !in.Upstream,
	})
	last := PhaseUniquify

	if !in.Upstream {
		b.fanOut(PhaseRewrite, last, rewriteSubTasks(state, last), func(ids []string) any {
			parts := make([]engine.Promise[steps.RewriteResult], len(ids))
			for i, id := range ids {
				parts[i] = engine.Ref[steps.RewriteResult](id)
			}
			return steps.RewriteJoinArgs{
				State: engine.Ref[domain.WorkflowState](last),
				Parts: parts,
			}
		}, steps.KindRewriteJoin)
		last = PhaseRewrite

		if len(state.Outgroups) > 0 {
			from := last
			b.fanOut(PhaseCoverage, from, coverageSubTasks(state, from), func(ids []string) any {
				parts := make([]engine.Promise[steps.CoverageResult], len(ids))
				for i, id := range ids {
					parts[i] = engine.Ref[steps.CoverageResult](id)
				}
				return steps.CoverageJoinArgs{
					State: engine.Ref[domain.WorkflowState](from),
					Parts: parts,
				}
			}, steps.KindCoverageJoin)
			last = PhaseCoverage
		}
	}

	b.phase(PhaseSetup, steps.KindSetup, steps.SetupArgs{
		State: engine.Ref[domain.WorkflowState](last),
	}, last)

	b.phase(PhasePrepareExport, steps.KindPrepareExport, steps.PrepareExportArgs{
		Project:    in.Project,
		Experiment: engine.Ref[domain.Experiment](PhaseSetup),
	}, PhaseSetup)

	b.phase(PhaseExport, steps.KindExport, steps.ExportArgs{
		Project:   engine.FieldOf[domain.Project](PhasePrepareExport, "project"),
		Root:      engine.FieldOf[string](PhasePrepareExport, "root"),
		HalBinary: cfg.Get(config.KeyHalBinary),
	}, PhasePrepareExport)

	if b.err != nil {
		return nil, b.err
	}

	res, err := exportResources(cfg)
	if err != nil {
		return nil, err
	}
	b.spec.Phases[len(b.spec.Phases)-1].Resources = res

	if err := engine.Validate(b.spec, nil); err != nil {
		return nil, err
	}
	if _, err := engine.BuildDAG(b.spec); err != nil {
		return nil, err
	}
	return b.spec, nil
}

type subTask struct {
	id   string
	kind string
	args any
}

func rewriteSubTasks(state domain.WorkflowState, from string) []subTask {
	ref := engine.Ref[domain.WorkflowState](from)

	subs := []subTask{{SubPrimary, steps.KindRewriteRecords, steps.RewriteArgs{State: ref, Target: steps.TargetPrimary}}}
	if !state.SecondaryAlignmentsID.IsZero() {
		subs = append(subs, subTask{SubSecondary, steps.KindRewriteRecords, steps.RewriteArgs{State: ref, Target: steps.TargetSecondary}})
	}
	return subs
}

func coverageSubTasks(state domain.WorkflowState, from string) []subTask {
	ref := engine.Ref[domain.WorkflowState](from)

	subs := make([]subTask, len(state.Ingroups))
	for i := range state.Ingroups {
		subs[i] = subTask{CoverageSubTask(i), steps.KindCoverageIngroup, steps.CoverageArgs{State: ref, Index: i}}
	}
	return subs
}

type graphBuilder struct {
	spec *domain.GraphSpec
	err  error
}

func (b *graphBuilder) phase(id, kind string, args any, dependsOn ...string) {
	if b.err != nil {
		return
	}
	p, err := engine.NewPhase(id, kind, args, dependsOn...)
	if err != nil {
		b.err = err
		return
	}
	b.spec.Phases = append(b.spec.Phases, p)
}

// fanOut добавляет фазу с подзадачами subs и join-узлом joinKind.
// Аргументы join строит joinArgs по полным ID подзадач.
func (b *graphBuilder) fanOut(id, dependsOn string, subs []subTask, joinArgs func(ids []string) any, joinKind string) {
	if b.err != nil {
		return
	}

	ids := make([]string, len(subs))
	defs := make([]domain.SubTaskDef, len(subs))
	for i, s := range subs {
		def, err := engine.NewSubTask(s.id, s.kind, s.args)
		if err != nil {
			b.err = err
			return
		}
		defs[i] = def
		ids[i] = engine.SubTaskNodeID(id, s.id)
	}

	p, err := engine.NewPhase(id, joinKind, joinArgs(ids), dependsOn)
	if err != nil {
		b.err = err
		return
	}
	p.SubTasks = defs
	b.spec.Phases = append(b.spec.Phases, p)
}

// retryPolicy — общая политика повторов: retry.count повторов после
// первой попытки.
func retryPolicy(cfg *config.Config) (*domain.RetryPolicy, error) {
	count, err := cfg.Int(config.KeyRetryCount)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", config.ErrInvalidValue, config.KeyRetryCount)
	}
	initial, err := cfg.Int(config.KeyRetryInitialDelayMs)
	if err != nil {
		return nil, err
	}
	maxDelay, err := cfg.Int(config.KeyRetryMaxDelayMs)
	if err != nil {
		return nil, err
	}
	return &domain.RetryPolicy{
		MaxAttempts:    count + 1,
		Backoff:        cfg.Get(config.KeyRetryBackoff),
		InitialDelayMs: initial,
		MaxDelayMs:     maxDelay,
	}, nil
}

// exportResources — ресурсы узла export. Узел не вытесняемый.
func exportResources(cfg *config.Config) (*domain.Resources, error) {
	mem, err := cfg.Bytes(config.KeyExportMemory)
	if err != nil {
		return nil, err
	}
	disk, err := cfg.Bytes(config.KeyExportDisk)
	if err != nil {
		return nil, err
	}
	return &domain.Resources{MemoryBytes: mem, DiskBytes: disk, Preemptable: false}, nil
}
