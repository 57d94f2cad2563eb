package steps

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/coverage"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
)

// Типы шагов покрытия ingroup'ов.
const (
	KindCoverageIngroup = "coverage.ingroup"
	KindCoverageJoin    = "coverage.join"
)

// CoverageArgs — аргументы подзадачи coverage.ingroup.
type CoverageArgs struct {
	State engine.Promise[domain.WorkflowState] `json:"state"`

	// Index — позиция ingroup'а.
	Index int `json:"index"`
}

// CoverageResult — покрытие одного ingroup'а.
type CoverageResult struct {
	Index      int               `json:"index"`
	ArtifactID domain.ArtifactID `json:"artifact_id"`
	Covered    int64             `json:"covered"`
	Intervals  int               `json:"intervals"`
}

// CoverageJoinArgs — аргументы join-узла coverage.
type CoverageJoinArgs struct {
	State engine.Promise[domain.WorkflowState] `json:"state"`
	Parts []engine.Promise[CoverageResult]     `json:"parts"`
}

// CoverageStep вычисляет покрытие ingroup'а выравниваниями на outgroup'ы.
type CoverageStep struct {
	TempDir string
}

// NewCoverageStep создаёт шаг.
func NewCoverageStep(tempDir string) *CoverageStep {
	return &CoverageStep{TempDir: tempDir}
}

// Type возвращает тип шага.
func (s *CoverageStep) Type() string {
	return KindCoverageIngroup
}

// Execute считает покрытие ingroup'а args.Index.
func (s *CoverageStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[CoverageArgs](req)
	if err != nil {
		return nil, err
	}
	state, err := resolve(args.State, req)
	if err != nil {
		return nil, err
	}
	if args.Index < 0 || args.Index >= len(state.Ingroups) {
		return nil, fmt.Errorf("%w: ingroup index %d out of range", ErrInvalidArgs, args.Index)
	}
	if state.AlignmentsID.IsZero() {
		return nil, fmt.Errorf("%w: state has no alignments", ErrInvalidArgs)
	}

	ingroup := state.Ingroups[args.Index]
	seqs, err := readSequences(ctx, req.Store, ingroup.SequenceID)
	if err != nil {
		return nil, fmt.Errorf("ingroup %s: %w", ingroup.Name, err)
	}

	outgroups := make(map[string]bool)
	for _, og := range state.Outgroups {
		ogSeqs, err := readSequences(ctx, req.Store, og.SequenceID)
		if err != nil {
			return nil, fmt.Errorf("outgroup %s: %w", og.Name, err)
		}
		for name := range coverage.SequenceNames(ogSeqs) {
			outgroups[name] = true
		}
	}

	records, err := req.Store.Open(ctx, state.AlignmentsID)
	if err != nil {
		return nil, fmt.Errorf("open alignments: %w", err)
	}
	defer records.Close()

	out, err := os.CreateTemp(s.TempDir, "coverage-*.bed")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		out.Close()
		os.Remove(out.Name())
	}()

	stats, err := coverage.Compute(out, seqs, outgroups, records)
	if err != nil {
		return nil, fmt.Errorf("coverage of %s: %w", ingroup.Name, err)
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind coverage: %w", err)
	}
	id, err := req.Store.Put(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("store coverage: %w", err)
	}

	req.logger().Info("ingroup coverage computed",
		"genome", ingroup.Name,
		"index", args.Index,
		"records_used", stats.Used,
		"covered", stats.Covered,
	)
	return NewResponse(CoverageResult{
		Index:      args.Index,
		ArtifactID: id,
		Covered:    stats.Covered,
		Intervals:  stats.Intervals,
	}), nil
}

func readSequences(ctx context.Context, store artifact.Store, id domain.ArtifactID) ([]coverage.Sequence, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: genome has no sequence", ErrInvalidArgs)
	}
	r, err := store.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open sequence: %w", err)
	}
	defer r.Close()

	seqs, err := coverage.ReadSequences(r)
	if err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	return seqs, nil
}

// CoverageJoinStep раскладывает покрытия по позициям ingroup'ов.
type CoverageJoinStep struct{}

// NewCoverageJoinStep создаёт шаг.
func NewCoverageJoinStep() *CoverageJoinStep {
	return &CoverageJoinStep{}
}

// Type возвращает тип шага.
func (s *CoverageJoinStep) Type() string {
	return KindCoverageJoin
}

// Execute дописывает покрытия к IngroupCoverageIDs: результат i
// встаёт на позицию i независимо от порядка завершения подзадач.
func (s *CoverageJoinStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[CoverageJoinArgs](req)
	if err != nil {
		return nil, err
	}
	state, err := resolve(args.State, req)
	if err != nil {
		return nil, err
	}
	parts, err := engine.ResolveAll(args.Parts, req.Results)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.NodeID, err)
	}

	ids := make([]domain.ArtifactID, len(parts))
	for _, p := range parts {
		if p.Index < 0 || p.Index >= len(ids) {
			return nil, fmt.Errorf("%w: coverage index %d out of range", ErrInvalidArgs, p.Index)
		}
		if !ids[p.Index].IsZero() {
			return nil, fmt.Errorf("%w: duplicate coverage for index %d", ErrInvalidArgs, p.Index)
		}
		ids[p.Index] = p.ArtifactID
	}

	return NewResponse(state.WithIngroupCoverage(ids)), nil
}
