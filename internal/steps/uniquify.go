package steps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/seqid"
)

// KindUniquify — уникализация идентификаторов последовательностей.
const KindUniquify = "uniquify"

// UniquifyArgs — аргументы шага uniquify.
type UniquifyArgs struct {
	// State — начальное состояние (встраивается в граф статически).
	State domain.WorkflowState `json:"state"`

	// IncludeOutgroups — уникализировать и outgroup'ы (позиции n..n+m-1).
	IncludeOutgroups bool `json:"include_outgroups,omitempty"`
}

// UniquifyStep переписывает заголовки FASTA всех входных геномов и
// сохраняет таблицу переименования в хранилище.
type UniquifyStep struct {
	// TempDir — каталог для промежуточных файлов (пусто — системный).
	TempDir string
}

// NewUniquifyStep создаёт шаг.
func NewUniquifyStep(tempDir string) *UniquifyStep {
	return &UniquifyStep{TempDir: tempDir}
}

// Type возвращает тип шага.
func (s *UniquifyStep) Type() string {
	return KindUniquify
}

// Execute выполняет уникализацию.
func (s *UniquifyStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[UniquifyArgs](req)
	if err != nil {
		return nil, err
	}
	state := args.State

	genomes := append([]domain.Genome(nil), state.Ingroups...)
	if args.IncludeOutgroups {
		genomes = append(genomes, state.Outgroups...)
	}

	ids, result, err := s.uniquify(ctx, req.Store, genomes)
	if err != nil {
		return nil, err
	}

	tableID, err := putTable(ctx, req.Store, result.Table)
	if err != nil {
		return nil, err
	}

	n := len(state.Ingroups)
	var ingroupSize int64
	for _, size := range result.Sizes[:n] {
		ingroupSize += size
	}

	next := state.
		WithIngroupSequences(ids[:n]).
		WithRemapTable(tableID).
		WithTotalSequenceSize(ingroupSize)

	if args.IncludeOutgroups {
		next = next.WithOutgroupSequences(ids[n:])
		// Фрагментов нет: опорой служат сами последовательности outgroup'ов
		if len(next.OutgroupFragmentIDs) == 0 && len(next.Outgroups) > 0 {
			next = next.WithOutgroupFragments(ids[n:])
		}
	}

	req.logger().Info("sequences uniquified",
		"genomes", len(genomes),
		"records", result.Table.Len(),
		"total_sequence_size", ingroupSize,
	)
	return NewResponse(next), nil
}

// uniquify переписывает геномы во временные файлы и сохраняет их.
// ids[i] — новый артефакт генома i.
func (s *UniquifyStep) uniquify(ctx context.Context, store artifact.Store, genomes []domain.Genome) ([]domain.ArtifactID, *seqid.Result, error) {
	inputs := make([]seqid.Input, len(genomes))
	readers := make([]io.ReadCloser, 0, len(genomes))
	files := make([]*os.File, 0, len(genomes))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
		for _, f := range files {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	for i, g := range genomes {
		if !g.HasSequence() {
			return nil, nil, Fatal(fmt.Errorf("%w: genome %s has no sequence", ErrInvalidArgs, g.Name))
		}
		r, err := store.Open(ctx, g.SequenceID)
		if err != nil {
			return nil, nil, fmt.Errorf("open sequence %s: %w", g.Name, err)
		}
		readers = append(readers, r)

		f, err := os.CreateTemp(s.TempDir, "uniquify-*.fa")
		if err != nil {
			return nil, nil, fmt.Errorf("create temp file: %w", err)
		}
		files = append(files, f)

		inputs[i] = seqid.Input{R: r, W: f}
	}

	result, err := seqid.Uniquify(inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("uniquify: %w", err)
	}

	ids := make([]domain.ArtifactID, len(files))
	for i, f := range files {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, nil, fmt.Errorf("rewind %s: %w", genomes[i].Name, err)
		}
		id, err := store.Put(ctx, f)
		if err != nil {
			return nil, nil, fmt.Errorf("store sequence %s: %w", genomes[i].Name, err)
		}
		ids[i] = id
	}
	return ids, result, nil
}

func putTable(ctx context.Context, store artifact.Store, table *seqid.Table) (domain.ArtifactID, error) {
	var buf bytes.Buffer
	if err := seqid.WriteTable(&buf, table); err != nil {
		return "", fmt.Errorf("encode remap table: %w", err)
	}
	id, err := artifact.PutBytes(ctx, store, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("store remap table: %w", err)
	}
	return id, nil
}
