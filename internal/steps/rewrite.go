package steps

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/engine"
	"github.com/shaiso/Alignflow/internal/seqid"
)

// Типы шагов переписывания записей выравнивания.
const (
	KindRewriteRecords = "rewrite.records"
	KindRewriteJoin    = "rewrite.join"
)

// RecordTarget — какой набор записей переписывает подзадача.
type RecordTarget string

const (
	TargetPrimary   RecordTarget = "primary"
	TargetSecondary RecordTarget = "secondary"
)

// RewriteArgs — аргументы подзадачи rewrite.records.
type RewriteArgs struct {
	State  engine.Promise[domain.WorkflowState] `json:"state"`
	Target RecordTarget                         `json:"target"`
}

// RewriteResult — результат подзадачи rewrite.records.
type RewriteResult struct {
	Target     RecordTarget      `json:"target"`
	ArtifactID domain.ArtifactID `json:"artifact_id"`
	Records    int               `json:"records"`
}

// RewriteJoinArgs — аргументы join-узла rewrite.
type RewriteJoinArgs struct {
	State engine.Promise[domain.WorkflowState] `json:"state"`
	Parts []engine.Promise[RewriteResult]      `json:"parts"`
}

// source возвращает артефакт с записями для цели.
func (a RewriteArgs) source(state domain.WorkflowState) (domain.ArtifactID, error) {
	var id domain.ArtifactID
	switch a.Target {
	case TargetPrimary:
		id = state.AlignmentsID
	case TargetSecondary:
		id = state.SecondaryAlignmentsID
	default:
		return "", fmt.Errorf("%w: unknown record target %q", ErrInvalidArgs, a.Target)
	}
	if id.IsZero() {
		return "", fmt.Errorf("%w: no records for target %s", ErrInvalidArgs, a.Target)
	}
	return id, nil
}

// RewriteStep переписывает идентификаторы в одном наборе записей.
//
// Таблица переименования читается из хранилища по RemapTableID и
// кешируется: подзадачи одной фазы на одном воркере используют одну копию.
type RewriteStep struct {
	TempDir string

	mu     sync.Mutex
	tables map[domain.ArtifactID]*seqid.Table
}

// NewRewriteStep создаёт шаг.
func NewRewriteStep(tempDir string) *RewriteStep {
	return &RewriteStep{
		TempDir: tempDir,
		tables:  make(map[domain.ArtifactID]*seqid.Table),
	}
}

// Type возвращает тип шага.
func (s *RewriteStep) Type() string {
	return KindRewriteRecords
}

// Execute переписывает записи цели.
func (s *RewriteStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[RewriteArgs](req)
	if err != nil {
		return nil, err
	}
	state, err := resolve(args.State, req)
	if err != nil {
		return nil, err
	}

	src, err := args.source(state)
	if err != nil {
		return nil, err
	}
	table, err := s.table(ctx, req.Store, state.RemapTableID)
	if err != nil {
		return nil, err
	}

	in, err := req.Store.Open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(s.TempDir, "rewrite-*.cigar")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		out.Close()
		os.Remove(out.Name())
	}()

	stats, err := seqid.RewriteRecords(out, in, table)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s records: %w", args.Target, err)
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind records: %w", err)
	}
	id, err := req.Store.Put(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}

	req.logger().Info("alignment records rewritten",
		"target", args.Target,
		"records", stats.Records,
	)
	return NewResponse(RewriteResult{
		Target:     args.Target,
		ArtifactID: id,
		Records:    stats.Records,
	}), nil
}

func (s *RewriteStep) table(ctx context.Context, store artifact.Store, id domain.ArtifactID) (*seqid.Table, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: state has no remap table", ErrInvalidArgs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[id]; ok {
		return t, nil
	}

	r, err := store.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open remap table: %w", err)
	}
	defer r.Close()

	t, err := seqid.ReadTable(r)
	if err != nil {
		return nil, fmt.Errorf("read remap table: %w", err)
	}
	s.tables[id] = t
	return t, nil
}

// RewriteJoinStep собирает переписанные наборы записей в новое состояние.
type RewriteJoinStep struct{}

// NewRewriteJoinStep создаёт шаг.
func NewRewriteJoinStep() *RewriteJoinStep {
	return &RewriteJoinStep{}
}

// Type возвращает тип шага.
func (s *RewriteJoinStep) Type() string {
	return KindRewriteJoin
}

// Execute заменяет в состоянии исходные записи переписанными.
// Фрагменты outgroup'ов переходят в новое состояние без изменений.
func (s *RewriteJoinStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	args, err := DecodeArgs[RewriteJoinArgs](req)
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

	primary := state.AlignmentsID
	secondary := state.SecondaryAlignmentsID

	for _, p := range parts {
		switch p.Target {
		case TargetPrimary:
			primary = p.ArtifactID
		case TargetSecondary:
			secondary = p.ArtifactID
		default:
			return nil, fmt.Errorf("%w: unknown record target %q", ErrInvalidArgs, p.Target)
		}
	}

	next := state.WithAlignments(primary, secondary)
	return NewResponse(next), nil
}
