package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Alignflow/internal/artifact"
	"github.com/shaiso/Alignflow/internal/assembly"
	"github.com/shaiso/Alignflow/internal/config"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/export"
	"github.com/shaiso/Alignflow/internal/pipeline"
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/seqfile"
	"github.com/shaiso/Alignflow/internal/steps"
)

// fakeAssembly заменяет внешнюю программу сборки: на шаге hal кладёт
// HAL в хранилище, failOn заставляет шаг упасть.
type fakeAssembly struct {
	mu     sync.Mutex
	store  artifact.Store
	steps  []string
	failOn string
}

func (a *fakeAssembly) RunStep(ctx context.Context, in *assembly.StepInput) (domain.Experiment, error) {
	a.mu.Lock()
	a.steps = append(a.steps, in.Step)
	fail := a.failOn == in.Step
	a.mu.Unlock()

	if fail {
		return domain.Experiment{}, steps.Fatal(fmt.Errorf("step %s crashed", in.Step))
	}

	out := in.Experiment
	if in.Step == "hal" {
		id, err := artifact.PutBytes(ctx, a.store, []byte("hal of "+out.Root))
		if err != nil {
			return domain.Experiment{}, err
		}
		out.HalID = id
	}
	return out, nil
}

func (a *fakeAssembly) setFailOn(step string) {
	a.mu.Lock()
	a.failOn = step
	a.mu.Unlock()
}

type alignFixture struct {
	jobStore   string
	store      artifact.Store
	seqFile    *seqfile.SeqFile
	alignments string
	assembly   *fakeAssembly
}

type genomeFile struct {
	name     string
	outgroup bool
	fasta    string
}

func newAlignFixture(t *testing.T, tree string, genomes []genomeFile, alignments string) *alignFixture {
	t.Helper()

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	var sf strings.Builder
	sf.WriteString(tree + "\n")
	for _, g := range genomes {
		path := write(strings.ToLower(g.name)+".fa", g.fasta)
		if g.outgroup {
			sf.WriteString("*")
		}
		sf.WriteString(g.name + " " + path + "\n")
	}
	parsed, err := seqfile.Parse(strings.NewReader(sf.String()))
	if err != nil {
		t.Fatalf("parse seq file: %v", err)
	}

	jobStore := filepath.Join(dir, "jobstore")
	store, err := artifact.OpenStore(context.Background(), jobStore)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	return &alignFixture{
		jobStore:   jobStore,
		store:      store,
		seqFile:    parsed,
		alignments: write("blast.cig", alignments),
		assembly:   &fakeAssembly{store: store},
	}
}

// submit импортирует входы без предварительной уникализации и запускает run.
func (f *alignFixture) submit(t *testing.T, h *harness, root string) *domain.Run {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Set(config.KeyRetryInitialDelayMs, "1")

	in, err := pipeline.ImportInputs(ctx, f.store, pipeline.Options{
		SeqFile:       f.seqFile,
		Root:          root,
		Alignments:    f.alignments,
		NonBlastInput: true,
		Config:        cfg,
	})
	if err != nil {
		t.Fatalf("import inputs: %v", err)
	}
	graph, err := pipeline.BuildGraph(in, cfg)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	run := &domain.Run{Name: root, JobStore: f.jobStore, Graph: *graph}
	if err := h.orch.Submit(ctx, run); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return run
}

func (f *alignFixture) read(t *testing.T, id domain.ArtifactID) string {
	t.Helper()
	data, err := artifact.ReadAll(context.Background(), f.store, id)
	if err != nil {
		t.Fatalf("read %s: %v", id, err)
	}
	return string(data)
}

func taskResult[T any](t *testing.T, task domain.Task) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(task.Result, &v); err != nil {
		t.Fatalf("decode result of %s: %v", task.NodeID, err)
	}
	return v
}

var abcGenomes = []genomeFile{
	{name: "A", fasta: ">a1\nACGTACGT\n"},
	{name: "B", fasta: ">b1\nAAAAAAAA\n"},
	{name: "C", outgroup: true, fasta: ">c1\nCCCCCCCC\n"},
}

const abcTree = "((A,B)anc1,C)anc0;"

func TestAlign_EndToEnd(t *testing.T) {
	f := newAlignFixture(t, abcTree, abcGenomes,
		"cigar: a1 0 4 + c1 0 4 + 4 M 4\ncigar: b1 0 2 + a1 4 6 + 2 M 2\n")
	store := repo.NewMemoryStore()
	h := newHarness(t, store, f.registryWith(store))

	run := f.submit(t, h, "anc1")
	final := h.wait(t, run.ID)
	if final.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.Status, final.Error)
	}

	tasks := h.tasks(t, run.ID)
	for _, node := range []string{
		"uniquify", "rewrite.primary", "rewrite",
		"coverage.ig_coverage_0", "coverage.ig_coverage_1", "coverage",
		"setup", "prepare_export", "export",
	} {
		if task, ok := tasks[node]; !ok || task.Status != domain.TaskStatusSucceeded {
			t.Errorf("node %s did not succeed", node)
		}
	}

	rewritten := taskResult[domain.WorkflowState](t, tasks["rewrite"])
	want := "cigar: id=0|a1 0 4 + id=2|c1 0 4 + 4 M 4\ncigar: id=1|b1 0 2 + id=0|a1 4 6 + 2 M 2\n"
	if got := f.read(t, rewritten.AlignmentsID); got != want {
		t.Errorf("unexpected rewritten records:\n got %q\nwant %q", got, want)
	}

	res := taskResult[export.Result](t, tasks["export"])
	if err := res.Validate("anc1"); err != nil {
		t.Errorf("invalid export result: %v", err)
	}
	if got := f.read(t, res.HalID); got != "hal of anc1" {
		t.Errorf("unexpected hal %q", got)
	}
}

func TestAlign_PositionalIntegrity(t *testing.T) {
	genomes := []genomeFile{
		{name: "A", fasta: ">a1\nAC\n>a2\nGT\n"},
		{name: "B", fasta: ">b1\nAA\n"},
		{name: "D", fasta: ">d1\nGG\n"},
		{name: "C", outgroup: true, fasta: ">c1\nCC\n"},
		{name: "E", outgroup: true, fasta: ">e1\nTT\n"},
	}
	f := newAlignFixture(t, "(((A,B,D)anc1,C)anc2,E)anc0;", genomes,
		"cigar: a2 0 2 + e1 0 2 + 2 M 2\ncigar: d1 0 2 + c1 0 2 + 2 M 2\n")
	store := repo.NewMemoryStore()
	h := newHarness(t, store, f.registryWith(store))

	run := f.submit(t, h, "anc1")
	final := h.wait(t, run.ID)
	if final.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.Status, final.Error)
	}

	uniq := taskResult[domain.WorkflowState](t, h.tasks(t, run.ID)["uniquify"])
	wantIngroups := []string{">id=0|a1\nAC\n>id=0|a2\nGT\n", ">id=1|b1\nAA\n", ">id=2|d1\nGG\n"}
	for i, want := range wantIngroups {
		if got := f.read(t, uniq.Ingroups[i].SequenceID); got != want {
			t.Errorf("ingroup %d: got %q, want %q", i, got, want)
		}
	}
	wantOutgroups := []string{">id=3|c1\nCC\n", ">id=4|e1\nTT\n"}
	for i, want := range wantOutgroups {
		if got := f.read(t, uniq.Outgroups[i].SequenceID); got != want {
			t.Errorf("outgroup %d: got %q, want %q", i, got, want)
		}
	}

	covered := taskResult[domain.WorkflowState](t, h.tasks(t, run.ID)["coverage"])
	if len(covered.IngroupCoverageIDs) != 3 {
		t.Fatalf("expected coverage for 3 ingroups, got %d", len(covered.IngroupCoverageIDs))
	}
	if got := f.read(t, covered.IngroupCoverageIDs[0]); got != "id=0|a2\t0\t2\n" {
		t.Errorf("unexpected coverage of A: %q", got)
	}
	if got := f.read(t, covered.IngroupCoverageIDs[1]); got != "" {
		t.Errorf("B has no outgroup hits, got %q", got)
	}
	if got := f.read(t, covered.IngroupCoverageIDs[2]); got != "id=2|d1\t0\t2\n" {
		t.Errorf("unexpected coverage of D: %q", got)
	}
}

// heldStep придерживает узел hold, пока не завершится узел after, и
// записывает порядок завершения узлов.
type heldStep struct {
	steps.Step
	hold, after string

	released chan struct{}
	once     sync.Once

	mu       sync.Mutex
	finished []string
}

func holdUntil(step steps.Step, hold, after string) *heldStep {
	return &heldStep{Step: step, hold: hold, after: after, released: make(chan struct{})}
}

func (s *heldStep) Execute(ctx context.Context, req *steps.Request) (*steps.Response, error) {
	if req.NodeID == s.hold {
		select {
		case <-s.released:
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	resp, err := s.Step.Execute(ctx, req)

	s.mu.Lock()
	s.finished = append(s.finished, req.NodeID)
	s.mu.Unlock()
	if req.NodeID == s.after {
		s.once.Do(func() { close(s.released) })
	}
	return resp, err
}

func (s *heldStep) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finished...)
}

func TestAlign_CoverageOutOfOrderCompletion(t *testing.T) {
	genomes := []genomeFile{
		{name: "A", fasta: ">a1\nACGT\n"},
		{name: "B", fasta: ">b1\nAAAA\n"},
		{name: "D", fasta: ">d1\nGGGG\n"},
		{name: "C", outgroup: true, fasta: ">c1\nCCCC\n"},
		{name: "E", outgroup: true, fasta: ">e1\nTTTT\n"},
	}
	f := newAlignFixture(t, "(((A,B,D)anc1,C)anc2,E)anc0;", genomes,
		"cigar: a1 0 1 + c1 0 1 + 1 M 1\ncigar: b1 0 2 + e1 0 2 + 2 M 2\ncigar: d1 0 3 + c1 0 3 + 3 M 3\n")
	store := repo.NewMemoryStore()

	registry := f.registryWith(store)
	coverage, err := registry.Get(steps.KindCoverageIngroup)
	if err != nil {
		t.Fatalf("get coverage step: %v", err)
	}
	held := holdUntil(coverage, "coverage.ig_coverage_0", "coverage.ig_coverage_2")
	registry.Register(held)

	h := newHarness(t, store, registry)
	h.addWorker(t, registry)
	h.addWorker(t, registry)

	run := f.submit(t, h, "anc1")
	final := h.wait(t, run.ID)
	if final.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.Status, final.Error)
	}

	order := held.order()
	if len(order) != 3 || order[2] != "coverage.ig_coverage_0" {
		t.Fatalf("ingroup 0 coverage must finish last, got %v", order)
	}

	covered := taskResult[domain.WorkflowState](t, h.tasks(t, run.ID)["coverage"])
	want := []string{"id=0|a1\t0\t1\n", "id=1|b1\t0\t2\n", "id=2|d1\t0\t3\n"}
	if len(covered.IngroupCoverageIDs) != len(want) {
		t.Fatalf("expected coverage for %d ingroups, got %d", len(want), len(covered.IngroupCoverageIDs))
	}
	for i, w := range want {
		if got := f.read(t, covered.IngroupCoverageIDs[i]); got != w {
			t.Errorf("coverage %d: got %q, want %q", i, got, w)
		}
	}
}

func TestAlign_MissingIdentifierFailsRun(t *testing.T) {
	f := newAlignFixture(t, abcTree, abcGenomes, "cigar: a1 0 4 + zz9 0 4 + 4 M 4\n")
	store := repo.NewMemoryStore()
	h := newHarness(t, store, f.registryWith(store))

	run := f.submit(t, h, "anc1")
	final := h.wait(t, run.ID)
	if final.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "rewrite.primary") || !strings.Contains(final.Error, "zz9") {
		t.Errorf("error must name the node and identifier: %q", final.Error)
	}

	task := h.tasks(t, run.ID)["rewrite.primary"]
	if !task.Fatal || task.Attempt != 1 {
		t.Errorf("missing identifier must fail without retry: fatal=%v attempt=%d", task.Fatal, task.Attempt)
	}
	if _, ok := h.tasks(t, run.ID)["setup"]; ok {
		t.Error("assembly must not start after a failure")
	}
}

func TestAlign_IdempotentRestart(t *testing.T) {
	f := newAlignFixture(t, abcTree, abcGenomes, "cigar: a1 0 4 + c1 0 4 + 4 M 4\n")
	store := repo.NewMemoryStore()
	f.assembly.setFailOn("setup")
	h := newHarness(t, store, f.registryWith(store))

	run := f.submit(t, h, "anc1")
	if final := h.wait(t, run.ID); final.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	before := h.tasks(t, run.ID)["uniquify"]

	f.assembly.setFailOn("")
	if _, err := h.orch.Restart(context.Background(), run.ID); err != nil {
		t.Fatalf("restart: %v", err)
	}
	final := h.wait(t, run.ID)
	if final.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED after restart, got %s (%s)", final.Status, final.Error)
	}

	after := h.tasks(t, run.ID)["uniquify"]
	if after.Attempt != 1 || !after.FinishedAt.Equal(*before.FinishedAt) {
		t.Error("uniquify must not run again")
	}
	if string(after.Result) != string(before.Result) {
		t.Error("uniquified artifacts must be reused")
	}
}

// registryWith — реестр шагов с контрольными точками в store.
func (f *alignFixture) registryWith(store repo.Store) *steps.Registry {
	return steps.DefaultRegistry(steps.Deps{
		Checkpoints: store,
		Runners:     func(*config.Config) assembly.StepRunner { return f.assembly },
		Databases:   func(artifact.Store, *config.Config) assembly.Database { return nil },
	})
}
