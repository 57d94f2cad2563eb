package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
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
	"github.com/shaiso/Alignflow/internal/repo"
	"github.com/shaiso/Alignflow/internal/steps"
)

// halRunner — исполнитель шагов сборки, публикующий HAL на шаге hal.
type halRunner struct {
	mu       sync.Mutex
	jobStore string
	calls    []string
	failOn   string
}

func (r *halRunner) RunStep(ctx context.Context, in *assembly.StepInput) (domain.Experiment, error) {
	r.mu.Lock()
	r.calls = append(r.calls, in.Step)
	fail := r.failOn == in.Step
	r.mu.Unlock()

	if fail {
		return domain.Experiment{}, steps.Fatal(fmt.Errorf("step %s crashed", in.Step))
	}

	out := in.Experiment
	if in.Step == "hal" {
		store, err := artifact.OpenStore(ctx, r.jobStore)
		if err != nil {
			return domain.Experiment{}, err
		}
		if out.HalID, err = artifact.PutBytes(ctx, store, []byte("hal of "+out.Root)); err != nil {
			return domain.Experiment{}, err
		}
	}
	return out, nil
}

func (r *halRunner) count(step string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.calls {
		if s == step {
			n++
		}
	}
	return n
}

type alignEnv struct {
	dir    string
	opts   AlignOptions
	runner *halRunner
}

func newAlignEnv(t *testing.T) *alignEnv {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	a := write("a.fa", ">a1\nACGTACGT\n")
	b := write("b.fa", ">b1\nAAAAAAAA\n")
	c := write("c.fa", ">c1\nCCCCCCCC\n")
	seqFile := write("seqs.txt", fmt.Sprintf("((A,B)anc1,C)anc0;\nA %s\nB %s\n*C %s\n", a, b, c))
	blast := write("blast.cig", "cigar: a1 0 4 + c1 0 4 + 4 M 4\n")
	cfgFile := write("config.json", `{"retry": {"initial_delay_ms": 1, "max_delay_ms": 5}}`)

	jobStore := filepath.Join(dir, "js")
	runner := &halRunner{jobStore: jobStore}

	return &alignEnv{
		dir:    dir,
		runner: runner,
		opts: AlignOptions{
			JobStore:      jobStore,
			SeqFile:       seqFile,
			Alignments:    blast,
			OutputHal:     filepath.Join(dir, "out.hal"),
			Root:          "anc1",
			ConfigFile:    cfgFile,
			NonBlastInput: true,
			RetryCount:    -1,
			Workers:       2,
			PollInterval:  20 * time.Millisecond,
			Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
			Steps: func(checkpoints repo.CheckpointStore) *steps.Registry {
				return steps.DefaultRegistry(steps.Deps{
					Checkpoints: checkpoints,
					Runners:     func(*config.Config) assembly.StepRunner { return runner },
					Databases:   func(artifact.Store, *config.Config) assembly.Database { return nil },
				})
			},
		},
	}
}

func align(t *testing.T, opts AlignOptions) (*domain.Run, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return Align(ctx, opts)
}

func TestAlign_ExportsHal(t *testing.T) {
	env := newAlignEnv(t)

	run, err := align(t, env.opts)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", run.Status)
	}

	data, err := os.ReadFile(env.opts.OutputHal)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "hal of anc1" {
		t.Errorf("unexpected hal %q", data)
	}

	if _, err := os.Stat(filepath.Join(env.opts.JobStore, stateFileName)); err != nil {
		t.Errorf("state file not written: %v", err)
	}
}

func TestAlign_RestartContinuesFailedRun(t *testing.T) {
	env := newAlignEnv(t)
	env.runner.failOn = "bar"

	run, err := align(t, env.opts)
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}
	if run == nil || run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED run, got %+v", run)
	}
	if !strings.Contains(run.Error, "setup") {
		t.Errorf("error should name the failed node: %q", run.Error)
	}

	env.runner.mu.Lock()
	env.runner.failOn = ""
	env.runner.mu.Unlock()

	restart := env.opts
	restart.Restart = true
	restarted, err := align(t, restart)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.ID != run.ID {
		t.Errorf("restart must continue run %s, got %s", run.ID, restarted.ID)
	}
	if restarted.Restarts != 1 {
		t.Errorf("Restarts = %d, want 1", restarted.Restarts)
	}
	if n := env.runner.count("caf"); n != 1 {
		t.Errorf("checkpointed step caf ran %d times, want 1", n)
	}
	if _, err := os.Stat(env.opts.OutputHal); err != nil {
		t.Errorf("output not exported after restart: %v", err)
	}
}

func TestAlign_RestartWithoutRuns(t *testing.T) {
	env := newAlignEnv(t)
	env.opts.Restart = true

	if _, err := align(t, env.opts); !errors.Is(err, ErrNothingToRestart) {
		t.Fatalf("expected ErrNothingToRestart, got %v", err)
	}
}

func TestAlign_RestartRootMismatch(t *testing.T) {
	env := newAlignEnv(t)
	if _, err := align(t, env.opts); err != nil {
		t.Fatalf("Align: %v", err)
	}

	restart := env.opts
	restart.Restart = true
	restart.Root = "anc0"
	if _, err := align(t, restart); !errors.Is(err, ErrRootMismatch) {
		t.Fatalf("expected ErrRootMismatch, got %v", err)
	}
}

func TestStatePath(t *testing.T) {
	tests := []struct {
		jobStore  string
		stateFile string
		want      string
		wantErr   error
	}{
		{"/data/js", "", "/data/js/state.json", nil},
		{"/data/js", "/tmp/s.json", "/tmp/s.json", nil},
		{"s3://bucket/js", "", "", ErrStateFileRequired},
		{"s3://bucket/js", "/tmp/s.json", "/tmp/s.json", nil},
	}

	for _, tt := range tests {
		got, err := StatePath(tt.jobStore, tt.stateFile)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("StatePath(%q, %q) error = %v, want %v", tt.jobStore, tt.stateFile, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StatePath(%q, %q) = %q, want %q", tt.jobStore, tt.stateFile, got, tt.want)
		}
	}
}
