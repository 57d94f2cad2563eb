package assembly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/telemetry"
)

// ExecRunner выполняет шаги внешней программой:
//
//	<Binary> <step>
//
// StepInput передаётся в stdin в JSON, обновлённый эксперимент читается
// из stdout в JSON.
type ExecRunner struct {
	// Binary — путь к программе сборки.
	Binary string

	// WorkDir — рабочий каталог процесса (пусто — текущий).
	WorkDir string

	// Env — дополнительные переменные окружения.
	Env []string
}

// RunStep реализует StepRunner.
func (r *ExecRunner) RunStep(ctx context.Context, in *StepInput) (domain.Experiment, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("encode step input: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Binary, in.Step)
	cmd.Dir = r.WorkDir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return domain.Experiment{}, fmt.Errorf("%s %s: %w: %s", r.Binary, in.Step, err, tail(stderr.String(), 2048))
	}
	telemetry.FromContext(ctx).Debug("assembly step process finished",
		"step", in.Step,
		"binary", r.Binary,
		"duration", time.Since(start),
	)

	var out domain.Experiment
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return domain.Experiment{}, fmt.Errorf("%s %s: decode output: %w", r.Binary, in.Step, err)
	}
	return out, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
