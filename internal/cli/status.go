package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Alignflow/internal/api"
	"github.com/shaiso/Alignflow/internal/domain"
	"github.com/shaiso/Alignflow/internal/repo"
)

// NewStatusCmd создаёт команду status: состояние run'а job store'а
// по его файлу состояния, без запущенного процесса.
func NewStatusCmd(outputFn func() *Output) *cobra.Command {
	var stateFile string
	var runID string

	cmd := &cobra.Command{
		Use:   "status JOB_STORE",
		Short: "Show the latest run of a job store and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := StatePath(args[0], stateFile)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("%w: %s", ErrNoRuns, path)
			}
			store, err := repo.OpenMemoryStore(path)
			if err != nil {
				return err
			}

			var run *domain.Run
			if runID != "" {
				id, perr := uuid.Parse(runID)
				if perr != nil {
					return fmt.Errorf("invalid run id %q: %w", runID, perr)
				}
				run, err = store.GetRun(cmd.Context(), id)
			} else {
				run, err = store.LatestRun(cmd.Context())
			}
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNoRuns, args[0])
			}
			if err != nil {
				return err
			}

			tasks, err := store.ListTasks(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			out := outputFn()
			report := StatusReport{Run: api.RunFromDomain(run), Tasks: make([]api.TaskResponse, len(tasks))}
			for i := range tasks {
				report.Tasks[i] = api.TaskFromDomain(&tasks[i])
			}
			if out.jsonMode {
				out.JSON(report)
				return nil
			}
			out.RunSummary(report.Run)
			fmt.Fprintln(out.w)
			out.Tasks(report.Tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFile, "stateFile", "", "Run state file (default <jobStore>/state.json)")
	cmd.Flags().StringVar(&runID, "run", "", "Run ID (default: latest run)")

	return cmd
}

// StatusReport — вывод status в JSON.
type StatusReport struct {
	Run   api.RunResponse    `json:"run"`
	Tasks []api.TaskResponse `json:"tasks"`
}
