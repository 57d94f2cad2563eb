package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/Alignflow/internal/api"
)

// NewRunCmd создаёт группу команд для runs процесса, поднявшего API
// (alignflow align --statusAddr или alignflow-worker).
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect runs through the status API",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunTasksCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListActiveRuns()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "STATUS", "RESTARTS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID.String(), r.Name, r.Status, fmt.Sprint(r.Restarts), r.CreatedAt.Format("2006-01-02 15:04:05")}
			}

			outputFn().Print(headers, rows, runs)
			return nil
		},
	}
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show [ID]",
		Short: "Show run details (latest run if no ID)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()

			get := client.LatestRun
			if len(args) == 1 {
				get = func() (*api.RunResponse, error) { return client.GetRun(args[0]) }
			}
			run, err := get()
			if err != nil {
				return err
			}

			outputFn().RunSummary(*run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().CancelRun(args[0])
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			return nil
		},
	}
}

func newRunTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks RUN_ID",
		Short: "List tasks in a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks(args[0])
			if err != nil {
				return err
			}

			outputFn().Tasks(tasks)
			return nil
		},
	}
}
