// alignflow — выравнивание событий филогенетического дерева.
//
// Использование:
//
//	alignflow [--json] [--logLevel LEVEL] <command> [flags]
//
// Команды:
//
//	align   Выравнивание события и экспорт в HAL
//	status  Состояние последнего run'а job store'а
//	run     Runs через API состояния (--api-url)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Alignflow/internal/cli"
	"github.com/shaiso/Alignflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:           "alignflow",
		Short:         "alignflow — multi-phase genome alignment of one tree event",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Status API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "logLevel", "", "Log level: DEBUG, INFO, WARN, ERROR (default LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "logFormat", "", "Log format: json or text (default LOG_FORMAT)")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	loggerFn := func() *slog.Logger {
		return telemetry.NewLogger(telemetry.LogOptions{Level: logLevel, Format: logFormat})
	}

	rootCmd.AddCommand(
		cli.NewAlignCmd(outputFn, loggerFn),
		cli.NewStatusCmd(outputFn),
		cli.NewRunCmd(clientFn, outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
