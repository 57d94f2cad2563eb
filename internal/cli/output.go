package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shaiso/Alignflow/internal/api"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output в stdout/stderr. Если jsonMode=true, данные
// выводятся в JSON.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными потоками.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}

// RunSummary печатает run одной строкой таблицы.
func (o *Output) RunSummary(run api.RunResponse) {
	o.Print(
		[]string{"ID", "NAME", "STATUS", "RESTARTS", "DURATION", "ERROR"},
		[][]string{{
			run.ID.String(),
			run.Name,
			run.Status,
			strconv.Itoa(run.Restarts),
			formatMillis(run.DurationMs),
			run.Error,
		}},
		run,
	)
}

// Tasks печатает tasks run'а.
func (o *Output) Tasks(tasks []api.TaskResponse) {
	headers := []string{"NODE", "KIND", "STATUS", "ATTEMPT", "DURATION", "ERROR"}
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		status := t.Status
		if t.Fatal {
			status += " (fatal)"
		}
		rows[i] = []string{t.NodeID, t.Kind, status, strconv.Itoa(t.Attempt), formatMillis(t.DurationMs), t.Error}
	}
	o.Print(headers, rows, tasks)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}
