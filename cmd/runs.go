package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/castmatch/outreach-cli/internal/journal"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect sweep run history",
	Long:  "Lists recent journaled task runs, newest first, with each task's latest outcome up top.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ops"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jrnl, err := initJournal(st)
		if err != nil {
			return err
		}
		defer jrnl.Close() //nolint:errcheck

		entries, err := jrnl.Recent(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "recent runs")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No recorded runs.")
			return nil
		}

		last, err := jrnl.LastPerTask(ctx)
		if err != nil {
			return eris.Wrap(err, "last per task")
		}

		formatLastRuns(os.Stdout, last)
		fmt.Println()
		formatRuns(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}

// formatLastRuns writes each task's most recent outcome, one line per task.
func formatLastRuns(out io.Writer, last map[string]journal.Entry) {
	tasks := make([]string, 0, len(last))
	for task := range last {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK\tLAST STATUS\tLAST RUN")
	_, _ = fmt.Fprintln(w, "----\t-----------\t--------")
	for _, task := range tasks {
		e := last[task]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", task, e.Status, e.StartedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}

// formatRuns writes a tabular run history to w.
func formatRuns(out io.Writer, entries []journal.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK\tSTATUS\tSTARTED\tDURATION\tPROCESSED\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "----\t------\t-------\t--------\t---------\t------\t-----")

	for _, e := range entries {
		dur := ""
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}

		errMsg := e.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Task,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04:05"),
			dur,
			e.Processed,
			e.Failed,
			errMsg,
		)
	}
	_ = w.Flush()
}
