package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/castmatch/outreach-cli/internal/model"
)

var revetCmd = &cobra.Command{
	Use:   "revet <discovery-id>",
	Short: "Queue a discovery for re-vetting",
	Long:  "Archives the discovery's current vetting result to history and resets the stage to pending, so changed campaign criteria apply on the next sweep. Refused once a match exists.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ops"); err != nil {
			return err
		}

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("discovery id must be an integer: %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ForceRevet(ctx, id); err != nil {
			return eris.Wrap(err, "revet")
		}

		fmt.Printf("Discovery %d queued for re-vetting.\n", id)

		history, err := st.VettingHistory(ctx, id)
		if err != nil {
			return eris.Wrap(err, "vetting history")
		}
		if len(history) > 0 {
			fmt.Println()
			formatVettingHistory(os.Stdout, history)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revetCmd)
}

// formatVettingHistory writes archived vetting results to w, newest first.
func formatVettingHistory(out io.Writer, history []model.VettingRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ARCHIVED\tSCORE\tVETTED\tREASONING")
	_, _ = fmt.Fprintln(w, "--------\t-----\t------\t---------")
	for _, h := range history {
		vetted := ""
		if !h.VettedAt.IsZero() {
			vetted = h.VettedAt.Format("2006-01-02 15:04")
		}
		reasoning := h.Reasoning
		if len(reasoning) > 60 {
			reasoning = reasoning[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			h.ArchivedAt.Format("2006-01-02 15:04"), h.Score, vetted, reasoning)
	}
	_ = w.Flush()
}
