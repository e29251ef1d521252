package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/castmatch/outreach-cli/internal/model"
)

var (
	quotaClientID  string
	quotaAllowance int
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect or adjust a client's weekly match allowance",
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

		if cmd.Flags().Changed("set-allowance") {
			if quotaAllowance < 0 {
				return eris.Errorf("allowance must be >= 0 (got %d)", quotaAllowance)
			}
			if err := st.SetQuotaAllowance(ctx, quotaClientID, quotaAllowance); err != nil {
				return eris.Wrap(err, "set allowance")
			}
			fmt.Printf("Allowance set to %d.\n", quotaAllowance)
		}

		q, err := st.GetQuota(ctx, quotaClientID)
		if err != nil {
			return eris.Wrap(err, "get quota")
		}

		formatQuota(os.Stdout, q)
		return nil
	},
}

func init() {
	quotaCmd.Flags().StringVar(&quotaClientID, "client", "", "client id (required)")
	quotaCmd.Flags().IntVar(&quotaAllowance, "set-allowance", 0, "set the weekly allowance before printing")
	_ = quotaCmd.MarkFlagRequired("client")
	rootCmd.AddCommand(quotaCmd)
}

// formatQuota writes the weekly quota state to w.
func formatQuota(out io.Writer, q *model.QuotaState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Client:\t%s\n", q.ClientID)
	_, _ = fmt.Fprintf(w, "Weekly allowance:\t%d\n", q.WeeklyAllowance)
	_, _ = fmt.Fprintf(w, "Matched this week:\t%d\n", q.CurrentCount)
	_, _ = fmt.Fprintf(w, "Remaining:\t%d\n", q.Remaining())
	_, _ = fmt.Fprintf(w, "Week started:\t%s\n", q.LastResetAt.Format("2006-01-02 15:04"))
	_ = w.Flush()
}
