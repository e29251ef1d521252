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

var statusCampaignID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a campaign's pipeline position",
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

		funnel, counts, err := campaignStatus(ctx, st, statusCampaignID)
		if err != nil {
			return eris.Wrap(err, "campaign status")
		}

		if funnel.Total == 0 {
			fmt.Fprintln(os.Stderr, "No discoveries for this campaign.")
			return nil
		}

		formatFunnel(os.Stdout, funnel)
		fmt.Println()
		formatStatusCounts(os.Stdout, counts)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusCampaignID, "campaign", "", "campaign id (required)")
	_ = statusCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(statusCmd)
}

// formatFunnel writes the rolled-up funnel summary to w.
func formatFunnel(out io.Writer, f model.CampaignFunnel) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Campaign:\t%s\n", f.CampaignID)
	_, _ = fmt.Fprintf(w, "Discoveries:\t%d\n", f.Total)
	_, _ = fmt.Fprintf(w, "Enrichment:\t%d pending, %d in progress, %d completed, %d failed\n",
		f.EnrichmentPending, f.EnrichmentInProgress, f.EnrichmentCompleted, f.EnrichmentFailed)
	_, _ = fmt.Fprintf(w, "Missing descriptions:\t%d\n", f.DescriptionMissing)
	_, _ = fmt.Fprintf(w, "Vetting:\t%d pending, %d in progress, %d completed, %d failed, %d limited\n",
		f.VettingPending, f.VettingInProgress, f.VettingCompleted, f.VettingFailed, f.VettingLimited)
	_, _ = fmt.Fprintf(w, "Matches created:\t%d\n", f.MatchesCreated)
	_ = w.Flush()
}

// formatStatusCounts writes the grouped status rows to w.
func formatStatusCounts(out io.Writer, counts []model.StatusCount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENRICHMENT\tVETTING\tMATCH\tCOUNT")
	_, _ = fmt.Fprintln(w, "----------\t-------\t-----\t-----")
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Enrichment, c.Vetting, yesNo(c.MatchCreated), c.Count)
	}
	_ = w.Flush()
}
