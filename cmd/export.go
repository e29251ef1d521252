package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/store"
)

var (
	exportCampaignID string
	exportOut        string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a campaign's funnel report to XLSX",
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

		rows, err := st.FunnelRows(ctx, exportCampaignID)
		if err != nil {
			return eris.Wrap(err, "funnel rows")
		}
		if len(rows) == 0 {
			return eris.Errorf("no discoveries for campaign %s", exportCampaignID)
		}

		file := xlsx.NewFile()
		if err := addFunnelSheet(file, rows); err != nil {
			return err
		}
		if err := file.Save(exportOut); err != nil {
			return eris.Wrap(err, "save workbook")
		}

		zap.L().Info("funnel exported",
			zap.String("campaign_id", exportCampaignID),
			zap.Int("rows", len(rows)),
			zap.String("out", exportOut),
		)
		fmt.Printf("Wrote %d rows to %s.\n", len(rows), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCampaignID, "campaign", "", "campaign id (required)")
	exportCmd.Flags().StringVar(&exportOut, "out", "funnel.xlsx", "output path")
	_ = exportCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(exportCmd)
}

// funnelHeader is the column order of the export sheet.
var funnelHeader = []string{
	"Discovery ID", "Title", "Canonical Key", "Enrichment", "Description",
	"Vetting", "Score", "Match", "Discovered", "Vetted",
}

// addFunnelSheet writes the funnel rows to a "Funnel" sheet, one discovery
// per row in pipeline order.
func addFunnelSheet(file *xlsx.File, rows []store.FunnelRow) error {
	sheet, err := file.AddSheet("Funnel")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}

	header := sheet.AddRow()
	for _, h := range funnelHeader {
		header.AddCell().Value = h
	}

	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetInt64(r.DiscoveryID)
		row.AddCell().Value = r.MediaTitle
		row.AddCell().Value = r.CanonicalKey
		row.AddCell().Value = string(r.Enrichment)
		row.AddCell().Value = yesNo(r.DescriptionPresent)
		row.AddCell().Value = string(r.Vetting)
		score := row.AddCell()
		if r.Score != nil {
			score.SetInt(*r.Score)
		}
		row.AddCell().Value = yesNo(r.MatchCreated)
		row.AddCell().Value = r.DiscoveredAt.Format("2006-01-02 15:04")
		vetted := row.AddCell()
		if r.VettedAt != nil {
			vetted.Value = r.VettedAt.Format("2006-01-02 15:04")
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
