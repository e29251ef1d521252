package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/castmatch/outreach-cli/internal/model"
)

var (
	ingestCampaignID string
	ingestFile       string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a discovery feed into a campaign",
	Long:  "Reads a JSON discovery feed produced by the search collaborator, upserts the shows as media rows keyed by canonical identity, and pairs each with the campaign. Pairings that already exist are skipped.",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCampaignID, "campaign", "", "campaign id (required)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to feed JSON (required)")
	_ = ingestCmd.MarkFlagRequired("campaign")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

// feedEntry is one show in a discovery feed document.
type feedEntry struct {
	Title    string `json:"title"`
	Website  string `json:"website,omitempty"`
	RSSURL   string `json:"rss_url,omitempty"`
	Category string `json:"category,omitempty"`
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate("ops"); err != nil {
		return err
	}

	data, err := os.ReadFile(ingestFile)
	if err != nil {
		return eris.Wrap(err, "read feed")
	}

	var entries []feedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return eris.Wrap(err, "parse feed")
	}
	if len(entries) == 0 {
		return eris.New("feed holds no entries")
	}

	media, skipped := mediaFromFeed(entries)
	if len(media) == 0 {
		return eris.New("feed holds no usable entries (every entry is missing a title)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if _, err := st.GetCampaign(ctx, ingestCampaignID); err != nil {
		return eris.Wrap(err, "load campaign")
	}

	upserted, err := st.UpsertMediaBatch(ctx, media)
	if err != nil {
		return eris.Wrap(err, "upsert media")
	}

	keys := make([]string, len(media))
	for i, m := range media {
		keys[i] = m.CanonicalKey
	}
	ids, err := st.MediaIDsByCanonicalKeys(ctx, keys)
	if err != nil {
		return eris.Wrap(err, "resolve media ids")
	}

	mediaIDs := make([]string, 0, len(media))
	for _, m := range media {
		if id, ok := ids[m.CanonicalKey]; ok {
			mediaIDs = append(mediaIDs, id)
		}
	}

	inserted, err := st.InsertDiscoveries(ctx, ingestCampaignID, mediaIDs)
	if err != nil {
		return eris.Wrap(err, "insert discoveries")
	}

	zap.L().Info("feed ingested",
		zap.String("campaign_id", ingestCampaignID),
		zap.Int("entries", len(entries)),
		zap.Int("unique_media", len(media)),
		zap.Int64("media_upserted", upserted),
		zap.Int64("discoveries_inserted", inserted),
	)
	fmt.Printf("Read %d entries (%d unusable or duplicate), upserted %d media, created %d discoveries.\n",
		len(entries), skipped, upserted, inserted)
	return nil
}

// mediaFromFeed maps feed entries to media rows, dropping entries with no
// title and collapsing entries that share a canonical key. Returns the rows
// and the number of entries dropped either way.
func mediaFromFeed(entries []feedEntry) ([]model.Media, int) {
	seen := make(map[string]bool, len(entries))
	media := make([]model.Media, 0, len(entries))
	skipped := 0

	for _, e := range entries {
		if strings.TrimSpace(e.Title) == "" {
			skipped++
			continue
		}
		key := canonicalKey(e)
		if seen[key] {
			skipped++
			continue
		}
		seen[key] = true
		media = append(media, model.Media{
			CanonicalKey: key,
			Title:        strings.TrimSpace(e.Title),
			Website:      strings.TrimSpace(e.Website),
			RSSURL:       strings.TrimSpace(e.RSSURL),
			Category:     strings.TrimSpace(e.Category),
		})
	}
	return media, skipped
}

// canonicalKey derives the identity key for a feed entry. The RSS feed URL
// is the strongest identity, then the website, then the title. Each key is
// prefixed with its source so a title never collides with a URL.
func canonicalKey(e feedEntry) string {
	if k := canonicalURL(e.RSSURL); k != "" {
		return "rss:" + k
	}
	if k := canonicalURL(e.Website); k != "" {
		return "site:" + k
	}
	return "title:" + canonicalText(e.Title)
}

// canonicalText NFKC-normalizes, lowercases, and collapses whitespace so
// cosmetic variants of the same name produce one key.
func canonicalText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// canonicalURL additionally strips the scheme, a leading www, and any
// trailing slash.
func canonicalURL(s string) string {
	s = canonicalText(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}
