package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Review board status names. Cards are created as Pending Review, humans move
// them to Approved or Rejected, and the reconciler marks pulled decisions as
// Synced so they drop out of the decision query.
const (
	CardStatusPending  = "Pending Review"
	CardStatusApproved = "Approved"
	CardStatusRejected = "Rejected"
	CardStatusSynced   = "Synced"
)

// notionTextLimit is the per-block rich text character cap.
const notionTextLimit = 2000

// ReviewCard holds the fields mirrored to a review board page when a match
// suggestion is created.
type ReviewCard struct {
	DiscoveryID  int64
	MediaTitle   string
	CampaignName string
	ClientName   string
	Score        int
	MediaURL     string
	Reasoning    string
}

// Decision is a human verdict pulled back from the review board.
type Decision struct {
	PageID   string
	Approved bool
}

// QueryAll drains a database query across every result page. Each follow-up
// page is requested in the background while the one in hand is consumed; the
// client's limiter paces the underlying calls either way.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	type fetched struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	fetch := func(cursor notionapi.Cursor) <-chan fetched {
		ch := make(chan fetched, 1)
		go func() {
			resp, err := c.QueryDatabase(ctx, dbID, pageRequest(filter, cursor))
			ch <- fetched{resp, err}
		}()
		return ch
	}

	var all []notionapi.Page
	for pending := fetch(""); ; {
		got := <-pending
		if got.err != nil {
			return nil, eris.Wrap(got.err, "notion: query all page")
		}
		all = append(all, got.resp.Results...)
		if !got.resp.HasMore {
			return all, nil
		}
		pending = fetch(got.resp.NextCursor)
	}
}

// pageRequest rebinds the caller's filter and sorts onto one page of the query.
func pageRequest(filter *notionapi.DatabaseQueryRequest, cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}
	return req
}

// CreateReviewCard creates a review board page for a match suggestion and
// returns the new page ID.
func CreateReviewCard(ctx context.Context, c Client, dbID string, card ReviewCard) (string, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: buildReviewCardProperties(card),
	}

	page, err := c.CreatePage(ctx, req)
	if err != nil {
		return "", eris.Wrap(err, "notion: create review card")
	}
	return page.ID.String(), nil
}

// QueryDecidedCards fetches review board pages a human has moved to Approved
// or Rejected. Pages whose status cannot be parsed are skipped.
func QueryDecidedCards(ctx context.Context, c Client, dbID string) ([]Decision, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.OrCompoundFilter{
			notionapi.PropertyFilter{
				Property: "Status",
				Status:   &notionapi.StatusFilterCondition{Equals: CardStatusApproved},
			},
			notionapi.PropertyFilter{
				Property: "Status",
				Status:   &notionapi.StatusFilterCondition{Equals: CardStatusRejected},
			},
		},
	}

	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: query decided cards")
	}

	decisions := make([]Decision, 0, len(pages))
	for _, p := range pages {
		status, ok := pageStatus(p)
		if !ok {
			continue
		}
		switch status {
		case CardStatusApproved:
			decisions = append(decisions, Decision{PageID: p.ID.String(), Approved: true})
		case CardStatusRejected:
			decisions = append(decisions, Decision{PageID: p.ID.String(), Approved: false})
		}
	}
	return decisions, nil
}

// MarkCardSynced flips a decided card's status to Synced after its verdict
// has been recorded locally.
func MarkCardSynced(ctx context.Context, c Client, pageID string) error {
	req := &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.StatusProperty{
				Status: notionapi.Status{Name: CardStatusSynced},
			},
		},
	}
	if _, err := c.UpdatePage(ctx, pageID, req); err != nil {
		return eris.Wrap(err, "notion: mark card synced")
	}
	return nil
}

// pageStatus extracts the Status property name from a queried page.
func pageStatus(p notionapi.Page) (string, bool) {
	prop, ok := p.Properties["Status"]
	if !ok {
		return "", false
	}
	sp, ok := prop.(*notionapi.StatusProperty)
	if !ok {
		return "", false
	}
	return sp.Status.Name, true
}

// buildReviewCardProperties converts a ReviewCard to Notion page properties.
// The media title becomes the title property; long reasoning is truncated to
// the rich text block limit.
func buildReviewCardProperties(card ReviewCard) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: card.MediaTitle}},
			},
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: CardStatusPending},
		},
		"Score": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(card.Score),
		},
		"Discovery": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(card.DiscoveryID),
		},
		"Campaign": notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: card.CampaignName}},
			},
		},
		"Client": notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: card.ClientName}},
			},
		},
	}

	if card.MediaURL != "" {
		props["URL"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  card.MediaURL,
		}
	}

	if card.Reasoning != "" {
		props["Reasoning"] = notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: truncate(card.Reasoning, notionTextLimit)}},
			},
		}
	}

	return props
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
