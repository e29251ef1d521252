package notion

import (
	"context"
	"strings"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// decidedFilter matches the OR filter QueryDecidedCards builds.
func decidedFilter(req *notionapi.DatabaseQueryRequest) bool {
	or, ok := req.Filter.(notionapi.OrCompoundFilter)
	if !ok || len(or) != 2 {
		return false
	}
	first, ok := or[0].(notionapi.PropertyFilter)
	if !ok {
		return false
	}
	second, ok := or[1].(notionapi.PropertyFilter)
	if !ok {
		return false
	}
	return first.Status != nil && first.Status.Equals == CardStatusApproved &&
		second.Status != nil && second.Status.Equals == CardStatusRejected
}

func statusPage(id, status string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Status": &notionapi.StatusProperty{
				Status: notionapi.Status{Name: status},
			},
		},
	}
}

func TestCreateReviewCard(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		if req.Parent.DatabaseID != "db-review" {
			return false
		}
		title, ok := req.Properties["Name"].(notionapi.TitleProperty)
		if !ok || len(title.Title) != 1 || title.Title[0].Text.Content != "The Fintech Hour" {
			return false
		}
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		return ok && status.Status.Name == CardStatusPending
	})).Return(&notionapi.Page{ID: "page-42"}, nil).Once()

	pageID, err := CreateReviewCard(ctx, mc, "db-review", ReviewCard{
		DiscoveryID:  42,
		MediaTitle:   "The Fintech Hour",
		CampaignName: "Q3 podcast tour",
		ClientName:   "Acme Robotics",
		Score:        72,
		MediaURL:     "https://fintechhour.example.com",
		Reasoning:    "strong audience overlap",
	})
	require.NoError(t, err)
	assert.Equal(t, "page-42", pageID)
	mc.AssertExpectations(t)
}

func TestCreateReviewCard_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError).Once()

	pageID, err := CreateReviewCard(ctx, mc, "db-review", ReviewCard{MediaTitle: "X"})
	assert.Error(t, err)
	assert.Empty(t, pageID)
	assert.Contains(t, err.Error(), "notion: create review card")
	mc.AssertExpectations(t)
}

func TestQueryDecidedCards(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-review", mock.MatchedBy(decidedFilter)).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				statusPage("page-a", CardStatusApproved),
				statusPage("page-b", CardStatusRejected),
			},
			HasMore: false,
		}, nil).Once()

	decisions, err := QueryDecidedCards(ctx, mc, "db-review")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, Decision{PageID: "page-a", Approved: true}, decisions[0])
	assert.Equal(t, Decision{PageID: "page-b", Approved: false}, decisions[1])
	mc.AssertExpectations(t)
}

func TestQueryDecidedCards_SkipsUnparseable(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	noStatus := notionapi.Page{ID: "page-weird", Properties: notionapi.Properties{}}

	mc.On("QueryDatabase", ctx, "db-review", mock.MatchedBy(decidedFilter)).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{noStatus, statusPage("page-ok", CardStatusApproved)},
			HasMore: false,
		}, nil).Once()

	decisions, err := QueryDecidedCards(ctx, mc, "db-review")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "page-ok", decisions[0].PageID)
	mc.AssertExpectations(t)
}

func TestQueryDecidedCards_Empty(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-empty", mock.MatchedBy(decidedFilter)).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{},
			HasMore: false,
		}, nil).Once()

	decisions, err := QueryDecidedCards(ctx, mc, "db-empty")
	assert.NoError(t, err)
	assert.Empty(t, decisions)
	mc.AssertExpectations(t)
}

func TestQueryDecidedCards_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-err", mock.MatchedBy(decidedFilter)).
		Return(nil, assert.AnError).Once()

	decisions, err := QueryDecidedCards(ctx, mc, "db-err")
	assert.Error(t, err)
	assert.Nil(t, decisions)
	assert.Contains(t, err.Error(), "notion: query decided cards")
	mc.AssertExpectations(t)
}

// TestQueryAll_MultiplePages verifies pagination through the decided-card
// query: two API pages collected into one decision list.
func TestQueryAll_MultiplePages(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-paginated", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return decidedFilter(req) && req.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{statusPage("page-1", CardStatusApproved), statusPage("page-2", CardStatusApproved)},
		HasMore:    true,
		NextCursor: notionapi.Cursor("cursor-xyz"),
	}, nil).Once()

	mc.On("QueryDatabase", ctx, "db-paginated", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor("cursor-xyz")
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{statusPage("page-3", CardStatusRejected)},
		HasMore: false,
	}, nil).Once()

	decisions, err := QueryDecidedCards(ctx, mc, "db-paginated")
	assert.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, "page-1", decisions[0].PageID)
	assert.Equal(t, "page-3", decisions[2].PageID)
	assert.False(t, decisions[2].Approved)
	mc.AssertExpectations(t)
}

// TestQueryAll_NilFilter verifies QueryAll works correctly when filter is nil.
func TestQueryAll_NilFilter(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-nil-filter", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.Filter == nil
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p1"}},
		HasMore: false,
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-nil-filter", nil)
	assert.NoError(t, err)
	assert.Len(t, pages, 1)
	mc.AssertExpectations(t)
}

// TestQueryAll_ErrorOnSecondPage verifies that an error on the second page
// of pagination is propagated correctly.
func TestQueryAll_ErrorOnSecondPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-err-p2", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: notionapi.Cursor("cursor-next"),
	}, nil).Once()

	mc.On("QueryDatabase", ctx, "db-err-p2", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor("cursor-next")
	})).Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, "db-err-p2", nil)
	assert.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "notion: query all page")
	mc.AssertExpectations(t)
}

func TestMarkCardSynced(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("UpdatePage", ctx, "page-a", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		return ok && status.Status.Name == CardStatusSynced
	})).Return(&notionapi.Page{ID: "page-a"}, nil).Once()

	err := MarkCardSynced(ctx, mc, "page-a")
	assert.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestMarkCardSynced_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("UpdatePage", ctx, "page-err", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(nil, assert.AnError).Once()

	err := MarkCardSynced(ctx, mc, "page-err")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion: mark card synced")
	mc.AssertExpectations(t)
}

func TestBuildReviewCardProperties(t *testing.T) {
	props := buildReviewCardProperties(ReviewCard{
		DiscoveryID:  7,
		MediaTitle:   "Deep Dive Robotics",
		CampaignName: "Q3 podcast tour",
		ClientName:   "Acme Robotics",
		Score:        81,
		MediaURL:     "https://deepdive.example.com",
		Reasoning:    "host covers factory automation weekly",
	})

	title, ok := props["Name"].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "Deep Dive Robotics", title.Title[0].Text.Content)

	score, ok := props["Score"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, 81.0, score.Number)

	discovery, ok := props["Discovery"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, 7.0, discovery.Number)

	urlProp, ok := props["URL"].(notionapi.URLProperty)
	require.True(t, ok)
	assert.Equal(t, "https://deepdive.example.com", urlProp.URL)

	reasoning, ok := props["Reasoning"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "host covers factory automation weekly", reasoning.RichText[0].Text.Content)
}

func TestBuildReviewCardProperties_OmitsEmptyOptionalFields(t *testing.T) {
	props := buildReviewCardProperties(ReviewCard{
		DiscoveryID: 1,
		MediaTitle:  "No Extras",
		Score:       55,
	})

	_, hasURL := props["URL"]
	assert.False(t, hasURL)
	_, hasReasoning := props["Reasoning"]
	assert.False(t, hasReasoning)
}

func TestBuildReviewCardProperties_TruncatesLongReasoning(t *testing.T) {
	long := strings.Repeat("a", notionTextLimit+500)
	props := buildReviewCardProperties(ReviewCard{
		MediaTitle: "Long Reasoning",
		Reasoning:  long,
	})

	reasoning, ok := props["Reasoning"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Len(t, reasoning.RichText[0].Text.Content, notionTextLimit)
}
