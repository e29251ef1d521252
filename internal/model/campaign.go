package model

import (
	"time"
)

// Client is a customer whose campaigns consume weekly match quota.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// QuotaState is the persisted weekly quota counter for a client.
// It is mutated only through the atomic check-and-increment.
type QuotaState struct {
	ClientID        string    `json:"client_id"`
	WeeklyAllowance int       `json:"weekly_allowance"`
	CurrentCount    int       `json:"current_count"`
	LastResetAt     time.Time `json:"last_reset_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Remaining returns how many matches the client may still receive this week.
func (q QuotaState) Remaining() int {
	r := q.WeeklyAllowance - q.CurrentCount
	if r < 0 {
		return 0
	}
	return r
}

// Campaign describes an outreach effort for one client.
type Campaign struct {
	ID       string   `json:"id"`
	ClientID string   `json:"client_id"`
	Name     string   `json:"name"`
	Criteria Criteria `json:"criteria"`

	// QualifyThreshold overrides the configured global threshold when set.
	QualifyThreshold *int `json:"qualify_threshold,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Threshold resolves the qualification cutoff for this campaign.
func (c *Campaign) Threshold(globalDefault int) int {
	if c.QualifyThreshold != nil && *c.QualifyThreshold > 0 {
		return *c.QualifyThreshold
	}
	return globalDefault
}

// Criteria is the campaign's vetting brief: what kind of show the client
// wants to appear on. Stored as JSONB on the campaign and handed verbatim
// to the scoring collaborator.
type Criteria struct {
	TargetListener   string   `json:"target_listener" yaml:"target_listener"`
	Topics           []string `json:"topics" yaml:"topics"`
	ExcludedTopics   []string `json:"excluded_topics,omitempty" yaml:"excluded_topics"`
	PreferredFormats []string `json:"preferred_formats,omitempty" yaml:"preferred_formats"`
	MinAudience      int64    `json:"min_audience,omitempty" yaml:"min_audience"`
	Notes            string   `json:"notes,omitempty" yaml:"notes"`
}

// MatchSuggestion records a qualified campaign-media pairing awaiting
// human review.
type MatchSuggestion struct {
	ID          string    `json:"id"`
	DiscoveryID int64     `json:"discovery_id"`
	CampaignID  string    `json:"campaign_id"`
	MediaID     string    `json:"media_id"`
	Score       int       `json:"score"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReviewTaskStatus tracks the human-review lifecycle of a match.
type ReviewTaskStatus string

const (
	ReviewPending  ReviewTaskStatus = "pending_review"
	ReviewApproved ReviewTaskStatus = "approved"
	ReviewRejected ReviewTaskStatus = "rejected"
)

// ReviewTask is the work item an operator acts on for a created match.
type ReviewTask struct {
	ID           string           `json:"id"`
	MatchID      string           `json:"match_id"`
	Status       ReviewTaskStatus `json:"status"`
	NotionPageID *string          `json:"notion_page_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// VettingRecord is an archived score from a previous vetting pass,
// preserved when a record is force re-vetted.
type VettingRecord struct {
	ID          int64     `json:"id"`
	DiscoveryID int64     `json:"discovery_id"`
	Score       int       `json:"score"`
	Reasoning   string    `json:"reasoning,omitempty"`
	VettedAt    time.Time `json:"vetted_at"`
	ArchivedAt  time.Time `json:"archived_at"`
}
