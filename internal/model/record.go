package model

import (
	"time"
)

// Stage names a lockable pipeline stage on a discovery record.
type Stage string

const (
	StageEnrichment Stage = "enrichment"
	StageVetting    Stage = "vetting"
)

// StageStatus represents the state of one stage dimension on a record.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	// StageLimited applies to vetting only: the candidate qualified but the
	// client's weekly quota was exhausted. Revisited by the operator-run
	// limited sweep once quota frees up, without re-scoring.
	StageLimited StageStatus = "limited"
)

// Terminal reports whether the stage has reached a final state. Failed and
// limited records can still be revived (reconciler cooldown, limited sweep)
// but the forward pipeline no longer advances them.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageLimited
}

// ErrorClass categorizes a stage failure for retry decisions.
type ErrorClass string

const (
	ErrorTransient ErrorClass = "transient"
	ErrorPermanent ErrorClass = "permanent"
)

// StageState holds the per-stage columns of a discovery record: status,
// claim marker, failure bookkeeping, and backoff scheduling.
type StageState struct {
	Status      StageStatus `json:"status"`
	ClaimToken  *string     `json:"claim_token,omitempty"`
	ClaimedAt   *time.Time  `json:"claimed_at,omitempty"`
	Error       *string     `json:"error,omitempty"`
	ErrorClass  *ErrorClass `json:"error_class,omitempty"`
	Attempts    int         `json:"attempts"`
	NextRetryAt *time.Time  `json:"next_retry_at,omitempty"`
}

// Claimed reports whether the stage currently carries a claim marker.
func (s StageState) Claimed() bool {
	return s.ClaimToken != nil && *s.ClaimToken != ""
}

// DiscoveryRecord pairs a campaign with a candidate media and tracks its
// progress through enrichment, description, vetting, and match creation.
// The description dimension is derived from the joined media row rather
// than stored: a record is description:present once its media carries an
// AI description.
type DiscoveryRecord struct {
	ID         int64  `json:"id"`
	CampaignID string `json:"campaign_id"`
	MediaID    string `json:"media_id"`

	Enrichment StageState `json:"enrichment"`
	Vetting    StageState `json:"vetting"`

	MatchCreated     bool    `json:"match_created"`
	VettingScore     *int    `json:"vetting_score,omitempty"`
	VettingReasoning *string `json:"vetting_reasoning,omitempty"`

	DiscoveredAt time.Time  `json:"discovered_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	VettedAt     *time.Time `json:"vetted_at,omitempty"`
}

// Qualified reports whether the record's vetting score meets the threshold.
func (r *DiscoveryRecord) Qualified(threshold int) bool {
	return r.VettingScore != nil && *r.VettingScore >= threshold
}

// Stage returns the named stage's state.
func (r *DiscoveryRecord) Stage(stage Stage) StageState {
	if stage == StageVetting {
		return r.Vetting
	}
	return r.Enrichment
}

// StatusCount is one row of the campaign status query: the number of records
// sitting at a given (enrichment_status, vetting_status, match_created)
// combination.
type StatusCount struct {
	Enrichment   StageStatus `json:"enrichment_status"`
	Vetting      StageStatus `json:"vetting_status"`
	MatchCreated bool        `json:"match_created"`
	Count        int         `json:"count"`
}

// CampaignFunnel summarizes a campaign's records by pipeline position.
type CampaignFunnel struct {
	CampaignID string `json:"campaign_id"`

	Total                int `json:"total"`
	EnrichmentPending    int `json:"enrichment_pending"`
	EnrichmentInProgress int `json:"enrichment_in_progress"`
	EnrichmentCompleted  int `json:"enrichment_completed"`
	EnrichmentFailed     int `json:"enrichment_failed"`
	DescriptionMissing   int `json:"description_missing"`
	VettingPending       int `json:"vetting_pending"`
	VettingInProgress    int `json:"vetting_in_progress"`
	VettingCompleted     int `json:"vetting_completed"`
	VettingFailed        int `json:"vetting_failed"`
	VettingLimited       int `json:"vetting_limited"`
	MatchesCreated       int `json:"matches_created"`
}

// FunnelFromCounts aggregates grouped status rows into a funnel summary.
// DescriptionMissing is not derivable from the grouped rows and is filled
// in separately by the caller.
func FunnelFromCounts(campaignID string, counts []StatusCount) CampaignFunnel {
	f := CampaignFunnel{CampaignID: campaignID}
	for _, c := range counts {
		f.Total += c.Count
		switch c.Enrichment {
		case StagePending:
			f.EnrichmentPending += c.Count
		case StageInProgress:
			f.EnrichmentInProgress += c.Count
		case StageCompleted:
			f.EnrichmentCompleted += c.Count
		case StageFailed:
			f.EnrichmentFailed += c.Count
		}
		switch c.Vetting {
		case StagePending:
			f.VettingPending += c.Count
		case StageInProgress:
			f.VettingInProgress += c.Count
		case StageCompleted:
			f.VettingCompleted += c.Count
		case StageFailed:
			f.VettingFailed += c.Count
		case StageLimited:
			f.VettingLimited += c.Count
		}
		if c.MatchCreated {
			f.MatchesCreated += c.Count
		}
	}
	return f
}
