package model

import (
	"fmt"
	"strings"
	"time"
)

// Media represents a candidate podcast tracked by the pipeline.
type Media struct {
	ID           string `json:"id"`
	CanonicalKey string `json:"canonical_key"`
	Title        string `json:"title"`
	Website      string `json:"website,omitempty"`
	RSSURL       string `json:"rss_url,omitempty"`
	Category     string `json:"category,omitempty"`

	// Enrichment signals. Nullable until the enrichment provider fills them.
	AudienceReach   *int64   `json:"audience_reach,omitempty"`
	EpisodeCount    *int     `json:"episode_count,omitempty"`
	SocialFollowers *int64   `json:"social_followers,omitempty"`
	EngagementScore *float64 `json:"engagement_score,omitempty"`

	QualityScore *float64 `json:"quality_score,omitempty"`
	QualityReady bool     `json:"quality_ready"`

	AIDescription          *string    `json:"ai_description,omitempty"`
	DescriptionAttempts    int        `json:"description_attempts"`
	DescriptionAttemptedAt *time.Time `json:"description_attempted_at,omitempty"`

	LastEnrichedAt *time.Time `json:"last_enriched_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DescriptionPresent reports whether the media carries a usable AI description.
func (m *Media) DescriptionPresent() bool {
	return m.AIDescription != nil && strings.TrimSpace(*m.AIDescription) != ""
}

// SignalsComplete reports whether all enrichment signals have been filled.
// The reconciler uses this to repair records stuck in enrichment:pending
// whose media was already enriched through another campaign's record.
func (m *Media) SignalsComplete() bool {
	return m.AudienceReach != nil && m.EpisodeCount != nil &&
		m.SocialFollowers != nil && m.EngagementScore != nil
}

// Profile assembles the vetting input document for this media.
func (m *Media) Profile() MediaProfile {
	p := MediaProfile{
		MediaID:  m.ID,
		Title:    m.Title,
		Website:  m.Website,
		Category: m.Category,
	}
	if m.AudienceReach != nil {
		p.AudienceReach = *m.AudienceReach
	}
	if m.EpisodeCount != nil {
		p.EpisodeCount = *m.EpisodeCount
	}
	if m.SocialFollowers != nil {
		p.SocialFollowers = *m.SocialFollowers
	}
	if m.EngagementScore != nil {
		p.EngagementScore = *m.EngagementScore
	}
	if m.QualityScore != nil {
		p.QualityScore = *m.QualityScore
	}
	if m.AIDescription != nil {
		p.Description = *m.AIDescription
	}
	return p
}

// MediaProfile is the flattened candidate document handed to the vetting
// scorer alongside the campaign criteria.
type MediaProfile struct {
	MediaID         string  `json:"media_id"`
	Title           string  `json:"title"`
	Website         string  `json:"website,omitempty"`
	Category        string  `json:"category,omitempty"`
	Description     string  `json:"description,omitempty"`
	AudienceReach   int64   `json:"audience_reach"`
	EpisodeCount    int     `json:"episode_count"`
	SocialFollowers int64   `json:"social_followers"`
	EngagementScore float64 `json:"engagement_score"`
	QualityScore    float64 `json:"quality_score"`
}

// MediaSignals carries the metric updates produced by an enrichment call.
// Nil fields are left untouched so repeated enrichment stays idempotent.
type MediaSignals struct {
	AudienceReach   *int64
	EpisodeCount    *int
	SocialFollowers *int64
	EngagementScore *float64
}

// QualityScore aggregates raw signals into a single 0-100 quality figure.
// Weights: audience 40%, engagement 30%, catalog depth 20%, social 10%.
func (s MediaSignals) QualityScore() float64 {
	var score float64
	if s.AudienceReach != nil {
		score += 40 * capRatio(float64(*s.AudienceReach), 50000)
	}
	if s.EngagementScore != nil {
		score += 30 * capRatio(*s.EngagementScore, 1.0)
	}
	if s.EpisodeCount != nil {
		score += 20 * capRatio(float64(*s.EpisodeCount), 100)
	}
	if s.SocialFollowers != nil {
		score += 10 * capRatio(float64(*s.SocialFollowers), 25000)
	}
	return score
}

func capRatio(v, cap float64) float64 {
	if v <= 0 || cap <= 0 {
		return 0
	}
	if v >= cap {
		return 1
	}
	return v / cap
}

// String returns a short identity for logs.
func (m *Media) String() string {
	return fmt.Sprintf("%s (%s)", m.Title, m.CanonicalKey)
}
