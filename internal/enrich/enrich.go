// Package enrich resolves media rows against the Podscan provider and maps
// its metrics onto media signal columns.
package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/pkg/podscan"
)

// mediaStore is the store slice the enricher needs.
type mediaStore interface {
	GetMedia(ctx context.Context, id string) (*model.Media, error)
	UpdateMediaSignals(ctx context.Context, mediaID string, sig model.MediaSignals, qualityScore float64, qualityReady bool) error
}

// Enricher fetches provider metrics for one media row and writes them back.
// Writes preserve stored values wherever the provider reports nothing, so
// repeating an enrichment never degrades a row.
type Enricher struct {
	store    mediaStore
	provider podscan.Client
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
}

// NewEnricher creates an enrichment adapter. The circuit breaker guards every
// provider call and the retry config bounds in-call retries of transient
// provider failures; the breaker counts only the settled outcome.
func NewEnricher(store mediaStore, provider podscan.Client, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig) *Enricher {
	return &Enricher{store: store, provider: provider, breaker: breaker, retry: retry}
}

// EnrichMedia resolves the provider profile for one media row and writes the
// resulting signals plus the derived quality aggregate. Failures come back
// tagged transient or permanent for the release path.
func (e *Enricher) EnrichMedia(ctx context.Context, mediaID string) error {
	m, err := e.store.GetMedia(ctx, mediaID)
	if err != nil {
		// A discovery's media row cannot vanish under the FK; treat store
		// trouble as retryable and let the attempt ladder bound it.
		return resilience.NewTransientError(eris.Wrap(err, "enrich: load media"), 0)
	}

	p, err := e.lookup(ctx, m)
	if err != nil {
		return err
	}

	sig := signalsFrom(p)
	merged := mergeSignals(m, sig)
	quality := merged.QualityScore()
	ready := signalsComplete(merged)

	if err := e.store.UpdateMediaSignals(ctx, mediaID, sig, quality, ready); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "enrich: write signals"), 0)
	}

	zap.L().Debug("media enriched",
		zap.String("media_id", mediaID),
		zap.String("title", m.Title),
		zap.Float64("quality_score", quality),
		zap.Bool("quality_ready", ready),
	)
	return nil
}

// lookup resolves the provider profile: RSS feed lookup first, title search
// when the feed is unknown to the provider or the row has no feed URL.
func (e *Enricher) lookup(ctx context.Context, m *model.Media) (*podscan.Podcast, error) {
	if m.RSSURL != "" {
		p, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*podscan.Podcast, error) {
			return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*podscan.Podcast, error) {
				p, err := e.provider.GetPodcastByFeed(ctx, m.RSSURL)
				if err != nil {
					return nil, classifyProviderError(err)
				}
				return p, nil
			})
		})
		if err == nil {
			return p, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return e.searchByTitle(ctx, m)
}

func (e *Enricher) searchByTitle(ctx context.Context, m *model.Media) (*podscan.Podcast, error) {
	results, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) ([]podscan.Podcast, error) {
		return resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]podscan.Podcast, error) {
			results, err := e.provider.SearchPodcasts(ctx, m.Title)
			if err != nil {
				return nil, classifyProviderError(err)
			}
			return results, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, resilience.NewPermanentError(eris.Errorf("enrich: provider has no profile for %q", m.Title))
	}
	return bestMatch(results, m), nil
}

// bestMatch picks the search result to trust: a feed URL match beats an exact
// title match beats the provider's own ranking.
func bestMatch(results []podscan.Podcast, m *model.Media) *podscan.Podcast {
	if m.RSSURL != "" {
		for i := range results {
			if results[i].RSSURL == m.RSSURL {
				return &results[i]
			}
		}
	}
	for i := range results {
		if strings.EqualFold(results[i].Name, m.Title) {
			return &results[i]
		}
	}
	return &results[0]
}

// classifyProviderError tags a provider failure for the release path and the
// circuit breaker. 404/410 mean the show is unknown to the provider; other
// rejected statuses are permanent for the record; everything else retries.
func classifyProviderError(err error) error {
	var apiErr *podscan.APIError
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return resilience.NewPermanentError(err)
	}
	if resilience.IsTransient(err) {
		return err
	}
	return resilience.NewTransientError(err, 0)
}

func isNotFound(err error) bool {
	var apiErr *podscan.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone
}

// signalsFrom maps a provider profile onto signal updates. Zero provider
// values map to nil so stored values survive the write.
func signalsFrom(p *podscan.Podcast) model.MediaSignals {
	var sig model.MediaSignals
	if p.Reach.AudienceEstimate > 0 {
		v := p.Reach.AudienceEstimate
		sig.AudienceReach = &v
	}
	if p.EpisodeCount > 0 {
		v := p.EpisodeCount
		sig.EpisodeCount = &v
	}
	if total := p.Reach.Social.Total(); total > 0 {
		sig.SocialFollowers = &total
	}
	if p.Reach.EngagementScore > 0 {
		v := normalizeEngagement(p.Reach.EngagementScore)
		sig.EngagementScore = &v
	}
	return sig
}

// normalizeEngagement converts Podscan's 0-10 engagement scale to the 0-1
// scale the quality aggregate expects.
func normalizeEngagement(v float64) float64 {
	v = v / 10
	if v > 1 {
		return 1
	}
	return v
}

// mergeSignals overlays fresh signals on the stored row, mirroring the
// COALESCE the write performs, so the quality aggregate is computed over
// what the row will actually hold.
func mergeSignals(m *model.Media, sig model.MediaSignals) model.MediaSignals {
	merged := model.MediaSignals{
		AudienceReach:   m.AudienceReach,
		EpisodeCount:    m.EpisodeCount,
		SocialFollowers: m.SocialFollowers,
		EngagementScore: m.EngagementScore,
	}
	if sig.AudienceReach != nil {
		merged.AudienceReach = sig.AudienceReach
	}
	if sig.EpisodeCount != nil {
		merged.EpisodeCount = sig.EpisodeCount
	}
	if sig.SocialFollowers != nil {
		merged.SocialFollowers = sig.SocialFollowers
	}
	if sig.EngagementScore != nil {
		merged.EngagementScore = sig.EngagementScore
	}
	return merged
}

func signalsComplete(sig model.MediaSignals) bool {
	return sig.AudienceReach != nil && sig.EpisodeCount != nil &&
		sig.SocialFollowers != nil && sig.EngagementScore != nil
}
