package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/pkg/podscan"
)

func ptrInt64(v int64) *int64       { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// mockMediaStore implements mediaStore for testing.
type mockMediaStore struct {
	media     *model.Media
	getErr    error
	updateErr error

	updated    bool
	gotSig     model.MediaSignals
	gotQuality float64
	gotReady   bool
}

func (m *mockMediaStore) GetMedia(_ context.Context, _ string) (*model.Media, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.media, nil
}

func (m *mockMediaStore) UpdateMediaSignals(_ context.Context, _ string, sig model.MediaSignals, quality float64, ready bool) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = true
	m.gotSig = sig
	m.gotQuality = quality
	m.gotReady = ready
	return nil
}

// mockProvider implements podscan.Client for testing.
type mockProvider struct {
	byFeed       *podscan.Podcast
	byFeedErr    error
	feedErrTimes int // when > 0, byFeedErr applies to only the first N calls
	search       []podscan.Podcast
	searchErr    error

	feedCalls   int
	searchCalls int
	lastFeedURL string
	lastQuery   string
}

func (m *mockProvider) GetPodcastByFeed(_ context.Context, feedURL string) (*podscan.Podcast, error) {
	m.feedCalls++
	m.lastFeedURL = feedURL
	if m.byFeedErr != nil && (m.feedErrTimes == 0 || m.feedCalls <= m.feedErrTimes) {
		return nil, m.byFeedErr
	}
	return m.byFeed, nil
}

func (m *mockProvider) SearchPodcasts(_ context.Context, query string) ([]podscan.Podcast, error) {
	m.searchCalls++
	m.lastQuery = query
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.search, nil
}

// singleShot disables in-call retries so tests count one provider call per
// attempt.
var singleShot = resilience.RetryConfig{MaxAttempts: 1}

func newTestEnricher(store *mockMediaStore, provider *mockProvider) *Enricher {
	return NewEnricher(store, provider, resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()), singleShot)
}

func fullProfile() *podscan.Podcast {
	return &podscan.Podcast{
		ID:           "ps-1",
		Name:         "The SaaS Operator",
		RSSURL:       "https://saasoperator.fm/feed.xml",
		EpisodeCount: 180,
		Reach: podscan.Reach{
			AudienceEstimate: 42000,
			EngagementScore:  7.4,
			Social:           podscan.Social{Twitter: 6000, LinkedIn: 3500},
		},
	}
}

func storedMedia() *model.Media {
	return &model.Media{
		ID:     "media-1",
		Title:  "The SaaS Operator",
		RSSURL: "https://saasoperator.fm/feed.xml",
	}
}

func TestEnrichMedia_FeedLookup(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{byFeed: fullProfile()}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.feedCalls)
	assert.Equal(t, "https://saasoperator.fm/feed.xml", provider.lastFeedURL)
	assert.Zero(t, provider.searchCalls)

	require.True(t, store.updated)
	require.NotNil(t, store.gotSig.AudienceReach)
	assert.Equal(t, int64(42000), *store.gotSig.AudienceReach)
	require.NotNil(t, store.gotSig.EpisodeCount)
	assert.Equal(t, 180, *store.gotSig.EpisodeCount)
	require.NotNil(t, store.gotSig.SocialFollowers)
	assert.Equal(t, int64(9500), *store.gotSig.SocialFollowers)
	require.NotNil(t, store.gotSig.EngagementScore)
	assert.InDelta(t, 0.74, *store.gotSig.EngagementScore, 0.001)

	// 40*0.84 + 30*0.74 + 20*1.0 + 10*0.38
	assert.InDelta(t, 79.6, store.gotQuality, 0.01)
	assert.True(t, store.gotReady)
}

func TestEnrichMedia_FeedNotFoundFallsBackToSearch(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{
		byFeedErr: &podscan.APIError{StatusCode: 404, Body: "not found"},
		search: []podscan.Podcast{
			{Name: "Some Other Show", EpisodeCount: 10},
			*fullProfile(),
		},
	}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.feedCalls)
	assert.Equal(t, 1, provider.searchCalls)
	assert.Equal(t, "The SaaS Operator", provider.lastQuery)
	require.True(t, store.updated)
	assert.Equal(t, int64(42000), *store.gotSig.AudienceReach)
}

func TestEnrichMedia_NoFeedURLSearchesDirectly(t *testing.T) {
	media := storedMedia()
	media.RSSURL = ""
	store := &mockMediaStore{media: media}
	provider := &mockProvider{search: []podscan.Podcast{*fullProfile()}}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.NoError(t, err)

	assert.Zero(t, provider.feedCalls)
	assert.Equal(t, 1, provider.searchCalls)
	assert.True(t, store.updated)
}

func TestEnrichMedia_NoSearchResultsIsPermanent(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{
		byFeedErr: &podscan.APIError{StatusCode: 404, Body: "not found"},
		search:    []podscan.Podcast{},
	}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider profile")
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, model.ErrorPermanent, resilience.ClassifyError(err))
	assert.False(t, store.updated)
}

func TestEnrichMedia_TransientProviderStatus(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{byFeedErr: &podscan.APIError{StatusCode: 503, Body: "unavailable"}}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	// 503 is not a miss; no search fallback.
	assert.Zero(t, provider.searchCalls)
}

func TestEnrichMedia_RejectedProviderStatusIsPermanent(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{byFeedErr: &podscan.APIError{StatusCode: 401, Body: "bad key"}}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Zero(t, provider.searchCalls)
}

func TestEnrichMedia_NetworkErrorIsTransient(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{byFeedErr: eris.New("dial tcp: connect failed")}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestEnrichMedia_TransientProviderErrorRetriedInCall(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{
		byFeed:       fullProfile(),
		byFeedErr:    &podscan.APIError{StatusCode: 503, Body: "unavailable"},
		feedErrTimes: 1,
	}

	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	e := NewEnricher(store, provider, cb, retry)

	err := e.EnrichMedia(context.Background(), "media-1")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.feedCalls)
	assert.True(t, store.updated)
	// The breaker saw one settled success, not the in-call failure.
	assert.Equal(t, resilience.CircuitClosed, cb.State())
}

func TestEnrichMedia_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{byFeedErr: &podscan.APIError{StatusCode: 503, Body: "unavailable"}}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2})
	e := NewEnricher(store, provider, cb, singleShot)

	for i := 0; i < 2; i++ {
		err := e.EnrichMedia(context.Background(), "media-1")
		require.Error(t, err)
	}

	err := e.EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsTransient(err))
	// Third call never reached the provider.
	assert.Equal(t, 2, provider.feedCalls)
}

func TestEnrichMedia_StoreReadErrorIsTransient(t *testing.T) {
	store := &mockMediaStore{getErr: eris.New("store: get media")}
	provider := &mockProvider{}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load media")
	assert.True(t, resilience.IsTransient(err))
	assert.Zero(t, provider.feedCalls)
}

func TestEnrichMedia_StoreWriteErrorIsTransient(t *testing.T) {
	store := &mockMediaStore{media: storedMedia(), updateErr: eris.New("store: update media signals")}
	provider := &mockProvider{byFeed: fullProfile()}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write signals")
	assert.True(t, resilience.IsTransient(err))
}

func TestEnrichMedia_MergesStoredSignalsForQuality(t *testing.T) {
	media := storedMedia()
	media.AudienceReach = ptrInt64(42000)
	store := &mockMediaStore{media: media}
	provider := &mockProvider{byFeed: &podscan.Podcast{
		Name:         "The SaaS Operator",
		EpisodeCount: 120,
		Reach: podscan.Reach{
			EngagementScore: 6.0,
			Social:          podscan.Social{Twitter: 3000},
		},
	}}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.NoError(t, err)

	// The provider reported no audience; the stored value must not be
	// clobbered and still counts toward quality.
	assert.Nil(t, store.gotSig.AudienceReach)
	// 40*0.84 + 30*0.60 + 20*1.0 + 10*0.12
	assert.InDelta(t, 72.8, store.gotQuality, 0.01)
	assert.True(t, store.gotReady)
}

func TestEnrichMedia_PartialSignalsNotReady(t *testing.T) {
	store := &mockMediaStore{media: storedMedia()}
	provider := &mockProvider{byFeed: &podscan.Podcast{
		Name:         "The SaaS Operator",
		EpisodeCount: 50,
	}}

	err := newTestEnricher(store, provider).EnrichMedia(context.Background(), "media-1")
	require.NoError(t, err)

	assert.False(t, store.gotReady)
	// 20*0.5, nothing else known.
	assert.InDelta(t, 10.0, store.gotQuality, 0.01)
}

func TestBestMatch(t *testing.T) {
	feed := podscan.Podcast{Name: "Wrong Name", RSSURL: "https://saasoperator.fm/feed.xml"}
	exact := podscan.Podcast{Name: "the saas operator"}
	first := podscan.Podcast{Name: "SaaS Weekly"}

	t.Run("feed URL match wins", func(t *testing.T) {
		got := bestMatch([]podscan.Podcast{first, exact, feed}, storedMedia())
		assert.Equal(t, "Wrong Name", got.Name)
	})

	t.Run("exact title beats ranking", func(t *testing.T) {
		m := storedMedia()
		m.RSSURL = ""
		got := bestMatch([]podscan.Podcast{first, exact}, m)
		assert.Equal(t, "the saas operator", got.Name)
	})

	t.Run("falls back to first result", func(t *testing.T) {
		m := storedMedia()
		m.RSSURL = ""
		got := bestMatch([]podscan.Podcast{first}, m)
		assert.Equal(t, "SaaS Weekly", got.Name)
	})
}

func TestSignalsFrom_ZeroValuesStayNil(t *testing.T) {
	sig := signalsFrom(&podscan.Podcast{Name: "Empty Show"})

	assert.Nil(t, sig.AudienceReach)
	assert.Nil(t, sig.EpisodeCount)
	assert.Nil(t, sig.SocialFollowers)
	assert.Nil(t, sig.EngagementScore)
}

func TestNormalizeEngagement(t *testing.T) {
	assert.InDelta(t, 0.74, normalizeEngagement(7.4), 0.001)
	assert.InDelta(t, 1.0, normalizeEngagement(15), 0.001)
	assert.InDelta(t, 0.05, normalizeEngagement(0.5), 0.001)
}

func TestMergeSignals(t *testing.T) {
	m := &model.Media{
		AudienceReach:   ptrInt64(1000),
		EngagementScore: ptrFloat64(0.3),
	}
	fresh := model.MediaSignals{
		AudienceReach: ptrInt64(2000),
		EpisodeCount:  ptrInt(40),
	}

	merged := mergeSignals(m, fresh)
	assert.Equal(t, int64(2000), *merged.AudienceReach)
	assert.Equal(t, 40, *merged.EpisodeCount)
	assert.InDelta(t, 0.3, *merged.EngagementScore, 0.001)
	assert.Nil(t, merged.SocialFollowers)
}
