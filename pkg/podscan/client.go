// Package podscan provides a client for the Podscan podcast intelligence API.
package podscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Podscan operations used by the enrichment adapter.
type Client interface {
	// GetPodcastByFeed looks up a podcast profile by its RSS feed URL.
	GetPodcastByFeed(ctx context.Context, feedURL string) (*Podcast, error)
	// SearchPodcasts performs a title/keyword search and returns candidate profiles.
	SearchPodcasts(ctx context.Context, query string) ([]Podcast, error)
}

// Podcast is the provider's podcast profile.
type Podcast struct {
	ID           string `json:"podcast_id"`
	Name         string `json:"podcast_name"`
	URL          string `json:"podcast_url"`
	RSSURL       string `json:"rss_url"`
	Category     string `json:"category"`
	EpisodeCount int    `json:"episode_count"`
	Reach        Reach  `json:"reach"`
}

// Reach aggregates the provider's audience and social metrics.
type Reach struct {
	AudienceEstimate int64   `json:"audience_estimate"`
	EngagementScore  float64 `json:"engagement_score"`
	Social           Social  `json:"social"`
}

// Social holds per-network follower counts.
type Social struct {
	Twitter   int64 `json:"twitter_followers"`
	Instagram int64 `json:"instagram_followers"`
	LinkedIn  int64 `json:"linkedin_followers"`
	YouTube   int64 `json:"youtube_subscribers"`
}

// Total sums follower counts across networks.
func (s Social) Total() int64 {
	return s.Twitter + s.Instagram + s.LinkedIn + s.YouTube
}

// APIError is returned for non-2xx provider responses that survive retries.
// Callers classify retryability from the status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("podscan: status %d: %s", e.StatusCode, e.Body)
}

type podcastEnvelope struct {
	Podcast Podcast `json:"podcast"`
}

type searchEnvelope struct {
	Podcasts []Podcast `json:"podcasts"`
}

// Option configures the Podscan client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate (2 req/s). Zero disables
// throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Podscan client. Requests are throttled to 2 req/s
// by default (the provider allows 120 req/min).
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://podscan.fm/api/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Each attempt waits on the rate
// limiter first. Returns the response body and status code on success, or the
// last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, 0, eris.Wrap(err, "podscan: rate limit")
			}
		}

		// Clone request for retry (body is nil for GET requests).
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "podscan: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("podscan: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "podscan: create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "podscan: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, &APIError{StatusCode: statusCode, Body: string(body)}
	}

	return body, nil
}

func (c *httpClient) GetPodcastByFeed(ctx context.Context, feedURL string) (*Podcast, error) {
	reqURL := fmt.Sprintf("%s/podcasts/by_feed?feed_url=%s", c.baseURL, url.QueryEscape(feedURL))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var env podcastEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "podscan: unmarshal podcast response")
	}

	return &env.Podcast, nil
}

func (c *httpClient) SearchPodcasts(ctx context.Context, query string) ([]Podcast, error) {
	reqURL := fmt.Sprintf("%s/podcasts/search?query=%s", c.baseURL, url.QueryEscape(query))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "podscan: unmarshal search response")
	}

	return env.Podcasts, nil
}
