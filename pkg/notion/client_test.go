package notion

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// MockClient is a testify mock of Client, shared with the review board
// tests.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNewClientReturnsClient(t *testing.T) {
	assert.NotNil(t, NewClient("test-token"))
}

func TestAPIStatus_FromAPIError(t *testing.T) {
	apiErr := &notionapi.Error{Status: 429, Code: "rate_limited", Message: "rate limited"}
	wrapped := eris.Wrap(apiErr, "notion: create page")

	status, ok := APIStatus(wrapped)
	require.True(t, ok)
	assert.Equal(t, 429, status)
}

func TestAPIStatus_NonAPIError(t *testing.T) {
	_, ok := APIStatus(eris.New("dial tcp: connection refused"))
	assert.False(t, ok)

	_, ok = APIStatus(context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestWithRateLimit_Disable(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, c.limiter)
}

func TestWithRateLimit_Override(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10)).(*notionClient)
	require.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(10), c.limiter.Limit())
}

func TestWait_RespectsContext(t *testing.T) {
	c := &notionClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	require.NoError(t, c.wait(context.Background()))

	// Burst consumed; the next wait would block for an hour.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.wait(ctx))
}

func TestWait_NilLimiter(t *testing.T) {
	c := &notionClient{}
	assert.NoError(t, c.wait(context.Background()))
}
