package aigen

import (
	"context"

	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/pkg/anthropic"
)

// testBreaker returns a fresh closed breaker so breaker state never leaks
// between tests.
func testBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
}

// mockAI implements anthropic.Client for testing, capturing every request.
type mockAI struct {
	response *anthropic.MessageResponse
	err      error
	requests []anthropic.MessageRequest
}

func (m *mockAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

// textResponse builds a single-text-block response with token usage.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage: anthropic.TokenUsage{
			InputTokens:  120,
			OutputTokens: 40,
		},
	}
}
