// Package aigen holds the AI collaborator adapters for the description and
// vetting stages. Prompts here are structural only: they fix the response
// envelope, not the editorial content.
package aigen

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/pkg/anthropic"
)

// wrapProviderError tags an AI provider failure for the release path.
// Deadline expiry, rate limits, and 5xx retry; anything the API rejected
// outright is permanent for the record.
func wrapProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return resilience.NewTransientError(err, 0)
	}
	if code, ok := anthropic.APIStatusCode(err); ok {
		if resilience.IsTransientHTTPStatus(code) {
			return resilience.NewTransientError(err, code)
		}
		return resilience.NewPermanentError(err)
	}
	// No status means the request never completed. Safe to retry.
	return resilience.NewTransientError(err, 0)
}

// extractJSON slices the first top-level JSON object out of a model response,
// which may carry surrounding prose.
func extractJSON(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("aigen: no JSON in response: %s", snippet(text))
	}
	return []byte(text[start : end+1]), nil
}

// malformed tags an unparseable response as transient: another sample
// usually produces a valid envelope, so parking the record would be wrong.
func malformed(err error) error {
	return resilience.NewTransientError(err, 0)
}

func snippet(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
