package aigen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/pkg/anthropic"
)

// describePrompt fixes the description response envelope.
const describePrompt = `You are writing internal research notes for a podcast guest-booking team. From the profile provided, write a 2-4 sentence description of the show: its subject matter, its typical audience, and what kinds of guests fit.

Respond with ONLY valid JSON, no other text:
{"description": "..."}`

type descriptionEnvelope struct {
	Description string `json:"description"`
}

// Describer generates AI descriptions for enriched media. The circuit
// breaker guards every provider call; an open breaker surfaces as a
// transient failure so records retry once the provider recovers.
type Describer struct {
	ai      anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewDescriber creates a description adapter using the given model.
func NewDescriber(ai anthropic.Client, model string, breaker *resilience.CircuitBreaker) *Describer {
	return &Describer{ai: ai, model: model, breaker: breaker}
}

// GenerateDescription produces a research description for the media.
// Failures are tagged transient or permanent for the release path.
func (d *Describer) GenerateDescription(ctx context.Context, m *model.Media) (string, error) {
	resp, err := resilience.ExecuteVal(ctx, d.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := d.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     d.model,
			MaxTokens: 512,
			System:    []anthropic.SystemBlock{{Text: describePrompt}},
			Messages:  []anthropic.Message{{Role: "user", Content: mediaDoc(m)}},
		})
		if err != nil {
			return nil, wrapProviderError(eris.Wrap(err, "aigen: describe request"))
		}
		return resp, nil
	})
	if err != nil {
		return "", err
	}

	resp.Usage.LogCost(d.model, "description")

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", malformed(eris.New("aigen: empty description response"))
	}

	raw, err := extractJSON(text)
	if err != nil {
		return "", malformed(err)
	}

	var env descriptionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", malformed(eris.Wrap(err, "aigen: parse description envelope"))
	}

	desc := strings.TrimSpace(env.Description)
	if desc == "" {
		return "", malformed(eris.New("aigen: blank description in envelope"))
	}

	return desc, nil
}

// mediaDoc flattens the media profile into the prompt document. Unset
// signals are omitted rather than rendered as zeros.
func mediaDoc(m *model.Media) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", m.Title)
	if m.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", m.Category)
	}
	if m.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", m.Website)
	}
	if m.RSSURL != "" {
		fmt.Fprintf(&b, "RSS feed: %s\n", m.RSSURL)
	}
	if m.AudienceReach != nil {
		fmt.Fprintf(&b, "Estimated audience: %d\n", *m.AudienceReach)
	}
	if m.EpisodeCount != nil {
		fmt.Fprintf(&b, "Episodes published: %d\n", *m.EpisodeCount)
	}
	if m.SocialFollowers != nil {
		fmt.Fprintf(&b, "Social followers: %d\n", *m.SocialFollowers)
	}
	if m.EngagementScore != nil {
		fmt.Fprintf(&b, "Engagement score: %.2f\n", *m.EngagementScore)
	}
	return b.String()
}
