package aigen

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/resilience"
	"github.com/castmatch/outreach-cli/pkg/anthropic"
)

// vetPrompt fixes the scoring scale and response envelope.
const vetPrompt = `You are vetting a podcast as a guest-appearance target for a client campaign. The campaign criteria follow as a separate system document. Score how well the candidate profile fits the criteria on an integer scale of 0 to 100, where 0 is no fit and 100 is a perfect fit.

Respond with ONLY valid JSON, no other text:
{"score": 0, "reasoning": "brief explanation"}`

type scoreEnvelope struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Verdict is the scoring collaborator's output for one candidate.
type Verdict struct {
	Score     int
	Reasoning string
}

// Scorer evaluates candidate media against campaign criteria. The circuit
// breaker is shared with the describer: both stages call the same provider.
type Scorer struct {
	ai      anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewScorer creates a vetting adapter using the given model.
func NewScorer(ai anthropic.Client, model string, breaker *resilience.CircuitBreaker) *Scorer {
	return &Scorer{ai: ai, model: model, breaker: breaker}
}

// PrimeCriteria warms the prompt cache for a campaign's criteria block so a
// concurrent vetting pool pays one cache write instead of one per worker.
func (s *Scorer) PrimeCriteria(ctx context.Context, criteria model.Criteria) error {
	system, err := criteriaSystemBlocks(criteria)
	if err != nil {
		return err
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := anthropic.PrimerRequest(ctx, s.ai, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: 32,
			System:    system,
			Messages:  []anthropic.Message{{Role: "user", Content: "Acknowledge the campaign criteria."}},
		})
		if err != nil {
			return nil, wrapProviderError(err)
		}
		return resp, nil
	})
	if err != nil {
		return err
	}

	resp.Usage.LogCost(s.model, "vetting_primer")
	return nil
}

// ScoreCandidate scores one candidate profile against the campaign criteria.
// Failures are tagged transient or permanent for the release path.
func (s *Scorer) ScoreCandidate(ctx context.Context, criteria model.Criteria, profile model.MediaProfile) (*Verdict, error) {
	system, err := criteriaSystemBlocks(criteria)
	if err != nil {
		return nil, err
	}

	doc, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "aigen: marshal candidate profile")
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: 1024,
			System:    system,
			Messages: []anthropic.Message{
				{Role: "user", Content: "Candidate profile:\n" + string(doc) + "\n\nScore this candidate against the campaign criteria."},
			},
		})
		if err != nil {
			return nil, wrapProviderError(eris.Wrap(err, "aigen: vet request"))
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp.Usage.LogCost(s.model, "vetting")

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, malformed(eris.New("aigen: empty vetting response"))
	}

	raw, err := extractJSON(text)
	if err != nil {
		return nil, malformed(err)
	}

	var env scoreEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(eris.Wrap(err, "aigen: parse vetting envelope"))
	}

	score := int(math.Round(env.Score))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &Verdict{Score: score, Reasoning: strings.TrimSpace(env.Reasoning)}, nil
}

// criteriaSystemBlocks builds the system prompt: the structural vetting
// prompt followed by the campaign criteria as a cached block. The cache
// breakpoint sits on the criteria so the whole prefix is reused across every
// candidate scored for the same campaign.
func criteriaSystemBlocks(criteria model.Criteria) ([]anthropic.SystemBlock, error) {
	doc, err := json.MarshalIndent(criteria, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "aigen: marshal campaign criteria")
	}

	blocks := []anthropic.SystemBlock{{Text: vetPrompt}}
	blocks = append(blocks, anthropic.BuildCachedSystemBlocks("Campaign criteria:\n"+string(doc))...)
	return blocks, nil
}
