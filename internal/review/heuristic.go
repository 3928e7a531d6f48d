package review

import (
	"context"

	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/validate"
)

// Heuristic is an offline Reviewer. It approves claims that pass the
// validator and extracts the sentences of a text that would pass it. It
// never proposes variants.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

func (Heuristic) Review(_ context.Context, claim model.Claim) (*Verdict, error) {
	if err := validate.Validate(claim.Text); err != nil {
		return &Verdict{Decision: Reject, Description: err.Error()}, nil
	}
	return &Verdict{Decision: Approve, Description: "Passes automated factual-statement checks."}, nil
}

func (Heuristic) Extract(_ context.Context, text string) ([]string, error) {
	var claims []string
	for _, s := range SplitSentences(text) {
		if validate.Validate(s) == nil {
			claims = append(claims, s)
		}
	}
	return dedupe(claims), nil
}

var _ Reviewer = Heuristic{}
