// Package review runs the AI review step of the claim lifecycle.
//
// A Reviewer judges whether a pending claim is a verifiable factual
// statement and may propose variants of it. The Dispatcher feeds
// submitted claims to a Reviewer in the background and applies the
// verdicts through compare-and-set transitions, so a late or duplicate
// verdict can never move a claim backwards.
package review

import (
	"context"
	"strings"

	"github.com/prophet/market-engine/internal/model"
)

// Decision is a reviewer's judgement on a claim.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Verdict is the result of reviewing one claim.
type Verdict struct {
	Decision    Decision `json:"decision"`
	Description string   `json:"description"`
	// Variants are alternative phrasings of an approved claim. They are
	// validated like any submission before being stored.
	Variants []string `json:"variants,omitempty"`
}

// Reviewer is the AI collaborator. Implementations must be safe for
// concurrent use.
type Reviewer interface {
	Review(ctx context.Context, claim model.Claim) (*Verdict, error)

	// Extract proposes claim sentences found in free text.
	Extract(ctx context.Context, text string) ([]string, error)

	Name() string
}

// SplitSentences breaks text into sentences on ., ! and ? followed by
// whitespace. Terminal periods are dropped; other terminators are kept so
// the validator can reject questions and exclamations.
func SplitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")

	var sentences []string
	var current strings.Builder
	flush := func() {
		s := strings.TrimSpace(current.String())
		s = strings.TrimSuffix(s, ".")
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		current.WriteByte(c)
		if (c == '.' || c == '!' || c == '?') && (i+1 == len(text) || text[i+1] == ' ') {
			flush()
		}
	}
	flush()
	return sentences
}

// dedupe drops repeated strings, comparing case-insensitively, keeping the
// first spelling.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
