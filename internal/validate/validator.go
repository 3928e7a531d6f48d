// Package validate implements the acceptability rules a claim's text must
// satisfy before it can be submitted. Rules run in a fixed order and the
// first failing rule wins, so the reported message is always singular and
// deterministic for a given input.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"
)

// Rule identifies which acceptability rule rejected a claim.
type Rule string

const (
	RuleNegation    Rule = "negation"
	RuleWordCount   Rule = "word_count"
	RuleDangling    Rule = "dangling_word"
	RuleLength      Rule = "length"
	RuleNumericOnly Rule = "numeric_only"
	RulePunctuation Rule = "punctuation"
	RuleFutureTense Rule = "future_tense"
)

// MaxLength is the maximum number of characters in a trimmed claim,
// counted in UTF-16 code units as browsers count them.
const MaxLength = 200

// MinWords is the minimum number of whitespace-separated tokens.
const MinWords = 3

// Error is returned when a claim violates one of the rules. It never
// implies any state was mutated.
type Error struct {
	Rule    Rule
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	negationRe    = regexp.MustCompile(`(?i)\b(not|no|neither|nor)\b`)
	numericOnlyRe = regexp.MustCompile(`^\d+$`)
	punctuationRe = regexp.MustCompile(`[!?,;:]`)
	futureTenseRe = regexp.MustCompile(`(?i)\b(will|shall|going to|'ll|would)\b`)
)

// stopWords may not end a claim: articles, prepositions and forms of "be".
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "was": true, "were": true, "be": true,
	"in": true, "on": true, "at": true, "by": true, "with": true,
	"to": true, "for": true, "of": true, "about": true,
}

// Validate checks text against the claim rules and returns nil when the
// claim may be submitted, or an *Error naming the first rule it breaks.
func Validate(text string) error {
	trimmed := strings.TrimSpace(text)

	if negationRe.MatchString(trimmed) {
		return &Error{RuleNegation, "Claims should not contain negations like 'not', 'no', 'neither', or 'nor'. Please rephrase positively."}
	}

	words := strings.Fields(trimmed)
	if len(words) < MinWords {
		return &Error{RuleWordCount, "Claims must contain at least 3 words. Please elaborate further."}
	}

	last := strings.ToLower(words[len(words)-1])
	if stopWords[last] {
		return &Error{RuleDangling, fmt.Sprintf("Claims should not end with words like '%s'. Please complete the sentence.", last)}
	}

	if textLength(trimmed) > MaxLength {
		return &Error{RuleLength, "Claims should not exceed 200 characters. Please shorten your claim."}
	}

	if numericOnlyRe.MatchString(trimmed) {
		return &Error{RuleNumericOnly, "Claims should not contain numbers only. Please provide more context."}
	}

	if punctuationRe.MatchString(trimmed) {
		return &Error{RulePunctuation, "Claims should not contain punctuation other than a period (.)."}
	}

	if futureTenseRe.MatchString(trimmed) {
		return &Error{RuleFutureTense, "Claims should not use future tense like 'will', 'shall', or 'going to'. Please rephrase."}
	}

	return nil
}

// RuleOf returns the rule that rejected err, or "" if err is not a
// validation error.
func RuleOf(err error) Rule {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Rule
	}
	return ""
}

// textLength counts UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice.
func textLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}
