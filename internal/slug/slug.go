// Package slug derives URL-safe claim identifiers from claim text and
// validates slugs received from clients.
package slug

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength bounds the base slug derived from text. Collision suffixes may
// extend it by a few characters.
const MaxLength = 60

// slugRegex matches lowercase ASCII words joined by single hyphens.
// Example: senator-raised-taxes-this-year-2
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var (
	ErrInvalidSlug = errors.New("slug: invalid format")
	ErrEmpty       = errors.New("slug: text has no usable characters")
)

// Make derives the base slug for text: accents are stripped, everything
// that is not an ASCII letter or digit becomes a hyphen, and the result is
// trimmed to MaxLength on a word boundary.
func Make(text string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		return "", fmt.Errorf("slug: transliterate: %w", err)
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	s := b.String()
	if s == "" {
		return "", ErrEmpty
	}
	if len(s) > MaxLength {
		s = s[:MaxLength]
		if i := strings.LastIndexByte(s, '-'); i > 0 {
			s = s[:i]
		}
		s = strings.TrimRight(s, "-")
	}
	return s, nil
}

// WithSuffix returns the n-th collision candidate for base: the base itself
// for n <= 1, otherwise base-n.
func WithSuffix(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// Parse validates a slug received from a client.
func Parse(s string) (string, error) {
	if !slugRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, s)
	}
	return s, nil
}
