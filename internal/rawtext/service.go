// Package rawtext stores source material (speeches, articles) and turns it
// into narrative claims with the help of the AI collaborator.
package rawtext

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/store"
	"github.com/prophet/market-engine/internal/validate"
)

// ErrEmptyContent is returned when a text has no visible content.
var ErrEmptyContent = errors.New("rawtext: content is empty")

// Extractor proposes claim sentences found in free text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// ClaimSubmitter is the part of the claim service used for extraction.
type ClaimSubmitter interface {
	Submit(ctx context.Context, text, author string) (*model.Claim, error)
	FindByText(ctx context.Context, text string) (*model.Claim, error)
}

// NarrativeClaim is one claim found in a text. GeneratedByAI is true only
// for claims this extraction created.
type NarrativeClaim struct {
	ID            int64        `json:"id"`
	Slug          string       `json:"slug"`
	Text          string       `json:"text"`
	Status        model.Status `json:"verification_status_name"`
	GeneratedByAI bool         `json:"generated_by_ai"`
}

// Service handles raw texts.
type Service struct {
	store     store.Store
	extractor Extractor
	claims    ClaimSubmitter
	logger    *slog.Logger
}

// NewService creates a raw-text service.
func NewService(st store.Store, extractor Extractor, claims ClaimSubmitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, extractor: extractor, claims: claims, logger: logger.With("component", "rawtext")}
}

// Hash returns the content hash used for duplicate detection: SHA-256 of
// the visible text with whitespace collapsed and case folded.
func Hash(content string) string {
	norm := strings.ToLower(VisibleText(content))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// CheckDuplicate reports whether equivalent content was stored before.
func (s *Service) CheckDuplicate(ctx context.Context, content string) (bool, error) {
	_, err := s.store.GetRawTextByHash(ctx, Hash(content))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotFound):
		return false, nil
	}
	return false, err
}

// Create stores content. Equivalent content yields model.ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, content string, source, genre int64) (*model.RawText, error) {
	if VisibleText(content) == "" {
		return nil, ErrEmptyContent
	}
	r := &model.RawText{
		Content:     content,
		ContentHash: Hash(content),
		Source:      source,
		Genre:       genre,
	}
	if err := s.store.CreateRawText(ctx, r); err != nil {
		return nil, fmt.Errorf("create raw text: %w", err)
	}
	s.logger.Info("raw text stored", "id", r.ID, "hash", r.ContentHash[:12])
	return r, nil
}

// GenerateClaims extracts claims from text. Drafts that fail validation are
// dropped; drafts matching an existing claim return that claim; the rest
// are submitted as new pending claims and queued for review.
func (s *Service) GenerateClaims(ctx context.Context, text, author string) ([]NarrativeClaim, error) {
	visible := VisibleText(text)
	if visible == "" {
		return nil, ErrEmptyContent
	}
	drafts, err := s.extractor.Extract(ctx, visible)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}

	out := make([]NarrativeClaim, 0, len(drafts))
	seen := make(map[int64]bool)
	for _, draft := range drafts {
		draft = strings.TrimSpace(draft)
		if err := validate.Validate(draft); err != nil {
			s.logger.Debug("dropping draft", "rule", validate.RuleOf(err))
			continue
		}

		c, err := s.claims.FindByText(ctx, draft)
		generated := false
		switch {
		case err == nil:
		case errors.Is(err, model.ErrNotFound):
			c, err = s.claims.Submit(ctx, draft, author)
			if err != nil {
				return out, fmt.Errorf("submit draft: %w", err)
			}
			generated = true
		default:
			return out, err
		}

		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, NarrativeClaim{
			ID:            c.ID,
			Slug:          c.Slug,
			Text:          c.Text,
			Status:        c.Status,
			GeneratedByAI: generated,
		})
	}
	s.logger.Info("claims generated", "drafts", len(drafts), "returned", len(out))
	return out, nil
}

// VisibleText reduces HTML to its visible text with whitespace collapsed.
// Plain text passes through with only whitespace normalized.
func VisibleText(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return strings.Join(strings.Fields(content), " ")
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(buf.String()), " ")
}
