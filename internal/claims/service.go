// Package claims owns the claim lifecycle: submission, slug assignment,
// lookups and the review-driven status transitions.
//
// The only transition this package never performs is ai_reviewed ->
// market_created; the market engine does that atomically with market
// creation.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/prophet/market-engine/internal/metrics"
	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/slug"
	"github.com/prophet/market-engine/internal/store"
	"github.com/prophet/market-engine/internal/validate"
)

// maxSlugAttempts bounds the numbered suffixes tried before falling back
// to a random suffix.
const maxSlugAttempts = 20

// ReviewQueue receives newly submitted claims for asynchronous review.
// Enqueue must not block; it reports whether the claim was accepted.
type ReviewQueue interface {
	Enqueue(c model.Claim) bool
}

// Service handles claim operations.
type Service struct {
	store  store.Store
	queue  ReviewQueue
	logger *slog.Logger
}

// NewService creates a claim service. queue may be nil, in which case
// claims stay pending until a review callback arrives.
func NewService(st store.Store, queue ReviewQueue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, queue: queue, logger: logger.With("component", "claims")}
}

// SetReviewQueue attaches the review queue after construction; the
// dispatcher itself depends on this service.
func (s *Service) SetReviewQueue(q ReviewQueue) {
	s.queue = q
}

// Submit validates text and stores it as a pending claim with a unique
// slug. An empty author is recorded as model.NoWallet. Validation failures
// are returned as *validate.Error and leave no trace in the store.
func (s *Service) Submit(ctx context.Context, text, author string) (*model.Claim, error) {
	c, err := s.create(ctx, text, author, nil)
	if err != nil {
		return nil, err
	}
	s.enqueue(*c)
	return c, nil
}

func (s *Service) create(ctx context.Context, text, author string, parentID *int64) (*model.Claim, error) {
	text = strings.TrimSpace(text)
	if err := validate.Validate(text); err != nil {
		metrics.ClaimsRejectedByValidator.WithLabelValues(string(validate.RuleOf(err))).Inc()
		return nil, err
	}
	base, err := slug.Make(text)
	if err != nil {
		return nil, fmt.Errorf("derive slug: %w", err)
	}
	if strings.TrimSpace(author) == "" {
		author = model.NoWallet
	}

	c := &model.Claim{
		Text:     text,
		Author:   author,
		Status:   model.StatusPending,
		ParentID: parentID,
	}
	for n := 1; n <= maxSlugAttempts+1; n++ {
		c.Slug = slug.WithSuffix(base, n)
		if n > maxSlugAttempts {
			c.Slug = base + "-" + uuid.NewString()[:8]
		}
		err = s.store.CreateClaim(ctx, c)
		if err == nil {
			metrics.ClaimsSubmitted.Inc()
			s.logger.Info("claim submitted", "id", c.ID, "slug", c.Slug, "author", c.Author)
			return c, nil
		}
		if !errors.Is(err, model.ErrAlreadyExists) {
			return nil, fmt.Errorf("create claim: %w", err)
		}
	}
	return nil, fmt.Errorf("create claim: no free slug for %q: %w", base, err)
}

func (s *Service) enqueue(c model.Claim) {
	if s.queue == nil {
		return
	}
	if !s.queue.Enqueue(c) {
		s.logger.Warn("review queue full, claim stays pending", "id", c.ID)
	}
}

// Get returns a claim by ID.
func (s *Service) Get(ctx context.Context, id int64) (*model.Claim, error) {
	return s.store.GetClaim(ctx, id)
}

// FindBySlug returns a claim by slug. Malformed slugs are reported as not
// found.
func (s *Service) FindBySlug(ctx context.Context, sl string) (*model.Claim, error) {
	if _, err := slug.Parse(sl); err != nil {
		return nil, fmt.Errorf("claim %q: %w", sl, model.ErrNotFound)
	}
	return s.store.GetClaimBySlug(ctx, sl)
}

// FindByText returns the oldest claim with exactly this (trimmed) text.
func (s *Service) FindByText(ctx context.Context, text string) (*model.Claim, error) {
	return s.store.FindClaimByText(ctx, strings.TrimSpace(text))
}

// List returns claims newest first.
func (s *Service) List(ctx context.Context, f model.ClaimFilter) ([]model.Claim, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", f.Status, model.ErrInvalidState)
	}
	return s.store.ListClaims(ctx, f)
}

// MarkReviewed moves a pending claim to ai_reviewed.
func (s *Service) MarkReviewed(ctx context.Context, id int64, description string) (*model.Claim, error) {
	return s.transition(ctx, id, model.StatusPending, model.StatusAIReviewed, description)
}

// Reject moves a pending claim to the terminal rejected state.
func (s *Service) Reject(ctx context.Context, id int64, description string) (*model.Claim, error) {
	return s.transition(ctx, id, model.StatusPending, model.StatusRejected, description)
}

func (s *Service) transition(ctx context.Context, id int64, from, to model.Status, description string) (*model.Claim, error) {
	c, err := s.store.TransitionClaim(ctx, id, from, to, description)
	if err != nil {
		return nil, err
	}
	metrics.ClaimTransitions.WithLabelValues(string(to)).Inc()
	s.logger.Info("claim transitioned", "id", id, "from", from, "to", to)
	return c, nil
}

// AddVariants stores review-derived restatements of a parent claim. Each
// variant is validated; invalid drafts and texts that already exist as
// claims are skipped. Stored variants are created pending and promoted to
// ai_reviewed at once, since they came out of a review.
func (s *Service) AddVariants(ctx context.Context, parentID int64, texts []string) ([]model.Claim, error) {
	parent, err := s.store.GetClaim(ctx, parentID)
	if err != nil {
		return nil, err
	}

	var added []model.Claim
	seen := make(map[string]bool)
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" || seen[text] || text == parent.Text {
			continue
		}
		seen[text] = true

		if _, err := s.store.FindClaimByText(ctx, text); err == nil {
			continue
		} else if !errors.Is(err, model.ErrNotFound) {
			return added, err
		}

		pid := parent.ID
		c, err := s.create(ctx, text, parent.Author, &pid)
		if err != nil {
			var verr *validate.Error
			if errors.As(err, &verr) {
				s.logger.Debug("skipping invalid variant", "parent", parentID, "rule", verr.Rule)
				continue
			}
			return added, err
		}
		reviewed, err := s.transition(ctx, c.ID, model.StatusPending, model.StatusAIReviewed,
			fmt.Sprintf("Variant of claim #%d", parent.ID))
		if err != nil {
			return added, err
		}
		added = append(added, *reviewed)
	}
	return added, nil
}
