package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prophet/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for claims and markets. Writes go to the primary store and then
// refresh or invalidate the cache; reads check Redis first and fall back
// to the primary. Balances, positions and the ledger are never cached.
type CachedStore struct {
	Store // passthrough for everything not overridden below

	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:   primary,
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Claims ---

func (s *CachedStore) CreateClaim(ctx context.Context, c *model.Claim) error {
	if err := s.primary.CreateClaim(ctx, c); err != nil {
		return err
	}
	s.cacheClaim(ctx, c)
	return nil
}

func (s *CachedStore) GetClaim(ctx context.Context, id int64) (*model.Claim, error) {
	var c model.Claim
	if s.getJSON(ctx, claimKey(id), &c) {
		return &c, nil
	}

	got, err := s.primary.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheClaim(ctx, got)
	return got, nil
}

func (s *CachedStore) GetClaimBySlug(ctx context.Context, slug string) (*model.Claim, error) {
	if id, err := s.rdb.Get(ctx, claimSlugKey(slug)).Int64(); err == nil {
		return s.GetClaim(ctx, id)
	}

	c, err := s.primary.GetClaimBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	s.cacheClaim(ctx, c)
	return c, nil
}

func (s *CachedStore) TransitionClaim(ctx context.Context, id int64, from, to model.Status, description string) (*model.Claim, error) {
	c, err := s.primary.TransitionClaim(ctx, id, from, to, description)
	if err != nil {
		// A lost CAS may mean our cached copy is stale.
		s.rdb.Del(ctx, claimKey(id))
		return nil, err
	}
	s.cacheClaim(ctx, c)
	return c, nil
}

// --- Markets ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	err := s.primary.CreateMarket(ctx, m)
	// The claim's status changes on success and may be stale on failure.
	s.rdb.Del(ctx, claimKey(m.ClaimID))
	if err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.getJSON(ctx, marketKey(id), &m) {
		return &m, nil
	}

	got, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, got)
	return got, nil
}

func (s *CachedStore) GetMarketByClaim(ctx context.Context, claimID int64) (*model.Market, error) {
	if id, err := s.rdb.Get(ctx, claimMarketKey(claimID)).Result(); err == nil {
		return s.GetMarket(ctx, id)
	}

	m, err := s.primary.GetMarketByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

// --- Buys ---

func (s *CachedStore) ApplyBuy(ctx context.Context, fill *model.Fill) (*model.BuyResult, error) {
	res, err := s.primary.ApplyBuy(ctx, fill)
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			// The caller priced from a stale market; make the retry read
			// the primary.
			s.rdb.Del(ctx, marketKey(fill.Entry.MarketID))
		}
		return nil, err
	}
	s.cacheMarket(ctx, &res.Market)
	return res, nil
}

// --- Cache helpers ---

func (s *CachedStore) getJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cacheClaim(ctx context.Context, c *model.Claim) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, claimKey(c.ID), data, s.ttl)
	pipe.Set(ctx, claimSlugKey(c.Slug), strconv.FormatInt(c.ID, 10), s.ttl)
	_, _ = pipe.Exec(ctx)
}

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, marketKey(m.ID), data, s.ttl)
	pipe.Set(ctx, claimMarketKey(m.ClaimID), m.ID, s.ttl)
	_, _ = pipe.Exec(ctx)
}

func claimKey(id int64) string            { return fmt.Sprintf("prophet:claim:%d", id) }
func claimSlugKey(slug string) string     { return fmt.Sprintf("prophet:claim-slug:%s", slug) }
func marketKey(id string) string          { return fmt.Sprintf("prophet:market:%s", id) }
func claimMarketKey(claimID int64) string { return fmt.Sprintf("prophet:claim-market:%d", claimID) }

var _ Store = (*CachedStore)(nil)
