package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prophet/market-engine/internal/model"
	"github.com/shopspring/decimal"
)

type positionKey struct {
	wallet  string
	claimID int64
	side    model.Side
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single RWMutex guards everything, so every multi-step write is atomic.
type MemoryStore struct {
	mu sync.RWMutex

	claims      map[int64]*model.Claim
	claimSlugs  map[string]int64
	nextClaimID int64

	markets       map[string]*model.Market
	marketByClaim map[int64]string

	balances  map[string]decimal.Decimal
	positions map[positionKey]*model.Position
	ledger    []model.LedgerEntry

	rawTexts      map[string]*model.RawText
	nextRawTextID int64

	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:        make(map[int64]*model.Claim),
		claimSlugs:    make(map[string]int64),
		markets:       make(map[string]*model.Market),
		marketByClaim: make(map[int64]string),
		balances:      make(map[string]decimal.Decimal),
		positions:     make(map[positionKey]*model.Position),
		rawTexts:      make(map[string]*model.RawText),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// --- Claims ---

func (s *MemoryStore) CreateClaim(_ context.Context, c *model.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.claimSlugs[c.Slug]; taken {
		return fmt.Errorf("claim slug %q: %w", c.Slug, model.ErrAlreadyExists)
	}
	s.nextClaimID++
	c.ID = s.nextClaimID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	stored := cloneClaim(c)
	s.claims[c.ID] = stored
	s.claimSlugs[c.Slug] = c.ID
	return nil
}

func (s *MemoryStore) GetClaim(_ context.Context, id int64) (*model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %d: %w", id, model.ErrNotFound)
	}
	return cloneClaim(c), nil
}

func (s *MemoryStore) GetClaimBySlug(_ context.Context, slug string) (*model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.claimSlugs[slug]
	if !ok {
		return nil, fmt.Errorf("claim %q: %w", slug, model.ErrNotFound)
	}
	return cloneClaim(s.claims[id]), nil
}

func (s *MemoryStore) FindClaimByText(_ context.Context, text string) (*model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *model.Claim
	for _, c := range s.claims {
		if c.Text == text && (found == nil || c.ID < found.ID) {
			found = c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("claim with text: %w", model.ErrNotFound)
	}
	return cloneClaim(found), nil
}

func (s *MemoryStore) ListClaims(_ context.Context, f model.ClaimFilter) ([]model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	claims := make([]model.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		if f.ParentID != nil && (c.ParentID == nil || *c.ParentID != *f.ParentID) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Author != "" && c.Author != f.Author {
			continue
		}
		claims = append(claims, *cloneClaim(c))
	}
	sort.Slice(claims, func(i, j int) bool {
		if !claims[i].CreatedAt.Equal(claims[j].CreatedAt) {
			return claims[i].CreatedAt.After(claims[j].CreatedAt)
		}
		return claims[i].ID > claims[j].ID
	})
	return paginate(claims, f.Limit, f.Offset), nil
}

func (s *MemoryStore) TransitionClaim(_ context.Context, id int64, from, to model.Status, description string) (*model.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %d: %w", id, model.ErrNotFound)
	}
	if c.Status != from {
		return nil, fmt.Errorf("claim %d is %s, not %s: %w", id, c.Status, from, model.ErrInvalidState)
	}
	c.Status = to
	if description != "" {
		c.StatusDescription = description
	}
	return cloneClaim(c), nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[m.ClaimID]
	if !ok {
		return fmt.Errorf("claim %d: %w", m.ClaimID, model.ErrNotFound)
	}
	if _, exists := s.marketByClaim[m.ClaimID]; exists {
		return fmt.Errorf("market for claim %d: %w", m.ClaimID, model.ErrAlreadyExists)
	}
	if c.Status != model.StatusAIReviewed {
		return fmt.Errorf("claim %d is %s: %w", m.ClaimID, c.Status, model.ErrInvalidState)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	stored := *m
	s.markets[m.ID] = &stored
	s.marketByClaim[m.ClaimID] = m.ID
	c.Status = model.StatusMarketCreated
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMarketByClaim(_ context.Context, claimID int64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.marketByClaim[claimID]
	if !ok {
		return nil, fmt.Errorf("market for claim %d: %w", claimID, model.ErrNotFound)
	}
	cp := *s.markets[id]
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.MarketListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]model.MarketListing, 0, len(s.markets))
	for _, m := range s.markets {
		l := model.MarketListing{Market: *m}
		if c, ok := s.claims[m.ClaimID]; ok {
			l.ClaimText = c.Text
			l.ClaimSlug = c.Slug
		}
		listings = append(listings, l)
	}
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].CreatedAt.Equal(listings[j].CreatedAt) {
			return listings[i].CreatedAt.After(listings[j].CreatedAt)
		}
		return listings[i].ClaimID > listings[j].ClaimID
	})
	return listings, nil
}

// --- Accounts ---

func (s *MemoryStore) GetBalance(_ context.Context, wallet string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[wallet], nil
}

func (s *MemoryStore) Credit(_ context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balances[wallet].Add(amount)
	s.balances[wallet] = bal
	return bal, nil
}

func (s *MemoryStore) Debit(_ context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balances[wallet]
	if bal.LessThan(amount) {
		return bal, model.ErrInsufficientFunds
	}
	bal = bal.Sub(amount)
	s.balances[wallet] = bal
	return bal, nil
}

// --- Buys ---

func (s *MemoryStore) ApplyBuy(_ context.Context, fill *model.Fill) (*model.BuyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := fill.Entry
	if !e.Cost.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	m, ok := s.markets[e.MarketID]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", e.MarketID, model.ErrNotFound)
	}
	if !m.Supply(e.Side).Equal(fill.ExpectedSupply) {
		return nil, fmt.Errorf("market %s %s supply moved: %w", e.MarketID, e.Side, model.ErrConflict)
	}
	bal := s.balances[e.Wallet]
	if bal.LessThan(e.Cost) {
		return nil, model.ErrInsufficientFunds
	}

	// All checks passed; mutate.
	bal = bal.Sub(e.Cost)
	s.balances[e.Wallet] = bal

	key := positionKey{wallet: e.Wallet, claimID: m.ClaimID, side: e.Side}
	p, ok := s.positions[key]
	if !ok {
		p = &model.Position{Wallet: e.Wallet, ClaimID: m.ClaimID, Side: e.Side}
		s.positions[key] = p
	}
	p.Shares = p.Shares.Add(e.Amount)
	p.CostBasis = p.CostBasis.Add(e.Cost)

	if e.Side == model.SideTrue {
		m.TrueShares = fill.NewSupply
		m.CurrentTruePrice = e.NewPrice
	} else {
		m.FalseShares = fill.NewSupply
		m.CurrentFalsePrice = e.NewPrice
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.ClaimID = m.ClaimID
	s.ledger = append(s.ledger, e)

	return &model.BuyResult{
		BoughtAmount: e.Amount,
		Side:         e.Side,
		Cost:         e.Cost,
		NewPrice:     e.NewPrice,
		Market:       *m,
		Balance:      bal,
		Position:     *p,
	}, nil
}

// --- Positions & ledger ---

func (s *MemoryStore) GetPosition(_ context.Context, wallet string, claimID int64, side model.Side) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey{wallet: wallet, claimID: claimID, side: side}]
	if !ok {
		return nil, fmt.Errorf("position %s/%d/%s: %w", wallet, claimID, side, model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, wallet string) ([]model.PositionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var views []model.PositionView
	for key, p := range s.positions {
		if key.wallet != wallet {
			continue
		}
		v := model.PositionView{
			ClaimID:   p.ClaimID,
			Side:      p.Side,
			Shares:    p.Shares,
			CostBasis: p.CostBasis,
		}
		if c, ok := s.claims[p.ClaimID]; ok {
			v.ClaimText = c.Text
			v.ClaimSlug = c.Slug
			v.ParentID = c.ParentID
		}
		if id, ok := s.marketByClaim[p.ClaimID]; ok {
			v.TotalShares = s.markets[id].Supply(p.Side)
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].ClaimID != views[j].ClaimID {
			return views[i].ClaimID < views[j].ClaimID
		}
		return views[i].Side > views[j].Side // TRUE before FALSE
	})
	return views, nil
}

func (s *MemoryStore) GetLedgerEntriesByWallet(_ context.Context, wallet string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Wallet == wallet {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByMarket(_ context.Context, marketID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Raw texts ---

func (s *MemoryStore) CreateRawText(_ context.Context, r *model.RawText) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.rawTexts[r.ContentHash]; dup {
		return fmt.Errorf("raw text %s: %w", r.ContentHash, model.ErrAlreadyExists)
	}
	s.nextRawTextID++
	r.ID = s.nextRawTextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	cp := *r
	s.rawTexts[r.ContentHash] = &cp
	return nil
}

func (s *MemoryStore) GetRawTextByHash(_ context.Context, hash string) (*model.RawText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rawTexts[hash]
	if !ok {
		return nil, fmt.Errorf("raw text %s: %w", hash, model.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// cloneClaim copies c, including the parent pointer, so callers never
// alias stored state.
func cloneClaim(c *model.Claim) *model.Claim {
	cp := *c
	if c.ParentID != nil {
		parent := *c.ParentID
		cp.ParentID = &parent
	}
	return &cp
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
