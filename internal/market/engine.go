// Package market opens markets on reviewed claims and executes buys.
//
// Every buy on a market runs under that market's lock: the price is read,
// the cost computed, and the debit, position credit, price move and ledger
// append are committed as one store operation before the lock is released.
// Buys on different markets proceed in parallel.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prophet/market-engine/internal/lock"
	"github.com/prophet/market-engine/internal/metrics"
	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/pricing"
	"github.com/prophet/market-engine/internal/risk"
	"github.com/prophet/market-engine/internal/store"
)

var (
	// ErrMarketNotFound is returned by Buy for an unknown market.
	ErrMarketNotFound = fmt.Errorf("market not found: %w", model.ErrNotFound)

	// ErrClaimNotTradable is returned by Buy when the market's claim is not
	// in market_created.
	ErrClaimNotTradable = fmt.Errorf("claim is not open for trading: %w", model.ErrInvalidState)
)

// DefaultMaxRetries bounds buy attempts lost to concurrent supply changes.
// Only writers outside this process's lock (another instance without a
// shared locker) can cause them.
const DefaultMaxRetries = 3

// Event types published to subscribers.
const (
	EventMarketCreated = "market_created"
	EventBuyExecuted   = "buy_executed"
)

// Event is a market update pushed to real-time subscribers.
type Event struct {
	Type       string     `json:"type"`
	MarketID   string     `json:"market_id"`
	ClaimID    int64      `json:"claim_id"`
	TruePrice  string     `json:"current_true_price"`
	FalsePrice string     `json:"current_false_price"`
	Side       model.Side `json:"side,omitempty"`
	Amount     string     `json:"amount,omitempty"`
}

// Publisher receives market events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Engine executes market operations.
type Engine struct {
	store      store.Store
	curve      pricing.Curve
	locks      lock.Locker
	limiter    *risk.PositionLimiter
	publisher  Publisher
	logger     *slog.Logger
	maxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process lock, e.g. with a RedisLocker
// when several instances share one database.
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locks = l } }

// WithLimiter enables per-wallet exposure limits.
func WithLimiter(l *risk.PositionLimiter) Option { return func(e *Engine) { e.limiter = l } }

// WithPublisher sends market events to p.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMaxRetries sets how many times a conflicting buy is re-priced.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// NewEngine creates an engine pricing both sides with curve.
func NewEngine(st store.Store, curve pricing.Curve, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		curve:      curve,
		locks:      lock.NewKeyedMutex(),
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "market")
	return e
}

// Curve returns the pricing curve in use.
func (e *Engine) Curve() pricing.Curve { return e.curve }

// CreateMarket opens the market for an ai_reviewed claim. It is idempotent:
// if the claim already has a market, that market is returned with
// created=false. Both sides open at the curve's baseline price and the
// claim moves to market_created in the same atomic step.
func (e *Engine) CreateMarket(ctx context.Context, claimID int64, requester string) (*model.Market, bool, error) {
	claim, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, false, err
	}
	if existing, err := e.store.GetMarketByClaim(ctx, claimID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}
	if claim.Status != model.StatusAIReviewed {
		return nil, false, fmt.Errorf("claim %d is %s: %w", claimID, claim.Status.Display(), model.ErrInvalidState)
	}

	if strings.TrimSpace(requester) == "" {
		requester = model.NoWallet
	}
	baseline := e.curve.Baseline()
	m := &model.Market{
		ID:                uuid.NewString(),
		ClaimID:           claimID,
		CurrentTruePrice:  baseline,
		CurrentFalsePrice: baseline,
		TrueShares:        decimal.Zero,
		FalseShares:       decimal.Zero,
		CreatedBy:         requester,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			// Lost a creation race; the winner's market is the answer.
			existing, getErr := e.store.GetMarketByClaim(ctx, claimID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	metrics.MarketsCreated.Inc()
	e.logger.Info("market created",
		"id", m.ID,
		"claim_id", claimID,
		"created_by", requester,
		"curve", e.curve.Name(),
	)
	e.publish(EventMarketCreated, m, "", decimal.Zero)
	return m, true, nil
}

// GetMarket returns the market for a claim.
func (e *Engine) GetMarket(ctx context.Context, claimID int64) (*model.Market, error) {
	return e.store.GetMarketByClaim(ctx, claimID)
}

// GetMarketByID returns a market by its ID.
func (e *Engine) GetMarketByID(ctx context.Context, id string) (*model.Market, error) {
	return e.store.GetMarket(ctx, id)
}

// ListMarkets returns all markets with claim text and slug, newest first.
func (e *Engine) ListMarkets(ctx context.Context) ([]model.MarketListing, error) {
	listings, err := e.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if listings == nil {
		listings = []model.MarketListing{}
	}
	return listings, nil
}

// History returns every buy on a market, oldest first, for price charts.
func (e *Engine) History(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	if _, err := e.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	entries, err := e.store.GetLedgerEntriesByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

// Buy purchases order.Amount shares of order.Side at the side's current
// price. On any error nothing has changed.
func (e *Engine) Buy(ctx context.Context, order model.BuyOrder) (*model.BuyResult, error) {
	if !pricing.ValidAmount(order.Amount) {
		return nil, model.ErrInvalidAmount
	}
	if !order.Side.Valid() {
		return nil, model.ErrInvalidSide
	}
	if strings.TrimSpace(order.Wallet) == "" {
		return nil, model.ErrInvalidWallet
	}

	start := time.Now()
	unlock, err := e.locks.Lock(ctx, "market:"+order.MarketID)
	if err != nil {
		return nil, fmt.Errorf("acquire market lock: %w", err)
	}
	defer unlock()

	// Family limits span markets, so a wallet's checks and fills must not
	// interleave. Market locks are always taken before wallet locks.
	if e.limiter.Enabled() {
		unlockWallet, err := e.locks.Lock(ctx, "wallet:"+order.Wallet)
		if err != nil {
			return nil, fmt.Errorf("acquire wallet lock: %w", err)
		}
		defer unlockWallet()
	}

	for attempt := 1; ; attempt++ {
		res, err := e.tryBuy(ctx, order)
		if err == nil {
			e.recordBuy(order, res, time.Since(start))
			return res, nil
		}
		if !errors.Is(err, model.ErrConflict) || attempt >= e.maxRetries {
			e.recordRejection(err)
			return nil, err
		}
		metrics.TradeConflicts.Inc()
		e.logger.Debug("buy conflicted, re-pricing", "market_id", order.MarketID, "attempt", attempt)
	}
}

func (e *Engine) tryBuy(ctx context.Context, order model.BuyOrder) (*model.BuyResult, error) {
	m, err := e.store.GetMarket(ctx, order.MarketID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	claim, err := e.store.GetClaim(ctx, m.ClaimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != model.StatusMarketCreated {
		return nil, ErrClaimNotTradable
	}

	price := m.Price(order.Side)
	cost := pricing.Cost(order.Amount, price)
	if !cost.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	supply := m.Supply(order.Side)
	newSupply := supply.Add(order.Amount)
	newPrice := e.curve.Price(newSupply)
	if newPrice.LessThan(price) {
		// Never move a price down, even if the curve was reconfigured.
		newPrice = price
	}

	balance, err := e.store.GetBalance(ctx, order.Wallet)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(cost) {
		return nil, model.ErrInsufficientFunds
	}

	if e.limiter.Enabled() {
		if err := e.checkLimits(ctx, order.Wallet, claim, cost); err != nil {
			return nil, err
		}
	}

	fill := &model.Fill{
		Entry: model.LedgerEntry{
			ID:        uuid.NewString(),
			Wallet:    order.Wallet,
			MarketID:  m.ID,
			ClaimID:   m.ClaimID,
			Side:      order.Side,
			Amount:    order.Amount,
			Price:     price,
			Cost:      cost,
			NewPrice:  newPrice,
			Timestamp: time.Now().UTC(),
		},
		ExpectedSupply: supply,
		NewSupply:      newSupply,
	}
	return e.store.ApplyBuy(ctx, fill)
}

func (e *Engine) checkLimits(ctx context.Context, wallet string, claim *model.Claim, cost decimal.Decimal) error {
	views, err := e.store.ListPositions(ctx, wallet)
	if err != nil {
		return fmt.Errorf("load exposures: %w", err)
	}
	existing := make([]risk.Exposure, 0, len(views))
	for _, v := range views {
		existing = append(existing, risk.Exposure{
			ClaimID:   v.ClaimID,
			FamilyID:  risk.FamilyOf(v.ClaimID, v.ParentID),
			CostBasis: v.CostBasis,
		})
	}
	target := risk.Exposure{ClaimID: claim.ID, FamilyID: risk.FamilyOf(claim.ID, claim.ParentID)}
	return e.limiter.CheckLimit(target, cost, existing)
}

func (e *Engine) recordBuy(order model.BuyOrder, res *model.BuyResult, elapsed time.Duration) {
	side := string(order.Side)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(elapsed.Seconds())
	metrics.MarketVolume.WithLabelValues(side).Add(order.Amount.InexactFloat64())

	e.logger.Info("buy executed",
		"market_id", order.MarketID,
		"wallet", order.Wallet,
		"side", side,
		"amount", order.Amount.String(),
		"cost", res.Cost.String(),
		"new_price", res.NewPrice.String(),
	)
	e.publish(EventBuyExecuted, &res.Market, order.Side, order.Amount)
}

func (e *Engine) recordRejection(err error) {
	reason := "error"
	switch {
	case errors.Is(err, model.ErrInsufficientFunds):
		reason = "insufficient_funds"
	case errors.Is(err, risk.ErrPositionLimitExceeded):
		reason = "position_limit"
	case errors.Is(err, model.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, model.ErrInvalidState):
		reason = "not_tradable"
	case errors.Is(err, model.ErrConflict):
		reason = "conflict"
	}
	metrics.TradeRejections.WithLabelValues(reason).Inc()
}

func (e *Engine) publish(typ string, m *model.Market, side model.Side, amount decimal.Decimal) {
	if e.publisher == nil {
		return
	}
	ev := Event{
		Type:       typ,
		MarketID:   m.ID,
		ClaimID:    m.ClaimID,
		TruePrice:  m.CurrentTruePrice.String(),
		FalsePrice: m.CurrentFalsePrice.String(),
		Side:       side,
	}
	if amount.IsPositive() {
		ev.Amount = amount.String()
	}
	e.publisher.Publish(ev)
}
