// Package ledger exposes wallet balances, positions and trade history.
//
// Buys debit balances through the market engine's atomic fill; this package
// covers the standalone account operations and the read side.
package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/prophet/market-engine/internal/metrics"
	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/store"
)

// YieldScale is the number of decimal places yields are rounded to.
const YieldScale int32 = 8

// Ledger handles account operations.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Ledger.
func New(st store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: st, logger: logger.With("component", "ledger")}
}

// Balance returns the wallet's balance; unknown wallets have zero.
func (l *Ledger) Balance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	return l.store.GetBalance(ctx, wallet)
}

// Credit adds a positive amount to the wallet and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrInvalidAmount
	}
	bal, err := l.store.Credit(ctx, wallet, amount)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.Deposits.Inc()
	l.logger.Info("wallet credited", "wallet", wallet, "amount", amount.String(), "balance", bal.String())
	return bal, nil
}

// Debit removes a positive amount. It fails with model.ErrInsufficientFunds
// and changes nothing when the balance is too low.
func (l *Ledger) Debit(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrInvalidAmount
	}
	return l.store.Debit(ctx, wallet, amount)
}

// Positions returns the wallet's holdings with the payout multiple for
// each: yield = total_shares / shares.
func (l *Ledger) Positions(ctx context.Context, wallet string) ([]model.PositionView, error) {
	views, err := l.store.ListPositions(ctx, wallet)
	if err != nil {
		return nil, err
	}
	for i := range views {
		views[i].Yield = Yield(views[i].TotalShares, views[i].Shares)
	}
	if views == nil {
		views = []model.PositionView{}
	}
	return views, nil
}

// Yield is how many times over a position pays if its side wins and the
// whole side's pool is split pro rata. Zero shares yield zero.
func Yield(totalShares, shares decimal.Decimal) decimal.Decimal {
	if !shares.IsPositive() {
		return decimal.Zero
	}
	return totalShares.DivRound(shares, YieldScale)
}

// History returns the wallet's buys, oldest first.
func (l *Ledger) History(ctx context.Context, wallet string) ([]model.LedgerEntry, error) {
	entries, err := l.store.GetLedgerEntriesByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}
