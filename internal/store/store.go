// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/prophet/market-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for claims and markets.
//
// Errors are reported with the sentinels in package model so callers can
// classify them with errors.Is regardless of the backend.
type Store interface {
	// --- Claims ---

	// CreateClaim persists a new claim and fills in its ID and CreatedAt.
	// Returns model.ErrAlreadyExists when the slug is taken.
	CreateClaim(ctx context.Context, c *model.Claim) error

	GetClaim(ctx context.Context, id int64) (*model.Claim, error)
	GetClaimBySlug(ctx context.Context, slug string) (*model.Claim, error)

	// FindClaimByText returns the oldest claim with exactly this text.
	FindClaimByText(ctx context.Context, text string) (*model.Claim, error)

	// ListClaims returns claims newest first.
	ListClaims(ctx context.Context, f model.ClaimFilter) ([]model.Claim, error)

	// TransitionClaim moves a claim from one status to another only if it
	// is currently in from (compare-and-set). Returns model.ErrInvalidState
	// when the claim is in any other status.
	TransitionClaim(ctx context.Context, id int64, from, to model.Status, description string) (*model.Claim, error)

	// --- Markets ---

	// CreateMarket inserts the market and moves its claim from ai_reviewed
	// to market_created in one atomic step. Returns model.ErrAlreadyExists
	// if the claim already has a market, model.ErrNotFound if the claim is
	// missing and model.ErrInvalidState if it is not ai_reviewed.
	CreateMarket(ctx context.Context, m *model.Market) error

	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetMarketByClaim(ctx context.Context, claimID int64) (*model.Market, error)

	// ListMarkets returns markets with claim text and slug, newest first.
	ListMarkets(ctx context.Context) ([]model.MarketListing, error)

	// --- Accounts ---

	// GetBalance returns zero for unknown wallets.
	GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error)

	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error)

	// Debit subtracts amount and returns the new balance, or
	// model.ErrInsufficientFunds without changing anything.
	Debit(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error)

	// --- Buys ---

	// ApplyBuy commits a priced fill atomically: it debits the wallet,
	// credits the position, moves the market side's supply and price and
	// appends the ledger entry. Nothing is changed when it fails.
	// Returns model.ErrConflict if the side supply no longer matches
	// fill.ExpectedSupply and model.ErrInvalidAmount for a non-positive cost.
	ApplyBuy(ctx context.Context, fill *model.Fill) (*model.BuyResult, error)

	// --- Positions & ledger ---

	GetPosition(ctx context.Context, wallet string, claimID int64, side model.Side) (*model.Position, error)

	// ListPositions returns the wallet's positions joined with claim data.
	// TotalShares is the side's supply across all wallets; Yield is left
	// for the caller.
	ListPositions(ctx context.Context, wallet string) ([]model.PositionView, error)

	// GetLedgerEntriesByWallet returns a wallet's buys, oldest first.
	GetLedgerEntriesByWallet(ctx context.Context, wallet string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByMarket returns all buys on a market, oldest first.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)

	// --- Raw texts ---

	// CreateRawText returns model.ErrAlreadyExists on a duplicate hash.
	CreateRawText(ctx context.Context, r *model.RawText) error
	GetRawTextByHash(ctx context.Context, hash string) (*model.RawText, error)
}
