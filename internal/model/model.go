// Package model defines the core domain types shared across the market engine.
// Monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// NoWallet is the author recorded for claims submitted without a connected
// wallet (the all-ones system address).
const NoWallet = "11111111111111111111111111111111"

// Status is a claim's verification status.
type Status string

const (
	StatusPending       Status = "pending"
	StatusAIReviewed    Status = "ai_reviewed"
	StatusMarketCreated Status = "market_created"
	StatusRejected      Status = "rejected"
)

// Display returns the human-readable status label.
func (s Status) Display() string {
	switch s {
	case StatusPending:
		return "Pending review"
	case StatusAIReviewed:
		return "AI reviewed"
	case StatusMarketCreated:
		return "Market created"
	case StatusRejected:
		return "Rejected"
	}
	return string(s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAIReviewed, StatusMarketCreated, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Statuses only advance; rejection is reachable from pending only.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusAIReviewed || next == StatusRejected
	case StatusAIReviewed:
		return next == StatusMarketCreated
	}
	return false
}

// Side is one of the two outcomes traded on a claim's market.
type Side string

const (
	SideTrue  Side = "TRUE"
	SideFalse Side = "FALSE"
)

// Valid reports whether s is TRUE or FALSE.
func (s Side) Valid() bool {
	return s == SideTrue || s == SideFalse
}

// Claim is a user-submitted factual statement. Claims are append-only:
// the slug never changes and the status only advances.
type Claim struct {
	ID                int64     `json:"id" db:"id"`
	Slug              string    `json:"slug" db:"slug"`
	Text              string    `json:"text" db:"text"`
	Author            string    `json:"author" db:"author"`
	Status            Status    `json:"verification_status_name" db:"status"`
	StatusDescription string    `json:"status_description" db:"status_description"`
	ParentID          *int64    `json:"parent_claim,omitempty" db:"parent_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// MarshalJSON adds the display label clients render next to the status name.
func (c Claim) MarshalJSON() ([]byte, error) {
	type alias Claim
	return json.Marshal(struct {
		alias
		StatusDisplay string `json:"verification_status_display"`
	}{alias(c), c.Status.Display()})
}

// ClaimFilter narrows ListClaims. Zero values mean "no filter".
type ClaimFilter struct {
	ParentID *int64
	Status   Status
	Author   string
	Limit    int
	Offset   int
}

// Market is the trading instrument for one claim. Each side is priced
// independently from its own cumulative supply.
type Market struct {
	ID                string          `json:"id" db:"id"`
	ClaimID           int64           `json:"claim_id" db:"claim_id"`
	CurrentTruePrice  decimal.Decimal `json:"current_true_price" db:"true_price"`
	CurrentFalsePrice decimal.Decimal `json:"current_false_price" db:"false_price"`
	TrueShares        decimal.Decimal `json:"true_shares" db:"true_shares"`
	FalseShares       decimal.Decimal `json:"false_shares" db:"false_shares"`
	CreatedBy         string          `json:"created_by" db:"created_by"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// Price returns the current price of the given side.
func (m *Market) Price(side Side) decimal.Decimal {
	if side == SideFalse {
		return m.CurrentFalsePrice
	}
	return m.CurrentTruePrice
}

// Supply returns the cumulative shares bought on the given side.
func (m *Market) Supply(side Side) decimal.Decimal {
	if side == SideFalse {
		return m.FalseShares
	}
	return m.TrueShares
}

// MarketListing is a market joined with its claim's display fields.
type MarketListing struct {
	Market
	ClaimText string `json:"claim_text"`
	ClaimSlug string `json:"claim_slug"`
}

// Account holds a wallet's spendable balance.
type Account struct {
	Wallet  string          `json:"wallet_address" db:"wallet"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Position is a wallet's accumulated holdings in one side of one claim.
type Position struct {
	Wallet    string          `json:"wallet_address" db:"wallet"`
	ClaimID   int64           `json:"claim_id" db:"claim_id"`
	Side      Side            `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
}

// PositionView is a position joined with claim metadata for display.
type PositionView struct {
	ClaimID     int64           `json:"claim_id"`
	ClaimText   string          `json:"claim_text"`
	ClaimSlug   string          `json:"claim_slug"`
	ParentID    *int64          `json:"parent_claim,omitempty"`
	Side        Side            `json:"side"`
	Shares      decimal.Decimal `json:"shares"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	TotalShares decimal.Decimal `json:"total_shares"` // all wallets, same side
	Yield       decimal.Decimal `json:"yield"`        // total_shares / shares
}

// LedgerEntry is an immutable record of a buy execution.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	Wallet    string          `json:"wallet_address" db:"wallet"`
	MarketID  string          `json:"market_id" db:"market_id"`
	ClaimID   int64           `json:"claim_id" db:"claim_id"`
	Side      Side            `json:"side" db:"side"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Price     decimal.Decimal `json:"price" db:"price"` // price paid per share
	Cost      decimal.Decimal `json:"cost" db:"cost"`
	NewPrice  decimal.Decimal `json:"new_price" db:"new_price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Fill is the fully-priced unit of work a buy commits. The store applies it
// atomically: debit, position credit, market update and ledger append.
type Fill struct {
	Entry LedgerEntry
	// ExpectedSupply is the side supply the price was computed from; the
	// store rejects the fill with ErrConflict if it has moved.
	ExpectedSupply decimal.Decimal
	NewSupply      decimal.Decimal
}

// BuyOrder is a request to buy shares of one side.
type BuyOrder struct {
	MarketID string
	Side     Side
	Amount   decimal.Decimal
	Wallet   string
}

// BuyResult is the authoritative post-trade snapshot.
type BuyResult struct {
	BoughtAmount decimal.Decimal `json:"bought_amount"`
	Side         Side            `json:"side"`
	Cost         decimal.Decimal `json:"cost"`
	NewPrice     decimal.Decimal `json:"new_price"`
	Market       Market          `json:"market"`
	Balance      decimal.Decimal `json:"balance"`
	Position     Position        `json:"position"`
}

// RawText is source material submitted for claim extraction.
type RawText struct {
	ID          int64     `json:"id" db:"id"`
	Content     string    `json:"content" db:"content"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Source      int64     `json:"source" db:"source"`
	Genre       int64     `json:"genre" db:"genre"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
