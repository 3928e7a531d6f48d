package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophet/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// runStoreSuite exercises the behavior every Store implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ClaimLifecycle", func(t *testing.T) { testClaimLifecycle(t, newStore(t)) })
	t.Run("ListClaims", func(t *testing.T) { testListClaims(t, newStore(t)) })
	t.Run("CreateMarket", func(t *testing.T) { testCreateMarket(t, newStore(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("ApplyBuy", func(t *testing.T) { testApplyBuy(t, newStore(t)) })
	t.Run("ApplyBuyRejections", func(t *testing.T) { testApplyBuyRejections(t, newStore(t)) })
	t.Run("RawTexts", func(t *testing.T) { testRawTexts(t, newStore(t)) })
}

func newClaim(slug, text string) *model.Claim {
	return &model.Claim{Slug: slug, Text: text, Author: model.NoWallet, Status: model.StatusPending}
}

func reviewedClaim(t *testing.T, s Store, slug string) *model.Claim {
	t.Helper()
	ctx := context.Background()
	c := newClaim(slug, "Senator raised taxes "+slug)
	require.NoError(t, s.CreateClaim(ctx, c))
	_, err := s.TransitionClaim(ctx, c.ID, model.StatusPending, model.StatusAIReviewed, "ok")
	require.NoError(t, err)
	return c
}

func openMarket(t *testing.T, s Store, slug string) *model.Market {
	t.Helper()
	c := reviewedClaim(t, s, slug)
	m := &model.Market{
		ID:                uuid.NewString(),
		ClaimID:           c.ID,
		CurrentTruePrice:  d(1),
		CurrentFalsePrice: d(1),
		CreatedBy:         "creator",
	}
	require.NoError(t, s.CreateMarket(context.Background(), m))
	return m
}

func testClaimLifecycle(t *testing.T, s Store) {
	ctx := context.Background()

	c := newClaim("senator-raised-taxes", "Senator raised taxes")
	require.NoError(t, s.CreateClaim(ctx, c))
	assert.NotZero(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	err := s.CreateClaim(ctx, newClaim("senator-raised-taxes", "other"))
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	got, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Senator raised taxes", got.Text)
	assert.Equal(t, model.StatusPending, got.Status)

	bySlug, err := s.GetClaimBySlug(ctx, "senator-raised-taxes")
	require.NoError(t, err)
	assert.Equal(t, c.ID, bySlug.ID)

	byText, err := s.FindClaimByText(ctx, "Senator raised taxes")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byText.ID)

	_, err = s.GetClaim(ctx, c.ID+1000)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetClaimBySlug(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Compare-and-set: only the first transition from pending wins.
	updated, err := s.TransitionClaim(ctx, c.ID, model.StatusPending, model.StatusAIReviewed, "Looks factual")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAIReviewed, updated.Status)
	assert.Equal(t, "Looks factual", updated.StatusDescription)

	_, err = s.TransitionClaim(ctx, c.ID, model.StatusPending, model.StatusRejected, "")
	assert.ErrorIs(t, err, model.ErrInvalidState)

	_, err = s.TransitionClaim(ctx, c.ID+1000, model.StatusPending, model.StatusRejected, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testListClaims(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	parent := newClaim("parent", "Parent claim text")
	parent.CreatedAt = base
	require.NoError(t, s.CreateClaim(ctx, parent))

	for i, slug := range []string{"variant-a", "variant-b"} {
		v := newClaim(slug, "Variant claim "+slug)
		v.ParentID = &parent.ID
		v.Author = "wallet-x"
		v.CreatedAt = base.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, s.CreateClaim(ctx, v))
	}

	all, err := s.ListClaims(ctx, model.ClaimFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "variant-b", all[0].Slug, "newest first")
	assert.Equal(t, "parent", all[2].Slug)

	children, err := s.ListClaims(ctx, model.ClaimFilter{ParentID: &parent.ID})
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, c := range children {
		require.NotNil(t, c.ParentID)
		assert.Equal(t, parent.ID, *c.ParentID)
	}

	byAuthor, err := s.ListClaims(ctx, model.ClaimFilter{Author: "wallet-x", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, "variant-b", byAuthor[0].Slug)

	paged, err := s.ListClaims(ctx, model.ClaimFilter{Offset: 1, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, paged, 2)

	none, err := s.ListClaims(ctx, model.ClaimFilter{Status: model.StatusRejected})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCreateMarket(t *testing.T, s Store) {
	ctx := context.Background()

	pending := newClaim("still-pending", "Still pending claim")
	require.NoError(t, s.CreateClaim(ctx, pending))
	err := s.CreateMarket(ctx, &model.Market{ID: uuid.NewString(), ClaimID: pending.ID, CurrentTruePrice: d(1), CurrentFalsePrice: d(1)})
	assert.ErrorIs(t, err, model.ErrInvalidState)

	err = s.CreateMarket(ctx, &model.Market{ID: uuid.NewString(), ClaimID: pending.ID + 1000, CurrentTruePrice: d(1), CurrentFalsePrice: d(1)})
	assert.ErrorIs(t, err, model.ErrNotFound)

	m := openMarket(t, s, "market-claim")

	c, err := s.GetClaim(ctx, m.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMarketCreated, c.Status, "claim flips with market creation")

	err = s.CreateMarket(ctx, &model.Market{ID: uuid.NewString(), ClaimID: m.ClaimID, CurrentTruePrice: d(1), CurrentFalsePrice: d(1)})
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	got, err := s.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentTruePrice.Equal(d(1)))
	assert.True(t, got.TrueShares.IsZero())

	byClaim, err := s.GetMarketByClaim(ctx, m.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, byClaim.ID)

	_, err = s.GetMarket(ctx, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetMarket(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, model.ErrNotFound)

	listings, err := s.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "market-claim", listings[0].ClaimSlug)
	assert.Equal(t, "Senator raised taxes market-claim", listings[0].ClaimText)
}

func testAccounts(t *testing.T, s Store) {
	ctx := context.Background()
	wallet := "wallet-" + uuid.NewString()

	bal, err := s.GetBalance(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "unknown wallet has zero balance")

	bal, err = s.Credit(ctx, wallet, d(100))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(100)))

	_, err = s.Credit(ctx, wallet, d(0))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	bal, err = s.Debit(ctx, wallet, d(40.5))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(59.5)))

	_, err = s.Debit(ctx, wallet, d(60))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	bal, err = s.GetBalance(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(59.5)), "failed debit leaves balance unchanged")
}

func buyFill(m *model.Market, wallet string, side model.Side, amount, price, newPrice, expected float64) *model.Fill {
	return &model.Fill{
		Entry: model.LedgerEntry{
			ID:       uuid.NewString(),
			Wallet:   wallet,
			MarketID: m.ID,
			Side:     side,
			Amount:   d(amount),
			Price:    d(price),
			Cost:     d(amount).Mul(d(price)),
			NewPrice: d(newPrice),
		},
		ExpectedSupply: d(expected),
		NewSupply:      d(expected + amount),
	}
}

func testApplyBuy(t *testing.T, s Store) {
	ctx := context.Background()
	m := openMarket(t, s, "buy-market")
	wallet := "wallet-" + uuid.NewString()
	_, err := s.Credit(ctx, wallet, d(100))
	require.NoError(t, err)

	res, err := s.ApplyBuy(ctx, buyFill(m, wallet, model.SideTrue, 10, 1, 1.1, 0))
	require.NoError(t, err)
	assert.True(t, res.Cost.Equal(d(10)))
	assert.True(t, res.Balance.Equal(d(90)))
	assert.True(t, res.Market.CurrentTruePrice.Equal(d(1.1)))
	assert.True(t, res.Market.CurrentFalsePrice.Equal(d(1)), "other side untouched")
	assert.True(t, res.Market.TrueShares.Equal(d(10)))
	assert.True(t, res.Position.Shares.Equal(d(10)))
	assert.Equal(t, m.ClaimID, res.Position.ClaimID)

	res, err = s.ApplyBuy(ctx, buyFill(m, wallet, model.SideTrue, 5, 1.1, 1.15, 10))
	require.NoError(t, err)
	assert.True(t, res.Position.Shares.Equal(d(15)), "positions accumulate")
	assert.True(t, res.Position.CostBasis.Equal(d(15.5)))

	pos, err := s.GetPosition(ctx, wallet, m.ClaimID, model.SideTrue)
	require.NoError(t, err)
	assert.True(t, pos.Shares.Equal(d(15)))
	_, err = s.GetPosition(ctx, wallet, m.ClaimID, model.SideFalse)
	assert.ErrorIs(t, err, model.ErrNotFound)

	views, err := s.ListPositions(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "buy-market", views[0].ClaimSlug)
	assert.True(t, views[0].TotalShares.Equal(d(15)))

	entries, err := s.GetLedgerEntriesByWallet(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, m.ClaimID, entries[0].ClaimID)
	assert.True(t, entries[0].Amount.Equal(d(10)))

	byMarket, err := s.GetLedgerEntriesByMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, byMarket, 2)
}

func testApplyBuyRejections(t *testing.T, s Store) {
	ctx := context.Background()
	m := openMarket(t, s, "reject-market")
	wallet := "wallet-" + uuid.NewString()
	_, err := s.Credit(ctx, wallet, d(5))
	require.NoError(t, err)

	_, err = s.ApplyBuy(ctx, buyFill(m, wallet, model.SideTrue, 10, 1, 1.1, 0))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = s.ApplyBuy(ctx, buyFill(m, wallet, model.SideTrue, 1, 1, 1.01, 7))
	assert.ErrorIs(t, err, model.ErrConflict)

	// Shares are never handed out for free, funded or not.
	free := buyFill(m, wallet, model.SideTrue, 0.000000004, 1, 1, 0)
	free.Entry.Cost = decimal.Zero
	_, err = s.ApplyBuy(ctx, free)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	free.Entry.Wallet = "wallet-" + uuid.NewString()
	_, err = s.ApplyBuy(ctx, free)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	// Neither rejection changed anything.
	bal, err := s.GetBalance(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(5)))
	got, err := s.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.TrueShares.IsZero())
	assert.True(t, got.CurrentTruePrice.Equal(d(1)))
	entries, err := s.GetLedgerEntriesByWallet(ctx, wallet)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testRawTexts(t *testing.T, s Store) {
	ctx := context.Background()
	r := &model.RawText{Content: "Some article", ContentHash: "abc123", Source: 1, Genre: 2}
	require.NoError(t, s.CreateRawText(ctx, r))
	assert.NotZero(t, r.ID)

	err := s.CreateRawText(ctx, &model.RawText{Content: "Some article", ContentHash: "abc123"})
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	got, err := s.GetRawTextByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Some article", got.Content)

	_, err = s.GetRawTextByHash(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
