package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCreditDebit(t *testing.T) {
	l := New(store.NewMemoryStore(), nil)
	ctx := context.Background()

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	bal, err = l.Credit(ctx, "alice", d(25))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(25)))

	for _, amt := range []float64{0, -5} {
		_, err = l.Credit(ctx, "alice", d(amt))
		assert.ErrorIs(t, err, model.ErrInvalidAmount)
		_, err = l.Debit(ctx, "alice", d(amt))
		assert.ErrorIs(t, err, model.ErrInvalidAmount)
	}

	bal, err = l.Debit(ctx, "alice", d(10))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(15)))

	_, err = l.Debit(ctx, "alice", d(15.01))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	bal, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d(15)))
}

func TestYield(t *testing.T) {
	tests := []struct {
		total, shares, want float64
	}{
		{100, 10, 10},
		{10, 10, 1},
		{30, 7, 4.28571429},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := Yield(d(tt.total), d(tt.shares)); !got.Equal(d(tt.want)) {
			t.Errorf("Yield(%v, %v) = %s, want %v", tt.total, tt.shares, got, tt.want)
		}
	}
}

func TestPositionsAndHistory(t *testing.T) {
	st := store.NewMemoryStore()
	l := New(st, nil)
	ctx := context.Background()

	c := &model.Claim{Slug: "taxes-rose", Text: "Taxes rose this year", Author: model.NoWallet, Status: model.StatusPending}
	require.NoError(t, st.CreateClaim(ctx, c))
	_, err := st.TransitionClaim(ctx, c.ID, model.StatusPending, model.StatusAIReviewed, "")
	require.NoError(t, err)
	m := &model.Market{ID: uuid.NewString(), ClaimID: c.ID, CurrentTruePrice: d(1), CurrentFalsePrice: d(1)}
	require.NoError(t, st.CreateMarket(ctx, m))

	for _, w := range []string{"alice", "bob"} {
		_, err := l.Credit(ctx, w, d(100))
		require.NoError(t, err)
	}

	buy := func(wallet string, amount, price, supply float64) {
		t.Helper()
		_, err := st.ApplyBuy(ctx, &model.Fill{
			Entry: model.LedgerEntry{
				ID: uuid.NewString(), Wallet: wallet, MarketID: m.ID, Side: model.SideTrue,
				Amount: d(amount), Price: d(price), Cost: d(amount).Mul(d(price)), NewPrice: d(price + 0.01*amount),
			},
			ExpectedSupply: d(supply),
			NewSupply:      d(supply + amount),
		})
		require.NoError(t, err)
	}
	buy("alice", 10, 1, 0)
	buy("bob", 30, 1.1, 10)

	views, err := l.Positions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "Taxes rose this year", v.ClaimText)
	assert.Equal(t, "taxes-rose", v.ClaimSlug)
	assert.True(t, v.Shares.Equal(d(10)))
	assert.True(t, v.TotalShares.Equal(d(40)), "total shares count every wallet")
	assert.True(t, v.Yield.Equal(d(4)))

	empty, err := l.Positions(ctx, "carol")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	hist, err := l.History(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Cost.Equal(d(33)))

	none, err := l.History(ctx, "carol")
	require.NoError(t, err)
	assert.NotNil(t, none)
}
