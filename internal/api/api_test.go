package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophet/market-engine/internal/claims"
	"github.com/prophet/market-engine/internal/ledger"
	"github.com/prophet/market-engine/internal/market"
	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/pricing"
	"github.com/prophet/market-engine/internal/rawtext"
	"github.com/prophet/market-engine/internal/review"
	"github.com/prophet/market-engine/internal/risk"
	"github.com/prophet/market-engine/internal/store"
	"github.com/prophet/market-engine/internal/validate"
)

const testKey = "secret"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestRouter wires every service over a fresh in-memory store.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemoryStore()
	curve, err := pricing.NewLinear(pricing.BaselinePrice, pricing.DefaultSlope, decimal.Zero)
	require.NoError(t, err)

	cs := claims.NewService(st, nil, nil)
	texts := rawtext.NewService(st, review.Heuristic{}, cs, nil)
	engine := market.NewEngine(st, curve)
	srv := NewServer(cs, texts, engine, ledger.New(st, nil), nil, Config{APIKey: testKey}, nil)
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, "body: %s", w.Body.String())
	body := decode[errorBody](t, w)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.Error)
}

// approvedClaim submits a claim and approves it through the review callback.
func approvedClaim(t *testing.T, h http.Handler, text string) int64 {
	t.Helper()
	w := do(t, h, "POST", "/api/claims/", map[string]string{"text": text, "author": "author-wallet"}, "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	c := decode[model.Claim](t, w)

	w = do(t, h, "POST", fmt.Sprintf("/api/claims/%d/review/", c.ID),
		map[string]any{"decision": "approve", "description": "Verifiable."}, testKey)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	return c.ID
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t)
	w := do(t, h, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestClaimLifecycleAndTrading(t *testing.T) {
	h := newTestRouter(t)

	// Submit.
	w := do(t, h, "POST", "/api/claims/", map[string]string{"text": "The senator raised taxes this year."}, "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	raw := decode[map[string]any](t, w)
	assert.Equal(t, "the-senator-raised-taxes-this-year", raw["slug"])
	assert.Equal(t, "pending", raw["verification_status_name"])
	assert.Equal(t, "Pending review", raw["verification_status_display"])
	assert.Equal(t, model.NoWallet, raw["author"])
	id := int64(raw["id"].(float64))

	// Lookups.
	w = do(t, h, "GET", fmt.Sprintf("/api/claims/%d/", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, "GET", "/api/claims/slug/the-senator-raised-taxes-this-year/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[model.Claim](t, w).ID)

	// A pending claim cannot get a market.
	w = do(t, h, "POST", fmt.Sprintf("/api/markets/create/%d/", id), map[string]string{"wallet_address": "w1"}, "")
	requireError(t, w, http.StatusConflict, "invalid_state")

	// Review callback needs the key.
	verdict := map[string]any{"decision": "Approve", "description": "Verifiable.", "variants": []string{"Taxes rose under the senator this year"}}
	w = do(t, h, "POST", fmt.Sprintf("/api/claims/%d/review/", id), verdict, "")
	requireError(t, w, http.StatusUnauthorized, "unauthorized")
	w = do(t, h, "POST", fmt.Sprintf("/api/claims/%d/review/", id), verdict, testKey)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, model.StatusAIReviewed, decode[model.Claim](t, w).Status)

	// A second verdict is stale.
	w = do(t, h, "POST", fmt.Sprintf("/api/claims/%d/review/", id), map[string]any{"decision": "reject"}, testKey)
	requireError(t, w, http.StatusConflict, "invalid_state")

	// The variant exists, already reviewed, linked to its parent.
	w = do(t, h, "GET", fmt.Sprintf("/api/claims/?parent_claim=%d", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	variants := decode[[]model.Claim](t, w)
	require.Len(t, variants, 1)
	assert.Equal(t, model.StatusAIReviewed, variants[0].Status)

	// Create market: 201 then 200 with the same market.
	w = do(t, h, "POST", fmt.Sprintf("/api/markets/create/%d/", id), map[string]string{"wallet_address": "w1"}, "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	m := decode[model.Market](t, w)
	assert.True(t, m.CurrentTruePrice.Equal(d(1)))
	w = do(t, h, "POST", fmt.Sprintf("/api/markets/create/%d/", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, m.ID, decode[model.Market](t, w).ID)

	// Fund and buy.
	w = do(t, h, "POST", "/api/users/w1/deposit/", map[string]string{"amount": "100"}, testKey)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.True(t, decode[balanceResponse](t, w).Balance.Equal(d(100)))

	w = do(t, h, "POST", "/api/markets/"+m.ID+"/buy/", map[string]string{"side": "true", "amount": "10", "wallet_address": "w1"}, "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	res := decode[model.BuyResult](t, w)
	assert.True(t, res.Cost.Equal(d(10)), "cost %s", res.Cost)
	assert.True(t, res.NewPrice.Equal(d(1.1)), "new price %s", res.NewPrice)
	assert.True(t, res.Balance.Equal(d(90)), "balance %s", res.Balance)
	assert.True(t, res.Market.CurrentFalsePrice.Equal(d(1)))
	assert.True(t, res.Position.Shares.Equal(d(10)))

	// Read side.
	w = do(t, h, "GET", "/api/users/w1/balance/", nil, "")
	assert.True(t, decode[balanceResponse](t, w).Balance.Equal(d(90)))

	w = do(t, h, "GET", "/api/users/w1/positions/", nil, "")
	positions := decode[[]model.PositionView](t, w)
	require.Len(t, positions, 1)
	assert.Equal(t, id, positions[0].ClaimID)
	assert.True(t, positions[0].Yield.Equal(d(1)))

	w = do(t, h, "GET", "/api/users/w1/history/", nil, "")
	assert.Len(t, decode[[]model.LedgerEntry](t, w), 1)

	w = do(t, h, "GET", "/api/markets/"+m.ID+"/history/", nil, "")
	assert.Len(t, decode[[]model.LedgerEntry](t, w), 1)

	w = do(t, h, "GET", fmt.Sprintf("/api/markets/claim/%d/", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[model.Market](t, w).TrueShares.Equal(d(10)))

	w = do(t, h, "GET", "/api/markets/", nil, "")
	listings := decode[[]model.MarketListing](t, w)
	require.Len(t, listings, 1)
	assert.Equal(t, "the-senator-raised-taxes-this-year", listings[0].ClaimSlug)
}

func TestBuyErrors(t *testing.T) {
	h := newTestRouter(t)
	id := approvedClaim(t, h, "Inflation rose three percent in March")
	w := do(t, h, "POST", fmt.Sprintf("/api/markets/create/%d", id), map[string]string{"wallet_address": "w1"}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	m := decode[model.Market](t, w)
	buyPath := "/api/markets/" + m.ID + "/buy"

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"no funds", map[string]string{"side": "TRUE", "amount": "1", "wallet_address": "broke"}, http.StatusPaymentRequired, "insufficient_funds"},
		{"bad side", map[string]string{"side": "MAYBE", "amount": "1", "wallet_address": "w1"}, http.StatusBadRequest, "invalid_side"},
		{"zero amount", map[string]string{"side": "TRUE", "amount": "0", "wallet_address": "w1"}, http.StatusBadRequest, "invalid_amount"},
		{"no wallet", map[string]string{"side": "TRUE", "amount": "1"}, http.StatusBadRequest, "invalid_wallet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, do(t, h, "POST", buyPath, tt.body, ""), tt.status, tt.code)
		})
	}

	requireError(t, do(t, h, "POST", "/api/markets/00000000-0000-0000-0000-000000000000/buy",
		map[string]string{"side": "TRUE", "amount": "1", "wallet_address": "w1"}, ""), http.StatusNotFound, "not_found")
}

func TestRequestErrors(t *testing.T) {
	h := newTestRouter(t)

	requireError(t, do(t, h, "POST", "/api/claims", map[string]string{"text": "Will taxes rise?"}, ""),
		http.StatusBadRequest, "invalid_claim")
	requireError(t, do(t, h, "GET", "/api/claims/999", nil, ""), http.StatusNotFound, "not_found")
	requireError(t, do(t, h, "GET", "/api/claims/abc", nil, ""), http.StatusBadRequest, "invalid_id")
	requireError(t, do(t, h, "GET", "/api/claims/slug/Not_A_Slug", nil, ""), http.StatusNotFound, "not_found")
	requireError(t, do(t, h, "GET", "/api/claims?status=bogus", nil, ""), http.StatusBadRequest, "invalid_query")
	requireError(t, do(t, h, "GET", "/api/claims?parent_claim=x", nil, ""), http.StatusBadRequest, "invalid_query")
	requireError(t, do(t, h, "POST", "/api/users/w1/deposit", map[string]string{"amount": "-5"}, testKey),
		http.StatusBadRequest, "invalid_amount")
	requireError(t, do(t, h, "POST", "/api/users/w1/deposit", map[string]string{"amount": "5"}, "wrong"),
		http.StatusUnauthorized, "unauthorized")

	id := approvedClaim(t, h, "Rates fell sharply in June")
	requireError(t, do(t, h, "POST", fmt.Sprintf("/api/claims/%d/review", id), map[string]string{"decision": "maybe"}, testKey),
		http.StatusBadRequest, "invalid_decision")

	req := httptest.NewRequest("POST", "/api/claims", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	requireError(t, w, http.StatusBadRequest, "invalid_body")
}

func TestDisabledWithoutAPIKey(t *testing.T) {
	st := store.NewMemoryStore()
	curve, _ := pricing.NewLinear(pricing.BaselinePrice, pricing.DefaultSlope, decimal.Zero)
	cs := claims.NewService(st, nil, nil)
	srv := NewServer(cs, rawtext.NewService(st, review.Heuristic{}, cs, nil),
		market.NewEngine(st, curve), ledger.New(st, nil), nil, Config{}, nil)

	w := do(t, srv.Router(), "POST", "/api/users/w1/deposit", map[string]string{"amount": "5"}, "anything")
	requireError(t, w, http.StatusForbidden, "disabled")
}

func TestRawTextsAndGeneration(t *testing.T) {
	h := newTestRouter(t)
	text := "<p>The senator raised taxes this year. Is that fair? Inflation rose three percent in March.</p>"

	w := do(t, h, "POST", "/api/rawtexts/check-duplicate/", map[string]string{"content": text}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"duplicate": false}, decode[map[string]bool](t, w))

	w = do(t, h, "POST", "/api/rawtexts/", map[string]any{"content": text, "source": 1, "genre": 1}, "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	w = do(t, h, "POST", "/api/rawtexts/check-duplicate/", map[string]string{"content": text}, "")
	assert.Equal(t, map[string]bool{"duplicate": true}, decode[map[string]bool](t, w))
	requireError(t, do(t, h, "POST", "/api/rawtexts/", map[string]any{"content": text}, ""),
		http.StatusConflict, "already_exists")

	w = do(t, h, "POST", "/api/claims/generate-from-text/", map[string]string{"text": text}, "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	resp := decode[generateResponse](t, w)
	require.Len(t, resp.NarrativeClaims, 2)
	for _, c := range resp.NarrativeClaims {
		assert.True(t, c.GeneratedByAI)
	}

	w = do(t, h, "POST", "/api/claims/generate-from-text/", map[string]string{"text": text}, "")
	resp = decode[generateResponse](t, w)
	require.Len(t, resp.NarrativeClaims, 2)
	for _, c := range resp.NarrativeClaims {
		assert.False(t, c.GeneratedByAI)
	}
}

func TestCORS(t *testing.T) {
	h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/claims/", nil)
	req.Header.Set("Origin", "https://prophet.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://prophet.example", w.Header().Get("Access-Control-Allow-Origin"))

	assert.False(t, originAllowed([]string{"https://a.example"}, "https://b.example"))
	assert.True(t, originAllowed(nil, "https://b.example"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&validate.Error{Rule: validate.RuleNegation}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", model.ErrInvalidAmount), http.StatusBadRequest},
		{market.ErrMarketNotFound, http.StatusNotFound},
		{market.ErrClaimNotTradable, http.StatusConflict},
		{risk.ErrFamilyLimitExceeded, http.StatusConflict},
		{model.ErrAlreadyExists, http.StatusConflict},
		{model.ErrInsufficientFunds, http.StatusPaymentRequired},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := classify(tt.err)
		assert.Equal(t, tt.status, got, "classify(%v)", tt.err)
	}
}
