package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prophet/market-engine/internal/model"
)

type createMarketRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type buyRequest struct {
	Side          string          `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	WalletAddress string          `json:"wallet_address"`
}

// listMarkets handles GET /api/markets
func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListMarkets(r.Context())
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// createMarket handles POST /api/markets/create/{claimID}. It answers 201
// when the market was opened and 200 when it already existed.
func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	claimID, ok := int64Param(w, r, "claimID")
	if !ok {
		return
	}
	var req createMarketRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	m, created, err := s.engine.CreateMarket(r.Context(), claimID, req.WalletAddress)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, m)
}

// getMarketByClaim handles GET /api/markets/claim/{claimID}
func (s *Server) getMarketByClaim(w http.ResponseWriter, r *http.Request) {
	claimID, ok := int64Param(w, r, "claimID")
	if !ok {
		return
	}
	m, err := s.engine.GetMarket(r.Context(), claimID)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// getMarket handles GET /api/markets/{marketID}
func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMarketByID(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// marketHistory handles GET /api/markets/{marketID}/history
func (s *Server) marketHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.History(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// buy handles POST /api/markets/{marketID}/buy
func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.engine.Buy(r.Context(), model.BuyOrder{
		MarketID: chi.URLParam(r, "marketID"),
		Side:     model.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
		Amount:   req.Amount,
		Wallet:   strings.TrimSpace(req.WalletAddress),
	})
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
