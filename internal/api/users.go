package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prophet/market-engine/internal/model"
)

type balanceResponse struct {
	WalletAddress string          `json:"wallet_address"`
	Balance       decimal.Decimal `json:"balance"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func walletParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "wallet"))
}

// balance handles GET /api/users/{wallet}/balance. Unknown wallets have a
// zero balance.
func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	wallet := walletParam(r)
	bal, err := s.ledger.Balance(r.Context(), wallet)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{WalletAddress: wallet, Balance: bal})
}

// deposit handles POST /api/users/{wallet}/deposit
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet := walletParam(r)
	if wallet == "" {
		writeErr(w, r, s.logger, model.ErrInvalidWallet)
		return
	}
	bal, err := s.ledger.Credit(r.Context(), wallet, req.Amount)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{WalletAddress: wallet, Balance: bal})
}

// positions handles GET /api/users/{wallet}/positions
func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.Positions(r.Context(), walletParam(r))
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// history handles GET /api/users/{wallet}/history
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.History(r.Context(), walletParam(r))
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
