package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/rawtext"
	"github.com/prophet/market-engine/internal/review"
	"github.com/prophet/market-engine/internal/risk"
	"github.com/prophet/market-engine/internal/validate"
)

// maxBodyBytes bounds request bodies; raw texts are the largest payloads.
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeErr maps a domain error to its HTTP status. Unclassified errors are
// logged and reported as a generic 500.
func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeError(w, status, code, msg)
}

func classify(err error) (int, string) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_claim"
	case errors.Is(err, model.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, model.ErrInvalidSide):
		return http.StatusBadRequest, "invalid_side"
	case errors.Is(err, model.ErrInvalidWallet):
		return http.StatusBadRequest, "invalid_wallet"
	case errors.Is(err, review.ErrInvalidDecision):
		return http.StatusBadRequest, "invalid_decision"
	case errors.Is(err, rawtext.ErrEmptyContent):
		return http.StatusBadRequest, "empty_content"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, risk.ErrPositionLimitExceeded):
		return http.StatusConflict, "position_limit"
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	}
	return http.StatusInternalServerError, "internal"
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

// int64Param parses a numeric path parameter, writing a 400 on failure.
func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
