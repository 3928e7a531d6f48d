package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/prophet/market-engine/internal/model"
	"github.com/prophet/market-engine/internal/rawtext"
	"github.com/prophet/market-engine/internal/review"
)

const maxListLimit = 500

type submitClaimRequest struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

type reviewRequest struct {
	Decision    review.Decision `json:"decision"`
	Description string          `json:"description"`
	Variants    []string        `json:"variants"`
}

type generateRequest struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

type generateResponse struct {
	NarrativeClaims []rawtext.NarrativeClaim `json:"narrative_claims"`
}

// listClaims handles GET /api/claims?parent_claim=&status=&author=&limit=&offset=
func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f model.ClaimFilter
	if v := q.Get("parent_claim"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "parent_claim must be an integer")
			return
		}
		f.ParentID = &id
	}
	f.Status = model.Status(q.Get("status"))
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_query", "unknown status "+strconv.Quote(string(f.Status)))
		return
	}
	f.Author = q.Get("author")
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer")
			return
		}
		f.Offset = n
	}

	list, err := s.claims.List(r.Context(), f)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	if list == nil {
		list = []model.Claim{}
	}
	writeJSON(w, http.StatusOK, list)
}

// submitClaim handles POST /api/claims
func (s *Server) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.claims.Submit(r.Context(), req.Text, req.Author)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// getClaim handles GET /api/claims/{claimID}
func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "claimID")
	if !ok {
		return
	}
	c, err := s.claims.Get(r.Context(), id)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// getClaimBySlug handles GET /api/claims/slug/{slug}
func (s *Server) getClaimBySlug(w http.ResponseWriter, r *http.Request) {
	c, err := s.claims.FindBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// reviewCallback handles POST /api/claims/{claimID}/review from an external
// reviewer. A claim that has already left pending answers 409.
func (s *Server) reviewCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "claimID")
	if !ok {
		return
	}
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v := &review.Verdict{
		Decision:    review.Decision(strings.ToLower(strings.TrimSpace(string(req.Decision)))),
		Description: strings.TrimSpace(req.Description),
		Variants:    req.Variants,
	}
	if err := review.ApplyVerdict(r.Context(), s.claims, id, v, s.logger); err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	c, err := s.claims.Get(r.Context(), id)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// generateClaims handles POST /api/claims/generate-from-text
func (s *Server) generateClaims(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	found, err := s.texts.GenerateClaims(r.Context(), req.Text, req.Author)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{NarrativeClaims: found})
}
