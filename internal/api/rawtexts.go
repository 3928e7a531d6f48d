package api

import "net/http"

type rawTextRequest struct {
	Content string `json:"content"`
	Source  int64  `json:"source"`
	Genre   int64  `json:"genre"`
}

// checkDuplicate handles POST /api/rawtexts/check-duplicate
func (s *Server) checkDuplicate(w http.ResponseWriter, r *http.Request) {
	var req rawTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dup, err := s.texts.CheckDuplicate(r.Context(), req.Content)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"duplicate": dup})
}

// createRawText handles POST /api/rawtexts
func (s *Server) createRawText(w http.ResponseWriter, r *http.Request) {
	var req rawTextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rt, err := s.texts.Create(r.Context(), req.Content, req.Source, req.Genre)
	if err != nil {
		writeErr(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}
