package web

import (
	"fmt"
	"net/http"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createTermRequest struct {
	Label    string `json:"label" validate:"required,max=100"`
	Activate bool   `json:"activate"`
}

func (s *Server) handleListTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := s.dir.ListTerms(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if terms == nil {
		terms = []roster.Term{}
	}
	writeJSON(w, terms)
}

func (s *Server) handleActiveTerm(w http.ResponseWriter, r *http.Request) {
	term, err := s.dir.ActiveTerm(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, term)
}

// handleCreateTerm adds a term and optionally makes it the active one.
func (s *Server) handleCreateTerm(w http.ResponseWriter, r *http.Request) {
	var req createTermRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, requestStatus(err))
		return
	}

	term, err := s.dir.CreateTerm(r.Context(), req.Label)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if req.Activate {
		if err := s.dir.ActivateTerm(r.Context(), term.ID); err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		term.IsActive = true
	}

	logging.FromContext(r.Context()).Info("term created",
		"term_id", term.ID,
		"label", term.Label,
		"active", term.IsActive,
		"actor", core.ActorFromContext(r.Context()),
	)
	writeJSONStatus(w, http.StatusCreated, term)
}

// handleActivateTerm makes the term the only active one.
func (s *Server) handleActivateTerm(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "termID"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("term id: %w", errBadID), http.StatusBadRequest)
		return
	}
	if err := s.dir.ActivateTerm(r.Context(), id); err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("term activated",
		"term_id", id,
		"actor", core.ActorFromContext(r.Context()),
	)
	writeJSON(w, map[string]any{"term_id": id, "is_active": true})
}
