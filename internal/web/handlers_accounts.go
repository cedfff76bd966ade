package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 500
	defaultSearchLimit = 20
	maxSearchLimit     = 200
)

var errBadID = errors.New("malformed id")

// handleListAccounts returns one page of accounts, optionally filtered to
// the accounts last seen in term_id.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1)
	pageSize := min(parseIntParam(r, "page_size", defaultPageSize), maxPageSize)

	var termID *uuid.UUID
	if raw := r.URL.Query().Get("term_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("term_id: %w", errBadID), http.StatusBadRequest)
			return
		}
		termID = &id
	}

	result, err := s.dir.ListAccounts(r.Context(), page, pageSize, termID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, result)
}

// handleSearchAccounts matches q against school ids and names.
func (s *Server) handleSearchAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, []roster.Account{})
		return
	}
	limit := min(parseIntParam(r, "limit", defaultSearchLimit), maxSearchLimit)

	accounts, err := s.dir.SearchAccounts(r.Context(), q, limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if accounts == nil {
		accounts = []roster.Account{}
	}
	writeJSON(w, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("account id: %w", errBadID), http.StatusBadRequest)
		return
	}
	account, err := s.dir.GetAccount(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, account)
}

func (s *Server) handleGetAccountBySchoolID(w http.ResponseWriter, r *http.Request) {
	account, err := s.dir.GetAccountBySchoolID(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, account)
}

// handleExportAccounts downloads every account as CSV (default) or XLSX.
// The CSV layout can be ingested again unchanged.
func (s *Server) handleExportAccounts(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	stamp := time.Now().Format("20060102_150405")

	var err error
	switch format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="accounts_%s.csv"`, stamp))
		_, err = s.exporter.ExportCSV(r.Context(), w)
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="accounts_%s.xlsx"`, stamp))
		_, err = s.exporter.ExportXLSX(r.Context(), w)
	default:
		s.respondError(w, r, fmt.Errorf("unknown export format %q", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		// Headers may already be sent; this only reaches the log for CSV.
		s.respondError(w, r, err, 0)
	}
}
