package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ingestForm holds the non-file fields of an ingest upload.
type ingestForm struct {
	TermID      string `validate:"omitempty,uuid"`
	ForceUpdate string `validate:"omitempty,boolean"`
}

type startIngestResponse struct {
	IngestID    string    `json:"ingest_id"`
	TargetTerm  uuid.UUID `json:"target_term"`
	ProgressURL string    `json:"progress_url"`
	ResultURL   string    `json:"result_url"`
}

type validateResponse struct {
	Report   core.ValidationReport    `json:"report"`
	Existing core.ExistingAccountInfo `json:"existing_account_info"`
}

// handleValidate checks an uploaded roster without writing anything.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer up.Remove()

	result, err := s.service.Ingester().Validator().Validate(r.Context(), up.Path)
	if result != nil {
		result.Report.FileName = up.FileName
	}

	var verrs core.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		var details any
		if result != nil {
			details = validateResponse{Report: result.Report}
		}
		s.respondErrorDetails(w, r, err, 0, details)
	case err != nil:
		s.respondError(w, r, err, 0)
	default:
		writeJSON(w, validateResponse{Report: result.Report, Existing: result.Existing})
	}
}

// handleStartIngest spools the upload and starts a background ingest into
// the requested term, or the active term when none is given.
func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	up, err := s.receiveUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	form := ingestForm{
		TermID:      r.FormValue("term_id"),
		ForceUpdate: r.FormValue("force_update"),
	}
	if err := s.validateStruct(form); err != nil {
		up.Remove()
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	target, err := s.resolveTerm(r, form.TermID)
	if err != nil {
		up.Remove()
		s.respondError(w, r, err, 0)
		return
	}
	force, _ := strconv.ParseBool(form.ForceUpdate)

	// The service owns the spooled file from here and removes it when done;
	// only the multipart scratch files are ours.
	if up.form != nil {
		defer up.form.RemoveAll()
	}

	ctx := WithRequestMetadata(r.Context(), r)
	id, err := s.service.StartIngest(ctx, core.IngestRequest{
		Path:        up.Path,
		FileName:    up.FileName,
		TargetTerm:  target,
		ForceUpdate: force,
		RemoveFile:  true,
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, startIngestResponse{
		IngestID:    id,
		TargetTerm:  target,
		ProgressURL: "/api/ingests/" + id + "/progress",
		ResultURL:   "/api/ingests/" + id + "/result",
	})
}

// resolveTerm parses raw, or falls back to the active term.
func (s *Server) resolveTerm(r *http.Request, raw string) (uuid.UUID, error) {
	if raw != "" {
		return uuid.Parse(raw)
	}
	term, err := s.dir.ActiveTerm(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, core.ErrNoActiveTerm
	}
	if err != nil {
		return uuid.Nil, err
	}
	return term.ID, nil
}

// handleListIngests returns every ingest still tracked by the service.
func (s *Server) handleListIngests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.ActiveIngests())
}

// handleIngestProgress streams ingest progress via Server-Sent Events.
// A reconnecting client sends Last-Event-ID (the last percentage it saw)
// and only receives later updates.
func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ingestID")

	lastEventID := -1
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			percent := progress.Percent()
			if percent <= lastEventID && !progress.Phase.Terminal() {
				continue
			}
			lastEventID = percent

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

type ingestResultResponse struct {
	Progress core.IngestProgress `json:"progress"`
	Report   *core.IngestReport  `json:"report,omitempty"`
}

// handleIngestResult returns the final report, or 202 with the current
// progress while the ingest is still running.
func (s *Server) handleIngestResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ingestID")

	progress, err := s.service.GetProgress(id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if !progress.Phase.Terminal() {
		writeJSONStatus(w, http.StatusAccepted, ingestResultResponse{Progress: progress})
		return
	}

	report, err := s.service.GetResult(r.Context(), id)
	if err != nil {
		var details any
		if report != nil {
			details = ingestResultResponse{Progress: progress, Report: report}
		}
		s.respondErrorDetails(w, r, err, 0, details)
		return
	}
	writeJSON(w, ingestResultResponse{Progress: progress, Report: report})
}

// handleCancelIngest asks a running ingest to stop.
func (s *Server) handleCancelIngest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ingestID")
	if err := s.service.CancelIngest(id); err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.FromContext(r.Context()).Info("ingest cancel requested",
		"ingest_id", id,
		"actor", core.ActorFromContext(r.Context()),
	)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"ingest_id": id, "status": "cancelling"})
}
