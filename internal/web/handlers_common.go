package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/go-playground/validator/v10"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to disk.
const multipartMemory = 8 << 20

// multipartOverhead is allowed on top of the roster size for form fields
// and boundaries.
const multipartOverhead = 1 << 20

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// clientIP returns the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// decodeJSON reads a JSON body into dst and runs struct validation.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return s.validateStruct(dst)
}

// requestStatus is the status for a decodeJSON failure: struct validation
// errors map through their code, malformed bodies are 400.
func requestStatus(err error) int {
	var verrs core.ValidationErrors
	if errors.As(err, &verrs) {
		return 0
	}
	return http.StatusBadRequest
}

// validateStruct runs the validate tags on v and flattens field errors into
// core.ValidationErrors.
func (s *Server) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(core.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, core.ValidationError{
			Field:   fe.Field(),
			Kind:    core.KindTypeMismatch,
			Message: fmt.Sprintf("failed %q check", fe.Tag()),
		})
	}
	return out
}

// upload is a roster received in a multipart form and spooled to disk.
type upload struct {
	Path     string
	FileName string
	form     *multipart.Form
}

// Remove deletes the spooled copy and any multipart temp files.
func (u *upload) Remove() {
	_ = os.Remove(u.Path)
	if u.form != nil {
		_ = u.form.RemoveAll()
	}
}

// receiveUpload spools the "file" form field to a temp file that keeps the
// original extension, so the validator's .csv check still applies.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	limit := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, fmt.Errorf("file exceeds the %d byte limit: %w", limit, err)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, core.ErrNoFile
		}
		return nil, fmt.Errorf("invalid form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		if errors.Is(err, http.ErrMissingFile) {
			return nil, core.ErrNoFile
		}
		return nil, fmt.Errorf("read form file: %w", err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	tmp, err := os.CreateTemp("", "roster-upload-*"+filepath.Ext(name))
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	u := &upload{Path: tmp.Name(), FileName: name, form: r.MultipartForm}

	_, copyErr := io.Copy(tmp, file)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		u.Remove()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	return u, nil
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Ingests  core.IngestLimiterStatus `json:"ingests"`
	Tracked  int                      `json:"tracked_ingests"`
	Time     time.Time                `json:"time"`
}

// handleHealth reports database reachability and ingest slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Ingests:  s.service.Limiter().Status(),
		Tracked:  len(s.service.ActiveIngests()),
		Time:     time.Now().UTC(),
	}
	status := http.StatusOK
	if err := s.dir.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, resp)
}

// handleTemplate downloads a header-only roster CSV.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="roster_template.csv"`)
	if err := core.WriteTemplate(w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}
