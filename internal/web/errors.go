package web

// errors.go renders every API error the same way:
//  1. The handler calls respondError(w, r, err, status)
//  2. core.MapError picks the user message and support code
//  3. The technical error is logged with the request id for correlation
//  4. The client gets an ErrorResponse; status 0 derives it from the code

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// statusByCode maps support codes to HTTP statuses. Unlisted codes are 500.
var statusByCode = map[string]int{
	"DB001":   http.StatusConflict,
	"DB002":   http.StatusUnprocessableEntity,
	"DB003":   http.StatusServiceUnavailable,
	"DB004":   http.StatusServiceUnavailable,
	"DB005":   http.StatusServiceUnavailable,
	"DB007":   http.StatusNotFound,
	"VAL001":  http.StatusUnprocessableEntity,
	"VAL002":  http.StatusUnprocessableEntity,
	"VAL003":  http.StatusBadRequest,
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusUnsupportedMediaType,
	"FILE003": http.StatusUnprocessableEntity,
	"FILE004": http.StatusBadRequest,
	"ING001":  http.StatusConflict,
	"ING002":  http.StatusServiceUnavailable,
	"ING003":  http.StatusNotFound,
	"ING004":  http.StatusRequestTimeout,
	"ING005":  http.StatusGatewayTimeout,
	"TERM001": http.StatusNotFound,
	"TERM002": http.StatusConflict,
	"AUTH001": http.StatusUnauthorized,
}

func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes its user-facing form. A zero status is
// derived from the error code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	s.respondErrorDetails(w, r, err, status, nil)
}

func (s *Server) respondErrorDetails(w http.ResponseWriter, r *http.Request, err error, status int, details any) {
	msg := core.MapError(err)
	if status == 0 {
		status = statusFor(msg.Code)
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if details == nil {
		var verrs core.ValidationErrors
		if errors.As(err, &verrs) {
			details = []core.ValidationError(verrs)
		}
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSONStatus(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Details: details,
	})
}

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 5

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON. Encoding errors are logged since the
// header is already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
