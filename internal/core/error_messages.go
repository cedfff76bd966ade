package core

// error_messages.go maps technical errors to user-facing messages with
// codes support staff can look up.
//
// # Error Codes Reference
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate school id: an account with this school id already exists
//	DB002 - Data integrity: a value violates a database constraint
//	DB003 - Busy: the database is busy with conflicting work
//	DB004 - Locked: a row stayed locked by another writer
//	DB005 - Connection refused: unable to connect to the database
//	DB006 - Commit failed: the outcome of the last batch is unknown
//	DB007 - Not found: the requested record does not exist
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Roster failed validation (see the per-row list)
//	VAL002 - Required header missing
//	VAL003 - Value has the wrong type or is not an allowed choice
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Not a .csv file
//	FILE003 - Not valid UTF-8
//	FILE004 - No file provided
//
// # Ingest Errors (ING001-ING099)
//
//	ING001 - Ingest cancelled
//	ING002 - Too many ingests in progress
//	ING003 - Ingest not found (expired or never started)
//	ING004 - Request cancelled
//	ING005 - Request timed out
//
// # Term Errors (TERM001-TERM099)
//
//	TERM001 - Target term not found
//	TERM002 - No active term
//
// # Authentication (AUTH001-AUTH099)
//
//	AUTH001 - Credentials missing or wrong
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error
//
// Sentinel errors are matched first with errors.Is; the pattern table is a
// case-insensitive strings.Contains fallback for errors that only carry text.
// The first match wins in both lists.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/roster/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// Errors outside core that the HTTP layer and the watcher surface.
var (
	ErrNoFile       = errors.New("no file provided")
	ErrNoActiveTerm = errors.New("no active term")
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	msgDuplicate = UserMessage{
		Message: "An account with this school id already exists",
		Action:  "Re-run with force update to overwrite existing accounts",
		Code:    "DB001",
	}
	msgIntegrity = UserMessage{
		Message: "A value violates a database constraint",
		Action:  "Check the failed rows for blank or out-of-range values",
		Code:    "DB002",
	}
	msgBusy = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB003",
	}
	msgLocked = UserMessage{
		Message: "Another writer held the rows too long",
		Action:  "Please try again when the other ingest finishes",
		Code:    "DB004",
	}
	msgCommit = UserMessage{
		Message: "Saving the last batch failed and its outcome is unknown",
		Action:  "Re-run the ingest; rows already saved will be updated in place",
		Code:    "DB006",
	}
	msgNotFound = UserMessage{
		Message: "The requested record does not exist",
		Action:  "Check the id and try again",
		Code:    "DB007",
	}
	msgValidation = UserMessage{
		Message: "The roster failed validation",
		Action:  "Fix the listed rows and upload the file again",
		Code:    "VAL001",
	}
	msgMissingHeader = UserMessage{
		Message: "Required column is missing from the roster",
		Action:  "Compare your header row with the downloadable template",
		Code:    "VAL002",
	}
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the roster into smaller files",
		Code:    "FILE001",
	}
	msgNotCSV = UserMessage{
		Message: "File is not a CSV",
		Action:  "Export the roster as comma-separated values (.csv)",
		Code:    "FILE002",
	}
	msgEncoding = UserMessage{
		Message: "File contains invalid characters",
		Action:  "Save the file as UTF-8",
		Code:    "FILE003",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	}
	msgTooMany = UserMessage{
		Message: "System is busy processing other ingests",
		Action:  "Please wait a moment and try again",
		Code:    "ING002",
	}
	msgIngestNotFound = UserMessage{
		Message: "Ingest not found",
		Action:  "The ingest may have expired. Please start a new one",
		Code:    "ING003",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "ING004",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "ING005",
	}
	msgTermNotFound = UserMessage{
		Message: "The target term does not exist",
		Action:  "Create the term first or pick an existing one",
		Code:    "TERM001",
	}
	msgNoActiveTerm = UserMessage{
		Message: "No term is active",
		Action:  "Activate a term before ingesting from the watch folder",
		Code:    "TERM002",
	}
	msgUnauthorized = UserMessage{
		Message: "Authentication required",
		Action:  "Sign in with an operator account",
		Code:    "AUTH001",
	}
)

// sentinelMessages is checked in order with errors.Is. ErrCommit comes
// before the classes it may wrap.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{store.ErrCommit, msgCommit},
	{ErrTargetTermNotFound, msgTermNotFound},
	{ErrNoActiveTerm, msgNoActiveTerm},
	{ErrIngestNotFound, msgIngestNotFound},
	{ErrTooManyIngests, msgTooMany},
	{ErrInvalidUTF8, msgEncoding},
	{ErrNoFile, msgNoFile},
	{ErrUnauthorized, msgUnauthorized},
	{store.ErrUniqueViolation, msgDuplicate},
	{store.ErrDataIntegrity, msgIntegrity},
	{store.ErrLocked, msgLocked},
	{store.ErrBusy, msgBusy},
	{store.ErrNotFound, msgNotFound},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgTimeout},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is the text fallback. More specific patterns come first.
var errorPatterns = []errorPattern{
	{pattern: "already exists", msg: msgDuplicate},
	{pattern: "duplicate key", msg: msgDuplicate},
	{pattern: "violates", msg: msgIntegrity},
	{pattern: "deadlock", msg: msgBusy},
	{pattern: "lock timeout", msg: msgLocked},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB005",
		},
	},
	{pattern: "required header", msg: msgMissingHeader},
	{
		pattern: "is not a valid",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this column",
			Code:    "VAL003",
		},
	},
	{pattern: "file exceeds", msg: msgTooLarge},
	{pattern: ".csv extension", msg: msgNotCSV},
	{
		pattern: "cancelled",
		msg: UserMessage{
			Message: "Ingest was cancelled",
			Action:  "Start a new ingest when ready",
			Code:    "ING001",
		},
	},
	{pattern: "timeout", msg: msgTimeout},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("apply: %w", store.ErrLocked))
//	// msg.Code == "DB004"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		if len(verrs) > 0 && verrs[0].Kind != KindDataIntegrity && verrs[0].Kind != KindTypeMismatch {
			return mapValidationKind(verrs[0].Kind)
		}
		return msgValidation
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// mapValidationKind maps a file-level validation failure.
func mapValidationKind(kind ValidationKind) UserMessage {
	switch kind {
	case KindEncoding:
		return msgEncoding
	case KindHeaderMissing:
		return msgMissingHeader
	case KindFileSize:
		return msgTooLarge
	case KindFileType:
		return msgNotCSV
	}
	return msgValidation
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
