// Package core provides the business logic for roster ingestion.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/google/uuid"
)

// IngestPhase indicates the current stage of an ingest run.
type IngestPhase string

const (
	PhaseStarting     IngestPhase = "starting"
	PhaseValidating   IngestPhase = "validating"
	PhaseReading      IngestPhase = "reading"
	PhaseDeactivating IngestPhase = "deactivating"
	PhaseTransforming IngestPhase = "transforming"
	PhaseApplying     IngestPhase = "applying"
	PhaseActivating   IngestPhase = "activating"
	PhaseCounting     IngestPhase = "counting"
	PhaseComplete     IngestPhase = "complete"
	PhaseFailed       IngestPhase = "failed"
	PhaseCancelled    IngestPhase = "cancelled"
)

// Terminal reports whether no further progress will follow.
func (p IngestPhase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// ProgressFunc receives completed/total row fractions in [0, 1]. It is
// called from worker goroutines and must not block.
type ProgressFunc func(fraction float64)

// IngestProgress represents the current state of an asynchronous ingest.
type IngestProgress struct {
	IngestID string      `json:"ingest_id"`
	FileName string      `json:"file_name"`
	Phase    IngestPhase `json:"phase"`
	Fraction float64     `json:"fraction"`
	Error    string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Percent returns the progress as a percentage (0-100).
func (p IngestProgress) Percent() int {
	return int(p.Fraction * 100)
}

// ApplyOp is the classification of a drafted row.
type ApplyOp string

const (
	OpCreate ApplyOp = "create"
	OpUpdate ApplyOp = "update"
)

// RowState tracks one row through apply:
// Drafted → Classified → Attempting(k) → Committed | SkippedUnique | Failed.
type RowState string

const (
	StateDrafted       RowState = "drafted"
	StateClassified    RowState = "classified"
	StateAttempting    RowState = "attempting"
	StateCommitted     RowState = "committed"
	StateSkippedUnique RowState = "skipped_unique"
	StateFailed        RowState = "failed"
	StateSuperseded    RowState = "superseded"
)

// RowOutcome is the terminal state of one data row.
type RowOutcome struct {
	Row      int       `json:"row"`
	SchoolID string    `json:"school_id"`
	Op       ApplyOp   `json:"op,omitempty"`
	State    RowState  `json:"state"`
	Attempts int       `json:"attempts,omitempty"`
	Account  uuid.UUID `json:"account_id,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ErrorDetail attributes one failure to a data row. Row 0 is run-level.
type ErrorDetail struct {
	Row      int    `json:"row"`
	SchoolID string `json:"school_id,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

func (d ErrorDetail) String() string {
	if d.Row == 0 {
		return d.Message
	}
	if d.SchoolID != "" {
		return fmt.Sprintf("row %d (%s): %s", d.Row, d.SchoolID, d.Message)
	}
	return fmt.Sprintf("row %d: %s", d.Row, d.Message)
}

// Error detail kinds outside the transform and store taxonomies.
const (
	DetailCancelled = "cancelled"
	DetailExists    = "already_exists"
)

// IngestReport summarizes one ingest run.
type IngestReport struct {
	Validation          ValidationReport        `json:"validation"`
	TargetTerm          uuid.UUID               `json:"target_term"`
	ForceUpdate         bool                    `json:"force_update"`
	TotalProcessed      int                     `json:"total_processed"`
	Successful          int                     `json:"successful"`
	Failed              int                     `json:"failed"`
	Skipped             int                     `json:"skipped"`
	Created             int                     `json:"created"`
	Updated             int                     `json:"updated"`
	PreDeactivated      int64                   `json:"pre_deactivated"`
	Reactivated         int64                   `json:"reactivated"`
	ErrorDetails        []ErrorDetail           `json:"error_details"`
	ExistingAccountInfo ExistingAccountInfo     `json:"existing_account_info"`
	ActivationCounts    roster.ActivationCounts `json:"activation_counts"`
	Cancelled           bool                    `json:"cancelled"`
	Duration            time.Duration           `json:"duration"`

	// Outcomes holds one entry per data row in file order.
	Outcomes []RowOutcome `json:"-"`
}

// IngestError is returned when a run aborts after it started mutating the
// store. Report carries the counters accumulated up to the failure.
type IngestError struct {
	Phase  IngestPhase
	Report *IngestReport
	Err    error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest aborted while %s: %v", e.Phase, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
