// Package roster holds the domain model shared by the store and the ingest
// engine: accounts, terms, drafts and the gender enumeration.
package roster

import (
	"strings"

	"github.com/google/uuid"
)

// Account is one member of the roster. ID is a surrogate key that is never
// reused; SchoolID is the external, human-assigned unique identifier.
type Account struct {
	ID           uuid.UUID  `json:"id"`
	SchoolID     string     `json:"school_id"`
	FirstName    *string    `json:"first_name,omitempty"`
	MiddleName   *string    `json:"middle_name,omitempty"`
	LastName     *string    `json:"last_name,omitempty"`
	Gender       *Gender    `json:"gender,omitempty"`
	Course       *string    `json:"course,omitempty"`
	Department   *string    `json:"department,omitempty"`
	Position     *string    `json:"position,omitempty"`
	Major        *string    `json:"major,omitempty"`
	YearLevel    *string    `json:"year_level,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastSeenTerm *uuid.UUID `json:"last_seen_term,omitempty"`
}

// AccountDraft is a typed roster row awaiting apply. A nil field is absent:
// on update it leaves the stored value untouched.
type AccountDraft struct {
	SchoolID   string
	FirstName  *string
	MiddleName *string
	LastName   *string
	Gender     *Gender
	Course     *string
	Department *string
	Position   *string
	Major      *string
	YearLevel  *string
	IsActive   *bool

	// TermRef is the term named by the row itself, if any. Ingest overrides
	// it with the run's target term.
	TermRef *uuid.UUID
}

// AccountPatch carries a merge update. Nil fields are left unchanged;
// non-nil fields, including empty strings and false, replace stored values.
type AccountPatch struct {
	FirstName    *string
	MiddleName   *string
	LastName     *string
	Gender       *Gender
	Course       *string
	Department   *string
	Position     *string
	Major        *string
	YearLevel    *string
	IsActive     *bool
	LastSeenTerm *uuid.UUID
}

// Patch converts a draft into a merge update.
func (d AccountDraft) Patch() AccountPatch {
	return AccountPatch{
		FirstName:    d.FirstName,
		MiddleName:   d.MiddleName,
		LastName:     d.LastName,
		Gender:       d.Gender,
		Course:       d.Course,
		Department:   d.Department,
		Position:     d.Position,
		Major:        d.Major,
		YearLevel:    d.YearLevel,
		IsActive:     d.IsActive,
		LastSeenTerm: d.TermRef,
	}
}

// Apply merges p into a and returns the result. The store performs the same
// merge in SQL; this is used by in-memory repositories and tests.
func (a Account) Apply(p AccountPatch) Account {
	setText := func(dst **string, src *string) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	setText(&a.FirstName, p.FirstName)
	setText(&a.MiddleName, p.MiddleName)
	setText(&a.LastName, p.LastName)
	setText(&a.Course, p.Course)
	setText(&a.Department, p.Department)
	setText(&a.Position, p.Position)
	setText(&a.Major, p.Major)
	setText(&a.YearLevel, p.YearLevel)
	if p.Gender != nil {
		g := *p.Gender
		a.Gender = &g
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	if p.LastSeenTerm != nil {
		t := *p.LastSeenTerm
		a.LastSeenTerm = &t
	}
	return a
}

// NormalizeSchoolID trims surrounding whitespace. Matching is exact otherwise.
func NormalizeSchoolID(s string) string {
	return strings.TrimSpace(s)
}

// Text returns a pointer to s, for building drafts and patches.
func Text(s string) *string { return &s }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
