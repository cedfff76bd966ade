package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/schema"
	"github.com/JonMunkholm/roster/internal/store"
	"github.com/google/uuid"
)

// DefaultTransformBatchSize is the number of rows per transform batch.
const DefaultTransformBatchSize = 100

// TransformErrorKind classifies a per-row transform failure.
type TransformErrorKind string

const (
	MissingRequiredField TransformErrorKind = "MissingRequiredField"
	InvalidFieldFormat   TransformErrorKind = "InvalidFieldFormat"
	UnknownHeader        TransformErrorKind = "UnknownHeader"
	TermNotFound         TransformErrorKind = "TermNotFound"
)

// TransformError explains why a row could not become a draft.
type TransformError struct {
	Kind  TransformErrorKind
	Field string
	Value string
	Err   error
}

func (e *TransformError) Error() string {
	switch e.Kind {
	case MissingRequiredField:
		return fmt.Sprintf("missing required field %q", e.Field)
	case UnknownHeader:
		return fmt.Sprintf("column %q appears more than once in the header", e.Field)
	case TermNotFound:
		return fmt.Sprintf("term %q not found", e.Value)
	default:
		if e.Err != nil {
			return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
		}
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Row is one non-blank data record. Number is 1-based.
type Row struct {
	Number int
	Record []string
}

// TransformResult pairs a row with its draft or failure.
type TransformResult struct {
	Row   int
	Draft roster.AccountDraft
	Err   error
}

// Transformer converts roster records into drafts. It is safe for
// concurrent use; term lookups are cached for its lifetime.
type Transformer struct {
	idx   HeaderIndex
	terms TermReader

	mu        sync.Mutex
	termCache map[string]termLookup
}

type termLookup struct {
	id  uuid.UUID
	err error
}

// NewTransformer captures header once. A consumed column that appears more
// than once fails with UnknownHeader, since its value would be ambiguous.
func NewTransformer(header []string, terms TermReader) (*Transformer, error) {
	if dups := duplicateColumns(header); len(dups) > 0 {
		return nil, &TransformError{Kind: UnknownHeader, Field: dups[0]}
	}

	return &Transformer{
		idx:       MakeHeaderIndex(header),
		terms:     terms,
		termCache: make(map[string]termLookup),
	}, nil
}

// Transform converts one record. Blank optional cells stay absent;
// is_active defaults to true.
func (t *Transformer) Transform(ctx context.Context, record []string) (roster.AccountDraft, error) {
	var draft roster.AccountDraft

	for _, spec := range schema.RosterFieldSpecs {
		value, present := t.idx.Cell(record, spec.Name)
		if spec.Required && !present {
			return roster.AccountDraft{}, &TransformError{Kind: MissingRequiredField, Field: spec.Name}
		}
		if value == "" {
			if spec.Required && !spec.AllowEmpty {
				return roster.AccountDraft{}, &TransformError{Kind: MissingRequiredField, Field: spec.Name}
			}
			continue
		}

		if err := t.assign(ctx, &draft, spec, value); err != nil {
			return roster.AccountDraft{}, err
		}
	}

	if draft.IsActive == nil {
		draft.IsActive = roster.Bool(true)
	}
	return draft, nil
}

func (t *Transformer) assign(ctx context.Context, d *roster.AccountDraft, spec schema.FieldSpec, value string) error {
	switch spec.Name {
	case schema.ColStudentID:
		d.SchoolID = roster.NormalizeSchoolID(value)
	case schema.ColFirstName:
		d.FirstName = roster.Text(value)
	case schema.ColMiddleName:
		d.MiddleName = roster.Text(value)
	case schema.ColLastName:
		d.LastName = roster.Text(value)
	case schema.ColCourse:
		d.Course = roster.Text(value)
	case schema.ColDepartment:
		d.Department = roster.Text(value)
	case schema.ColPosition:
		d.Position = roster.Text(value)
	case schema.ColMajor:
		d.Major = roster.Text(value)
	case schema.ColYearLevel:
		d.YearLevel = roster.Text(value)
	case schema.ColGender:
		g, err := roster.ParseGender(value)
		if err != nil {
			return &TransformError{Kind: InvalidFieldFormat, Field: spec.Name, Value: value, Err: err}
		}
		d.Gender = &g
	case schema.ColIsActive:
		active, err := ParseActive(value)
		if err != nil {
			return &TransformError{Kind: InvalidFieldFormat, Field: spec.Name, Value: value, Err: err}
		}
		d.IsActive = &active
	case schema.ColTerm:
		id, err := t.resolveTerm(ctx, value)
		if err != nil {
			return err
		}
		d.TermRef = &id
	}
	return nil
}

// resolveTerm accepts a canonical term id, which must exist, or a label.
func (t *Transformer) resolveTerm(ctx context.Context, value string) (uuid.UUID, error) {
	t.mu.Lock()
	cached, ok := t.termCache[value]
	t.mu.Unlock()
	if ok {
		return cached.id, cached.err
	}

	var (
		term roster.Term
		err  error
	)
	switch {
	case t.terms == nil:
		err = store.ErrNotFound
	default:
		if id, isID := ParseTermID(value); isID {
			term, err = t.terms.Get(ctx, id)
		} else {
			term, err = t.terms.GetByLabel(ctx, value)
		}
	}

	var result termLookup
	switch {
	case err == nil:
		result = termLookup{id: term.ID}
	case store.IsNotFound(err):
		result = termLookup{err: &TransformError{Kind: TermNotFound, Field: schema.ColTerm, Value: value}}
	default:
		// Store failures are not cached so a later row can succeed.
		return uuid.Nil, fmt.Errorf("look up term %q: %w", value, err)
	}

	t.mu.Lock()
	t.termCache[value] = result
	t.mu.Unlock()
	return result.id, result.err
}

// duplicateColumns lists the consumed columns that appear more than once in
// header, in schema order.
func duplicateColumns(header []string) []string {
	counts := make(map[string]int, len(header))
	for _, h := range header {
		counts[strings.ToLower(CleanCell(h))]++
	}
	var dups []string
	for _, name := range schema.Columns() {
		if counts[name] > 1 {
			dups = append(dups, name)
		}
	}
	return dups
}

// TransformBatch converts rows in order. Per-row failures never abort the batch.
func (t *Transformer) TransformBatch(ctx context.Context, rows []Row) []TransformResult {
	out := make([]TransformResult, len(rows))
	for i, row := range rows {
		draft, err := t.Transform(ctx, row.Record)
		out[i] = TransformResult{Row: row.Number, Draft: draft, Err: err}
	}
	return out
}

// TransformBatches groups rows into batches of size and transforms each.
func (t *Transformer) TransformBatches(ctx context.Context, rows []Row, size int) [][]TransformResult {
	if size <= 0 {
		size = DefaultTransformBatchSize
	}
	batches := chunk(rows, size)
	out := make([][]TransformResult, len(batches))
	for i, batch := range batches {
		out[i] = t.TransformBatch(ctx, batch)
	}
	return out
}
