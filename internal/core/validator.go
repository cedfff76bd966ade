package core

// validator.go checks a roster file before anything touches the store.
//
// Checks run in a fixed order. Size and extension problems are recorded but
// do not stop the scan; unreadable files, invalid UTF-8 and missing headers
// do, because rows cannot be interpreted without them. Every data row is
// examined so the caller sees all problems at once.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/schema"
	"github.com/JonMunkholm/roster/internal/store"
)

// DefaultMaxFileSize is the largest roster accepted (100 MiB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// PreviewRowCount is the number of leading data rows captured for preview.
const PreviewRowCount = 5

// existingLookupBatch bounds the id array sent per existence query.
const existingLookupBatch = 5000

// ValidationKind classifies a validation failure.
type ValidationKind string

const (
	KindFileSize      ValidationKind = "FileSize"
	KindFileType      ValidationKind = "FileType"
	KindEncoding      ValidationKind = "Encoding"
	KindHeaderMissing ValidationKind = "HeaderMissing"
	KindDataIntegrity ValidationKind = "DataIntegrity"
	KindTypeMismatch  ValidationKind = "TypeMismatch"
)

// ValidationError is one problem found in a roster. Row 0 is file-level.
type ValidationError struct {
	Row     int            `json:"row_number"`
	Field   string         `json:"field,omitempty"`
	Kind    ValidationKind `json:"kind"`
	Message string         `json:"message"`
}

func (e ValidationError) Error() string {
	switch {
	case e.Row == 0 && e.Field == "":
		return e.Message
	case e.Row == 0:
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	case e.Field == "":
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	default:
		return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Message)
	}
}

// ValidationErrors is the error returned by a failed validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "validation failed"
	case 1:
		return v[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
	}
}

// ValidationReport summarizes a validated roster.
type ValidationReport struct {
	IsValid       bool                `json:"is_valid"`
	FileName      string              `json:"file_name"`
	FileSizeBytes int64               `json:"file_size_bytes"`
	TotalRows     int                 `json:"total_rows"`
	ValidatedRows int                 `json:"validated_rows"`
	InvalidRows   int                 `json:"invalid_rows"`
	Encoding      string              `json:"encoding"`
	PreviewRows   []map[string]string `json:"preview_rows"`
	Errors        []ValidationError   `json:"errors"`
}

// ExistingAccountInfo lists roster rows that already have accounts. It is
// informational and never an error.
type ExistingAccountInfo struct {
	Accounts      []roster.Account `json:"accounts"`
	NewCount      int              `json:"new_count"`
	ExistingCount int              `json:"existing_count"`
}

// Validation is the result of a validator run.
type Validation struct {
	Report   ValidationReport
	Existing ExistingAccountInfo
}

// Validator checks roster files. It never writes to the store.
type Validator struct {
	accounts    AccountReader
	terms       TermReader
	maxFileSize int64
}

// NewValidator creates a validator. A non-positive maxFileSize uses
// DefaultMaxFileSize.
func NewValidator(accounts AccountReader, terms TermReader, maxFileSize int64) *Validator {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Validator{accounts: accounts, terms: terms, maxFileSize: maxFileSize}
}

// Validate checks the roster at path. On failure it returns the report
// together with a ValidationErrors error; any other error means the check
// itself could not complete.
func (v *Validator) Validate(ctx context.Context, path string) (*Validation, error) {
	report := ValidationReport{
		FileName:    filepath.Base(path),
		Encoding:    "UTF-8",
		PreviewRows: []map[string]string{},
	}
	var errs ValidationErrors

	fail := func() (*Validation, error) {
		report.Errors = errs
		return &Validation{Report: report}, errs
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		errs = append(errs, ValidationError{Kind: KindEncoding, Message: "Unable to open file"})
		return fail()
	}
	report.FileSizeBytes = info.Size()

	if info.Size() > v.maxFileSize {
		errs = append(errs, ValidationError{
			Kind:    KindFileSize,
			Message: fmt.Sprintf("File exceeds the %s limit", formatSize(v.maxFileSize)),
		})
	}
	if !strings.EqualFold(strings.TrimPrefix(filepath.Ext(path), "."), "csv") {
		errs = append(errs, ValidationError{Kind: KindFileType, Message: "File must have a .csv extension"})
	}

	f, err := os.Open(path)
	if err != nil {
		errs = append(errs, ValidationError{Kind: KindEncoding, Message: "Unable to open file"})
		return fail()
	}
	defer f.Close()

	if err := CheckUTF8(f); err != nil {
		msg := "File is not valid UTF-8"
		if !errors.Is(err, ErrInvalidUTF8) {
			msg = "Unable to read file"
		}
		errs = append(errs, ValidationError{Kind: KindEncoding, Message: msg})
		return fail()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, ValidationError{Kind: KindEncoding, Message: "Unable to read file"})
		return fail()
	}

	reader := newRosterCSVReader(f)

	header, err := readHeader(reader)
	if err != nil && !errors.Is(err, io.EOF) {
		errs = append(errs, ValidationError{Kind: KindEncoding, Message: "Unable to read file"})
		return fail()
	}
	idx := MakeHeaderIndex(header)
	for _, name := range schema.RequiredHeaders() {
		if _, ok := idx[name]; !ok {
			errs = append(errs, ValidationError{
				Field:   name,
				Kind:    KindHeaderMissing,
				Message: fmt.Sprintf("Required header %q is missing", name),
			})
		}
	}
	for _, name := range duplicateColumns(header) {
		errs = append(errs, ValidationError{
			Field:   name,
			Kind:    KindHeaderMissing,
			Message: fmt.Sprintf("Header %q appears more than once", name),
		})
	}
	if hasKind(errs, KindHeaderMissing) {
		return fail()
	}

	checker := &cellChecker{terms: v.terms, labels: map[string]bool{}}
	seen := make(map[string]struct{})
	var schoolIDs []string

	rowNum := 0
	for {
		if rowNum%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			errs = append(errs, ValidationError{Kind: KindEncoding, Message: "Unable to read file"})
			return fail()
		}
		if err == nil && isEmptyRow(record) {
			continue
		}
		rowNum++

		if parseErr != nil {
			errs = append(errs, ValidationError{
				Row:     rowNum,
				Kind:    KindDataIntegrity,
				Message: fmt.Sprintf("Malformed CSV record: %v", parseErr.Err),
			})
			report.InvalidRows++
			continue
		}

		if rowNum <= PreviewRowCount {
			report.PreviewRows = append(report.PreviewRows, previewRow(header, record))
		}

		rowErrs, err := checker.checkRow(ctx, rowNum, idx, record)
		if err != nil {
			return nil, err
		}
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			report.InvalidRows++
		} else {
			report.ValidatedRows++
		}

		if id, _ := idx.Cell(record, schema.ColStudentID); id != "" {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				schoolIDs = append(schoolIDs, id)
			}
		}
	}
	report.TotalRows = rowNum

	if len(errs) > 0 {
		return fail()
	}
	report.IsValid = true
	report.Errors = []ValidationError{}

	existing, err := v.lookupExisting(ctx, schoolIDs)
	if err != nil {
		return nil, fmt.Errorf("look up existing accounts: %w", err)
	}
	return &Validation{Report: report, Existing: existing}, nil
}

func (v *Validator) lookupExisting(ctx context.Context, ids []string) (ExistingAccountInfo, error) {
	info := ExistingAccountInfo{Accounts: []roster.Account{}}
	if v.accounts == nil {
		info.NewCount = len(ids)
		return info, nil
	}
	for _, batch := range chunk(ids, existingLookupBatch) {
		found, err := v.accounts.FindBySchoolIDs(ctx, batch)
		if err != nil {
			return ExistingAccountInfo{}, err
		}
		info.Accounts = append(info.Accounts, found...)
	}
	info.ExistingCount = len(info.Accounts)
	info.NewCount = len(ids) - info.ExistingCount
	return info, nil
}

// cellChecker validates typed cells. Term labels are looked up once each.
type cellChecker struct {
	terms  TermReader
	mu     sync.Mutex
	labels map[string]bool
}

func (c *cellChecker) checkRow(ctx context.Context, rowNum int, idx HeaderIndex, record []string) ([]ValidationError, error) {
	var errs []ValidationError

	for _, spec := range schema.RosterFieldSpecs {
		value, present := idx.Cell(record, spec.Name)
		if !present {
			continue
		}

		if value == "" {
			if spec.Required && !spec.AllowEmpty {
				errs = append(errs, ValidationError{
					Row:     rowNum,
					Field:   spec.Name,
					Kind:    KindDataIntegrity,
					Message: "Required field is empty",
				})
			}
			continue
		}

		ok, err := c.checkCell(ctx, spec, value)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs = append(errs, ValidationError{
				Row:     rowNum,
				Field:   spec.Name,
				Kind:    KindTypeMismatch,
				Message: typeMismatchMessage(spec, value),
			})
		}
	}
	return errs, nil
}

func (c *cellChecker) checkCell(ctx context.Context, spec schema.FieldSpec, value string) (bool, error) {
	switch spec.Type {
	case schema.FieldGender, schema.FieldBool:
		for _, allowed := range spec.EnumValues {
			if strings.EqualFold(allowed, value) {
				return true, nil
			}
		}
		return false, nil
	case schema.FieldTermRef:
		if _, ok := ParseTermID(value); ok {
			return true, nil
		}
		return c.knownLabel(ctx, value)
	}
	return true, nil
}

func (c *cellChecker) knownLabel(ctx context.Context, label string) (bool, error) {
	c.mu.Lock()
	known, cached := c.labels[label]
	c.mu.Unlock()
	if cached {
		return known, nil
	}
	if c.terms == nil {
		return false, nil
	}

	_, err := c.terms.GetByLabel(ctx, label)
	switch {
	case err == nil:
		known = true
	case store.IsNotFound(err):
		known = false
	default:
		return false, fmt.Errorf("look up term %q: %w", label, err)
	}

	c.mu.Lock()
	c.labels[label] = known
	c.mu.Unlock()
	return known, nil
}

func typeMismatchMessage(spec schema.FieldSpec, value string) string {
	switch spec.Type {
	case schema.FieldTermRef:
		return fmt.Sprintf("%q is neither a term id nor a known term label", value)
	default:
		return fmt.Sprintf("%q is not a valid %s; expected one of: %s",
			value, spec.Type, strings.Join(spec.EnumValues, ", "))
	}
}

func hasKind(errs []ValidationError, kind ValidationKind) bool {
	for _, e := range errs {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func previewRow(header, record []string) map[string]string {
	out := make(map[string]string, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key == "" {
			continue
		}
		if i < len(record) {
			out[key] = CleanCell(record[i])
		} else {
			out[key] = ""
		}
	}
	return out
}

// ContextCheckInterval is how often row loops check for cancellation.
var ContextCheckInterval = 100

func newRosterCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(NewRosterReader(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// readHeader returns the first non-blank record.
func readHeader(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		if !isEmptyRow(record) {
			return record, nil
		}
	}
}

// formatSize renders n in whole MiB, or in bytes below 1 MiB.
func formatSize(n int64) string {
	const mib = 1024 * 1024
	if n < mib {
		return fmt.Sprintf("%d bytes", n)
	}
	return fmt.Sprintf("%d MiB", n/mib)
}
