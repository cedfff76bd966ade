package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/JonMunkholm/roster/internal/schema"
	"github.com/xuri/excelize/v2"
)

// ExportSheet is the worksheet name used by ExportXLSX.
const ExportSheet = "Accounts"

// Exporter writes stored accounts in the roster column layout, so an export
// can be ingested again unchanged.
type Exporter struct {
	accounts AccountReader
}

func NewExporter(accounts AccountReader) *Exporter {
	return &Exporter{accounts: accounts}
}

// ExportCSV streams every account to w as CSV and returns the row count.
func (e *Exporter) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Columns()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	err := e.accounts.StreamAll(ctx, func(a roster.Account) error {
		n++
		if n%ContextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		return cw.Write(accountRecord(a))
	})
	if err != nil {
		return n, fmt.Errorf("export accounts: %w", err)
	}

	cw.Flush()
	return n, cw.Error()
}

// ExportXLSX writes every account to a single-sheet workbook.
func (e *Exporter) ExportXLSX(ctx context.Context, w io.Writer) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return 0, err
	}
	sw, err := f.NewStreamWriter(ExportSheet)
	if err != nil {
		return 0, fmt.Errorf("open sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return 0, err
	}

	cols := schema.Columns()
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: c}
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{Height: 18}); err != nil {
		return 0, err
	}

	n := 0
	err = e.accounts.StreamAll(ctx, func(a roster.Account) error {
		n++
		if n%ContextCheckInterval == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		rec := accountRecord(a)
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, n+1)
		if err != nil {
			return err
		}
		return sw.SetRow(cell, row)
	})
	if err != nil {
		return n, fmt.Errorf("export accounts: %w", err)
	}

	if err := sw.Flush(); err != nil {
		return n, err
	}
	if err := f.Write(w); err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}
	return n, nil
}

// WriteTemplate writes a header-only roster CSV.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Columns()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// accountRecord renders a in schema.Columns order.
func accountRecord(a roster.Account) []string {
	rec := make([]string, 0, len(schema.RosterFieldSpecs))
	for _, spec := range schema.RosterFieldSpecs {
		rec = append(rec, accountCell(a, spec.Name))
	}
	return rec
}

func accountCell(a roster.Account, col string) string {
	switch col {
	case schema.ColStudentID:
		return a.SchoolID
	case schema.ColFirstName:
		return roster.Deref(a.FirstName)
	case schema.ColMiddleName:
		return roster.Deref(a.MiddleName)
	case schema.ColLastName:
		return roster.Deref(a.LastName)
	case schema.ColGender:
		if a.Gender == nil {
			return ""
		}
		return a.Gender.String()
	case schema.ColCourse:
		return roster.Deref(a.Course)
	case schema.ColDepartment:
		return roster.Deref(a.Department)
	case schema.ColPosition:
		return roster.Deref(a.Position)
	case schema.ColMajor:
		return roster.Deref(a.Major)
	case schema.ColYearLevel:
		return roster.Deref(a.YearLevel)
	case schema.ColIsActive:
		if a.IsActive {
			return "1"
		}
		return "0"
	case schema.ColTerm:
		if a.LastSeenTerm == nil {
			return ""
		}
		return a.LastSeenTerm.String()
	}
	return ""
}
