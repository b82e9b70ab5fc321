package excel

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"crmhub/src/core/ingest"
)

// Kind is the expected cell type of a column.
type Kind int

const (
	KindString Kind = iota
	KindEmail
	KindInt
)

// Column describes one expected workbook column.
type Column struct {
	Name        string
	Required    bool
	Kind        Kind
	Description string
	Example     string
}

// Schema describes the workbook layout for one entity type. Row 1 is the
// header; data starts at row 2.
type Schema struct {
	Title   string
	Columns []Column
}

// ValidExtension reports whether the filename looks like a workbook we can
// parse.
func ValidExtension(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls")
}

// Parse reads the first sheet into raw rows keyed by schema column name.
// File-level problems (unreadable workbook, missing required columns) come
// back as the errors slice; per-row validation is the ingestion engine's
// job, so malformed cell values pass through untouched.
func Parse(r io.Reader, s Schema) ([]ingest.Row, []string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, []string{"workbook has no sheets"}, nil
	}

	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(cells) == 0 {
		return nil, []string{"workbook is empty"}, nil
	}

	header := make(map[string]int, len(cells[0]))
	for i, name := range cells[0] {
		// Template headers mark required columns with a trailing asterisk.
		name = strings.TrimSuffix(strings.TrimSpace(name), " *")
		header[strings.ToLower(name)] = i
	}

	var errs []string
	var missing []string
	for _, col := range s.Columns {
		if !col.Required {
			continue
		}
		if _, ok := header[col.Name]; !ok {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, "Missing required columns: "+strings.Join(missing, ", "))
		return nil, errs, nil
	}

	rows := make([]ingest.Row, 0, len(cells)-1)
	for _, line := range cells[1:] {
		row := make(ingest.Row, len(s.Columns))
		empty := true
		for _, col := range s.Columns {
			idx, ok := header[col.Name]
			if !ok || idx >= len(line) {
				continue
			}
			v := strings.TrimSpace(line[idx])
			row[col.Name] = v
			if v != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil, nil
}

// Template generates a downloadable workbook with a styled header row and
// one example data row.
func Template(s Schema) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if s.Title != "" {
		if err := f.SetSheetName(sheet, s.Title); err != nil {
			return nil, fmt.Errorf("failed to name sheet: %w", err)
		}
		sheet = s.Title
	}

	for i, col := range s.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		header := col.Name
		if col.Required {
			header += " *"
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, err
		}

		exampleCell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, exampleCell, col.Example); err != nil {
			return nil, err
		}

		colName, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		width := float64(len(col.Name) + 6)
		if width < 15 {
			width = 15
		}
		if err := f.SetColWidth(sheet, colName, colName, width); err != nil {
			return nil, err
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(s.Columns), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize template: %w", err)
	}
	return buf.Bytes(), nil
}
