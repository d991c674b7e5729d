package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrImportHeader = errors.New(`import needs "Stock Number" and "Lot Number" columns`)
	ErrImportEmpty  = errors.New("import contains no valid rows")
)

// ParsedLabels is the result of reading an import file. RowErrors describe
// rows that were dropped.
type ParsedLabels struct {
	Records   []ImportRecord `json:"records"`
	RowErrors []string       `json:"rowErrors"`
}

// ParseLabelCSV reads a label list exported as CSV.
func ParseLabelCSV(r io.Reader) (*ParsedLabels, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return parseLabelRows(rows)
}

// ParseLabelSheet reads the first sheet of an .xlsx workbook.
func ParseLabelSheet(r io.Reader) (*ParsedLabels, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return parseLabelRows(rows)
}

func parseLabelRows(rows [][]string) (*ParsedLabels, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: need a header row and at least one data row", ErrImportEmpty)
	}
	stockCol, lotCol, urlCol := -1, -1, -1
	for i, h := range rows[0] {
		h = strings.ToLower(cleanCell(h))
		switch {
		case stockCol < 0 && strings.Contains(h, "stock") && strings.Contains(h, "number"):
			stockCol = i
		case lotCol < 0 && strings.Contains(h, "lot") && strings.Contains(h, "number"):
			lotCol = i
		case urlCol < 0 && strings.Contains(h, "url"):
			urlCol = i
		}
	}
	if stockCol < 0 || lotCol < 0 {
		return nil, ErrImportHeader
	}

	out := &ParsedLabels{Records: []ImportRecord{}, RowErrors: []string{}}
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		stock, lot := cell(row, stockCol), cell(row, lotCol)
		if stock == "" || lot == "" {
			out.RowErrors = append(out.RowErrors, fmt.Sprintf("row %d: missing stock or lot number", i+2))
			continue
		}
		out.Records = append(out.Records, ImportRecord{StockNumber: stock, LotNumber: lot, QRURL: cell(row, urlCol)})
	}
	if len(out.Records) == 0 {
		return out, ErrImportEmpty
	}
	return out, nil
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return cleanCell(row[col])
}

func cleanCell(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
