package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"rolltrack/engine"
)

const (
	SheetStocks     = "Stocks"
	SheetChildRolls = "Child Rolls"
	SheetScanEvents = "Scan Events"
)

// WriteXLSX writes a workbook with one sheet per view of the snapshot.
func WriteXLSX(w io.Writer, snap *engine.Snapshot) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), SheetStocks); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	stocks := [][]any{{"Stock Number", "Total", "Registered", "Slit", "Pending"}}
	for _, s := range GroupByStock(snap.QRCodes, snap.MasterRolls) {
		stocks = append(stocks, []any{s.StockNumber, s.Total, s.Registered, s.Slit, s.Pending})
	}
	if err := writeRows(f, SheetStocks, stocks); err != nil {
		return err
	}

	numbers := RollNumbers(snap.ChildRolls)
	rolls := [][]any{{"Roll ID", "Master QR", "Roll #", "Width", "Status", "Job", "Used Job", "Created", "Used"}}
	for _, c := range snap.ChildRolls {
		used := ""
		if c.UsedAt != nil {
			used = stamp(*c.UsedAt)
		}
		rolls = append(rolls, []any{c.ID, c.MasterRollQR, numbers[c.ID], c.Width, c.Status, c.JobID, c.UsedJobID, stamp(c.CreatedAt), used})
	}
	if err := writeRows(f, SheetChildRolls, rolls); err != nil {
		return err
	}

	events := [][]any{{"Timestamp", "QR Value", "Action", "Child Roll", "Job", "Actor"}}
	for _, ev := range snap.ScanEvents {
		events = append(events, []any{stamp(ev.Timestamp), ev.QRValue, ev.Action, ev.ChildRollID, ev.JobID, ev.Actor})
	}
	if err := writeRows(f, SheetScanEvents, events); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("new sheet %s: %w", sheet, err)
		}
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
