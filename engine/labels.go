package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"rolltrack/store"
)

// LabelRequest asks for one printed label.
type LabelRequest struct {
	LotNumber   string `json:"lotNumber"`
	StockNumber string `json:"stockNumber"`
}

type GenerateResult struct {
	BatchID string         `json:"batchId"`
	Created []store.QRCode `json:"created"`
	Skipped []string       `json:"skipped"`
	Errors  []string       `json:"errors"`
}

// ImportRecord is one row handed over by a CSV or spreadsheet import.
type ImportRecord struct {
	StockNumber string `json:"stockNumber"`
	LotNumber   string `json:"lotNumber"`
	QRURL       string `json:"qrUrl,omitempty"`
}

type ImportTally struct {
	BatchID string `json:"batchId"`
	Success int    `json:"success"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
}

// QRValue joins lot and stock into the label key. A hyphen inside either
// part makes the key ambiguous; the existence check before create is what
// catches a collision.
func QRValue(lot, stock string) string {
	return lot + "-" + stock
}

// LabelURL is the URL encoded into the printed QR image.
func (e *Engine) LabelURL(qrValue, lot, stock string) string {
	return fmt.Sprintf("%s/index.html?qr=%s&lot=%s&stock=%s",
		e.baseURL, uriEscape(qrValue), uriEscape(lot), uriEscape(stock))
}

func uriEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (e *Engine) newBatchID(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, e.store.Now().UnixMilli(), e.suffix())
}

// GenerateLabel creates a single label. An existing label with the same
// value is an error.
func (e *Engine) GenerateLabel(ctx context.Context, lot, stock string) (*store.QRCode, error) {
	lot, stock = strings.TrimSpace(lot), strings.TrimSpace(stock)
	if lot == "" || stock == "" {
		return nil, fmt.Errorf("%w: lot and stock number are required", ErrInvalidInput)
	}
	qr := QRValue(lot, stock)
	if _, err := e.store.QRCodes.GetByValue(ctx, qr); err == nil {
		return nil, fmt.Errorf("qr code %s: %w", qr, store.ErrAlreadyExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return e.createLabel(ctx, lot, stock, "", e.newBatchID("batch"))
}

// GenerateLabels creates labels for a batch of requests sharing one batch
// ID. Rows with a blank field are reported in Errors. Repeated lot/stock
// pairs inside the request reject the whole request. Labels that already
// exist are skipped, never overwritten.
func (e *Engine) GenerateLabels(ctx context.Context, reqs []LabelRequest) (*GenerateResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no labels requested", ErrInvalidInput)
	}
	res := &GenerateResult{Created: []store.QRCode{}, Skipped: []string{}, Errors: []string{}}
	valid := make([]LabelRequest, 0, len(reqs))
	seen := make(map[string]int, len(reqs))
	for i, req := range reqs {
		lot := strings.TrimSpace(req.LotNumber)
		stock := strings.TrimSpace(req.StockNumber)
		if lot == "" || stock == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: lot and stock number are required", i+1))
			continue
		}
		key := lot + "\x00" + stock
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("rows %d and %d repeat lot %s stock %s: %w",
				first+1, i+1, lot, stock, store.ErrAlreadyExists)
		}
		seen[key] = i
		valid = append(valid, LabelRequest{LotNumber: lot, StockNumber: stock})
	}
	if len(valid) == 0 {
		return res, fmt.Errorf("%w: no row has both lot and stock number", ErrInvalidInput)
	}

	res.BatchID = e.newBatchID("batch")
	for _, r := range valid {
		qr := QRValue(r.LotNumber, r.StockNumber)
		_, err := e.store.QRCodes.GetByValue(ctx, qr)
		if err == nil {
			res.Skipped = append(res.Skipped, qr)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return res, err
		}
		q, err := e.createLabel(ctx, r.LotNumber, r.StockNumber, "", res.BatchID)
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, *q)
	}
	return res, nil
}

// ImportLabels applies the check-then-create rule to every record and keeps
// going past failures.
func (e *Engine) ImportLabels(ctx context.Context, records []ImportRecord) ImportTally {
	tally := ImportTally{BatchID: e.newBatchID("batch-import")}
	for _, r := range records {
		lot, stock := strings.TrimSpace(r.LotNumber), strings.TrimSpace(r.StockNumber)
		if lot == "" || stock == "" {
			tally.Errors++
			continue
		}
		qr := QRValue(lot, stock)
		_, err := e.store.QRCodes.GetByValue(ctx, qr)
		if err == nil {
			tally.Skipped++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("import lookup failed", "qr", qr, "err", err)
			tally.Errors++
			continue
		}
		if _, err := e.createLabel(ctx, lot, stock, strings.TrimSpace(r.QRURL), tally.BatchID); err != nil {
			e.log.Warn("import create failed", "qr", qr, "err", err)
			tally.Errors++
			continue
		}
		tally.Success++
	}
	e.log.Info("labels imported", "batch", tally.BatchID, "success", tally.Success, "skipped", tally.Skipped, "errors", tally.Errors)
	return tally
}

func (e *Engine) createLabel(ctx context.Context, lot, stock, qrURL, batchID string) (*store.QRCode, error) {
	qr := QRValue(lot, stock)
	if qrURL == "" {
		qrURL = e.LabelURL(qr, lot, stock)
	}
	q, err := e.store.QRCodes.Create(ctx, store.QRCode{
		QRValue:     qr,
		LotNumber:   lot,
		StockNumber: stock,
		QRURL:       qrURL,
		BatchID:     batchID,
	})
	if err != nil {
		return nil, err
	}
	e.emit(EventLabelCreated, LabelCreatedEvent{QRValue: qr, LotNumber: lot, StockNumber: stock, BatchID: batchID})
	return q, nil
}
