package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rolltrack/store"
)

// Snapshot is every active record plus the storage kind they came from.
type Snapshot struct {
	StorageType string             `json:"storageType"`
	MasterRolls []store.MasterRoll `json:"masterRolls"`
	ChildRolls  []store.ChildRoll  `json:"childRolls"`
	QRCodes     []store.QRCode     `json:"qrCodes"`
	ScanEvents  []store.ScanEvent  `json:"scanEvents"`
}

func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{StorageType: e.store.StorageType()}
	var err error
	if s.MasterRolls, err = e.store.MasterRolls.GetAll(ctx); err != nil {
		return nil, err
	}
	if s.ChildRolls, err = e.store.ChildRolls.GetAll(ctx); err != nil {
		return nil, err
	}
	if s.QRCodes, err = e.store.QRCodes.GetAll(ctx); err != nil {
		return nil, err
	}
	if s.ScanEvents, err = e.store.ScanEvents.GetAll(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// MasterRollDetail is the scan-screen view of one QR value.
type MasterRollDetail struct {
	QRCode     *store.QRCode     `json:"qrCode,omitempty"`
	Master     *store.MasterRoll `json:"masterRoll,omitempty"`
	ChildRolls []store.ChildRoll `json:"childRolls"`
	Stage      Stage             `json:"stage"`
}

func (e *Engine) MasterRollDetail(ctx context.Context, qrValue string) (*MasterRollDetail, error) {
	qrValue = strings.TrimSpace(qrValue)
	if qrValue == "" {
		return nil, fmt.Errorf("%w: qr value required", ErrInvalidInput)
	}
	d := &MasterRollDetail{ChildRolls: []store.ChildRoll{}}
	var err error
	if d.Stage, err = e.ResolveStage(ctx, qrValue); err != nil {
		return nil, err
	}
	if d.Stage == StageNotFound {
		return d, nil
	}
	if q, err := e.store.QRCodes.GetByValue(ctx, qrValue); err == nil {
		d.QRCode = q
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if m, err := e.store.MasterRolls.GetByQR(ctx, qrValue); err == nil {
		d.Master = m
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if d.ChildRolls, err = e.store.ChildRolls.GetByMasterQR(ctx, qrValue); err != nil {
		return nil, err
	}
	return d, nil
}

// stockData gathers the active rows of one stock number: its master rolls,
// its QR codes and the child rolls cut from those masters.
func (e *Engine) stockData(ctx context.Context, stock string) (store.StockData, error) {
	var data store.StockData
	var err error
	if data.MasterRolls, err = e.store.MasterRolls.GetByStock(ctx, stock); err != nil {
		return data, err
	}
	if data.QRCodes, err = e.store.QRCodes.GetByStock(ctx, stock); err != nil {
		return data, err
	}
	data.ChildRolls, err = e.childrenOf(ctx, data.MasterRolls)
	return data, err
}

func (e *Engine) childrenOf(ctx context.Context, masters []store.MasterRoll) ([]store.ChildRoll, error) {
	if len(masters) == 0 {
		return nil, nil
	}
	qrs := make(map[string]bool, len(masters))
	for _, m := range masters {
		qrs[m.QRValue] = true
	}
	all, err := e.store.ChildRolls.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.ChildRoll
	for _, c := range all {
		if qrs[c.MasterRollQR] {
			out = append(out, c)
		}
	}
	return out, nil
}

// SoftDeleteStock archives every active row of a stock number. Deleting the
// same stock again merges the new rows into the existing record, unless one
// of them reuses a qrValue or child id already archived (ErrAlreadyExists).
func (e *Engine) SoftDeleteStock(ctx context.Context, stock string) (*store.DeletedStockRecord, error) {
	stock = strings.TrimSpace(stock)
	if stock == "" {
		return nil, fmt.Errorf("%w: stock number required", ErrInvalidInput)
	}
	data, err := e.stockData(ctx, stock)
	if err != nil {
		return nil, err
	}
	if data.Empty() {
		return nil, fmt.Errorf("stock %s has no active records: %w", stock, store.ErrNotFound)
	}
	prev, err := e.store.DeletedStock.Get(ctx, stock)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	rec, err := e.store.DeletedStock.Archive(ctx, stock, data, prev)
	if err != nil {
		return nil, err
	}
	e.emitStock(ctx, EventStockDeleted, stock, data)
	return rec, nil
}

// RestoreStock puts archived rows back with their original IDs and
// timestamps. It refuses when a label or child roll from the record is
// active again.
func (e *Engine) RestoreStock(ctx context.Context, stock string) (*store.DeletedStockRecord, error) {
	stock = strings.TrimSpace(stock)
	rec, err := e.store.DeletedStock.Get(ctx, stock)
	if err != nil {
		return nil, err
	}
	if err := e.checkRestoreConflicts(ctx, rec.OriginalData); err != nil {
		return nil, err
	}
	if err := e.store.DeletedStock.Restore(ctx, rec); err != nil {
		return nil, err
	}
	e.emitStock(ctx, EventStockRestored, rec.StockNumber, rec.OriginalData)
	return rec, nil
}

func (e *Engine) checkRestoreConflicts(ctx context.Context, data store.StockData) error {
	if err := store.CheckDistinct(data); err != nil {
		return err
	}
	for _, q := range data.QRCodes {
		if _, err := e.store.QRCodes.GetByValue(ctx, q.QRValue); err == nil {
			return fmt.Errorf("qr code %s is active again: %w", q.QRValue, store.ErrAlreadyExists)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	for _, m := range data.MasterRolls {
		if _, err := e.store.MasterRolls.GetByQR(ctx, m.QRValue); err == nil {
			return fmt.Errorf("master roll %s is active again: %w", m.QRValue, store.ErrAlreadyExists)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	for _, c := range data.ChildRolls {
		if _, err := e.store.ChildRolls.GetByID(ctx, c.ID); err == nil {
			return fmt.Errorf("child roll %s is active again: %w", c.ID, store.ErrAlreadyExists)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// PermanentlyDeleteStock drops the deleted-stock record. The archived rows
// are gone for good.
func (e *Engine) PermanentlyDeleteStock(ctx context.Context, stock string) error {
	stock = strings.TrimSpace(stock)
	rec, err := e.store.DeletedStock.Get(ctx, stock)
	if err != nil {
		return err
	}
	if err := e.store.DeletedStock.Purge(ctx, stock); err != nil {
		return err
	}
	e.emitStock(ctx, EventStockPurged, rec.StockNumber, rec.OriginalData)
	return nil
}

// ClearData removes the labels, master rolls and child rolls of the given QR
// values in one batch. Scan events stay.
func (e *Engine) ClearData(ctx context.Context, qrValues []string) (store.StockData, error) {
	var data store.StockData
	want := make(map[string]bool, len(qrValues))
	for _, v := range qrValues {
		if v = strings.TrimSpace(v); v != "" {
			want[v] = true
		}
	}
	if len(want) == 0 {
		return data, fmt.Errorf("%w: no qr values given", ErrInvalidInput)
	}

	qrs, err := e.store.QRCodes.GetAll(ctx)
	if err != nil {
		return data, err
	}
	for _, q := range qrs {
		if want[q.QRValue] {
			data.QRCodes = append(data.QRCodes, q)
		}
	}
	masters, err := e.store.MasterRolls.GetAll(ctx)
	if err != nil {
		return data, err
	}
	for _, m := range masters {
		if want[m.QRValue] {
			data.MasterRolls = append(data.MasterRolls, m)
		}
	}
	children, err := e.store.ChildRolls.GetAll(ctx)
	if err != nil {
		return data, err
	}
	for _, c := range children {
		if want[c.MasterRollQR] {
			data.ChildRolls = append(data.ChildRolls, c)
		}
	}

	if err := e.store.Remove(ctx, data); err != nil {
		return store.StockData{}, err
	}
	e.log.Info("data cleared", "qrValues", len(want), "qrCodes", len(data.QRCodes),
		"masters", len(data.MasterRolls), "children", len(data.ChildRolls))
	return data, nil
}

func (e *Engine) emitStock(ctx context.Context, t EventType, stock string, data store.StockData) {
	e.emit(t, StockEvent{
		StockNumber: stock,
		MasterRolls: len(data.MasterRolls),
		QRCodes:     len(data.QRCodes),
		ChildRolls:  len(data.ChildRolls),
		Actor:       ActorFrom(ctx),
	})
}
