package store

import (
	"context"
	"fmt"
	"strings"

	"rolltrack/docstore"
)

// DeletedStockRepo holds soft-deleted stock numbers. Records are keyed by
// the trimmed stock number and only change through the batch methods below.
type DeletedStockRepo struct {
	s *Store
}

func (r *DeletedStockRepo) GetAll(ctx context.Context) ([]DeletedStockRecord, error) {
	return readAll[DeletedStockRecord](ctx, r.s, CollectionDeletedStock)
}

func (r *DeletedStockRepo) Get(ctx context.Context, stockNumber string) (*DeletedStockRecord, error) {
	recs, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(stockNumber)
	for i := range recs {
		if recs[i].StockNumber == key {
			return &recs[i], nil
		}
	}
	return nil, fmt.Errorf("deleted stock %s: %w", key, ErrNotFound)
}

// Archive moves data out of the active collections into the deleted-stock
// record for stockNumber in one atomic batch. When prev is non-nil the rows
// are merged into it; a qrValue or child id already in prev is refused with
// ErrAlreadyExists and nothing is written.
func (r *DeletedStockRepo) Archive(ctx context.Context, stockNumber string, data StockData, prev *DeletedStockRecord) (*DeletedStockRecord, error) {
	if prev != nil {
		if err := CheckDistinct(prev.OriginalData, data); err != nil {
			return nil, fmt.Errorf("archive stock %s: %w", strings.TrimSpace(stockNumber), err)
		}
	}
	rec := DeletedStockRecord{
		StockNumber:  strings.TrimSpace(stockNumber),
		OriginalData: data,
		DeletedAt:    r.s.Now(),
	}
	var (
		recOp docstore.Op
		err   error
	)
	if prev != nil {
		rec.OriginalData = StockData{
			MasterRolls: append(append([]MasterRoll{}, prev.OriginalData.MasterRolls...), data.MasterRolls...),
			QRCodes:     append(append([]QRCode{}, prev.OriginalData.QRCodes...), data.QRCodes...),
			ChildRolls:  append(append([]ChildRoll{}, prev.OriginalData.ChildRolls...), data.ChildRolls...),
		}
		recOp, err = updateOp(CollectionDeletedStock, rec.StockNumber, rec)
	} else {
		recOp, err = addOp(CollectionDeletedStock, rec.StockNumber, rec)
	}
	if err != nil {
		return nil, err
	}
	ops := append([]docstore.Op{recOp}, deleteOps(data)...)
	if err := r.s.apply(ctx, "archive stock "+rec.StockNumber, ops); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Restore re-adds every archived row with its original ID and timestamps and
// drops the record, all in one batch. An active row with the same ID fails
// the whole batch.
func (r *DeletedStockRepo) Restore(ctx context.Context, rec *DeletedStockRecord) error {
	ops, err := addOps(rec.OriginalData)
	if err != nil {
		return err
	}
	ops = append(ops, docstore.Delete(CollectionDeletedStock, rec.StockNumber))
	return r.s.apply(ctx, "restore stock "+rec.StockNumber, ops)
}

func (r *DeletedStockRepo) Purge(ctx context.Context, stockNumber string) error {
	rec, err := r.Get(ctx, stockNumber)
	if err != nil {
		return err
	}
	return r.s.apply(ctx, "purge stock "+rec.StockNumber, []docstore.Op{docstore.Delete(CollectionDeletedStock, rec.StockNumber)})
}

// CheckDistinct reports ErrAlreadyExists when a qrValue or child roll id
// appears more than once across sets. One qrValue maps to at most one
// label and one master roll.
func CheckDistinct(sets ...StockData) error {
	qrs := map[string]bool{}
	masters := map[string]bool{}
	children := map[string]bool{}
	for _, d := range sets {
		for _, q := range d.QRCodes {
			if qrs[q.QRValue] {
				return fmt.Errorf("qr code %s archived twice: %w", q.QRValue, ErrAlreadyExists)
			}
			qrs[q.QRValue] = true
		}
		for _, m := range d.MasterRolls {
			if masters[m.QRValue] {
				return fmt.Errorf("master roll %s archived twice: %w", m.QRValue, ErrAlreadyExists)
			}
			masters[m.QRValue] = true
		}
		for _, c := range d.ChildRolls {
			if children[c.ID] {
				return fmt.Errorf("child roll %s archived twice: %w", c.ID, ErrAlreadyExists)
			}
			children[c.ID] = true
		}
	}
	return nil
}
