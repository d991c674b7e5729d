package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"rolltrack/docstore"
)

type QRCodeRepo struct {
	s *Store
}

func (r *QRCodeRepo) GetAll(ctx context.Context) ([]QRCode, error) {
	codes, err := readAll[QRCode](ctx, r.s, CollectionQRCodes)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.Before(codes[j].CreatedAt)
		}
		return codes[i].ID < codes[j].ID
	})
	return codes, nil
}

// GetByValue returns the first code carrying qrValue, or ErrNotFound.
func (r *QRCodeRepo) GetByValue(ctx context.Context, qrValue string) (*QRCode, error) {
	codes, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range codes {
		if codes[i].QRValue == qrValue {
			return &codes[i], nil
		}
	}
	return nil, fmt.Errorf("qr code %s: %w", qrValue, ErrNotFound)
}

func (r *QRCodeRepo) GetByStock(ctx context.Context, stockNumber string) ([]QRCode, error) {
	return r.filter(ctx, func(q *QRCode) bool { return trimEq(q.StockNumber, stockNumber) })
}

func (r *QRCodeRepo) GetByBatch(ctx context.Context, batchID string) ([]QRCode, error) {
	return r.filter(ctx, func(q *QRCode) bool { return q.BatchID == batchID })
}

func (r *QRCodeRepo) filter(ctx context.Context, keep func(*QRCode) bool) ([]QRCode, error) {
	codes, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := []QRCode{}
	for i := range codes {
		if keep(&codes[i]) {
			out = append(out, codes[i])
		}
	}
	return out, nil
}

// Create assigns ID and CreatedAt when unset and persists the code.
func (r *QRCodeRepo) Create(ctx context.Context, q QRCode) (*QRCode, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = r.s.Now()
	}
	op, err := addOp(CollectionQRCodes, q.ID, q)
	if err != nil {
		return nil, err
	}
	if err := r.s.apply(ctx, "create qr code "+q.QRValue, []docstore.Op{op}); err != nil {
		return nil, err
	}
	return &q, nil
}

// SetBatch changes the batch grouping of a code, the only mutable field.
func (r *QRCodeRepo) SetBatch(ctx context.Context, qrValue, batchID string) (*QRCode, error) {
	q, err := r.GetByValue(ctx, qrValue)
	if err != nil {
		return nil, err
	}
	q.BatchID = batchID
	op, err := updateOp(CollectionQRCodes, q.ID, q)
	if err != nil {
		return nil, err
	}
	if err := r.s.apply(ctx, "set batch "+qrValue, []docstore.Op{op}); err != nil {
		return nil, err
	}
	return q, nil
}
