package store

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"rolltrack/docstore"
)

// ScanEventRepo is append-only: there is no update or delete.
type ScanEventRepo struct {
	s *Store
}

func (r *ScanEventRepo) GetAll(ctx context.Context) ([]ScanEvent, error) {
	events, err := readAll[ScanEvent](ctx, r.s, CollectionScanEvents)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (r *ScanEventRepo) GetByQR(ctx context.Context, qrValue string) ([]ScanEvent, error) {
	events, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := []ScanEvent{}
	for _, e := range events {
		if e.QRValue == qrValue {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *ScanEventRepo) Append(ctx context.Context, e ScanEvent) (*ScanEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.s.Now()
	}
	op, err := addOp(CollectionScanEvents, e.ID, e)
	if err != nil {
		return nil, err
	}
	if err := r.s.apply(ctx, "append scan event "+e.Action, []docstore.Op{op}); err != nil {
		return nil, err
	}
	return &e, nil
}
