package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rolltrack/docstore"
)

// Store bundles the record repositories over one document adapter.
// Reads are whole-collection scans filtered in memory. The repositories do
// not enforce uniqueness of qrValue; callers check before they create.
type Store struct {
	adapter docstore.Adapter
	clock   func() time.Time

	QRCodes      *QRCodeRepo
	MasterRolls  *MasterRollRepo
	ChildRolls   *ChildRollRepo
	ScanEvents   *ScanEventRepo
	DeletedStock *DeletedStockRepo
}

func New(adapter docstore.Adapter) *Store {
	s := &Store{adapter: adapter, clock: time.Now}
	s.QRCodes = &QRCodeRepo{s: s}
	s.MasterRolls = &MasterRollRepo{s: s}
	s.ChildRolls = &ChildRollRepo{s: s}
	s.ScanEvents = &ScanEventRepo{s: s}
	s.DeletedStock = &DeletedStockRepo{s: s}
	return s
}

// SetClock replaces the time source. Tests use it to pin timestamps.
func (s *Store) SetClock(fn func() time.Time) { s.clock = fn }

// Now returns the current time in UTC at millisecond precision, the
// resolution stored timestamps and child roll IDs are built from.
func (s *Store) Now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Store) StorageType() string { return s.adapter.Kind() }

func (s *Store) apply(ctx context.Context, op string, ops []docstore.Op) error {
	if err := s.adapter.BatchWrite(ctx, ops); err != nil {
		return persistErr(op, err)
	}
	return nil
}

// Remove deletes every row in data with one atomic batch.
func (s *Store) Remove(ctx context.Context, data StockData) error {
	ops := deleteOps(data)
	if len(ops) == 0 {
		return nil
	}
	return s.apply(ctx, "remove rows", ops)
}

func readAll[T any](ctx context.Context, s *Store, collection string) ([]T, error) {
	docs, err := s.adapter.ReadCollection(ctx, collection)
	if err != nil {
		return nil, persistErr("read "+collection, err)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return nil, persistErr(fmt.Sprintf("decode %s/%s", collection, d.ID), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func addOp(collection, id string, v any) (docstore.Op, error) {
	doc, err := docstore.Marshal(id, v)
	if err != nil {
		return docstore.Op{}, err
	}
	return docstore.Add(collection, doc), nil
}

func updateOp(collection, id string, v any) (docstore.Op, error) {
	doc, err := docstore.Marshal(id, v)
	if err != nil {
		return docstore.Op{}, err
	}
	return docstore.Update(collection, doc), nil
}

func deleteOps(data StockData) []docstore.Op {
	var ops []docstore.Op
	for _, c := range data.ChildRolls {
		ops = append(ops, docstore.Delete(CollectionChildRolls, c.ID))
	}
	for _, m := range data.MasterRolls {
		ops = append(ops, docstore.Delete(CollectionMasterRolls, m.ID))
	}
	for _, q := range data.QRCodes {
		ops = append(ops, docstore.Delete(CollectionQRCodes, q.ID))
	}
	return ops
}

func addOps(data StockData) ([]docstore.Op, error) {
	var ops []docstore.Op
	for _, q := range data.QRCodes {
		op, err := addOp(CollectionQRCodes, q.ID, q)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	for _, m := range data.MasterRolls {
		op, err := addOp(CollectionMasterRolls, m.ID, m)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	for _, c := range data.ChildRolls {
		op, err := addOp(CollectionChildRolls, c.ID, c)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func trimEq(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
