package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"rolltrack/docstore"
)

type MasterRollRepo struct {
	s *Store
}

func (r *MasterRollRepo) GetAll(ctx context.Context) ([]MasterRoll, error) {
	rolls, err := readAll[MasterRoll](ctx, r.s, CollectionMasterRolls)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rolls, func(i, j int) bool {
		if !rolls[i].CreatedAt.Equal(rolls[j].CreatedAt) {
			return rolls[i].CreatedAt.Before(rolls[j].CreatedAt)
		}
		return rolls[i].ID < rolls[j].ID
	})
	return rolls, nil
}

// GetByQR returns the master roll for qrValue, or ErrNotFound.
func (r *MasterRollRepo) GetByQR(ctx context.Context, qrValue string) (*MasterRoll, error) {
	rolls, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rolls {
		if rolls[i].QRValue == qrValue {
			return &rolls[i], nil
		}
	}
	return nil, fmt.Errorf("master roll %s: %w", qrValue, ErrNotFound)
}

func (r *MasterRollRepo) GetByStock(ctx context.Context, stockNumber string) ([]MasterRoll, error) {
	rolls, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := []MasterRoll{}
	for _, m := range rolls {
		if trimEq(m.StockNumber, stockNumber) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Create persists a new master roll. Status defaults to registered and the
// timestamps default to now.
func (r *MasterRollRepo) Create(ctx context.Context, m MasterRoll) (*MasterRoll, error) {
	now := r.s.Now()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MasterRegistered
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.RegisteredAt.IsZero() {
		m.RegisteredAt = now
	}
	op, err := addOp(CollectionMasterRolls, m.ID, m)
	if err != nil {
		return nil, err
	}
	if err := r.s.apply(ctx, "create master roll "+m.QRValue, []docstore.Op{op}); err != nil {
		return nil, err
	}
	return &m, nil
}

// Update loads the roll for qrValue, applies mutate and persists the result.
// An error from mutate aborts without writing.
func (r *MasterRollRepo) Update(ctx context.Context, qrValue string, mutate func(*MasterRoll) error) (*MasterRoll, error) {
	m, err := r.GetByQR(ctx, qrValue)
	if err != nil {
		return nil, err
	}
	id := m.ID
	if err := mutate(m); err != nil {
		return nil, err
	}
	m.ID = id
	op, err := updateOp(CollectionMasterRolls, m.ID, m)
	if err != nil {
		return nil, err
	}
	if err := r.s.apply(ctx, "update master roll "+qrValue, []docstore.Op{op}); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkAsSlit moves a registered roll to slit. A roll is slit exactly once.
func (r *MasterRollRepo) MarkAsSlit(ctx context.Context, qrValue string) (*MasterRoll, error) {
	now := r.s.Now()
	return r.Update(ctx, qrValue, func(m *MasterRoll) error {
		if m.Status == MasterSlit {
			return fmt.Errorf("master roll %s: %w", qrValue, ErrAlreadySlit)
		}
		m.Status = MasterSlit
		m.SlitAt = &now
		return nil
	})
}
