package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rolltrack/docstore"
)

type ChildRollRepo struct {
	s *Store
}

func (r *ChildRollRepo) GetAll(ctx context.Context) ([]ChildRoll, error) {
	rolls, err := readAll[ChildRoll](ctx, r.s, CollectionChildRolls)
	if err != nil {
		return nil, err
	}
	SortChildRolls(rolls)
	return rolls, nil
}

// SortChildRolls orders by creation time, then by ID with the numeric batch
// index compared as a number so "t-2" sorts before "t-10".
func SortChildRolls(rolls []ChildRoll) {
	sort.SliceStable(rolls, func(i, j int) bool {
		a, b := rolls[i], rolls[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return childIDLess(a.ID, b.ID)
	})
}

func childIDLess(a, b string) bool {
	ap, ai, aok := splitChildID(a)
	bp, bi, bok := splitChildID(b)
	if aok && bok && ap == bp {
		return ai < bi
	}
	return a < b
}

func splitChildID(id string) (string, int, bool) {
	cut := strings.LastIndexByte(id, '-')
	if cut < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[cut+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:cut], n, true
}

func (r *ChildRollRepo) GetByID(ctx context.Context, id string) (*ChildRoll, error) {
	rolls, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rolls {
		if rolls[i].ID == id {
			return &rolls[i], nil
		}
	}
	return nil, fmt.Errorf("child roll %s: %w", id, ErrNotFound)
}

func (r *ChildRollRepo) GetByMasterQR(ctx context.Context, qrValue string) ([]ChildRoll, error) {
	return r.filter(ctx, func(c *ChildRoll) bool { return c.MasterRollQR == qrValue })
}

func (r *ChildRollRepo) GetAvailableByMasterQR(ctx context.Context, qrValue string) ([]ChildRoll, error) {
	return r.filter(ctx, func(c *ChildRoll) bool {
		return c.MasterRollQR == qrValue && c.Status == ChildAvailable
	})
}

// GetByJob returns rolls slit under jobID or consumed under it.
func (r *ChildRollRepo) GetByJob(ctx context.Context, jobID string) ([]ChildRoll, error) {
	return r.filter(ctx, func(c *ChildRoll) bool { return c.JobID == jobID || c.UsedJobID == jobID })
}

func (r *ChildRollRepo) filter(ctx context.Context, keep func(*ChildRoll) bool) ([]ChildRoll, error) {
	rolls, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := []ChildRoll{}
	for i := range rolls {
		if keep(&rolls[i]) {
			out = append(out, rolls[i])
		}
	}
	return out, nil
}

// childIDAttempts bounds how far CreateBatch moves the ID prefix past a
// batch of another master created in the same millisecond.
const childIDAttempts = 10

// CreateBatch creates one AVAILABLE roll per width in a single atomic write.
// All rolls share jobID (default "job-<ms>"), createdAt and the "<ms>-"
// ID prefix. When another master's batch already holds that prefix the
// prefix moves forward one millisecond; a batch of the same master under
// it fails with docstore.ErrExists.
func (r *ChildRollRepo) CreateBatch(ctx context.Context, masterRollQR string, widths []int, jobID string) ([]ChildRoll, error) {
	if len(widths) == 0 {
		return nil, fmt.Errorf("no widths for %s: %w", masterRollQR, ErrInvalidWidths)
	}
	for i, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("width %d at index %d: %w", w, i, ErrInvalidWidths)
		}
	}
	now := r.s.Now()
	ms := now.UnixMilli()
	if jobID == "" {
		jobID = fmt.Sprintf("job-%d", ms)
	}

	for attempt := 0; ; attempt++ {
		rolls, err := r.createBatchAt(ctx, masterRollQR, widths, jobID, now, ms+int64(attempt))
		if err == nil || !errors.Is(err, docstore.ErrExists) || attempt+1 >= childIDAttempts {
			return rolls, err
		}
		holder, gerr := r.GetByID(ctx, fmt.Sprintf("%d-0", ms+int64(attempt)))
		if gerr != nil || holder.MasterRollQR == masterRollQR {
			return nil, err
		}
	}
}

func (r *ChildRollRepo) createBatchAt(ctx context.Context, masterRollQR string, widths []int, jobID string, now time.Time, prefix int64) ([]ChildRoll, error) {
	rolls := make([]ChildRoll, 0, len(widths))
	ops := make([]docstore.Op, 0, len(widths))
	for i, w := range widths {
		c := ChildRoll{
			ID:           fmt.Sprintf("%d-%d", prefix, i),
			MasterRollQR: masterRollQR,
			Width:        w,
			Status:       ChildAvailable,
			JobID:        jobID,
			CreatedAt:    now,
		}
		op, err := addOp(CollectionChildRolls, c.ID, c)
		if err != nil {
			return nil, err
		}
		rolls = append(rolls, c)
		ops = append(ops, op)
	}
	if err := r.s.adapter.BatchWrite(ctx, ops); err != nil {
		return nil, fmt.Errorf("create %d child rolls for %s: %w: %w", len(rolls), masterRollQR, ErrBatchWriteFailed, err)
	}
	return rolls, nil
}

// MarkAsUsed consumes an AVAILABLE roll. Consumption is irreversible; a
// second call returns ErrAlreadyUsed and writes nothing.
func (r *ChildRollRepo) MarkAsUsed(ctx context.Context, id, jobID string) (*ChildRoll, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == ChildUsed {
		return nil, fmt.Errorf("child roll %s: %w", id, ErrAlreadyUsed)
	}
	now := r.s.Now()
	c.Status = ChildUsed
	c.UsedAt = &now
	c.UsedJobID = jobID
	op, err := updateOp(CollectionChildRolls, c.ID, c)
	if err != nil {
		return nil, err
	}
	if err := r.s.apply(ctx, "mark child roll used "+id, []docstore.Op{op}); err != nil {
		return nil, err
	}
	return c, nil
}
