package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rolltrack/store"
)

// SlitResult is what a slit produced. On an InconsistentStateError the
// result still lists the child rolls that were written.
type SlitResult struct {
	Master     *store.MasterRoll `json:"masterRoll"`
	ChildRolls []store.ChildRoll `json:"childRolls"`
	JobID      string            `json:"jobId"`
}

// ValidateWidths checks a slitting request against the capacity limit: at
// least one width, every width in 1..max, and the sum at most max.
func ValidateWidths(widths []int, max int) error {
	if len(widths) == 0 {
		return fmt.Errorf("%w: no widths given", store.ErrInvalidWidths)
	}
	sum := 0
	for i, w := range widths {
		if w <= 0 {
			return fmt.Errorf("%w: width %d at position %d must be positive", store.ErrInvalidWidths, w, i+1)
		}
		if w > max {
			return fmt.Errorf("%w: width %d at position %d exceeds %d", store.ErrInvalidWidths, w, i+1, max)
		}
		sum += w
	}
	if sum > max {
		return fmt.Errorf("%w: total %d exceeds %d", store.ErrInvalidWidths, sum, max)
	}
	return nil
}

// RegisterMasterRoll records receipt of the roll labelled qrValue. A label
// must exist and the roll must not be registered yet.
func (e *Engine) RegisterMasterRoll(ctx context.Context, qrValue string) (*store.MasterRoll, error) {
	qrValue = strings.TrimSpace(qrValue)
	if qrValue == "" {
		return nil, fmt.Errorf("%w: qr value required", ErrInvalidInput)
	}
	q, err := e.store.QRCodes.GetByValue(ctx, qrValue)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("register %s: %w", qrValue, store.ErrQRCodeNotFound)
	}
	if err != nil {
		return nil, err
	}
	if _, err := e.store.MasterRolls.GetByQR(ctx, qrValue); err == nil {
		return nil, fmt.Errorf("master roll %s: %w", qrValue, store.ErrAlreadyExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	m, err := e.store.MasterRolls.Create(ctx, store.MasterRoll{
		QRValue:     qrValue,
		StockNumber: strings.TrimSpace(q.StockNumber),
		LotNumber:   q.LotNumber,
		Status:      store.MasterRegistered,
	})
	if err != nil {
		return nil, err
	}
	if err := e.audit(ctx, store.ScanEvent{QRValue: qrValue, Action: store.ActionRegistration}); err != nil {
		return m, e.partial("register", qrValue, "audit", err)
	}
	e.emit(EventMasterRegistered, MasterRegisteredEvent{
		QRValue:     qrValue,
		LotNumber:   m.LotNumber,
		StockNumber: m.StockNumber,
		Actor:       ActorFrom(ctx),
	})
	return m, nil
}

// SlitMasterRoll cuts a registered master roll into one child roll per
// width. Widths are validated before any read or write. The child rolls are
// written in one batch; if marking the master as slit then fails, the
// returned error is an *store.InconsistentStateError and CompleteSlit
// finishes the job without creating rolls again.
//
// State is re-read right before the batch. Two clients racing on the same
// roll can still both pass that check.
func (e *Engine) SlitMasterRoll(ctx context.Context, qrValue string, widths []int, jobID string) (*SlitResult, error) {
	if err := ValidateWidths(widths, e.maxWidth); err != nil {
		return nil, err
	}
	qrValue = strings.TrimSpace(qrValue)
	m, err := e.store.MasterRolls.GetByQR(ctx, qrValue)
	if err != nil {
		return nil, err
	}
	if m.Status == store.MasterSlit {
		return nil, fmt.Errorf("master roll %s: %w", qrValue, store.ErrAlreadySlit)
	}
	existing, err := e.store.ChildRolls.GetByMasterQR(ctx, qrValue)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("master roll %s has %d child rolls, complete the slit instead: %w",
			qrValue, len(existing), store.ErrAlreadySlit)
	}

	jobID = strings.TrimSpace(jobID)
	rolls, err := e.store.ChildRolls.CreateBatch(ctx, qrValue, widths, jobID)
	if err != nil {
		return nil, err
	}
	res := &SlitResult{ChildRolls: rolls, JobID: rolls[0].JobID}

	master, err := e.markSlit(ctx, qrValue)
	if err != nil {
		return res, e.partial("slit", qrValue, "mark_slit", err)
	}
	res.Master = master

	if err := e.audit(ctx, store.ScanEvent{QRValue: qrValue, Action: store.ActionSlitting, JobID: res.JobID}); err != nil {
		return res, e.partial("slit", qrValue, "audit", err)
	}
	e.emitSlit(ctx, res, false)
	return res, nil
}

// markSlit retries a failed mark once unless the failure is a
// precondition error.
func (e *Engine) markSlit(ctx context.Context, qrValue string) (*store.MasterRoll, error) {
	m, err := e.store.MasterRolls.MarkAsSlit(ctx, qrValue)
	if err == nil || errors.Is(err, store.ErrAlreadySlit) || errors.Is(err, store.ErrNotFound) {
		return m, err
	}
	if ctx.Err() != nil {
		return nil, err
	}
	e.log.Warn("mark slit failed, retrying", "qr", qrValue, "err", err)
	return e.store.MasterRolls.MarkAsSlit(ctx, qrValue)
}

// CompleteSlit finishes a slit whose child rolls were written but whose
// master roll is still registered. It never creates child rolls.
func (e *Engine) CompleteSlit(ctx context.Context, qrValue string) (*SlitResult, error) {
	qrValue = strings.TrimSpace(qrValue)
	m, err := e.store.MasterRolls.GetByQR(ctx, qrValue)
	if err != nil {
		return nil, err
	}
	if m.Status == store.MasterSlit {
		return nil, fmt.Errorf("master roll %s: %w", qrValue, store.ErrAlreadySlit)
	}
	rolls, err := e.store.ChildRolls.GetByMasterQR(ctx, qrValue)
	if err != nil {
		return nil, err
	}
	if len(rolls) == 0 {
		return nil, fmt.Errorf("no child rolls for %s, nothing to complete: %w", qrValue, store.ErrNotFound)
	}
	res := &SlitResult{ChildRolls: rolls, JobID: rolls[0].JobID}

	master, err := e.store.MasterRolls.MarkAsSlit(ctx, qrValue)
	if err != nil {
		return res, e.partial("complete_slit", qrValue, "mark_slit", err)
	}
	res.Master = master

	events, err := e.store.ScanEvents.GetByQR(ctx, qrValue)
	if err != nil {
		return res, e.partial("complete_slit", qrValue, "audit", err)
	}
	logged := false
	for _, ev := range events {
		if ev.Action == store.ActionSlitting {
			logged = true
			break
		}
	}
	if !logged {
		if err := e.audit(ctx, store.ScanEvent{QRValue: qrValue, Action: store.ActionSlitting, JobID: res.JobID}); err != nil {
			return res, e.partial("complete_slit", qrValue, "audit", err)
		}
	}
	e.emitSlit(ctx, res, true)
	return res, nil
}

func (e *Engine) emitSlit(ctx context.Context, res *SlitResult, recovered bool) {
	ev := MasterSlitEvent{
		QRValue:   res.Master.QRValue,
		JobID:     res.JobID,
		Recovered: recovered,
		Actor:     ActorFrom(ctx),
	}
	for _, c := range res.ChildRolls {
		ev.Widths = append(ev.Widths, c.Width)
		ev.ChildRollIDs = append(ev.ChildRollIDs, c.ID)
	}
	e.emit(EventMasterSlit, ev)
}

// ConsumeChildRoll marks an AVAILABLE child roll as used under jobID
// (default "job-<ms>"). Consumption is irreversible.
func (e *Engine) ConsumeChildRoll(ctx context.Context, id, jobID string) (*store.ChildRoll, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: child roll id required", ErrInvalidInput)
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		jobID = e.defaultJobID()
	}
	c, err := e.store.ChildRolls.MarkAsUsed(ctx, id, jobID)
	if err != nil {
		return nil, err
	}
	if err := e.audit(ctx, store.ScanEvent{
		QRValue:     c.MasterRollQR,
		Action:      store.ActionRollSelected,
		ChildRollID: c.ID,
		JobID:       jobID,
	}); err != nil {
		return c, e.partial("consume", c.MasterRollQR, "audit", err)
	}
	e.emit(EventChildConsumed, ChildConsumedEvent{
		ChildRollID:  c.ID,
		MasterRollQR: c.MasterRollQR,
		Width:        c.Width,
		JobID:        jobID,
		Actor:        ActorFrom(ctx),
	})
	return c, nil
}
