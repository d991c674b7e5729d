package engine

import (
	"context"
	"errors"

	"rolltrack/store"
)

// Stage is the workflow phase of one QR value.
type Stage string

const (
	StageNotFound Stage = "not_found"
	Stage1        Stage = "stage1" // label printed, awaiting registration
	Stage2        Stage = "stage2" // registered, awaiting slitting
	Stage3        Stage = "stage3" // slit, child rolls available
	StageAllUsed  Stage = "all_used"
)

// NextOperation names the lifecycle operation valid in this stage, or ""
// when none is.
func (s Stage) NextOperation() string {
	switch s {
	case Stage1:
		return "register"
	case Stage2:
		return "slit"
	case Stage3:
		return "consume"
	default:
		return ""
	}
}

// ResolveStage computes the stage of qrValue from current repository state.
// It is recomputed on every call.
func (e *Engine) ResolveStage(ctx context.Context, qrValue string) (Stage, error) {
	m, err := e.store.MasterRolls.GetByQR(ctx, qrValue)
	if errors.Is(err, store.ErrNotFound) {
		_, err := e.store.QRCodes.GetByValue(ctx, qrValue)
		if errors.Is(err, store.ErrNotFound) {
			return StageNotFound, nil
		}
		if err != nil {
			return "", err
		}
		return Stage1, nil
	}
	if err != nil {
		return "", err
	}

	if m.Status == store.MasterRegistered {
		children, err := e.store.ChildRolls.GetByMasterQR(ctx, qrValue)
		if err != nil {
			return "", err
		}
		if len(children) == 0 {
			return Stage2, nil
		}
		// registered but with children: a slit whose mark step never landed
	}

	avail, err := e.store.ChildRolls.GetAvailableByMasterQR(ctx, qrValue)
	if err != nil {
		return "", err
	}
	if len(avail) == 0 {
		return StageAllUsed, nil
	}
	return Stage3, nil
}
