package engine

import (
	"errors"

	"rolltrack/store"
)

// ErrorCode maps lifecycle errors to the stable codes API and scanner
// clients switch on.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrInconsistentState):
		return "inconsistent_state"
	case errors.Is(err, store.ErrQRCodeNotFound):
		return "qr_code_not_found"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, store.ErrAlreadySlit):
		return "already_slit"
	case errors.Is(err, store.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, store.ErrInvalidWidths):
		return "invalid_widths"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrImportHeader), errors.Is(err, ErrImportEmpty):
		return "invalid_input"
	case errors.Is(err, store.ErrBatchWriteFailed):
		return "batch_write_failed"
	case errors.Is(err, store.ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
