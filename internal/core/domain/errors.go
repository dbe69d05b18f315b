package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Operations wrap one of these with fmt.Errorf("%w: ...") so
// transports can map failures with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

var (
	ErrTransferPartiallyApplied = fmt.Errorf("%w: transfer was marked Delivered but the inventory item was not updated; manual reconciliation required", ErrInternal)
	ErrSupplyMintFailed         = fmt.Errorf("%w: failed to mint inventory items for supply order; order left pending", ErrInternal)
	ErrTxTimeout                = fmt.Errorf("%w: transaction did not complete in time; retry", ErrInternal)
)

// Internal wraps a storage or transport failure.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// Kind returns the sentinel an error belongs to, defaulting to ErrInternal.
func Kind(err error) error {
	for _, kind := range []error{ErrInvalidInput, ErrNotFound, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}
