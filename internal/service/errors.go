package service

import (
	"errors"
	"fmt"

	"storefront-catalog/internal/domain"
)

// storeError passes domain errors through and wraps anything else as ErrPersistence.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrMismatch),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPersistence):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
}
