package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the connectivity test against an upstream
	// source failed. Syncs stop immediately without writing anything.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedRecord means a single device or series item could not be
	// parsed. Callers skip and count it.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidPeriod is returned for an unrecognized statistics period.
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrPersistenceConflict is returned when a unique key already exists.
	ErrPersistenceConflict = errors.New("already recorded")
	// ErrStoreUnavailable means the persistence layer could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when a submitted record fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
