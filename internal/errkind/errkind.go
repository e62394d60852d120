// Package errkind declares the error kinds shared by the partitioning layer.
package errkind

import (
	stderrors "errors"

	errors "gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrDefinition is a malformed or inconsistent partition definition. Never retried.
	ErrDefinition = errors.NewKind("partition definition error: %s")

	// ErrNoMatchingPartition is returned when a row has no home partition.
	ErrNoMatchingPartition = errors.NewKind("table has no partition for value %s")

	// ErrBackend is an error raised by one of the bundled storage backends.
	ErrBackend = errors.NewKind("backend %s: %s")

	// ErrCorruption is a boundary file or log structure mismatch.
	ErrCorruption = errors.NewKind("corrupted %s: %s")

	// ErrConcurrencyConflict is a failure to obtain the exclusive alteration scope. Retryable.
	ErrConcurrencyConflict = errors.NewKind("table %s is busy: %s")

	// ErrLogReplay means crash recovery of a table could not complete.
	ErrLogReplay = errors.NewKind("recovery of table %s failed: %s")

	// ErrPartialMove is a cross-partition update whose delete failed after the insert succeeded.
	ErrPartialMove = errors.NewKind("row copied to partition %s but not removed from partition %s")

	// ErrOutOfRange is integer arithmetic whose result does not fit Int64.
	ErrOutOfRange = errors.NewKind("value out of range: %s")

	// ErrAboveInt64 is an unsigned value greater than every Int64. Routers
	// place it after the last RANGE bound.
	ErrAboveInt64 = errors.NewKind("value %d is above the Int64 range")

	ErrTableNotFound = errors.NewKind("table %s does not exist")
	ErrTableExists   = errors.NewKind("table %s already exists")
	ErrTableDisabled = errors.NewKind("table %s is disabled: %s")
)

// Is reports whether any error in err's %w chain is of the given kind.
func Is(err error, kind *errors.Kind) bool {
	for err != nil {
		if kind.Is(err) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
