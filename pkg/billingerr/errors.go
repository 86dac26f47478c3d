// Package billingerr holds the error taxonomy shared by the metering packages.
//
// Domain packages keep their own validation sentinels; the three values here
// classify failures across package boundaries so callers can branch with
// errors.Is regardless of which component produced them.
package billingerr

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence marks a store failure: unreachable database, timeout, or
	// a statement the store rejected.
	ErrPersistence = errors.New("persistence_error")

	// ErrInvariantViolation marks a ledger row whose total cost does not match
	// the sum of its components. Unreachable when ApplyDelta is correct.
	ErrInvariantViolation = errors.New("invariant_violation")

	// ErrConfiguration marks an unknown plan tier, pricing variant or an
	// invalid static catalog.
	ErrConfiguration = errors.New("configuration_error")
)

// Persistence wraps err so it matches ErrPersistence while keeping the cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Configuration returns an ErrConfiguration describing the offending value.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
