package domain

import "errors"

// Sentinel errors for the failure categories that cross package boundaries.
// Quality-filter rejections are NOT errors; they are tagged result values.
var (
	// ErrStateCorrupt marks an unrecoverable portfolio state load failure.
	// Callers must back up the corrupt file and abort the run; silently
	// resetting to defaults would destroy capital accounting.
	ErrStateCorrupt = errors.New("portfolio state corrupt")

	// ErrDuplicateOrder is returned when a client order ID has already been
	// submitted. Distinguishable from all other rejection causes.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrBreakerHalted is returned when the circuit breaker blocks a new
	// position entry. Existing positions continue to be monitored.
	ErrBreakerHalted = errors.New("circuit breaker halted")

	// ErrUnavailable is returned by oracle wrappers after retries are
	// exhausted. The affected ticker is skipped for the run.
	ErrUnavailable = errors.New("oracle unavailable")
)
