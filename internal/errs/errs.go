// Package errs defines the engine's error taxonomy. Sentinel errors are
// wrapped with fmt.Errorf("...: %w", Err...) at the point of failure so
// callers can still use errors.Is against the category.
package errs

import "errors"

var (
	// ErrTransientTransport covers I/O, timeouts, and 5xx responses. The CLOB
	// client retries such a request up to 3 times, with backoff starting at
	// 500ms and capped at 5s. The Executor returns this error, after unwinding
	// the leg group, for any PlaceOrder failure; the signal is not queued for
	// another attempt.
	ErrTransientTransport = errors.New("transient transport error")

	// ErrVenueRejectedOrder names a 4xx order rejection (price off, insufficient
	// balance, market closed). No component returns it: the client reports a
	// 4xx from POST /order as a plain status error (not retried), and the
	// Executor wraps that in ErrTransientTransport after releasing the
	// reservation and journaling the unwind.
	ErrVenueRejectedOrder = errors.New("venue rejected order")

	// ErrInsufficientCapital is returned when a Ledger reservation fails. This
	// is not an error condition in the usual sense — the signal is dropped
	// silently by the Scheduler.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrPartialFailure indicates one leg of an atomic group failed. Other legs
	// are cancelled best-effort, the reservation released, a journal entry
	// recorded; the strategy may re-emit the signal next scan.
	ErrPartialFailure = errors.New("partial leg-group failure")

	// ErrInvariantViolation names an impossible Ledger state (e.g. negative
	// available capital after a commit). No component returns it: the Ledger
	// does not check its invariants after a commit, and no halt or exit path
	// handles this error.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrConfigError is returned only at startup; the process exits with code 1.
	ErrConfigError = errors.New("configuration error")
)
