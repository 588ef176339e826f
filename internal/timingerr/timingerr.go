// Package timingerr defines the error kinds of §7 of the timing spec and
// their propagation policy: ParseError/InvalidKey are local and recovered
// by the caller; PersistenceFailure/ConsistencyViolation/TransportFailure
// are recovered asynchronously (retry or reconcile); CancellationRequested
// is cooperative exit.
package timingerr

import "errors"

// Sentinel kinds. Use errors.Is against these after wrapping with fmt.Errorf
// ("...: %w", kind) — matches the teacher's own wrapping style
// (ws.ErrTooManyConnections).
var (
	// ErrParse marks a malformed input line or field. Logged; the
	// offending command is skipped; the batch continues.
	ErrParse = errors.New("timingcore: parse error")

	// ErrInvalidKey marks an empty car number or nil position passed to
	// the lap-history store. Callers treat this as a logic bug.
	ErrInvalidKey = errors.New("timingcore: invalid key")

	// ErrPersistence marks a durable write failure. The lap sweeper
	// retries on the next tick; LastLogged is not advanced until
	// persistence succeeds.
	ErrPersistence = errors.New("timingcore: persistence failure")

	// ErrConsistency marks a sustained consistency-check failure,
	// recovered by an upstream resync request.
	ErrConsistency = errors.New("timingcore: consistency violation")

	// ErrTransport marks a broadcast send failure. Logged, not retried —
	// clients reconcile via periodic full snapshot or reconnect.
	ErrTransport = errors.New("timingcore: transport failure")

	// ErrCancelled marks cooperative exit in response to a cancellation
	// token.
	ErrCancelled = errors.New("timingcore: cancellation requested")
)
