package pricesync

import "errors"

// Sentinel errors for the failure taxonomy. Per-file errors never abort a
// job; only lock contention and top-level enumeration failure are fatal.
var (
	// ErrNotFound marks expected absence of a remote file (FTP 550).
	ErrNotFound = errors.New("remote file not found")

	// ErrPoolExhausted is returned when no connection becomes available
	// inside the acquire timeout. Accounted as a connection failure.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrBreakerOpen is returned while the circuit breaker refuses to
	// dial out.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrLockHeld signals that another job already owns the line.
	ErrLockHeld = errors.New("line lock held by another job")

	// ErrPaused signals that the pause flag stopped further dispatch.
	ErrPaused = errors.New("sync paused")

	// ErrUnrepairable marks a payload that is neither valid JSON nor the
	// known corruption pattern.
	ErrUnrepairable = errors.New("payload unrepairable")
)

// ClassifyFetchError maps a downloader error onto the outcome taxonomy.
func ClassifyFetchError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrUnrepairable):
		return OutcomeParseError
	default:
		// Pool exhaustion and breaker rejections count as connection
		// failures for accounting purposes.
		return OutcomeConnectionFailure
	}
}
