// Package apperr defines the engine's error taxonomy. Components wrap these
// sentinels with fmt.Errorf("...: %w", err) at the call site rather than
// defining new error types per package.
package apperr

import "errors"

var (
	// ErrAuthRequired means no valid credential exists; the caller must
	// re-authenticate.
	ErrAuthRequired = errors.New("auth required")

	// ErrCredentialExpired means the stored credential is expired; a refresh
	// should be attempted once before surfacing ErrAuthRequired.
	ErrCredentialExpired = errors.New("credential expired")

	// ErrTransportTransient means the operation should be retried with backoff.
	ErrTransportTransient = errors.New("transport transient error")

	// ErrTransportPermanent means the operation failed and must not be retried.
	ErrTransportPermanent = errors.New("transport permanent error")

	// ErrParse means a message was malformed; the caller should skip it and
	// continue.
	ErrParse = errors.New("parse error")

	// ErrModelUnavailable means no language model is activated; callers fall
	// back to deterministic behavior.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrBusy means a singleton task is already running.
	ErrBusy = errors.New("busy")

	// ErrNotFound means a lookup by id found nothing.
	ErrNotFound = errors.New("not found")

	// ErrStorage means the database is unreachable or corrupt.
	ErrStorage = errors.New("storage error")

	// ErrCancelled means a cooperative cancellation was observed.
	ErrCancelled = errors.New("cancelled")
)

// Kind returns the sentinel at the root of err's wrap chain, or nil if err
// does not match any taxonomy member.
func Kind(err error) error {
	for _, sentinel := range []error{
		ErrAuthRequired, ErrCredentialExpired, ErrTransportTransient,
		ErrTransportPermanent, ErrParse, ErrModelUnavailable, ErrBusy,
		ErrNotFound, ErrStorage, ErrCancelled,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
