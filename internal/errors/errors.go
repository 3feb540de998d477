package errors

import "errors"

// Configuration errors.
var (
	ErrMissingToken = errors.New("OAuth token is not configured")
)

// Run errors.
var (
	ErrSyncFailed     = errors.New("sync failed")
	ErrSyncInProgress = errors.New("sync already in progress")
)

// State errors.
var (
	ErrStateLocked = errors.New("state database is locked by another process")
)

// Server/transport errors.
var (
	ErrAPIRequest     = errors.New("API request failed")
	ErrAPIResponse    = errors.New("unexpected API response")
	ErrListing        = errors.New("listing remote files failed")
	ErrUploadRejected = errors.New("upload was not accepted")
)

// TransientError wraps an error that is likely temporary. Nothing retries
// within a run, but callers log it differently.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
