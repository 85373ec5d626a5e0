package valuesync

import "errors"

// The four failure kinds a manager reports on its error stream. All of
// them are observational: the sync loops keep running and the next
// event is processed normally. Callers match with errors.Is.
var (
	// ErrValueUnavailable marks a weakly observed value that its owner
	// has released. Once reported it never recovers; treat a manager
	// that keeps reporting it as done.
	ErrValueUnavailable = errors.New("valuesync: value no longer available")

	ErrDecodeFailed = errors.New("valuesync: event decode failed")
	ErrEncodeFailed = errors.New("valuesync: event encode failed")
	ErrApplyFailed  = errors.New("valuesync: event apply failed")

	ErrClosed = errors.New("valuesync: manager is closed")
)
