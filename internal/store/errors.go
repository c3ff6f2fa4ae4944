package store

import "errors"

// Result enumerates the outcome taxonomy from spec §7: every batch
// operation resolves to exactly one of these, independent of the Go
// error wrapping used to get there.
type Result int

const (
	ResultOK Result = iota
	ResultNotFound
	ResultAlreadyExists
	ResultLocked
	ResultIOError
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultNotFound:
		return "NOT_FOUND"
	case ResultAlreadyExists:
		return "ALREADY_EXISTS"
	case ResultLocked:
		return "LOCK_ERROR"
	case ResultIOError:
		return "IO_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrNotFound is returned by Subscribe when the key has no entry.
// Read and Delete report missing keys as ResultNotFound instead, and
// Unsubscribe treats a missing key as success.
var ErrNotFound = errors.New("store: key not found")

// ErrNoSuchSubscriber is returned by Unsubscribe when the session was
// never subscribed to the given key.
var ErrNoSuchSubscriber = errors.New("store: subscriber not found for key")
