package pqi

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when starting an offline session without live
// connectivity. Arming offline mode is the one operation that requires the
// network to be up.
var ErrNotConnected = errors.New("not connected: offline session requires connectivity to prepare the snapshot")

// ErrNoActiveTour is returned when a record is captured with no tour open.
var ErrNoActiveTour = errors.New("no active tour")

// AuthError indicates a missing or expired token that could not be refreshed.
// The operation is aborted; the user must sign in again.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates a transport-level failure (timeout, DNS, connection
// refused). Writes that hit one are queued locally instead of failing.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx response from the remote system, carrying the
// status code and the server-provided message where one was available.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote: status %d", e.Status)
}

// Permanent reports whether the rejection is a validation failure that will
// not succeed on retry without user correction.
func (e *RemoteError) Permanent() bool {
	return e.Status == 400 || e.Status == 422
}

// StorageFullError indicates a local write did not persist even after the
// eviction pass and retry. The caller must surface it: in-memory state may
// now diverge from durable state.
type StorageFullError struct {
	Err error
}

func (e *StorageFullError) Error() string {
	return fmt.Sprintf("storage full: write did not persist: %v", e.Err)
}

func (e *StorageFullError) Unwrap() error { return e.Err }

// IsRetryable reports whether a sync failure should be retried automatically
// on the next run. Permanent validation rejections require user correction
// first; everything else retries.
func IsRetryable(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return !remote.Permanent()
	}
	return true
}
