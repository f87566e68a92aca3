// Package common defines shared constants and sentinel errors used across
// the engine layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Network outcome classes. Every transport failure is mapped onto
	// exactly one of these before it leaves the transport layer.
	ErrOffline      = errors.New("offline")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("rejected by server")
	ErrTransient    = errors.New("transient server error")

	// Durable store errors. A failing local store means the offline
	// guarantee cannot be honored, so these are fatal to the caller.
	ErrStorageFailure       = errors.New("storage failure")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

	// Auth cache errors.
	ErrLocalAuthNotAvailable = errors.New("local auth data unavailable")
)

// Retriable reports whether err is worth presenting to the server again:
// transient faults and absent connectivity are, everything else is not.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrOffline)
}
