package realtime

import "errors"

var (
	// ErrUnauthorized means the acting identity is not a participant or owner
	// of the resource it tried to act on.
	ErrUnauthorized = errors.New("not a participant of this resource")

	// ErrNotFound means the referenced call or session id is unknown. Stale
	// clients produce this legitimately; it rejects the one request only.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyInCall rejects an initiate that would give an identity a
	// second concurrent call.
	ErrAlreadyInCall = errors.New("already in a call")
)
