package matching

import "errors"

// Validation and state errors surfaced to callers. Absent rows come back as
// storage.ErrNotFound; transport failures never appear here, the realtime
// registry absorbs them.
var (
	ErrInvalidLocation   = errors.New("invalid location")
	ErrLocationNotSet    = errors.New("user location not set")
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrInvalidType       = errors.New("unknown request type")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("not a participant of this request")
)
