package errors

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid vault entry input")
	ErrRequestIDRequired = errors.New("request id is required")
	ErrIllegalTransition = errors.New("illegal vault entry state transition")
	ErrNotFound          = errors.New("vault entry not found")
	ErrForbidden         = errors.New("actor does not own this vault entry")
	ErrConflict          = errors.New("vault entry id already claimed")
	ErrDedupClaimed      = errors.New("dedup key already claimed")
	ErrDuplicateEdge     = errors.New("entry already vouched or challenged by this actor")
	ErrIntegrity         = errors.New("vault record failed audit hash recomputation")
	ErrNegativeCutoff    = errors.New("retention cutoff must not be negative")
)
