package errors

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid siaga broadcast input")
	ErrRequestIDRequired = errors.New("request id is required")
	ErrIllegalTransition = errors.New("illegal siaga broadcast state transition")
	ErrNotFound          = errors.New("siaga broadcast not found")
	ErrForbidden         = errors.New("actor is not the siaga broadcast author")
	ErrConflict          = errors.New("siaga broadcast id already claimed")
	ErrDedupClaimed      = errors.New("dedup key already claimed")
	ErrIntegrity         = errors.New("siaga record failed audit hash recomputation")
)
