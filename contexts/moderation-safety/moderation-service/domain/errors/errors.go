package errors

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid moderation input")
	ErrReasonRequired    = errors.New("rejection requires a reason")
	ErrRequestIDRequired = errors.New("request id is required")
	ErrIllegalTransition = errors.New("illegal moderation state transition")
	ErrNotFound          = errors.New("moderation record not found")
	ErrConflict          = errors.New("moderation record id already claimed")
	ErrDedupClaimed      = errors.New("dedup key already claimed")
	ErrIntegrity         = errors.New("moderation record failed audit hash recomputation")
)
