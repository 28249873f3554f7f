package session

import "errors"

var (
	ErrNoActiveSession   = errors.New("no active session in this arena")
	ErrAlreadyActive     = errors.New("a session is already active in this arena")
	ErrAlreadyJoined     = errors.New("player already joined")
	ErrFull              = errors.New("session is full")
	ErrWrongPhase        = errors.New("action not allowed in the current phase")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStaleAction       = errors.New("stale action")
	ErrAdapter           = errors.New("adapter failure")
	ErrNotParticipant    = errors.New("player is not registered in this session")
	ErrNotEligible       = errors.New("player is not eligible to act")
	ErrUnknownGame       = errors.New("unknown game")
	ErrUnknownAction     = errors.New("unknown action kind")
	ErrInvalidConfig     = errors.New("invalid session config")
)
