package services

import "errors"

// Expected, recoverable rejections. Handlers map each to its own status and code.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrBanned                 = errors.New("user is banned")
	ErrTrackMismatch          = errors.New("challenge belongs to another track")
	ErrInsufficientPoints     = errors.New("insufficient points")
	ErrAlreadyCompleted       = errors.New("already completed")
	ErrAlreadyHighlighted     = errors.New("shared challenge is already highlighted")
	ErrNotAtRisk              = errors.New("streak is not at risk")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ErrInvariantViolation is fatal: the stored record is inconsistent and is left untouched.
var ErrInvariantViolation = errors.New("progress invariant violated")

// errSkipWrite lets a mutation finish without writing when nothing changed.
var errSkipWrite = errors.New("no change")
