package aucterrors

import "errors"

// Storage-level errors
var (
	ErrNotFound     = errors.New("auction not found")
	ErrNoBids       = errors.New("no bids placed on auction")
	ErrUnconfigured = errors.New("storage backend unavailable")
)

// Business rule errors
var (
	ErrValidation = errors.New("invalid input")
	ErrTooLow     = errors.New("bid amount too low")
	ErrEnded      = errors.New("auction no longer accepting bids")
	ErrForbidden  = errors.New("actor not permitted for this action")
	ErrConflict   = errors.New("auction state conflict")
)
