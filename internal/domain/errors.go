package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNoPosition     = errors.New("no open position")
	ErrPositionExists = errors.New("position already open")
	ErrInvalidBook    = errors.New("invalid orderbook")
	ErrInvalidSignal  = errors.New("invalid signal")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnavailable    = errors.New("venue unavailable")
	ErrNotConnected   = errors.New("not connected")
	ErrLockHeld       = errors.New("lock already held")
)
