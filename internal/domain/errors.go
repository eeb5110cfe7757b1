package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
	ErrLockLost          = errors.New("lock lost")
	ErrInvalidQuote      = errors.New("invalid quote")
	ErrVenueUnknown      = errors.New("unknown venue")
	ErrTransient         = errors.New("transient venue error")
	ErrRejected          = errors.New("order rejected by venue")
	ErrCircuitOpen       = errors.New("venue circuit open")
	ErrQueueFull         = errors.New("queue full")
	ErrQueueClosed       = errors.New("queue closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)
