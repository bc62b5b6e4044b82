package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrContextDone     = errors.New("context cancelled")
	ErrLockHeld        = errors.New("lock already held")
	ErrStaleBook       = errors.New("order book is stale")
	ErrCrossedBook     = errors.New("order book is crossed")
	ErrUnknownToken    = errors.New("token not bound to the active window")
	ErrNoActiveWindow  = errors.New("no active market window")
	ErrNotResolved     = errors.New("market window not resolved yet")
	ErrMalformedFrame  = errors.New("malformed feed message")
	ErrHandoffRejected = errors.New("trade intent hand-off rejected")
)
