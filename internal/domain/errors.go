package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrMissingSpecs      = errors.New("instrument specs missing")
	ErrInsufficientDepth = errors.New("insufficient order book depth")
	ErrImpactTooHigh     = errors.New("price impact above ceiling")
	ErrStaleQuote        = errors.New("quote older than staleness bound")
	ErrDuplicatePosition = errors.New("position already open for triple")
	ErrOrderRejected     = errors.New("order rejected by venue")
	ErrOrderTimeout      = errors.New("order placement timed out")
	ErrResidualPosition  = errors.New("residual size after close")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)
