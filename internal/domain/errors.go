package domain

import "errors"

// ErrDataUnavailable marks the one soft failure of the prediction pipeline: the market data
// source returned nothing, the adjusted close was missing, or the history was too short.
// Callers that loop over many symbols should skip the symbol and continue.
var ErrDataUnavailable = errors.New("stock data not available")

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)
