package sieve

import "errors"

var (
	ErrInvalidBound      = errors.New("sieve: highest number must be greater than 2")
	ErrInvalidOptions    = errors.New("sieve: invalid options")
	ErrAllocation        = errors.New("sieve: insufficient memory")
	ErrProtocolViolation = errors.New("sieve: protocol violation")
)
