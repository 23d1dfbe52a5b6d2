package subswap

import "errors"

var (
	// ErrProtocolViolation is returned when a swap offer of the server
	// does not match what we requested. The swap is abandoned before
	// any funds move.
	ErrProtocolViolation = errors.New("swap protocol violation")

	// ErrNotStarted is returned when swaps are initiated before the
	// manager is started.
	ErrNotStarted = errors.New("swap manager not started")

	// ErrSwapNotFound is returned for unknown payment hashes.
	ErrSwapNotFound = errors.New("swap not found")
)
