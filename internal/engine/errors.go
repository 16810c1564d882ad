package engine

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role an operation requires.
	ErrUnauthorized = errors.New("caller not authorized")
	// ErrInvalidCooldown is returned for a negative or oversized cooldown.
	ErrInvalidCooldown = errors.New("invalid cooldown")
	// ErrInvalidThreshold is returned for an improvement threshold outside the accepted range.
	ErrInvalidThreshold = errors.New("invalid improvement threshold")
	// ErrNoStrategies is returned when a cycle is requested with nothing registered.
	ErrNoStrategies = errors.New("no strategies registered")
	// ErrCycleInProgress is returned when a second evaluate-and-act call overlaps a running one.
	ErrCycleInProgress = errors.New("evaluation cycle already in progress")
	// ErrVaultCommand is returned when the vault move fails or times out. State is left unchanged.
	ErrVaultCommand = errors.New("vault command failed")
)
