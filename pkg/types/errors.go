package types

import "errors"

// Sentinel errors returned by the public operations. Every operation fails
// fast and atomically: when one of these is returned, no state was mutated,
// no value was transferred and no event was emitted. Callers match with
// errors.Is; operations wrap these with context via fmt.Errorf("...: %w").
var (
	// ErrInvalidInput covers malformed creation parameters: amount <= 0,
	// maker equal to the designated taker, duration below the minimum.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when the caller is not the maker, taker
	// or owner the operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when the bet's status does not admit the
	// requested operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrExpired is returned when the deadline has already passed for an
	// operation that requires it not to have (taking a bet).
	ErrExpired = errors.New("deadline passed")

	// ErrNotYetEligible is returned when the deadline has not passed for an
	// operation that requires it to have (closing a bet).
	ErrNotYetEligible = errors.New("deadline not yet passed")

	// ErrInsufficientFunds is returned by the value-transfer collaborator on
	// a failed deposit, and by the administrative sweep when it exceeds the
	// accrued balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound is returned for a bet id of 0, beyond the highest
	// allocated id, or referring to an uninitialized slot.
	ErrNotFound = errors.New("bet not found")
)
