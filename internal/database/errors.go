package database

import "errors"

var (
	// ErrNotFound marks a missing booking, center or service reference.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateBooking marks an active booking already holding the
	// same (user, center, date, time) slot.
	ErrDuplicateBooking = errors.New("duplicate booking")

	// ErrStatusConflict marks an illegal state-machine transition.
	ErrStatusConflict = errors.New("status conflict")

	// ErrConcurrentModification marks a lost optimistic-version race.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrPastDate marks a slot that is not strictly in the future.
	ErrPastDate = errors.New("booking slot must be in the future")

	// ErrInvalidInput marks malformed booking payload fields.
	ErrInvalidInput = errors.New("invalid input")
)
