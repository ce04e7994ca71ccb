package domain

import "errors"

// Domain errors for the SCA context.
var (
	// ErrAuthorisationNotFound is returned when an authorisation cannot be found.
	ErrAuthorisationNotFound = errors.New("authorisation not found")

	// ErrPaymentNotFound is returned when a payment cannot be found.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrConsentNotFound is returned when a consent cannot be found.
	ErrConsentNotFound = errors.New("consent not found")

	// ErrInvalidStateTransition is returned when an SCA status change would
	// move backwards or leave a terminal status.
	ErrInvalidStateTransition = errors.New("invalid sca status transition")

	// ErrOptimisticLock is returned when an optimistic lock conflict occurs.
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = errors.New("corrupt data in database")

	// ErrInvalidAmount is returned when a payment amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidPaymentType is returned for unknown payment types.
	ErrInvalidPaymentType = errors.New("unknown payment type")

	// ErrPsuRequired is returned when an object must name at least one PSU.
	ErrPsuRequired = errors.New("psu id is required")
)
