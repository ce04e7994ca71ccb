package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrEmptyID is returned when parsing an empty resource id.
	ErrEmptyID = errors.New("id cannot be empty")

	// ErrInvalidID is returned when a resource id is not a UUID.
	ErrInvalidID = errors.New("id: invalid uuid format")
)

func parseUUID(s string) (string, error) {
	if s == "" {
		return "", ErrEmptyID
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidID, s)
	}
	return u.String(), nil
}

// AuthorisationID uniquely identifies an SCA authorisation.
// It is a struct wrapper to prevent accidental type confusion at compile time.
type AuthorisationID struct {
	value string
}

// ParseAuthorisationID creates an AuthorisationID from a string, validating UUID format.
func ParseAuthorisationID(s string) (AuthorisationID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return AuthorisationID{}, fmt.Errorf("authorisation_id: %w", err)
	}
	return AuthorisationID{value: v}, nil
}

// NewAuthorisationID generates a new unique AuthorisationID.
func NewAuthorisationID() AuthorisationID {
	return AuthorisationID{value: uuid.NewString()}
}

func (a AuthorisationID) String() string { return a.value }

// IsEmpty checks if the AuthorisationID is empty.
func (a AuthorisationID) IsEmpty() bool { return a.value == "" }

// PaymentID identifies a payment initiation.
type PaymentID struct {
	value string
}

// ParsePaymentID creates a PaymentID from a string, validating UUID format.
func ParsePaymentID(s string) (PaymentID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return PaymentID{}, fmt.Errorf("payment_id: %w", err)
	}
	return PaymentID{value: v}, nil
}

// NewPaymentID generates a new unique PaymentID.
func NewPaymentID() PaymentID {
	return PaymentID{value: uuid.NewString()}
}

func (p PaymentID) String() string { return p.value }

// IsEmpty checks if the PaymentID is empty.
func (p PaymentID) IsEmpty() bool { return p.value == "" }

// ConsentID identifies an AIS consent.
type ConsentID struct {
	value string
}

// ParseConsentID creates a ConsentID from a string, validating UUID format.
func ParseConsentID(s string) (ConsentID, error) {
	v, err := parseUUID(s)
	if err != nil {
		return ConsentID{}, fmt.Errorf("consent_id: %w", err)
	}
	return ConsentID{value: v}, nil
}

// NewConsentID generates a new unique ConsentID.
func NewConsentID() ConsentID {
	return ConsentID{value: uuid.NewString()}
}

func (c ConsentID) String() string { return c.value }

// IsEmpty checks if the ConsentID is empty.
func (c ConsentID) IsEmpty() bool { return c.value == "" }
