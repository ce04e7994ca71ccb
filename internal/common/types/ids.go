package types

import "github.com/google/uuid"

// CorrelationID is the TPP supplied X-Request-ID that follows a request
// through the gateway and into the bank adapter.
type CorrelationID string

// InternalRequestID identifies a single request inside the gateway,
// independently of what the TPP sent.
type InternalRequestID string

// NewCorrelationID generates a new unique CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// NewInternalRequestID generates a new unique InternalRequestID.
func NewInternalRequestID() InternalRequestID {
	return InternalRequestID(uuid.NewString())
}

// String returns the string representation of CorrelationID.
func (c CorrelationID) String() string {
	return string(c)
}

// IsEmpty checks if the CorrelationID is empty.
func (c CorrelationID) IsEmpty() bool {
	return c == ""
}

// String returns the string representation of InternalRequestID.
func (i InternalRequestID) String() string {
	return string(i)
}

// IsEmpty checks if the InternalRequestID is empty.
func (i InternalRequestID) IsEmpty() bool {
	return i == ""
}
