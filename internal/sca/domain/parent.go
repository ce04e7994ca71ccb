package domain

import "time"

// ParentObject is the view of a payment or consent the SCA engine needs.
// It never drives authorisation transitions itself.
type ParentObject interface {
	ExternalID() string
	ServiceType() ServiceType
	CreatedAt() time.Time
	PsuDataList() []PsuIdData
	MultilevelScaRequired() bool
	AwaitingConfirmation() bool
	IsRejected() bool
	RejectOnExpiration(now time.Time)
	AuthorisationTypes() []AuthorisationType
}

var (
	_ ParentObject = (*Payment)(nil)
	_ ParentObject = (*Consent)(nil)
)
