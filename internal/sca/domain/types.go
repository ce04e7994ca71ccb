package domain

// ServiceType is the protocol error namespace and expiration scope of a
// business object.
type ServiceType string

const (
	ServiceTypeAIS ServiceType = "AIS"
	ServiceTypePIS ServiceType = "PIS"
)

// AuthorisationType tags which flavour of SCA an authorisation drives.
type AuthorisationType string

const (
	AuthorisationTypeAIS             AuthorisationType = "AIS"
	AuthorisationTypePISCreation     AuthorisationType = "PIS_CREATION"
	AuthorisationTypePISCancellation AuthorisationType = "PIS_CANCELLATION"
)

// ServiceType returns the service the authorisation type belongs to.
func (t AuthorisationType) ServiceType() ServiceType {
	if t == AuthorisationTypeAIS {
		return ServiceTypeAIS
	}
	return ServiceTypePIS
}

// IsValid reports whether t is a known authorisation type.
func (t AuthorisationType) IsValid() bool {
	switch t {
	case AuthorisationTypeAIS, AuthorisationTypePISCreation, AuthorisationTypePISCancellation:
		return true
	}
	return false
}

// ScaApproach is the authentication flow the ASPSP runs for an authorisation.
type ScaApproach string

const (
	ScaApproachEmbedded  ScaApproach = "EMBEDDED"
	ScaApproachDecoupled ScaApproach = "DECOUPLED"
	ScaApproachRedirect  ScaApproach = "REDIRECT"
	ScaApproachOAuth     ScaApproach = "OAUTH"
)

// ParseScaApproach converts a configuration or storage value to ScaApproach.
func ParseScaApproach(s string) (ScaApproach, bool) {
	switch a := ScaApproach(s); a {
	case ScaApproachEmbedded, ScaApproachDecoupled, ScaApproachRedirect, ScaApproachOAuth:
		return a, true
	}
	return "", false
}

// PaymentType distinguishes single, periodic and bulk payments.
type PaymentType string

const (
	PaymentTypeSingle   PaymentType = "payments"
	PaymentTypePeriodic PaymentType = "periodic-payments"
	PaymentTypeBulk     PaymentType = "bulk-payments"
)

// IsValid reports whether p is a known payment type.
func (p PaymentType) IsValid() bool {
	switch p {
	case PaymentTypeSingle, PaymentTypePeriodic, PaymentTypeBulk:
		return true
	}
	return false
}

// TransactionStatus is the ISO 20022 payment status code.
type TransactionStatus string

const (
	TransactionStatusReceived            TransactionStatus = "RCVD"
	TransactionStatusPartiallyAccepted   TransactionStatus = "PATC"
	TransactionStatusAcceptedTechnical   TransactionStatus = "ACTC"
	TransactionStatusAcceptedCustomer    TransactionStatus = "ACCP"
	TransactionStatusAcceptedSettlement  TransactionStatus = "ACSP"
	TransactionStatusAcceptedSettled     TransactionStatus = "ACSC"
	TransactionStatusAcceptedCreditorAcc TransactionStatus = "ACCC"
	TransactionStatusPending             TransactionStatus = "PDNG"
	TransactionStatusRejected            TransactionStatus = "RJCT"
	TransactionStatusCancelled           TransactionStatus = "CANC"
)

// IsFinal reports whether no further status change is expected.
func (s TransactionStatus) IsFinal() bool {
	switch s {
	case TransactionStatusAcceptedSettled, TransactionStatusAcceptedCreditorAcc,
		TransactionStatusRejected, TransactionStatusCancelled:
		return true
	}
	return false
}

// ConsentStatus is the lifecycle status of an AIS consent.
type ConsentStatus string

const (
	ConsentStatusReceived            ConsentStatus = "received"
	ConsentStatusPartiallyAuthorised ConsentStatus = "partiallyAuthorised"
	ConsentStatusValid               ConsentStatus = "valid"
	ConsentStatusRejected            ConsentStatus = "rejected"
	ConsentStatusExpired             ConsentStatus = "expired"
	ConsentStatusRevokedByPsu        ConsentStatus = "revokedByPsu"
	ConsentStatusTerminatedByTpp     ConsentStatus = "terminatedByTpp"
)

// IsFinal reports whether the consent can no longer change.
func (s ConsentStatus) IsFinal() bool {
	switch s {
	case ConsentStatusRejected, ConsentStatusExpired, ConsentStatusRevokedByPsu, ConsentStatusTerminatedByTpp:
		return true
	}
	return false
}
