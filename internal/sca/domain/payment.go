package domain

import (
	"slices"
	"time"

	"psd2gateway/internal/common/types"
)

// Payment is a payment initiation awaiting or past SCA.
type Payment struct {
	id                    PaymentID
	paymentType           PaymentType
	paymentProduct        string
	amount                types.Money
	creditorName          string
	creditorIBAN          string
	transactionStatus     TransactionStatus
	psuDataList           []PsuIdData
	multilevelScaRequired bool
	createdAt             time.Time
	updatedAt             time.Time
	version               int
}

// NewPayment creates a payment in RCVD.
func NewPayment(
	paymentType PaymentType,
	product string,
	amount types.Money,
	creditorName string,
	creditorIBAN string,
	psu PsuIdData,
	multilevel bool,
	now time.Time,
) (*Payment, error) {
	if !paymentType.IsValid() {
		return nil, ErrInvalidPaymentType
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var psus []PsuIdData
	if !psu.IsEmpty() {
		psus = []PsuIdData{psu}
	}
	return &Payment{
		id:                    NewPaymentID(),
		paymentType:           paymentType,
		paymentProduct:        product,
		amount:                amount,
		creditorName:          creditorName,
		creditorIBAN:          creditorIBAN,
		transactionStatus:     TransactionStatusReceived,
		psuDataList:           psus,
		multilevelScaRequired: multilevel,
		createdAt:             now,
		updatedAt:             now,
	}, nil
}

// Accessors
func (p *Payment) ID() PaymentID                        { return p.id }
func (p *Payment) PaymentType() PaymentType             { return p.paymentType }
func (p *Payment) PaymentProduct() string               { return p.paymentProduct }
func (p *Payment) Amount() types.Money                  { return p.amount }
func (p *Payment) CreditorName() string                 { return p.creditorName }
func (p *Payment) CreditorIBAN() string                 { return p.creditorIBAN }
func (p *Payment) TransactionStatus() TransactionStatus { return p.transactionStatus }
func (p *Payment) UpdatedAt() time.Time                 { return p.updatedAt }
func (p *Payment) Version() int                         { return p.version }

// ParentObject implementation.
func (p *Payment) ExternalID() string          { return p.id.String() }
func (p *Payment) ServiceType() ServiceType    { return ServiceTypePIS }
func (p *Payment) CreatedAt() time.Time        { return p.createdAt }
func (p *Payment) MultilevelScaRequired() bool { return p.multilevelScaRequired }
func (p *Payment) PsuDataList() []PsuIdData    { return slices.Clone(p.psuDataList) }

// AwaitingConfirmation reports whether SCA has not yet completed.
func (p *Payment) AwaitingConfirmation() bool {
	return p.transactionStatus == TransactionStatusReceived ||
		p.transactionStatus == TransactionStatusPartiallyAccepted
}

// IsRejected reports whether the payment was rejected.
func (p *Payment) IsRejected() bool {
	return p.transactionStatus == TransactionStatusRejected
}

// RejectOnExpiration rejects a payment whose confirmation window passed.
func (p *Payment) RejectOnExpiration(now time.Time) {
	p.SetTransactionStatus(TransactionStatusRejected, now)
}

// AuthorisationTypes lists the authorisation flavours tied to a payment.
func (p *Payment) AuthorisationTypes() []AuthorisationType {
	return []AuthorisationType{AuthorisationTypePISCreation, AuthorisationTypePISCancellation}
}

// AddPsu appends psu to the list of PSUs allowed to authorise.
// Reports whether the list changed.
func (p *Payment) AddPsu(psu PsuIdData) bool {
	if psu.IsEmpty() || ContainsPsu(p.psuDataList, psu) {
		return false
	}
	p.psuDataList = append(p.psuDataList, psu)
	return true
}

// RequireMultilevelSca marks the payment as needing every listed PSU.
func (p *Payment) RequireMultilevelSca(now time.Time) {
	if p.multilevelScaRequired {
		return
	}
	p.multilevelScaRequired = true
	p.updatedAt = now
}

// SetTransactionStatus stores the status reported by the bank or the engine.
func (p *Payment) SetTransactionStatus(status TransactionStatus, now time.Time) {
	p.transactionStatus = status
	p.updatedAt = now
}

// ExemptionAllowed reports whether SCA can be skipped for this payment.
// Periodic payments always need SCA.
func (p *Payment) ExemptionAllowed(exemptedProducts []string) bool {
	if p.paymentType == PaymentTypePeriodic {
		return false
	}
	return slices.Contains(exemptedProducts, p.paymentProduct)
}

// MarkSaved advances the version after a successful write.
func (p *Payment) MarkSaved() {
	p.version++
}

// Clone returns a deep copy.
func (p *Payment) Clone() *Payment {
	c := *p
	c.psuDataList = slices.Clone(p.psuDataList)
	return &c
}

// ReconstructPayment rehydrates a Payment from storage.
func ReconstructPayment(
	id PaymentID,
	paymentType PaymentType,
	product string,
	amount types.Money,
	creditorName string,
	creditorIBAN string,
	status TransactionStatus,
	psus []PsuIdData,
	multilevel bool,
	createdAt time.Time,
	updatedAt time.Time,
	version int,
) *Payment {
	return &Payment{
		id:                    id,
		paymentType:           paymentType,
		paymentProduct:        product,
		amount:                amount,
		creditorName:          creditorName,
		creditorIBAN:          creditorIBAN,
		transactionStatus:     status,
		psuDataList:           psus,
		multilevelScaRequired: multilevel,
		createdAt:             createdAt,
		updatedAt:             updatedAt,
		version:               version,
	}
}
