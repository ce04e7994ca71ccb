package domain

import (
	"slices"
	"time"
)

// Consent is an AIS consent awaiting or past SCA.
type Consent struct {
	id                    ConsentID
	consentStatus         ConsentStatus
	recurringIndicator    bool
	validUntil            time.Time
	frequencyPerDay       int
	psuDataList           []PsuIdData
	multilevelScaRequired bool
	createdAt             time.Time
	updatedAt             time.Time
	version               int
}

// NewConsent creates a consent in received.
func NewConsent(psu PsuIdData, recurring bool, validUntil time.Time, frequencyPerDay int, multilevel bool, now time.Time) *Consent {
	var psus []PsuIdData
	if !psu.IsEmpty() {
		psus = []PsuIdData{psu}
	}
	return &Consent{
		id:                    NewConsentID(),
		consentStatus:         ConsentStatusReceived,
		recurringIndicator:    recurring,
		validUntil:            validUntil,
		frequencyPerDay:       frequencyPerDay,
		psuDataList:           psus,
		multilevelScaRequired: multilevel,
		createdAt:             now,
		updatedAt:             now,
	}
}

// Accessors
func (c *Consent) ID() ConsentID                { return c.id }
func (c *Consent) ConsentStatus() ConsentStatus { return c.consentStatus }
func (c *Consent) RecurringIndicator() bool     { return c.recurringIndicator }
func (c *Consent) ValidUntil() time.Time        { return c.validUntil }
func (c *Consent) FrequencyPerDay() int         { return c.frequencyPerDay }
func (c *Consent) UpdatedAt() time.Time         { return c.updatedAt }
func (c *Consent) Version() int                 { return c.version }

// ParentObject implementation.
func (c *Consent) ExternalID() string          { return c.id.String() }
func (c *Consent) ServiceType() ServiceType    { return ServiceTypeAIS }
func (c *Consent) CreatedAt() time.Time        { return c.createdAt }
func (c *Consent) MultilevelScaRequired() bool { return c.multilevelScaRequired }
func (c *Consent) PsuDataList() []PsuIdData    { return slices.Clone(c.psuDataList) }

// AwaitingConfirmation reports whether SCA has not yet completed.
func (c *Consent) AwaitingConfirmation() bool {
	return c.consentStatus == ConsentStatusReceived ||
		c.consentStatus == ConsentStatusPartiallyAuthorised
}

// IsRejected reports whether the consent was rejected.
func (c *Consent) IsRejected() bool {
	return c.consentStatus == ConsentStatusRejected
}

// RejectOnExpiration rejects a consent whose confirmation window passed.
func (c *Consent) RejectOnExpiration(now time.Time) {
	c.SetConsentStatus(ConsentStatusRejected, now)
}

// AuthorisationTypes lists the authorisation flavours tied to a consent.
func (c *Consent) AuthorisationTypes() []AuthorisationType {
	return []AuthorisationType{AuthorisationTypeAIS}
}

// AddPsu appends psu to the list of PSUs allowed to authorise.
// Reports whether the list changed.
func (c *Consent) AddPsu(psu PsuIdData) bool {
	if psu.IsEmpty() || ContainsPsu(c.psuDataList, psu) {
		return false
	}
	c.psuDataList = append(c.psuDataList, psu)
	return true
}

// RequireMultilevelSca marks the consent as needing every listed PSU.
func (c *Consent) RequireMultilevelSca(now time.Time) {
	if c.multilevelScaRequired {
		return
	}
	c.multilevelScaRequired = true
	c.updatedAt = now
}

// SetConsentStatus stores a new consent status.
func (c *Consent) SetConsentStatus(status ConsentStatus, now time.Time) {
	c.consentStatus = status
	c.updatedAt = now
}

// MarkSaved advances the version after a successful write.
func (c *Consent) MarkSaved() {
	c.version++
}

// Clone returns a deep copy.
func (c *Consent) Clone() *Consent {
	cp := *c
	cp.psuDataList = slices.Clone(c.psuDataList)
	return &cp
}

// ReconstructConsent rehydrates a Consent from storage.
func ReconstructConsent(
	id ConsentID,
	status ConsentStatus,
	recurring bool,
	validUntil time.Time,
	frequencyPerDay int,
	psus []PsuIdData,
	multilevel bool,
	createdAt time.Time,
	updatedAt time.Time,
	version int,
) *Consent {
	return &Consent{
		id:                    id,
		consentStatus:         status,
		recurringIndicator:    recurring,
		validUntil:            validUntil,
		frequencyPerDay:       frequencyPerDay,
		psuDataList:           psus,
		multilevelScaRequired: multilevel,
		createdAt:             createdAt,
		updatedAt:             updatedAt,
		version:               version,
	}
}
