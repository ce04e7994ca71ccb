package domain

import (
	"fmt"
	"time"
)

// Authorisation is one PSU's SCA run against a payment or consent.
// The parent object owns it; status changes only go forward.
type Authorisation struct {
	id              AuthorisationID
	parentID        string
	authType        AuthorisationType
	psuData         PsuIdData
	scaStatus       ScaStatus
	scaApproach     ScaApproach
	chosenScaMethod *AuthenticationObject
	redirectURI     string
	nokRedirectURI  string
	createdAt       time.Time
	lastActionAt    time.Time
	version         int
}

// NewAuthorisation creates an authorisation in RECEIVED.
func NewAuthorisation(parentID string, authType AuthorisationType, psu PsuIdData, approach ScaApproach, now time.Time) *Authorisation {
	return &Authorisation{
		id:           NewAuthorisationID(),
		parentID:     parentID,
		authType:     authType,
		psuData:      psu,
		scaStatus:    ScaStatusReceived,
		scaApproach:  approach,
		createdAt:    now,
		lastActionAt: now,
	}
}

// Accessors
func (a *Authorisation) ID() AuthorisationID      { return a.id }
func (a *Authorisation) ParentID() string         { return a.parentID }
func (a *Authorisation) Type() AuthorisationType  { return a.authType }
func (a *Authorisation) PsuData() PsuIdData       { return a.psuData }
func (a *Authorisation) ScaStatus() ScaStatus     { return a.scaStatus }
func (a *Authorisation) ScaApproach() ScaApproach { return a.scaApproach }
func (a *Authorisation) RedirectURI() string      { return a.redirectURI }
func (a *Authorisation) NokRedirectURI() string   { return a.nokRedirectURI }
func (a *Authorisation) CreatedAt() time.Time     { return a.createdAt }
func (a *Authorisation) LastActionAt() time.Time  { return a.lastActionAt }
func (a *Authorisation) Version() int             { return a.version }
func (a *Authorisation) ServiceType() ServiceType { return a.authType.ServiceType() }
func (a *Authorisation) IsFinal() bool            { return a.scaStatus.IsFinal() }

// ChosenScaMethod returns the method the PSU picked, if any.
func (a *Authorisation) ChosenScaMethod() (AuthenticationObject, bool) {
	if a.chosenScaMethod == nil {
		return AuthenticationObject{}, false
	}
	return *a.chosenScaMethod, true
}

// TransitionTo moves the authorisation to next.
// Returns ErrInvalidStateTransition for regressions and moves out of a
// terminal status.
func (a *Authorisation) TransitionTo(next ScaStatus, now time.Time) error {
	if !a.scaStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, a.scaStatus, next)
	}
	a.scaStatus = next
	a.lastActionAt = now
	return nil
}

// Fail moves the authorisation to FAILED unless it is already terminal.
// Reports whether the status changed.
func (a *Authorisation) Fail(now time.Time) bool {
	if a.scaStatus.IsFinal() {
		return false
	}
	a.scaStatus = ScaStatusFailed
	a.lastActionAt = now
	return true
}

// IdentifyPsu records the PSU on an authorisation created without one.
// An already identified PSU is kept.
func (a *Authorisation) IdentifyPsu(psu PsuIdData) {
	if a.psuData.IsEmpty() {
		a.psuData = psu
		return
	}
	if psu.IPAddress != "" {
		a.psuData.IPAddress = psu.IPAddress
	}
}

// ChooseScaMethod records the method the PSU will authenticate with.
func (a *Authorisation) ChooseScaMethod(method AuthenticationObject) {
	m := method
	a.chosenScaMethod = &m
}

// SetRedirectLinks stores the ASPSP links used by the redirect approach.
func (a *Authorisation) SetRedirectLinks(ok, nok string) {
	a.redirectURI = ok
	a.nokRedirectURI = nok
}

// MarkSaved advances the version after a successful write.
// Only repositories call it.
func (a *Authorisation) MarkSaved() {
	a.version++
}

// Clone returns a deep copy so stores never share state with callers.
func (a *Authorisation) Clone() *Authorisation {
	c := *a
	if a.chosenScaMethod != nil {
		m := *a.chosenScaMethod
		c.chosenScaMethod = &m
	}
	return &c
}

// ReconstructAuthorisation rehydrates an Authorisation from storage.
func ReconstructAuthorisation(
	id AuthorisationID,
	parentID string,
	authType AuthorisationType,
	psu PsuIdData,
	status ScaStatus,
	approach ScaApproach,
	chosen *AuthenticationObject,
	redirectURI string,
	nokRedirectURI string,
	createdAt time.Time,
	lastActionAt time.Time,
	version int,
) *Authorisation {
	return &Authorisation{
		id:              id,
		parentID:        parentID,
		authType:        authType,
		psuData:         psu,
		scaStatus:       status,
		scaApproach:     approach,
		chosenScaMethod: chosen,
		redirectURI:     redirectURI,
		nokRedirectURI:  nokRedirectURI,
		createdAt:       createdAt,
		lastActionAt:    lastActionAt,
		version:         version,
	}
}
