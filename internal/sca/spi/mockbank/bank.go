// Package mockbank is an in-memory ASPSP used by the demo binary and the
// feature tests. It implements every adapter interface of package spi.
package mockbank

import (
	"context"
	"strings"
	"sync"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/spi"
)

// Default SCA methods offered to every PSU without an explicit entry.
var DefaultMethods = []domain.AuthenticationObject{
	{MethodID: "sms-otp", Type: "SMS_OTP", Name: "SMS to +49 170 ****123"},
	{MethodID: "chip-otp", Type: "CHIP_OTP", Name: "chipTAN"},
	{MethodID: "push-app", Type: "PUSH_OTP", Name: "Banking app", Decoupled: true},
}

// Options configures a Bank.
type Options struct {
	Password string
	Tan      string
	// Signers is how many PSUs must sign a multilevel payment or consent.
	// Values below two mean two.
	Signers int
}

// Bank keeps credentials and per-PSU behaviour in memory.
// Concurrency: all access is guarded by a mutex.
type Bank struct {
	mu        sync.RWMutex
	password  string
	tan       string
	methods   map[string][]domain.AuthenticationObject
	exempted  map[string]bool
	decoupled map[string]string
	signers   int
	signed    map[string][]domain.PsuIdData
}

// New creates a bank accepting the configured password and TAN for every PSU.
func New(opts Options) *Bank {
	signers := opts.Signers
	if signers < 2 {
		signers = 2
	}
	return &Bank{
		password:  opts.Password,
		tan:       opts.Tan,
		methods:   make(map[string][]domain.AuthenticationObject),
		exempted:  make(map[string]bool),
		decoupled: make(map[string]string),
		signers:   signers,
		signed:    make(map[string][]domain.PsuIdData),
	}
}

// SetMethods overrides the SCA methods offered to a PSU.
func (b *Bank) SetMethods(psuID string, methods []domain.AuthenticationObject) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.methods[psuID] = append([]domain.AuthenticationObject(nil), methods...)
}

// ExemptPsu makes PSU authorisation report an SCA exemption for psuID.
func (b *Bank) ExemptPsu(psuID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exempted[psuID] = true
}

// PendingDecoupled returns the method a decoupled SCA was started with.
func (b *Bank) PendingDecoupled(authorisationID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.decoupled[authorisationID]
	return m, ok
}

func (b *Bank) methodsFor(psuID string) []domain.AuthenticationObject {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if m, ok := b.methods[psuID]; ok {
		return append([]domain.AuthenticationObject(nil), m...)
	}
	return append([]domain.AuthenticationObject(nil), DefaultMethods...)
}

func (b *Bank) authorise(ctx context.Context, psu domain.PsuIdData, password string) spi.Response[spi.PsuAuthorisation] {
	if psu.IsEmpty() {
		return spi.Failure[spi.PsuAuthorisation](spi.Error{Code: "FORMAT_ERROR", Text: "PSU-ID missing"})
	}
	if password != b.password {
		logging.DebugContext(ctx, "Mock bank rejected PSU credentials", "psu_id", psu.ID)
		return spi.Failure[spi.PsuAuthorisation](spi.Error{Code: "PSU_CREDENTIALS_INVALID", Text: "wrong password"})
	}
	b.mu.RLock()
	exempted := b.exempted[psu.ID]
	b.mu.RUnlock()
	return spi.Success(spi.PsuAuthorisation{Status: spi.AuthorisationSuccess, ScaExempted: exempted})
}

func (b *Bank) authorisationCode(cd spi.ContextData, methodID string) spi.Response[spi.AuthorisationCode] {
	method, ok := domain.FindMethod(b.methodsFor(cd.Psu.ID), methodID)
	if !ok {
		return spi.Failure[spi.AuthorisationCode](spi.Error{Code: "SCA_METHOD_UNKNOWN", Text: methodID})
	}
	return spi.Success(spi.AuthorisationCode{
		SelectedMethod: method,
		ChallengeData: domain.ChallengeData{
			OtpMaxLength:          len(b.tan),
			OtpFormat:             "integer",
			AdditionalInformation: "Enter the TAN sent via " + strings.ToLower(method.Type),
		},
		PsuMessage: "TAN sent",
	})
}

func (b *Bank) startDecoupled(authorisationID, methodID string) spi.Response[spi.DecoupledStart] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoupled[authorisationID] = methodID
	return spi.Success(spi.DecoupledStart{PsuMessage: "Please confirm the request in your banking app"})
}

func (b *Bank) verify(conf spi.ScaConfirmation) bool {
	return conf.ScaAuthenticationData == b.tan
}

// sign records that psu signed objectID. It reports whether the object is
// fully signed: every listed PSU and at least the configured number of PSUs
// have signed.
func (b *Bank) sign(objectID string, psu domain.PsuIdData, listed []domain.PsuIdData) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	signed := b.signed[objectID]
	if !psu.IsEmpty() && !domain.ContainsPsu(signed, psu) {
		signed = append(signed, psu)
		b.signed[objectID] = signed
	}
	if len(signed) < b.signers {
		return false
	}
	for _, l := range listed {
		if !domain.ContainsPsu(signed, l) {
			return false
		}
	}
	return true
}

// executedStatus is ACSP, or PATC while a multilevel payment still lacks
// signatures.
func (b *Bank) executedStatus(cd spi.ContextData, p *domain.Payment) domain.TransactionStatus {
	if p.MultilevelScaRequired() && !b.sign(p.ExternalID(), cd.Psu, p.PsuDataList()) {
		return domain.TransactionStatusPartiallyAccepted
	}
	return domain.TransactionStatusAcceptedSettlement
}

func (b *Bank) grantedStatus(cd spi.ContextData, c *domain.Consent) domain.ConsentStatus {
	if c != nil && c.MultilevelScaRequired() && !b.sign(c.ExternalID(), cd.Psu, c.PsuDataList()) {
		return domain.ConsentStatusPartiallyAuthorised
	}
	return domain.ConsentStatusValid
}

var scaInvalid = spi.Error{Code: "SCA_INVALID", Text: "wrong TAN"}

// Payments returns the payment initiation adapter.
func (b *Bank) Payments() spi.PaymentAuthorisationSpi { return paymentAdapter{b} }

// Cancellations returns the payment cancellation adapter.
func (b *Bank) Cancellations() spi.PaymentCancellationSpi { return cancellationAdapter{b} }

// Consents returns the AIS consent adapter.
func (b *Bank) Consents() spi.AisConsentSpi { return consentAdapter{b} }

type paymentAdapter struct{ b *Bank }

func (a paymentAdapter) AuthorisePsu(ctx context.Context, _ spi.ContextData, _ string, psu domain.PsuIdData, password string, _ *domain.Payment) spi.Response[spi.PsuAuthorisation] {
	return a.b.authorise(ctx, psu, password)
}

func (a paymentAdapter) RequestAvailableScaMethods(_ context.Context, cd spi.ContextData, _ *domain.Payment) spi.Response[[]domain.AuthenticationObject] {
	return spi.Success(a.b.methodsFor(cd.Psu.ID))
}

func (a paymentAdapter) RequestAuthorisationCode(_ context.Context, cd spi.ContextData, methodID string, _ *domain.Payment) spi.Response[spi.AuthorisationCode] {
	return a.b.authorisationCode(cd, methodID)
}

func (a paymentAdapter) StartScaDecoupled(_ context.Context, _ spi.ContextData, authorisationID, methodID string, _ *domain.Payment) spi.Response[spi.DecoupledStart] {
	return a.b.startDecoupled(authorisationID, methodID)
}

func (a paymentAdapter) VerifyScaAuthorisationAndExecutePayment(_ context.Context, cd spi.ContextData, conf spi.ScaConfirmation, p *domain.Payment) spi.Response[spi.PaymentExecution] {
	if !a.b.verify(conf) {
		return spi.Failure[spi.PaymentExecution](scaInvalid)
	}
	return spi.Success(spi.PaymentExecution{TransactionStatus: a.b.executedStatus(cd, p)})
}

func (a paymentAdapter) ExecutePaymentWithoutSca(_ context.Context, cd spi.ContextData, p *domain.Payment) spi.Response[spi.PaymentExecution] {
	return spi.Success(spi.PaymentExecution{TransactionStatus: a.b.executedStatus(cd, p)})
}

type cancellationAdapter struct{ b *Bank }

func (a cancellationAdapter) AuthorisePsu(ctx context.Context, _ spi.ContextData, _ string, psu domain.PsuIdData, password string, _ *domain.Payment) spi.Response[spi.PsuAuthorisation] {
	return a.b.authorise(ctx, psu, password)
}

func (a cancellationAdapter) RequestAvailableScaMethods(_ context.Context, cd spi.ContextData, _ *domain.Payment) spi.Response[[]domain.AuthenticationObject] {
	return spi.Success(a.b.methodsFor(cd.Psu.ID))
}

func (a cancellationAdapter) RequestAuthorisationCode(_ context.Context, cd spi.ContextData, methodID string, _ *domain.Payment) spi.Response[spi.AuthorisationCode] {
	return a.b.authorisationCode(cd, methodID)
}

func (a cancellationAdapter) StartScaDecoupled(_ context.Context, _ spi.ContextData, authorisationID, methodID string, _ *domain.Payment) spi.Response[spi.DecoupledStart] {
	return a.b.startDecoupled(authorisationID, methodID)
}

func (a cancellationAdapter) VerifyScaAuthorisationAndCancelPayment(_ context.Context, _ spi.ContextData, conf spi.ScaConfirmation, _ *domain.Payment) spi.Response[spi.PaymentExecution] {
	if !a.b.verify(conf) {
		return spi.Failure[spi.PaymentExecution](scaInvalid)
	}
	return spi.Success(spi.PaymentExecution{TransactionStatus: domain.TransactionStatusCancelled})
}

func (a cancellationAdapter) CancelPaymentWithoutSca(_ context.Context, _ spi.ContextData, _ *domain.Payment) spi.Response[spi.PaymentExecution] {
	return spi.Success(spi.PaymentExecution{TransactionStatus: domain.TransactionStatusCancelled})
}

type consentAdapter struct{ b *Bank }

func (a consentAdapter) AuthorisePsu(ctx context.Context, _ spi.ContextData, _ string, psu domain.PsuIdData, password string, _ *domain.Consent) spi.Response[spi.PsuAuthorisation] {
	return a.b.authorise(ctx, psu, password)
}

func (a consentAdapter) RequestAvailableScaMethods(_ context.Context, cd spi.ContextData, _ *domain.Consent) spi.Response[[]domain.AuthenticationObject] {
	return spi.Success(a.b.methodsFor(cd.Psu.ID))
}

func (a consentAdapter) RequestAuthorisationCode(_ context.Context, cd spi.ContextData, methodID string, _ *domain.Consent) spi.Response[spi.AuthorisationCode] {
	return a.b.authorisationCode(cd, methodID)
}

func (a consentAdapter) StartScaDecoupled(_ context.Context, _ spi.ContextData, authorisationID, methodID string, _ *domain.Consent) spi.Response[spi.DecoupledStart] {
	return a.b.startDecoupled(authorisationID, methodID)
}

func (a consentAdapter) VerifyScaAuthorisation(_ context.Context, cd spi.ContextData, conf spi.ScaConfirmation, c *domain.Consent) spi.Response[spi.ConsentConfirmation] {
	if !a.b.verify(conf) {
		return spi.Failure[spi.ConsentConfirmation](scaInvalid)
	}
	return spi.Success(spi.ConsentConfirmation{ConsentStatus: a.b.grantedStatus(cd, c)})
}

func (a consentAdapter) GrantConsentWithoutSca(_ context.Context, cd spi.ContextData, c *domain.Consent) spi.Response[spi.ConsentConfirmation] {
	return spi.Success(spi.ConsentConfirmation{ConsentStatus: a.b.grantedStatus(cd, c)})
}

var (
	_ spi.PaymentAuthorisationSpi = paymentAdapter{}
	_ spi.PaymentCancellationSpi  = cancellationAdapter{}
	_ spi.AisConsentSpi           = consentAdapter{}
)
