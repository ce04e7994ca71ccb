package stage

import (
	"context"
	"time"

	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/spi"
)

// NewPisProcessor creates the stage processor for payment initiation.
// Payments whose product is in exemptedProducts may skip SCA when the bank
// grants an exemption; periodic payments never do.
func NewPisProcessor(adapter spi.PaymentAuthorisationSpi, cfg Config, exemptedProducts []string) *Processor[*domain.Payment, spi.PaymentExecution] {
	return newProcessor[*domain.Payment, spi.PaymentExecution](pisCreation{adapter: adapter, exemptedProducts: exemptedProducts}, cfg)
}

// NewPisCancellationProcessor creates the stage processor for payment cancellation.
func NewPisCancellationProcessor(adapter spi.PaymentCancellationSpi, cfg Config, exemptedProducts []string) *Processor[*domain.Payment, spi.PaymentExecution] {
	return newProcessor[*domain.Payment, spi.PaymentExecution](pisCancellation{adapter: adapter, exemptedProducts: exemptedProducts}, cfg)
}

// NewAisProcessor creates the stage processor for account information consents.
func NewAisProcessor(adapter spi.AisConsentSpi, cfg Config, exemptionAllowed bool) *Processor[*domain.Consent, spi.ConsentConfirmation] {
	return newProcessor[*domain.Consent, spi.ConsentConfirmation](aisConsent{adapter: adapter, exemptionAllowed: exemptionAllowed}, cfg)
}

func loadPayment(ctx context.Context, repos domain.Repositories, parentID string) (*domain.Payment, error) {
	id, err := domain.ParsePaymentID(parentID)
	if err != nil {
		return nil, domain.ErrPaymentNotFound
	}
	return repos.Payments().FindByID(ctx, id)
}

// allPsusCompleted reports whether every PSU of obj holds a finalised or
// exempted authorisation of type t. current counts as completed.
func allPsusCompleted(ctx context.Context, repos domain.Repositories, obj domain.ParentObject, t domain.AuthorisationType, current *domain.Authorisation) (bool, error) {
	auths, err := repos.Authorisations().FindByParentID(ctx, obj.ExternalID(), t)
	if err != nil {
		return false, err
	}

	completed := []domain.PsuIdData{current.PsuData()}
	for _, a := range auths {
		if a.ID() == current.ID() {
			continue
		}
		if s := a.ScaStatus(); s == domain.ScaStatusFinalised || s == domain.ScaStatusExempted {
			completed = append(completed, a.PsuData())
		}
	}

	for _, psu := range obj.PsuDataList() {
		if !domain.ContainsPsu(completed, psu) {
			return false, nil
		}
	}
	return true, nil
}

type pisCreation struct {
	adapter          spi.PaymentAuthorisationSpi
	exemptedProducts []string
}

func (pisCreation) AuthorisationType() domain.AuthorisationType {
	return domain.AuthorisationTypePISCreation
}

func (pisCreation) Load(ctx context.Context, repos domain.Repositories, parentID string) (*domain.Payment, error) {
	return loadPayment(ctx, repos, parentID)
}

func (c pisCreation) Adapter() spi.AuthorisationSpi[*domain.Payment] { return c.adapter }

func (c pisCreation) ExemptionAllowed(p *domain.Payment) bool {
	return p.ExemptionAllowed(c.exemptedProducts)
}

func (c pisCreation) Execute(ctx context.Context, cd spi.ContextData, conf *spi.ScaConfirmation, p *domain.Payment) spi.Response[spi.PaymentExecution] {
	if conf == nil {
		return c.adapter.ExecutePaymentWithoutSca(ctx, cd, p)
	}
	return c.adapter.VerifyScaAuthorisationAndExecutePayment(ctx, cd, *conf, p)
}

// Settle stores the bank status. A PATC from the bank switches the payment
// to multilevel SCA and is kept as reported: only the bank knows how many
// signatures a payment needs. Any other status is held at PATC while a
// listed PSU has not completed.
func (pisCreation) Settle(ctx context.Context, repos domain.Repositories, p *domain.Payment, auth *domain.Authorisation, outcome spi.PaymentExecution, now time.Time) error {
	status := outcome.TransactionStatus
	if status == "" {
		status = domain.TransactionStatusAcceptedTechnical
	}

	if status == domain.TransactionStatusPartiallyAccepted {
		p.RequireMultilevelSca(now)
	} else if p.MultilevelScaRequired() {
		done, err := allPsusCompleted(ctx, repos, p, domain.AuthorisationTypePISCreation, auth)
		if err != nil {
			return err
		}
		if !done {
			status = domain.TransactionStatusPartiallyAccepted
		}
	}

	p.SetTransactionStatus(status, now)
	return repos.Payments().Save(ctx, p)
}

func (pisCreation) CompletedOutcome() spi.PaymentExecution {
	return spi.PaymentExecution{TransactionStatus: domain.TransactionStatusAcceptedTechnical}
}

type pisCancellation struct {
	adapter          spi.PaymentCancellationSpi
	exemptedProducts []string
}

func (pisCancellation) AuthorisationType() domain.AuthorisationType {
	return domain.AuthorisationTypePISCancellation
}

func (pisCancellation) Load(ctx context.Context, repos domain.Repositories, parentID string) (*domain.Payment, error) {
	return loadPayment(ctx, repos, parentID)
}

func (c pisCancellation) Adapter() spi.AuthorisationSpi[*domain.Payment] { return c.adapter }

func (c pisCancellation) ExemptionAllowed(p *domain.Payment) bool {
	return p.ExemptionAllowed(c.exemptedProducts)
}

func (c pisCancellation) Execute(ctx context.Context, cd spi.ContextData, conf *spi.ScaConfirmation, p *domain.Payment) spi.Response[spi.PaymentExecution] {
	if conf == nil {
		return c.adapter.CancelPaymentWithoutSca(ctx, cd, p)
	}
	return c.adapter.VerifyScaAuthorisationAndCancelPayment(ctx, cd, *conf, p)
}

// Settle cancels the payment once every PSU of a multilevel payment has
// authorised the cancellation.
func (pisCancellation) Settle(ctx context.Context, repos domain.Repositories, p *domain.Payment, auth *domain.Authorisation, outcome spi.PaymentExecution, now time.Time) error {
	if p.MultilevelScaRequired() {
		done, err := allPsusCompleted(ctx, repos, p, domain.AuthorisationTypePISCancellation, auth)
		if err != nil || !done {
			return err
		}
	}

	status := outcome.TransactionStatus
	if status == "" {
		status = domain.TransactionStatusCancelled
	}
	p.SetTransactionStatus(status, now)
	return repos.Payments().Save(ctx, p)
}

func (pisCancellation) CompletedOutcome() spi.PaymentExecution {
	return spi.PaymentExecution{TransactionStatus: domain.TransactionStatusCancelled}
}

type aisConsent struct {
	adapter          spi.AisConsentSpi
	exemptionAllowed bool
}

func (aisConsent) AuthorisationType() domain.AuthorisationType {
	return domain.AuthorisationTypeAIS
}

func (aisConsent) Load(ctx context.Context, repos domain.Repositories, parentID string) (*domain.Consent, error) {
	id, err := domain.ParseConsentID(parentID)
	if err != nil {
		return nil, domain.ErrConsentNotFound
	}
	return repos.Consents().FindByID(ctx, id)
}

func (c aisConsent) Adapter() spi.AuthorisationSpi[*domain.Consent] { return c.adapter }

func (c aisConsent) ExemptionAllowed(*domain.Consent) bool { return c.exemptionAllowed }

func (c aisConsent) Execute(ctx context.Context, cd spi.ContextData, conf *spi.ScaConfirmation, consent *domain.Consent) spi.Response[spi.ConsentConfirmation] {
	if conf == nil {
		return c.adapter.GrantConsentWithoutSca(ctx, cd, consent)
	}
	return c.adapter.VerifyScaAuthorisation(ctx, cd, *conf, consent)
}

// Settle stores the consent status the bank reports. partiallyAuthorised is
// kept as reported; valid is held at partiallyAuthorised while a listed PSU
// of a multilevel consent has not completed.
func (aisConsent) Settle(ctx context.Context, repos domain.Repositories, consent *domain.Consent, auth *domain.Authorisation, outcome spi.ConsentConfirmation, now time.Time) error {
	status := outcome.ConsentStatus
	if status == "" {
		status = domain.ConsentStatusValid
	}

	if status == domain.ConsentStatusPartiallyAuthorised {
		consent.RequireMultilevelSca(now)
	} else if consent.MultilevelScaRequired() {
		done, err := allPsusCompleted(ctx, repos, consent, domain.AuthorisationTypeAIS, auth)
		if err != nil {
			return err
		}
		if !done {
			status = domain.ConsentStatusPartiallyAuthorised
		}
	}

	consent.SetConsentStatus(status, now)
	return repos.Consents().Save(ctx, consent)
}

func (aisConsent) CompletedOutcome() spi.ConsentConfirmation {
	return spi.ConsentConfirmation{ConsentStatus: domain.ConsentStatusValid}
}

var (
	_ Service = (*Processor[*domain.Payment, spi.PaymentExecution])(nil)
	_ Service = (*Processor[*domain.Consent, spi.ConsentConfirmation])(nil)

	_ Capability[*domain.Payment, spi.PaymentExecution]    = pisCreation{}
	_ Capability[*domain.Payment, spi.PaymentExecution]    = pisCancellation{}
	_ Capability[*domain.Consent, spi.ConsentConfirmation] = aisConsent{}
)
