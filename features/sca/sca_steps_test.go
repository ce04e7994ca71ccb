package sca

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"psd2gateway/internal/common/types"
	"psd2gateway/internal/sca/application"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/infrastructure/memory"
	"psd2gateway/internal/sca/spi/mockbank"
)

type scaState struct {
	ctx               context.Context
	now               time.Time
	store             *memory.DataStore
	bank              *mockbank.Bank
	password          string
	tan               string
	engine            *application.Engine
	approaches        []domain.ScaApproach
	paymentExpiration time.Duration
	payment           *domain.Payment
	consent           *domain.Consent
	lastResponse      *application.AuthorisationResponse
	lastError         error
	polledStatus      domain.ScaStatus
}

func InitializeScaScenario(ctx *godog.ScenarioContext) {
	state := &scaState{
		ctx:               context.Background(),
		now:               time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		store:             memory.NewDataStore(),
		paymentExpiration: time.Hour,
	}

	// Background steps
	ctx.Step(`^the bank accepts password "([^"]*)" and TAN "([^"]*)"$`, state.theBankAccepts)
	ctx.Step(`^the enabled SCA approaches are "([^"]*)"$`, state.theEnabledScaApproachesAre)
	ctx.Step(`^payments must be confirmed within (\d+) minutes$`, state.paymentsMustBeConfirmedWithin)

	// Object steps
	ctx.Step(`^a payment for PSU "([^"]*)"$`, state.aPaymentForPsu)
	ctx.Step(`^a multilevel payment for PSU "([^"]*)"$`, state.aMultilevelPaymentForPsu)
	ctx.Step(`^a consent for PSU "([^"]*)"$`, state.aConsentForPsu)
	ctx.Step(`^the payment has been rejected$`, state.thePaymentHasBeenRejected)
	ctx.Step(`^(\d+) minutes have passed$`, state.minutesHavePassed)

	// Authorisation steps
	ctx.Step(`^PSU "([^"]*)" starts an authorisation with password "([^"]*)"$`, state.psuStartsAnAuthorisationWithPassword)
	ctx.Step(`^PSU "([^"]*)" tries to start an authorisation$`, state.psuTriesToStartAnAuthorisation)
	ctx.Step(`^PSU "([^"]*)" joins the payment$`, state.psuJoinsThePayment)
	ctx.Step(`^PSU "([^"]*)" completes an embedded authorisation$`, state.psuCompletesAnEmbeddedAuthorisation)
	ctx.Step(`^PSU "([^"]*)" starts a decoupled consent authorisation with password "([^"]*)"$`, state.psuStartsADecoupledConsentAuthorisation)
	ctx.Step(`^the bank reports the authorisation as "([^"]*)"$`, state.theBankReportsTheAuthorisationAs)
	ctx.Step(`^the TPP polls the SCA status$`, state.theTppPollsTheScaStatus)

	// Assertions
	ctx.Step(`^the authorisation status should be "([^"]*)"$`, state.theAuthorisationStatusShouldBe)
	ctx.Step(`^the approach should be "([^"]*)"$`, state.theApproachShouldBe)
	ctx.Step(`^no error should be reported$`, state.noErrorShouldBeReported)
	ctx.Step(`^the error "([^"]*)" should be reported for "([^"]*)"$`, state.theErrorShouldBeReportedFor)
	ctx.Step(`^the request should be refused with "([^"]*)"$`, state.theRequestShouldBeRefusedWith)
	ctx.Step(`^the payment should have no authorisations$`, state.thePaymentShouldHaveNoAuthorisations)
	ctx.Step(`^the payment status should be "([^"]*)"$`, state.thePaymentStatusShouldBe)
	ctx.Step(`^the consent status should be "([^"]*)"$`, state.theConsentStatusShouldBe)
	ctx.Step(`^the PSU should be told to confirm in the banking app$`, state.thePsuShouldBeToldToConfirm)
	ctx.Step(`^the polled status should be "([^"]*)"$`, state.thePolledStatusShouldBe)
}

// service builds the engine on first use so background steps can still
// change its settings.
func (s *scaState) service() (*application.Engine, error) {
	if s.engine != nil {
		return s.engine, nil
	}
	engine, err := application.NewEngine(s.store, application.Adapters{
		Payments:      s.bank.Payments(),
		Cancellations: s.bank.Cancellations(),
		Consents:      s.bank.Consents(),
	}, application.Settings{
		Approaches:             s.approaches,
		PaymentExpiration:      s.paymentExpiration,
		ConsentExpiration:      s.paymentExpiration,
		RedirectURLTemplate:    "https://bank.example/{service}/{parentId}/authorisations/{authorisationId}",
		NokRedirectURLTemplate: "https://bank.example/{service}/{parentId}/nok",
		Now:                    func() time.Time { return s.now },
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return engine, nil
}

func (s *scaState) theBankAccepts(password, tan string) error {
	s.password, s.tan = password, tan
	s.bank = mockbank.New(mockbank.Options{Password: password, Tan: tan})
	return nil
}

func (s *scaState) theEnabledScaApproachesAre(list string) error {
	for _, raw := range strings.Split(list, ",") {
		a, ok := domain.ParseScaApproach(strings.TrimSpace(raw))
		if !ok {
			return fmt.Errorf("unknown approach %q", raw)
		}
		s.approaches = append(s.approaches, a)
	}
	return nil
}

func (s *scaState) paymentsMustBeConfirmedWithin(minutes int) error {
	s.paymentExpiration = time.Duration(minutes) * time.Minute
	return nil
}

func (s *scaState) createPayment(psu string, multilevel bool) error {
	engine, err := s.service()
	if err != nil {
		return err
	}
	s.payment, err = engine.Initiation.CreatePayment(s.ctx, application.CreatePaymentRequest{
		PaymentType:  domain.PaymentTypeSingle,
		Product:      "sepa-credit-transfers",
		Amount:       types.NewMoneyFromInt(120, types.CurrencyEUR),
		CreditorName: "Merchant GmbH",
		CreditorIBAN: "DE89370400440532013000",
		Psu:          domain.PsuIdData{ID: psu},
		Multilevel:   multilevel,
	})
	return err
}

func (s *scaState) aPaymentForPsu(psu string) error {
	return s.createPayment(psu, false)
}

func (s *scaState) aMultilevelPaymentForPsu(psu string) error {
	return s.createPayment(psu, true)
}

func (s *scaState) aConsentForPsu(psu string) error {
	engine, err := s.service()
	if err != nil {
		return err
	}
	s.consent, err = engine.Initiation.CreateConsent(s.ctx, application.CreateConsentRequest{
		Psu:             domain.PsuIdData{ID: psu},
		Recurring:       true,
		ValidUntil:      s.now.AddDate(0, 6, 0),
		FrequencyPerDay: 4,
	})
	return err
}

func (s *scaState) thePaymentHasBeenRejected() error {
	return s.store.Atomic(s.ctx, func(repos domain.Repositories) error {
		p, err := repos.Payments().FindByID(s.ctx, s.payment.ID())
		if err != nil {
			return err
		}
		p.SetTransactionStatus(domain.TransactionStatusRejected, s.now)
		return repos.Payments().Save(s.ctx, p)
	})
}

func (s *scaState) minutesHavePassed(minutes int) error {
	s.now = s.now.Add(time.Duration(minutes) * time.Minute)
	return nil
}

func (s *scaState) startAuthorisation(req application.CreateAuthorisationRequest) error {
	engine, err := s.service()
	if err != nil {
		return err
	}
	s.lastResponse, s.lastError = engine.Authorisations.CreateAuthorisation(s.ctx, req)
	return nil // Refusals are asserted by later steps
}

func (s *scaState) psuStartsAnAuthorisationWithPassword(psu, password string) error {
	if err := s.startAuthorisation(application.CreateAuthorisationRequest{
		Type:     domain.AuthorisationTypePISCreation,
		ParentID: s.payment.ExternalID(),
		Psu:      domain.PsuIdData{ID: psu},
		Password: password,
	}); err != nil {
		return err
	}
	return s.lastError
}

func (s *scaState) psuTriesToStartAnAuthorisation(psu string) error {
	return s.startAuthorisation(application.CreateAuthorisationRequest{
		Type:     domain.AuthorisationTypePISCreation,
		ParentID: s.payment.ExternalID(),
		Psu:      domain.PsuIdData{ID: psu},
	})
}

func (s *scaState) psuJoinsThePayment(psu string) error {
	if err := s.psuTriesToStartAnAuthorisation(psu); err != nil {
		return err
	}
	return s.lastError
}

func (s *scaState) update(req application.UpdatePsuDataRequest) error {
	resp, err := s.engine.Authorisations.UpdatePsuData(s.ctx, req)
	if err != nil {
		return err
	}
	if resp.ErrorHolder != nil {
		return fmt.Errorf("stage %s failed: %s", resp.ScaStatus, resp.ErrorHolder)
	}
	s.lastResponse = resp
	return nil
}

func (s *scaState) psuCompletesAnEmbeddedAuthorisation(psu string) error {
	if err := s.psuStartsAnAuthorisationWithPassword(psu, s.password); err != nil {
		return err
	}
	if s.lastResponse.ErrorHolder != nil {
		return fmt.Errorf("authentication failed: %s", s.lastResponse.ErrorHolder)
	}

	base := application.UpdatePsuDataRequest{
		Type:            domain.AuthorisationTypePISCreation,
		ParentID:        s.payment.ExternalID(),
		AuthorisationID: s.lastResponse.AuthorisationID,
	}

	selectMethod := base
	selectMethod.AuthenticationMethodID = mockbank.DefaultMethods[0].MethodID
	if err := s.update(selectMethod); err != nil {
		return err
	}
	if err := s.update(base); err != nil {
		return err
	}

	confirm := base
	confirm.ScaAuthenticationData = s.tan
	return s.update(confirm)
}

func (s *scaState) psuStartsADecoupledConsentAuthorisation(psu, password string) error {
	preferred := true
	if err := s.startAuthorisation(application.CreateAuthorisationRequest{
		Type:               domain.AuthorisationTypeAIS,
		ParentID:           s.consent.ExternalID(),
		Psu:                domain.PsuIdData{ID: psu},
		Password:           password,
		DecoupledPreferred: &preferred,
	}); err != nil {
		return err
	}
	return s.lastError
}

func (s *scaState) theBankReportsTheAuthorisationAs(status string) error {
	scaStatus, ok := domain.ParseScaStatus(status)
	if !ok {
		return fmt.Errorf("unknown sca status %q", status)
	}
	_, err := s.engine.Authorisations.UpdateStatusFromAspsp(s.ctx, s.lastResponse.AuthorisationID, scaStatus)
	return err
}

func (s *scaState) theTppPollsTheScaStatus() error {
	status, err := s.engine.Authorisations.GetScaStatus(s.ctx, s.lastResponse.Type, s.lastResponse.ParentID, s.lastResponse.AuthorisationID)
	if err != nil {
		return err
	}
	s.polledStatus = status
	return nil
}

func (s *scaState) theAuthorisationStatusShouldBe(expected string) error {
	if s.lastError != nil {
		return fmt.Errorf("expected status %s, got error: %w", expected, s.lastError)
	}
	if got := s.lastResponse.ScaStatus.String(); got != expected {
		return fmt.Errorf("expected sca status %s, got %s", expected, got)
	}
	return nil
}

func (s *scaState) theApproachShouldBe(expected string) error {
	if got := string(s.lastResponse.ScaApproach); got != expected {
		return fmt.Errorf("expected approach %s, got %s", expected, got)
	}
	return nil
}

func (s *scaState) noErrorShouldBeReported() error {
	if s.lastError != nil {
		return fmt.Errorf("unexpected error: %w", s.lastError)
	}
	if s.lastResponse.ErrorHolder != nil {
		return fmt.Errorf("unexpected error holder: %s", s.lastResponse.ErrorHolder)
	}
	return nil
}

func (s *scaState) theErrorShouldBeReportedFor(code, errorType string) error {
	holder := s.lastResponse.ErrorHolder
	if holder == nil {
		return fmt.Errorf("expected error %s, got none", code)
	}
	if got := string(holder.Code()); got != code {
		return fmt.Errorf("expected error %s, got %s", code, got)
	}
	if got := holder.ErrorType.String(); got != errorType {
		return fmt.Errorf("expected error type %s, got %s", errorType, got)
	}
	return nil
}

func (s *scaState) theRequestShouldBeRefusedWith(code string) error {
	var holder *domain.ErrorHolder
	if !errors.As(s.lastError, &holder) {
		return fmt.Errorf("expected refusal %s, got %v", code, s.lastError)
	}
	if got := string(holder.Code()); got != code {
		return fmt.Errorf("expected refusal %s, got %s", code, got)
	}
	return nil
}

func (s *scaState) thePaymentShouldHaveNoAuthorisations() error {
	auths, err := s.store.Authorisations().FindByParentID(s.ctx, s.payment.ExternalID())
	if err != nil {
		return err
	}
	if len(auths) != 0 {
		return fmt.Errorf("expected no authorisations, got %d", len(auths))
	}
	return nil
}

func (s *scaState) thePaymentStatusShouldBe(expected string) error {
	p, err := s.engine.Initiation.GetPayment(s.ctx, s.payment.ExternalID())
	if err != nil {
		return err
	}
	if got := string(p.TransactionStatus()); got != expected {
		return fmt.Errorf("expected transaction status %s, got %s", expected, got)
	}
	return nil
}

func (s *scaState) theConsentStatusShouldBe(expected string) error {
	c, err := s.engine.Initiation.GetConsent(s.ctx, s.consent.ExternalID())
	if err != nil {
		return err
	}
	if got := string(c.ConsentStatus()); got != expected {
		return fmt.Errorf("expected consent status %s, got %s", expected, got)
	}
	return nil
}

func (s *scaState) thePsuShouldBeToldToConfirm() error {
	if s.lastResponse.PsuMessage == "" {
		return fmt.Errorf("expected a PSU message for decoupled confirmation")
	}
	if s.lastResponse.ScaStatus.IsFinal() {
		return fmt.Errorf("decoupled start must not be terminal, got %s", s.lastResponse.ScaStatus)
	}
	return nil
}

func (s *scaState) thePolledStatusShouldBe(expected string) error {
	if got := s.polledStatus.String(); got != expected {
		return fmt.Errorf("expected polled status %s, got %s", expected, got)
	}
	return nil
}
