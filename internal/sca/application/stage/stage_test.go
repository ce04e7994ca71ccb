package stage_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"psd2gateway/internal/common/types"
	"psd2gateway/internal/sca/application/processor"
	"psd2gateway/internal/sca/application/stage"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/infrastructure/memory"
	"psd2gateway/internal/sca/spi"
	"psd2gateway/internal/sca/spi/spitest"
)

var (
	smsMethod  = domain.AuthenticationObject{MethodID: "sms", Type: "SMS_OTP"}
	chipMethod = domain.AuthenticationObject{MethodID: "chip", Type: "CHIP_OTP"}
	appMethod  = domain.AuthenticationObject{MethodID: "app", Type: "PUSH_OTP", Decoupled: true}
)

// StageSuite drives the stage processors through the chain against an
// in-memory store and mocked bank adapters.
type StageSuite struct {
	suite.Suite
	ctx          context.Context
	store        *memory.DataStore
	now          time.Time
	payments     *spitest.PaymentAuthorisationSpi
	cancellation *spitest.PaymentCancellationSpi
	consents     *spitest.AisConsentSpi
	chain        *processor.Chain
	pis          stage.Service
}

func TestStageSuite(t *testing.T) {
	suite.Run(t, new(StageSuite))
}

func (s *StageSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewDataStore()
	s.now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	s.payments = new(spitest.PaymentAuthorisationSpi)
	s.cancellation = new(spitest.PaymentCancellationSpi)
	s.consents = new(spitest.AisConsentSpi)

	cfg := stage.Config{Now: func() time.Time { return s.now }}
	products := []string{"sepa-credit-transfers"}
	s.pis = stage.NewPisProcessor(s.payments, cfg, products)
	s.chain = processor.NewChain(processor.NewServices(map[domain.AuthorisationType]processor.Service{
		domain.AuthorisationTypePISCreation:     s.pis,
		domain.AuthorisationTypePISCancellation: stage.NewPisCancellationProcessor(s.cancellation, cfg, products),
		domain.AuthorisationTypeAIS:             stage.NewAisProcessor(s.consents, cfg, false),
	}))
}

func (s *StageSuite) newPayment(paymentType domain.PaymentType, multilevel bool, psus ...string) *domain.Payment {
	p, err := domain.NewPayment(paymentType, "sepa-credit-transfers", types.NewMoneyFromInt(120, types.CurrencyEUR),
		"Creditor", "DE89370400440532013000", domain.PsuIdData{ID: psus[0]}, multilevel, s.now)
	s.Require().NoError(err)
	for _, psu := range psus[1:] {
		p.AddPsu(domain.PsuIdData{ID: psu})
	}
	s.Require().NoError(s.store.Payments().Save(s.ctx, p))
	return p
}

func (s *StageSuite) newAuthorisation(parent domain.ParentObject, t domain.AuthorisationType, approach domain.ScaApproach, psu string) *domain.Authorisation {
	a := domain.NewAuthorisation(parent.ExternalID(), t, domain.PsuIdData{ID: psu}, approach, s.now)
	s.Require().NoError(s.store.Authorisations().Save(s.ctx, a))
	return a
}

// process loads the stored authorisation and runs one chain step.
func (s *StageSuite) process(id domain.AuthorisationID, payload processor.Payload) *processor.Response {
	var resp *processor.Response
	err := s.store.Atomic(s.ctx, func(repos domain.Repositories) error {
		auth, err := repos.Authorisations().FindByID(s.ctx, id)
		if err != nil {
			return err
		}
		resp, err = s.chain.Process(s.ctx, repos, processor.NewRequest(auth, payload))
		return err
	})
	s.Require().NoError(err)
	return resp
}

func (s *StageSuite) stored(id domain.AuthorisationID) *domain.Authorisation {
	a, err := s.store.Authorisations().FindByID(s.ctx, id)
	s.Require().NoError(err)
	return a
}

func (s *StageSuite) storedPayment(id domain.PaymentID) *domain.Payment {
	p, err := s.store.Payments().FindByID(s.ctx, id)
	s.Require().NoError(err)
	return p
}

func authorised(exempted bool) spi.Response[spi.PsuAuthorisation] {
	return spi.Success(spi.PsuAuthorisation{Status: spi.AuthorisationSuccess, ScaExempted: exempted})
}

func (s *StageSuite) TestEmbeddedPaymentHappyPath() {
	p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
	auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")

	s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
	s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod, chipMethod})).Twice()
	s.payments.On("RequestAuthorisationCode", "chip").Return(spi.Success(spi.AuthorisationCode{
		ChallengeData: domain.ChallengeData{OtpMaxLength: 6},
	})).Once()
	s.payments.On("VerifyScaAuthorisationAndExecutePayment", "123456").Return(spi.Success(spi.PaymentExecution{
		TransactionStatus: domain.TransactionStatusAcceptedSettlement,
	})).Once()

	resp := s.process(auth.ID(), processor.Payload{Password: "pw"})
	s.Equal(domain.ScaStatusPsuAuthenticated, resp.ScaStatus)
	s.Len(resp.AvailableScaMethods, 2)
	s.False(resp.HasError())

	resp = s.process(auth.ID(), processor.Payload{AuthenticationMethodID: "chip"})
	s.Equal(domain.ScaStatusScaMethodSelected, resp.ScaStatus)

	resp = s.process(auth.ID(), processor.Payload{})
	s.Equal(domain.ScaStatusStarted, resp.ScaStatus)
	s.Require().NotNil(resp.ChallengeData)
	s.Equal(6, resp.ChallengeData.OtpMaxLength)
	s.Equal("chip", resp.ChosenScaMethod.MethodID)

	resp = s.process(auth.ID(), processor.Payload{ScaAuthenticationData: "123456"})
	s.Equal(domain.ScaStatusFinalised, resp.ScaStatus)

	s.Equal(domain.ScaStatusFinalised, s.stored(auth.ID()).ScaStatus())
	s.Equal(domain.TransactionStatusAcceptedSettlement, s.storedPayment(p.ID()).TransactionStatus())
	s.payments.AssertExpectations(s.T())
}

func (s *StageSuite) TestReceived() {
	s.Run("identification marker wins over a password", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "")

		resp := s.process(auth.ID(), processor.Payload{
			UpdatePsuIdentification: true,
			PsuData:                 domain.PsuIdData{ID: "alice"},
			Password:                "ignored",
		})

		s.Equal(domain.ScaStatusPsuIdentified, resp.ScaStatus)
		s.Equal("alice", s.stored(auth.ID()).PsuData().ID)
		s.payments.AssertNotCalled(s.T(), "AuthorisePsu", "alice", "ignored")
	})

	s.Run("repeated identification keeps the status", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "")
		marker := processor.Payload{UpdatePsuIdentification: true, PsuData: domain.PsuIdData{ID: "alice"}}

		s.process(auth.ID(), marker)
		resp := s.process(auth.ID(), marker)

		s.Equal(domain.ScaStatusPsuIdentified, resp.ScaStatus)
	})

	s.Run("bank rejecting the password fails with a mapped PIS error", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "wrong").
			Return(spi.Failure[spi.PsuAuthorisation](spi.Error{Code: "PSU_CREDENTIALS_INVALID"})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "wrong"})

		s.Equal(domain.ScaStatusFailed, resp.ScaStatus)
		s.Require().True(resp.HasError())
		s.Equal(domain.ErrorType{Service: domain.ServiceTypePIS, Status: http.StatusUnauthorized}, resp.ErrorHolder.ErrorType)
		s.Equal(domain.ScaStatusFailed, s.stored(auth.ID()).ScaStatus())
	})

	s.Run("failure status without errors is treated as bad credentials", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").
			Return(spi.Success(spi.PsuAuthorisation{Status: spi.AuthorisationFailure})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.CodePsuCredentialsInvalid, resp.ErrorHolder.Code())
	})

	s.Run("single method is selected without asking the PSU", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusScaMethodSelected, resp.ScaStatus)
		chosen, ok := s.stored(auth.ID()).ChosenScaMethod()
		s.True(ok)
		s.Equal("sms", chosen.MethodID)
	})

	s.Run("single decoupled method starts decoupled SCA", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{appMethod})).Once()
		s.payments.On("StartScaDecoupled", auth.ID().String(), "app").Return(spi.Success(spi.DecoupledStart{PsuMessage: "check app"})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusStarted, resp.ScaStatus)
		s.Equal("check app", resp.PsuMessage)
	})

	s.Run("no methods fails when exemption is not permitted", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypePeriodic, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusFailed, resp.ScaStatus)
		s.Equal(domain.CodeScaMethodUnknown, resp.ErrorHolder.Code())
	})

	s.Run("no methods exempts a payment that permits it", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{})).Once()
		s.payments.On("ExecutePaymentWithoutSca").Return(spi.Success(spi.PaymentExecution{})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusExempted, resp.ScaStatus)
		s.Equal("alice", resp.PsuData.ID)
		s.Equal(domain.ScaStatusExempted, s.stored(auth.ID()).ScaStatus())
		s.Equal(domain.TransactionStatusAcceptedTechnical, s.storedPayment(p.ID()).TransactionStatus())
		s.payments.AssertExpectations(s.T())
	})

	s.Run("bank exemption executes the payment without SCA", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(true)).Once()
		s.payments.On("ExecutePaymentWithoutSca").Return(spi.Success(spi.PaymentExecution{
			TransactionStatus: domain.TransactionStatusAcceptedSettlement,
		})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusExempted, resp.ScaStatus)
		s.Equal(domain.TransactionStatusAcceptedSettlement, s.storedPayment(p.ID()).TransactionStatus())
		s.payments.AssertNotCalled(s.T(), "RequestAvailableScaMethods", "alice")
	})

	s.Run("exemption is ignored for periodic payments", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypePeriodic, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(true)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod, chipMethod})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusPsuAuthenticated, resp.ScaStatus)
		s.payments.AssertNotCalled(s.T(), "ExecutePaymentWithoutSca")
	})
}

func (s *StageSuite) TestPsuAuthenticated() {
	s.Run("unknown method fails", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod, chipMethod}))
		s.process(auth.ID(), processor.Payload{Password: "pw"})

		resp := s.process(auth.ID(), processor.Payload{AuthenticationMethodID: "carrier-pigeon"})

		s.Equal(domain.ScaStatusFailed, resp.ScaStatus)
		s.Equal(domain.CodeScaMethodUnknown, resp.ErrorHolder.Code())
	})

	s.Run("decoupled method starts decoupled SCA", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod, appMethod}))
		s.payments.On("StartScaDecoupled", auth.ID().String(), "app").Return(spi.Success(spi.DecoupledStart{})).Once()
		s.process(auth.ID(), processor.Payload{Password: "pw"})

		resp := s.process(auth.ID(), processor.Payload{AuthenticationMethodID: "app"})

		s.Equal(domain.ScaStatusStarted, resp.ScaStatus)
		s.NotEmpty(resp.PsuMessage)

		again := s.process(auth.ID(), processor.Payload{})
		s.Equal(domain.ScaStatusStarted, again.ScaStatus)
		s.payments.AssertNotCalled(s.T(), "VerifyScaAuthorisationAndExecutePayment", "")
	})
}

func (s *StageSuite) TestStarted() {
	s.Run("wrong code fails the authorisation and leaves the payment", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()
		s.payments.On("RequestAuthorisationCode", "sms").Return(spi.Success(spi.AuthorisationCode{})).Once()
		s.payments.On("VerifyScaAuthorisationAndExecutePayment", "000000").
			Return(spi.Failure[spi.PaymentExecution](spi.Error{Code: "SCA_INVALID", Text: "internal bank detail"})).Once()

		s.process(auth.ID(), processor.Payload{Password: "pw"})
		s.process(auth.ID(), processor.Payload{})
		resp := s.process(auth.ID(), processor.Payload{ScaAuthenticationData: "000000"})

		s.Equal(domain.ScaStatusFailed, resp.ScaStatus)
		s.Equal(domain.CodeScaInvalid, resp.ErrorHolder.Code())
		s.NotContains(resp.ErrorHolder.TppMessages[0].Text, "internal bank detail")
		s.Equal(domain.TransactionStatusReceived, s.storedPayment(p.ID()).TransactionStatus())
	})

	s.Run("terminal authorisation is a no-op", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").
			Return(spi.Failure[spi.PsuAuthorisation](spi.Error{Code: "PSU_CREDENTIALS_INVALID"})).Once()
		s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Nil(s.process(auth.ID(), processor.Payload{Password: "pw"}))
		s.payments.AssertExpectations(s.T())
	})
}

func (s *StageSuite) TestMultilevelPayment() {
	p := s.newPayment(domain.PaymentTypeSingle, true, "alice", "bob")
	first := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
	second := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "bob")

	for _, psu := range []string{"alice", "bob"} {
		s.payments.On("AuthorisePsu", psu, "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", psu).Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()
	}
	s.payments.On("RequestAuthorisationCode", "sms").Return(spi.Success(spi.AuthorisationCode{})).Twice()
	s.payments.On("VerifyScaAuthorisationAndExecutePayment", "111111").Return(spi.Success(spi.PaymentExecution{
		TransactionStatus: domain.TransactionStatusAcceptedSettlement,
	})).Twice()

	complete := func(id domain.AuthorisationID) {
		s.process(id, processor.Payload{Password: "pw"})
		s.process(id, processor.Payload{})
		resp := s.process(id, processor.Payload{ScaAuthenticationData: "111111"})
		s.Equal(domain.ScaStatusFinalised, resp.ScaStatus)
	}

	complete(first.ID())
	s.Equal(domain.TransactionStatusPartiallyAccepted, s.storedPayment(p.ID()).TransactionStatus())

	complete(second.ID())
	s.Equal(domain.TransactionStatusAcceptedSettlement, s.storedPayment(p.ID()).TransactionStatus())
}

func (s *StageSuite) TestBankReportedPatcIsKept() {
	s.Run("payment", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, true, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
		s.payments.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()
		s.payments.On("RequestAuthorisationCode", "sms").Return(spi.Success(spi.AuthorisationCode{})).Once()
		s.payments.On("VerifyScaAuthorisationAndExecutePayment", "111111").Return(spi.Success(spi.PaymentExecution{
			TransactionStatus: domain.TransactionStatusPartiallyAccepted,
		})).Once()

		s.process(auth.ID(), processor.Payload{Password: "pw"})
		s.process(auth.ID(), processor.Payload{})
		resp := s.process(auth.ID(), processor.Payload{ScaAuthenticationData: "111111"})

		// every listed PSU is done, but the bank still waits for a co-signer
		s.Equal(domain.ScaStatusFinalised, resp.ScaStatus)
		s.Equal(domain.TransactionStatusPartiallyAccepted, s.storedPayment(p.ID()).TransactionStatus())
	})

	s.Run("consent", func() {
		s.SetupTest()
		c := domain.NewConsent(domain.PsuIdData{ID: "carol"}, true, s.now.AddDate(0, 1, 0), 4, true, s.now)
		s.Require().NoError(s.store.Consents().Save(s.ctx, c))
		auth := s.newAuthorisation(c, domain.AuthorisationTypeAIS, domain.ScaApproachEmbedded, "carol")
		s.consents.On("AuthorisePsu", "carol", "pw").Return(authorised(false)).Once()
		s.consents.On("RequestAvailableScaMethods", "carol").Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()
		s.consents.On("RequestAuthorisationCode", "sms").Return(spi.Success(spi.AuthorisationCode{})).Once()
		s.consents.On("VerifyScaAuthorisation", "333333").Return(spi.Success(spi.ConsentConfirmation{
			ConsentStatus: domain.ConsentStatusPartiallyAuthorised,
		})).Once()

		s.process(auth.ID(), processor.Payload{Password: "pw"})
		s.process(auth.ID(), processor.Payload{})
		s.process(auth.ID(), processor.Payload{ScaAuthenticationData: "333333"})

		stored, err := s.store.Consents().FindByID(s.ctx, c.ID())
		s.Require().NoError(err)
		s.Equal(domain.ConsentStatusPartiallyAuthorised, stored.ConsentStatus())
	})
}

func (s *StageSuite) TestPatcSwitchesToMultilevel() {
	p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
	p.AddPsu(domain.PsuIdData{ID: "bob"})
	s.Require().NoError(s.store.Payments().Save(s.ctx, p))
	auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")

	s.payments.On("AuthorisePsu", "alice", "pw").Return(authorised(true)).Once()
	s.payments.On("ExecutePaymentWithoutSca").Return(spi.Success(spi.PaymentExecution{
		TransactionStatus: domain.TransactionStatusPartiallyAccepted,
	})).Once()

	resp := s.process(auth.ID(), processor.Payload{Password: "pw"})
	s.Equal(domain.ScaStatusExempted, resp.ScaStatus)

	stored := s.storedPayment(p.ID())
	s.True(stored.MultilevelScaRequired())
	s.Equal(domain.TransactionStatusPartiallyAccepted, stored.TransactionStatus())
}

func (s *StageSuite) TestCancellation() {
	p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
	auth := s.newAuthorisation(p, domain.AuthorisationTypePISCancellation, domain.ScaApproachEmbedded, "alice")

	s.cancellation.On("AuthorisePsu", "alice", "pw").Return(authorised(false)).Once()
	s.cancellation.On("RequestAvailableScaMethods", "alice").Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()
	s.cancellation.On("RequestAuthorisationCode", "sms").Return(spi.Success(spi.AuthorisationCode{})).Once()
	s.cancellation.On("VerifyScaAuthorisationAndCancelPayment", "222222").Return(spi.Success(spi.PaymentExecution{})).Once()

	s.process(auth.ID(), processor.Payload{Password: "pw"})
	s.process(auth.ID(), processor.Payload{})
	resp := s.process(auth.ID(), processor.Payload{ScaAuthenticationData: "222222"})

	s.Equal(domain.ScaStatusFinalised, resp.ScaStatus)
	s.Equal(domain.TransactionStatusCancelled, s.storedPayment(p.ID()).TransactionStatus())
	s.payments.AssertNotCalled(s.T(), "AuthorisePsu", "alice", "pw")
}

func (s *StageSuite) TestConsent() {
	s.Run("decoupled approach skips method selection", func() {
		s.SetupTest()
		c := domain.NewConsent(domain.PsuIdData{ID: "carol"}, true, s.now.AddDate(0, 1, 0), 4, false, s.now)
		s.Require().NoError(s.store.Consents().Save(s.ctx, c))
		auth := s.newAuthorisation(c, domain.AuthorisationTypeAIS, domain.ScaApproachDecoupled, "carol")

		s.consents.On("AuthorisePsu", "carol", "pw").Return(authorised(false)).Once()
		s.consents.On("StartScaDecoupled", auth.ID().String(), "").Return(spi.Success(spi.DecoupledStart{PsuMessage: "open app"})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal(domain.ScaStatusStarted, resp.ScaStatus)
		s.Equal("open app", resp.PsuMessage)
		s.consents.AssertNotCalled(s.T(), "RequestAvailableScaMethods", "carol")
	})

	s.Run("verified consent becomes valid", func() {
		s.SetupTest()
		c := domain.NewConsent(domain.PsuIdData{ID: "carol"}, true, s.now.AddDate(0, 1, 0), 4, false, s.now)
		s.Require().NoError(s.store.Consents().Save(s.ctx, c))
		auth := s.newAuthorisation(c, domain.AuthorisationTypeAIS, domain.ScaApproachEmbedded, "carol")

		s.consents.On("AuthorisePsu", "carol", "pw").Return(authorised(false)).Once()
		s.consents.On("RequestAvailableScaMethods", "carol").Return(spi.Success([]domain.AuthenticationObject{smsMethod})).Once()
		s.consents.On("RequestAuthorisationCode", "sms").Return(spi.Success(spi.AuthorisationCode{})).Once()
		s.consents.On("VerifyScaAuthorisation", "333333").Return(spi.Success(spi.ConsentConfirmation{})).Once()

		s.process(auth.ID(), processor.Payload{Password: "pw"})
		s.process(auth.ID(), processor.Payload{})
		resp := s.process(auth.ID(), processor.Payload{ScaAuthenticationData: "333333"})

		s.Equal(domain.ScaStatusFinalised, resp.ScaStatus)
		stored, err := s.store.Consents().FindByID(s.ctx, c.ID())
		s.Require().NoError(err)
		s.Equal(domain.ConsentStatusValid, stored.ConsentStatus())
	})

	s.Run("consent errors use the AIS namespace", func() {
		s.SetupTest()
		c := domain.NewConsent(domain.PsuIdData{ID: "carol"}, true, s.now.AddDate(0, 1, 0), 4, false, s.now)
		s.Require().NoError(s.store.Consents().Save(s.ctx, c))
		auth := s.newAuthorisation(c, domain.AuthorisationTypeAIS, domain.ScaApproachEmbedded, "carol")
		s.consents.On("AuthorisePsu", "carol", "pw").
			Return(spi.Failure[spi.PsuAuthorisation](spi.Error{Code: "SERVICE_BLOCKED"})).Once()

		resp := s.process(auth.ID(), processor.Payload{Password: "pw"})

		s.Equal("AIS_403", resp.ErrorHolder.ErrorType.String())
	})
}

func (s *StageSuite) TestDoScaExempted() {
	s.Run("periodic payments are refused", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypePeriodic, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")

		resp, err := s.pis.DoScaExempted(s.ctx, s.store, processor.NewRequest(auth, processor.Payload{}))
		s.Require().NoError(err)

		s.Equal(domain.ScaStatusFailed, resp.ScaStatus)
		s.Equal(domain.CodeProductInvalid, resp.ErrorHolder.Code())
		s.payments.AssertNotCalled(s.T(), "ExecutePaymentWithoutSca")
	})

	s.Run("exempt single payment is executed", func() {
		s.SetupTest()
		p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
		auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")
		s.payments.On("ExecutePaymentWithoutSca").Return(spi.Success(spi.PaymentExecution{})).Once()

		resp, err := s.pis.DoScaExempted(s.ctx, s.store, processor.NewRequest(auth, processor.Payload{}))
		s.Require().NoError(err)

		s.Equal(domain.ScaStatusExempted, resp.ScaStatus)
		s.Equal(domain.TransactionStatusAcceptedTechnical, s.storedPayment(p.ID()).TransactionStatus())
	})
}

func (s *StageSuite) TestCompleteOutOfBand() {
	p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
	auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachRedirect, "alice")

	err := s.store.Atomic(s.ctx, func(repos domain.Repositories) error {
		loaded, err := repos.Authorisations().FindByID(s.ctx, auth.ID())
		if err != nil {
			return err
		}
		resp, err := s.pis.CompleteOutOfBand(s.ctx, repos, loaded, domain.ScaStatusFinalised)
		if err != nil {
			return err
		}
		s.Equal(domain.ScaStatusFinalised, resp.ScaStatus)
		return nil
	})
	s.Require().NoError(err)

	s.Equal(domain.ScaStatusFinalised, s.stored(auth.ID()).ScaStatus())
	s.Equal(domain.TransactionStatusAcceptedTechnical, s.storedPayment(p.ID()).TransactionStatus())
}

func (s *StageSuite) TestAdapterTimeoutFailsAuthorisation() {
	p := s.newPayment(domain.PaymentTypeSingle, false, "alice")
	auth := s.newAuthorisation(p, domain.AuthorisationTypePISCreation, domain.ScaApproachEmbedded, "alice")

	guarded := stage.NewPisProcessor(s.payments, stage.Config{
		Guard: spi.NewGuard(0, 1, 20*time.Millisecond),
		Now:   func() time.Time { return s.now },
	}, nil)
	s.payments.On("AuthorisePsu", "alice", "pw").
		Run(func(mock.Arguments) { time.Sleep(200 * time.Millisecond) }).
		Return(authorised(false)).Once()

	resp, err := guarded.DoScaReceived(s.ctx, s.store, processor.NewRequest(auth, processor.Payload{Password: "pw"}))
	s.Require().NoError(err)

	s.Equal(domain.ScaStatusFailed, resp.ScaStatus)
	s.Equal(domain.CodeServiceUnavailable, resp.ErrorHolder.Code())
}
