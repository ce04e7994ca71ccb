// Package spitest provides testify mocks of the bank adapter interfaces.
package spitest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/spi"
)

// authorisationMock implements the calls shared by every adapter. Only the
// arguments tests assert on are recorded.
type authorisationMock struct {
	mock.Mock
}

func (m *authorisationMock) AuthorisePsu(_ context.Context, _ spi.ContextData, _ string, psu domain.PsuIdData, password string, _ any) spi.Response[spi.PsuAuthorisation] {
	args := m.MethodCalled("AuthorisePsu", psu.ID, password)
	return args.Get(0).(spi.Response[spi.PsuAuthorisation])
}

func (m *authorisationMock) RequestAvailableScaMethods(_ context.Context, cd spi.ContextData) spi.Response[[]domain.AuthenticationObject] {
	args := m.MethodCalled("RequestAvailableScaMethods", cd.Psu.ID)
	return args.Get(0).(spi.Response[[]domain.AuthenticationObject])
}

func (m *authorisationMock) RequestAuthorisationCode(_ context.Context, methodID string) spi.Response[spi.AuthorisationCode] {
	args := m.MethodCalled("RequestAuthorisationCode", methodID)
	return args.Get(0).(spi.Response[spi.AuthorisationCode])
}

func (m *authorisationMock) StartScaDecoupled(_ context.Context, authorisationID, methodID string) spi.Response[spi.DecoupledStart] {
	args := m.MethodCalled("StartScaDecoupled", authorisationID, methodID)
	return args.Get(0).(spi.Response[spi.DecoupledStart])
}

// PaymentAuthorisationSpi mocks spi.PaymentAuthorisationSpi.
type PaymentAuthorisationSpi struct {
	authorisationMock
}

func (m *PaymentAuthorisationSpi) AuthorisePsu(ctx context.Context, cd spi.ContextData, authorisationID string, psu domain.PsuIdData, password string, p *domain.Payment) spi.Response[spi.PsuAuthorisation] {
	return m.authorisationMock.AuthorisePsu(ctx, cd, authorisationID, psu, password, p)
}

func (m *PaymentAuthorisationSpi) RequestAvailableScaMethods(ctx context.Context, cd spi.ContextData, _ *domain.Payment) spi.Response[[]domain.AuthenticationObject] {
	return m.authorisationMock.RequestAvailableScaMethods(ctx, cd)
}

func (m *PaymentAuthorisationSpi) RequestAuthorisationCode(ctx context.Context, _ spi.ContextData, methodID string, _ *domain.Payment) spi.Response[spi.AuthorisationCode] {
	return m.authorisationMock.RequestAuthorisationCode(ctx, methodID)
}

func (m *PaymentAuthorisationSpi) StartScaDecoupled(ctx context.Context, _ spi.ContextData, authorisationID, methodID string, _ *domain.Payment) spi.Response[spi.DecoupledStart] {
	return m.authorisationMock.StartScaDecoupled(ctx, authorisationID, methodID)
}

func (m *PaymentAuthorisationSpi) VerifyScaAuthorisationAndExecutePayment(_ context.Context, _ spi.ContextData, conf spi.ScaConfirmation, _ *domain.Payment) spi.Response[spi.PaymentExecution] {
	args := m.MethodCalled("VerifyScaAuthorisationAndExecutePayment", conf.ScaAuthenticationData)
	return args.Get(0).(spi.Response[spi.PaymentExecution])
}

func (m *PaymentAuthorisationSpi) ExecutePaymentWithoutSca(_ context.Context, _ spi.ContextData, _ *domain.Payment) spi.Response[spi.PaymentExecution] {
	args := m.MethodCalled("ExecutePaymentWithoutSca")
	return args.Get(0).(spi.Response[spi.PaymentExecution])
}

// PaymentCancellationSpi mocks spi.PaymentCancellationSpi.
type PaymentCancellationSpi struct {
	authorisationMock
}

func (m *PaymentCancellationSpi) AuthorisePsu(ctx context.Context, cd spi.ContextData, authorisationID string, psu domain.PsuIdData, password string, p *domain.Payment) spi.Response[spi.PsuAuthorisation] {
	return m.authorisationMock.AuthorisePsu(ctx, cd, authorisationID, psu, password, p)
}

func (m *PaymentCancellationSpi) RequestAvailableScaMethods(ctx context.Context, cd spi.ContextData, _ *domain.Payment) spi.Response[[]domain.AuthenticationObject] {
	return m.authorisationMock.RequestAvailableScaMethods(ctx, cd)
}

func (m *PaymentCancellationSpi) RequestAuthorisationCode(ctx context.Context, _ spi.ContextData, methodID string, _ *domain.Payment) spi.Response[spi.AuthorisationCode] {
	return m.authorisationMock.RequestAuthorisationCode(ctx, methodID)
}

func (m *PaymentCancellationSpi) StartScaDecoupled(ctx context.Context, _ spi.ContextData, authorisationID, methodID string, _ *domain.Payment) spi.Response[spi.DecoupledStart] {
	return m.authorisationMock.StartScaDecoupled(ctx, authorisationID, methodID)
}

func (m *PaymentCancellationSpi) VerifyScaAuthorisationAndCancelPayment(_ context.Context, _ spi.ContextData, conf spi.ScaConfirmation, _ *domain.Payment) spi.Response[spi.PaymentExecution] {
	args := m.MethodCalled("VerifyScaAuthorisationAndCancelPayment", conf.ScaAuthenticationData)
	return args.Get(0).(spi.Response[spi.PaymentExecution])
}

func (m *PaymentCancellationSpi) CancelPaymentWithoutSca(_ context.Context, _ spi.ContextData, _ *domain.Payment) spi.Response[spi.PaymentExecution] {
	args := m.MethodCalled("CancelPaymentWithoutSca")
	return args.Get(0).(spi.Response[spi.PaymentExecution])
}

// AisConsentSpi mocks spi.AisConsentSpi.
type AisConsentSpi struct {
	authorisationMock
}

func (m *AisConsentSpi) AuthorisePsu(ctx context.Context, cd spi.ContextData, authorisationID string, psu domain.PsuIdData, password string, c *domain.Consent) spi.Response[spi.PsuAuthorisation] {
	return m.authorisationMock.AuthorisePsu(ctx, cd, authorisationID, psu, password, c)
}

func (m *AisConsentSpi) RequestAvailableScaMethods(ctx context.Context, cd spi.ContextData, _ *domain.Consent) spi.Response[[]domain.AuthenticationObject] {
	return m.authorisationMock.RequestAvailableScaMethods(ctx, cd)
}

func (m *AisConsentSpi) RequestAuthorisationCode(ctx context.Context, _ spi.ContextData, methodID string, _ *domain.Consent) spi.Response[spi.AuthorisationCode] {
	return m.authorisationMock.RequestAuthorisationCode(ctx, methodID)
}

func (m *AisConsentSpi) StartScaDecoupled(ctx context.Context, _ spi.ContextData, authorisationID, methodID string, _ *domain.Consent) spi.Response[spi.DecoupledStart] {
	return m.authorisationMock.StartScaDecoupled(ctx, authorisationID, methodID)
}

func (m *AisConsentSpi) VerifyScaAuthorisation(_ context.Context, _ spi.ContextData, conf spi.ScaConfirmation, _ *domain.Consent) spi.Response[spi.ConsentConfirmation] {
	args := m.MethodCalled("VerifyScaAuthorisation", conf.ScaAuthenticationData)
	return args.Get(0).(spi.Response[spi.ConsentConfirmation])
}

func (m *AisConsentSpi) GrantConsentWithoutSca(_ context.Context, _ spi.ContextData, _ *domain.Consent) spi.Response[spi.ConsentConfirmation] {
	args := m.MethodCalled("GrantConsentWithoutSca")
	return args.Get(0).(spi.Response[spi.ConsentConfirmation])
}

var (
	_ spi.PaymentAuthorisationSpi = (*PaymentAuthorisationSpi)(nil)
	_ spi.PaymentCancellationSpi  = (*PaymentCancellationSpi)(nil)
	_ spi.AisConsentSpi           = (*AisConsentSpi)(nil)
)
