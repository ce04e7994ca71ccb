// Package spi is the boundary to bank supplied adapter code. Adapters report
// expected business failures in Response.Errors and never panic or return Go
// errors for them; the Guard turns timeouts and panics into failures as well.
package spi

import (
	"context"

	"psd2gateway/internal/sca/domain"
)

// Error is a failure reported by the bank. Code is free text; the error
// translator maps it into the protocol taxonomy.
type Error struct {
	Code string
	Text string
}

// Response is either a payload or a list of failures.
type Response[T any] struct {
	Payload T
	Errors  []Error
}

// HasError reports whether the adapter reported a failure.
func (r Response[T]) HasError() bool {
	return len(r.Errors) > 0
}

// Success wraps a payload.
func Success[T any](payload T) Response[T] {
	return Response[T]{Payload: payload}
}

// Failure wraps adapter errors.
func Failure[T any](errs ...Error) Response[T] {
	return Response[T]{Errors: errs}
}

// ContextData is passed to every adapter call.
type ContextData struct {
	Psu               domain.PsuIdData
	XRequestID        string
	InternalRequestID string
}

// AuthorisationStatus is the outcome of PSU authentication.
type AuthorisationStatus string

const (
	AuthorisationSuccess AuthorisationStatus = "SUCCESS"
	AuthorisationFailure AuthorisationStatus = "FAILURE"
)

// PsuAuthorisation is the result of authorising the PSU with a password.
type PsuAuthorisation struct {
	Status      AuthorisationStatus
	ScaExempted bool
}

// AuthorisationCode is the challenge sent to the PSU for the selected method.
type AuthorisationCode struct {
	SelectedMethod domain.AuthenticationObject
	ChallengeData  domain.ChallengeData
	PsuMessage     string
}

// DecoupledStart acknowledges that SCA continues on a bank channel.
type DecoupledStart struct {
	PsuMessage string
}

// ScaConfirmation carries the code the PSU entered.
type ScaConfirmation struct {
	AuthorisationID       string
	Psu                   domain.PsuIdData
	ScaAuthenticationData string
}

// PaymentExecution is the bank status after executing or cancelling a payment.
// PATC signals that more PSUs must authorise.
type PaymentExecution struct {
	TransactionStatus domain.TransactionStatus
}

// ConsentConfirmation is the consent status after SCA.
type ConsentConfirmation struct {
	ConsentStatus domain.ConsentStatus
}

// AuthorisationSpi is the part of the adapter shared by all object types.
type AuthorisationSpi[O any] interface {
	AuthorisePsu(ctx context.Context, cd ContextData, authorisationID string, psu domain.PsuIdData, password string, obj O) Response[PsuAuthorisation]
	RequestAvailableScaMethods(ctx context.Context, cd ContextData, obj O) Response[[]domain.AuthenticationObject]
	RequestAuthorisationCode(ctx context.Context, cd ContextData, methodID string, obj O) Response[AuthorisationCode]
	StartScaDecoupled(ctx context.Context, cd ContextData, authorisationID, methodID string, obj O) Response[DecoupledStart]
}

// PaymentAuthorisationSpi authorises payment initiation.
type PaymentAuthorisationSpi interface {
	AuthorisationSpi[*domain.Payment]
	VerifyScaAuthorisationAndExecutePayment(ctx context.Context, cd ContextData, conf ScaConfirmation, payment *domain.Payment) Response[PaymentExecution]
	ExecutePaymentWithoutSca(ctx context.Context, cd ContextData, payment *domain.Payment) Response[PaymentExecution]
}

// PaymentCancellationSpi authorises payment cancellation.
type PaymentCancellationSpi interface {
	AuthorisationSpi[*domain.Payment]
	VerifyScaAuthorisationAndCancelPayment(ctx context.Context, cd ContextData, conf ScaConfirmation, payment *domain.Payment) Response[PaymentExecution]
	CancelPaymentWithoutSca(ctx context.Context, cd ContextData, payment *domain.Payment) Response[PaymentExecution]
}

// AisConsentSpi authorises account information consents.
type AisConsentSpi interface {
	AuthorisationSpi[*domain.Consent]
	VerifyScaAuthorisation(ctx context.Context, cd ContextData, conf ScaConfirmation, consent *domain.Consent) Response[ConsentConfirmation]
	GrantConsentWithoutSca(ctx context.Context, cd ContextData, consent *domain.Consent) Response[ConsentConfirmation]
}
