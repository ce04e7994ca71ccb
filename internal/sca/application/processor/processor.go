// Package processor dispatches a status-changing request to the stage
// service of its authorisation type. Handlers are ordered by status and the
// first one owning the request status runs it.
package processor

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"psd2gateway/internal/sca/domain"
)

// ErrUnknownAuthorisationType is returned when no service is registered for
// an authorisation type. It indicates a wiring mistake.
var ErrUnknownAuthorisationType = errors.New("no stage service registered for authorisation type")

// Payload is the status-specific part of a PSU data update.
type Payload struct {
	// UpdatePsuIdentification marks a request that only identifies the PSU.
	// It takes precedence over every other field.
	UpdatePsuIdentification bool
	PsuData                 domain.PsuIdData
	Password                string
	AuthenticationMethodID  string
	ScaAuthenticationData   string
}

// Request is one transition request. ScaStatus, ScaApproach and Type are
// copied from the stored authorisation when the request is built.
type Request struct {
	ScaStatus     domain.ScaStatus
	ScaApproach   domain.ScaApproach
	Type          domain.AuthorisationType
	Authorisation *domain.Authorisation
	Payload       Payload
}

// NewRequest builds a request for the current state of auth.
func NewRequest(auth *domain.Authorisation, payload Payload) Request {
	return Request{
		ScaStatus:     auth.ScaStatus(),
		ScaApproach:   auth.ScaApproach(),
		Type:          auth.Type(),
		Authorisation: auth,
		Payload:       payload,
	}
}

// Response is the outcome of one stage. ScaStatus is the next status; an
// ErrorHolder is only set together with ScaStatusFailed.
type Response struct {
	ScaStatus           domain.ScaStatus
	AuthorisationID     string
	ParentID            string
	PsuData             domain.PsuIdData
	ChosenScaMethod     *domain.AuthenticationObject
	AvailableScaMethods []domain.AuthenticationObject
	ChallengeData       *domain.ChallengeData
	PsuMessage          string
	ErrorHolder         *domain.ErrorHolder
}

// HasError reports whether the stage failed with a protocol error.
func (r *Response) HasError() bool {
	return r != nil && r.ErrorHolder != nil
}

// Service realises the stage semantics for one authorisation type.
// Every method runs inside the caller's atomic block and may call the bank.
type Service interface {
	DoScaReceived(ctx context.Context, repos domain.Repositories, req Request) (*Response, error)
	DoScaPsuIdentified(ctx context.Context, repos domain.Repositories, req Request) (*Response, error)
	DoScaPsuAuthenticated(ctx context.Context, repos domain.Repositories, req Request) (*Response, error)
	DoScaMethodSelected(ctx context.Context, repos domain.Repositories, req Request) (*Response, error)
	DoScaStarted(ctx context.Context, repos domain.Repositories, req Request) (*Response, error)
	DoScaExempted(ctx context.Context, repos domain.Repositories, req Request) (*Response, error)
	// UpdateAuthorisation persists resp onto the authorisation of req.
	UpdateAuthorisation(ctx context.Context, repos domain.Repositories, req Request, resp *Response) error
}

// Services maps each authorisation type to its stage service.
// It is built once at startup and never modified.
type Services struct {
	byType map[domain.AuthorisationType]Service
}

// NewServices copies byType into an immutable registry.
func NewServices(byType map[domain.AuthorisationType]Service) *Services {
	return &Services{byType: maps.Clone(byType)}
}

// Lookup returns the service for t.
func (s *Services) Lookup(t domain.AuthorisationType) (Service, error) {
	svc, ok := s.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuthorisationType, t)
	}
	return svc, nil
}

type stageFunc func(Service, context.Context, domain.Repositories, Request) (*Response, error)

type handler struct {
	status domain.ScaStatus
	run    stageFunc
}

// Chain walks an ordered list of per-status handlers.
type Chain struct {
	services *Services
	handlers []handler
}

// NewChain creates the chain RECEIVED, PSU_IDENTIFIED, PSU_AUTHENTICATED,
// SCA_METHOD_SELECTED, STARTED. Terminal statuses have no handler.
func NewChain(services *Services) *Chain {
	return &Chain{
		services: services,
		handlers: []handler{
			{domain.ScaStatusReceived, Service.DoScaReceived},
			{domain.ScaStatusPsuIdentified, Service.DoScaPsuIdentified},
			{domain.ScaStatusPsuAuthenticated, Service.DoScaPsuAuthenticated},
			{domain.ScaStatusScaMethodSelected, Service.DoScaMethodSelected},
			{domain.ScaStatusStarted, Service.DoScaStarted},
		},
	}
}

// Process runs the handler owning req.ScaStatus and persists its response.
// It returns (nil, nil) when no handler owns the status; callers must treat
// that as not applicable.
func (c *Chain) Process(ctx context.Context, repos domain.Repositories, req Request) (*Response, error) {
	for _, h := range c.handlers {
		if h.status != req.ScaStatus {
			continue
		}

		svc, err := c.services.Lookup(req.Type)
		if err != nil {
			return nil, err
		}

		resp, err := h.run(svc, ctx, repos, req)
		if err != nil {
			return nil, err
		}
		if err := svc.UpdateAuthorisation(ctx, repos, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, nil
}
