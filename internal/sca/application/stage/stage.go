// Package stage implements the per-status SCA transitions once, as a generic
// driver over a small capability each object type provides. The driver never
// persists the authorisation before UpdateAuthorisation; parent objects are
// persisted by the capability when the bank outcome is applied.
package stage

import (
	"context"
	"time"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/application/errormapper"
	"psd2gateway/internal/sca/application/processor"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/spi"
)

const decoupledPsuMessage = "SCA is performed by the ASPSP out of band. Please check your banking app."

// Capability is the object-specific part of a stage processor.
type Capability[O domain.ParentObject, R any] interface {
	AuthorisationType() domain.AuthorisationType
	// Load returns the parent object of an authorisation.
	Load(ctx context.Context, repos domain.Repositories, parentID string) (O, error)
	Adapter() spi.AuthorisationSpi[O]
	ExemptionAllowed(obj O) bool
	// Execute verifies conf and runs the business operation at the bank.
	// A nil conf runs it without SCA.
	Execute(ctx context.Context, cd spi.ContextData, conf *spi.ScaConfirmation, obj O) spi.Response[R]
	// Settle applies a successful bank outcome to obj and persists it.
	// auth is treated as completed when counting multilevel PSUs.
	Settle(ctx context.Context, repos domain.Repositories, obj O, auth *domain.Authorisation, outcome R, now time.Time) error
	// CompletedOutcome is assumed when the bank completes SCA out of band.
	CompletedOutcome() R
}

// Service is a stage processor as the strategies and facade see it.
type Service interface {
	processor.Service
	// CompleteOutOfBand applies a redirect or decoupled outcome reported by
	// the bank and persists the authorisation.
	CompleteOutOfBand(ctx context.Context, repos domain.Repositories, auth *domain.Authorisation, status domain.ScaStatus) (*processor.Response, error)
}

// Config holds what every stage processor shares.
type Config struct {
	Guard *spi.Guard
	Now   func() time.Time
}

// Processor drives the SCA transitions for one authorisation type.
type Processor[O domain.ParentObject, R any] struct {
	capability Capability[O, R]
	guard      *spi.Guard
	now        func() time.Time
}

func newProcessor[O domain.ParentObject, R any](c Capability[O, R], cfg Config) *Processor[O, R] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor[O, R]{capability: c, guard: cfg.Guard, now: now}
}

func (p *Processor[O, R]) service() domain.ServiceType {
	return p.capability.AuthorisationType().ServiceType()
}

// DoScaReceived identifies the PSU when the request carries only
// identification data, otherwise authenticates the PSU with the bank.
func (p *Processor[O, R]) DoScaReceived(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	if req.Payload.UpdatePsuIdentification {
		return p.identify(req), nil
	}
	return p.authenticate(ctx, repos, req)
}

// DoScaPsuIdentified authenticates an identified PSU. A repeated
// identification keeps the status.
func (p *Processor[O, R]) DoScaPsuIdentified(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	if req.Payload.UpdatePsuIdentification {
		return p.identify(req), nil
	}
	return p.authenticate(ctx, repos, req)
}

// DoScaPsuAuthenticated records the SCA method the PSU selected.
func (p *Processor[O, R]) DoScaPsuAuthenticated(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	obj, err := p.capability.Load(ctx, repos, req.Authorisation.ParentID())
	if err != nil {
		return nil, err
	}
	cd := p.contextData(ctx, req)

	methods := spi.Invoke(ctx, p.guard, "RequestAvailableScaMethods", func(ctx context.Context) spi.Response[[]domain.AuthenticationObject] {
		return p.capability.Adapter().RequestAvailableScaMethods(ctx, cd, obj)
	})
	if methods.HasError() {
		return p.fail(ctx, req, methods.Errors), nil
	}

	method, ok := domain.FindMethod(methods.Payload, req.Payload.AuthenticationMethodID)
	if !ok {
		return p.failWith(ctx, req, domain.CodeScaMethodUnknown), nil
	}
	if method.Decoupled || req.ScaApproach == domain.ScaApproachDecoupled {
		return p.proceedDecoupled(ctx, req, obj, cd, &method), nil
	}

	resp := p.response(req, domain.ScaStatusScaMethodSelected)
	resp.ChosenScaMethod = &method
	return resp, nil
}

// DoScaMethodSelected requests an authorisation code for the chosen method.
func (p *Processor[O, R]) DoScaMethodSelected(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	chosen, ok := req.Authorisation.ChosenScaMethod()
	if !ok {
		return p.failWith(ctx, req, domain.CodeScaMethodUnknown), nil
	}

	obj, err := p.capability.Load(ctx, repos, req.Authorisation.ParentID())
	if err != nil {
		return nil, err
	}
	cd := p.contextData(ctx, req)

	if chosen.Decoupled || req.ScaApproach == domain.ScaApproachDecoupled {
		return p.proceedDecoupled(ctx, req, obj, cd, &chosen), nil
	}

	code := spi.Invoke(ctx, p.guard, "RequestAuthorisationCode", func(ctx context.Context) spi.Response[spi.AuthorisationCode] {
		return p.capability.Adapter().RequestAuthorisationCode(ctx, cd, chosen.MethodID, obj)
	})
	if code.HasError() {
		return p.fail(ctx, req, code.Errors), nil
	}

	selected := code.Payload.SelectedMethod
	if selected.MethodID == "" {
		selected = chosen
	}
	challenge := code.Payload.ChallengeData

	resp := p.response(req, domain.ScaStatusStarted)
	resp.ChosenScaMethod = &selected
	resp.ChallengeData = &challenge
	resp.PsuMessage = code.Payload.PsuMessage
	return resp, nil
}

// DoScaStarted verifies the authentication code and runs the business
// operation. Decoupled authorisations stay started until the bank reports
// the outcome.
func (p *Processor[O, R]) DoScaStarted(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	if p.decoupled(req) {
		resp := p.response(req, domain.ScaStatusStarted)
		resp.PsuMessage = decoupledPsuMessage
		return resp, nil
	}

	obj, err := p.capability.Load(ctx, repos, req.Authorisation.ParentID())
	if err != nil {
		return nil, err
	}
	cd := p.contextData(ctx, req)

	conf := &spi.ScaConfirmation{
		AuthorisationID:       req.Authorisation.ID().String(),
		Psu:                   cd.Psu,
		ScaAuthenticationData: req.Payload.ScaAuthenticationData,
	}
	outcome := spi.Invoke(ctx, p.guard, "VerifyScaAuthorisation", func(ctx context.Context) spi.Response[R] {
		return p.capability.Execute(ctx, cd, conf, obj)
	})
	if outcome.HasError() {
		return p.fail(ctx, req, outcome.Errors), nil
	}

	if err := p.capability.Settle(ctx, repos, obj, req.Authorisation, outcome.Payload, p.now()); err != nil {
		return nil, err
	}
	return p.response(req, domain.ScaStatusFinalised), nil
}

// DoScaExempted completes the authorisation without SCA when the object
// permits an exemption. Authentication enters it when the bank grants an
// exemption or offers no SCA method.
func (p *Processor[O, R]) DoScaExempted(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	obj, err := p.capability.Load(ctx, repos, req.Authorisation.ParentID())
	if err != nil {
		return nil, err
	}
	if !p.capability.ExemptionAllowed(obj) {
		return p.failWith(ctx, req, domain.CodeProductInvalid), nil
	}
	cd := p.contextData(ctx, req)

	outcome := spi.Invoke(ctx, p.guard, "ExecuteWithoutSca", func(ctx context.Context) spi.Response[R] {
		return p.capability.Execute(ctx, cd, nil, obj)
	})
	if outcome.HasError() {
		return p.fail(ctx, req, outcome.Errors), nil
	}
	if err := p.capability.Settle(ctx, repos, obj, req.Authorisation, outcome.Payload, p.now()); err != nil {
		return nil, err
	}

	resp := p.response(req, domain.ScaStatusExempted)
	resp.PsuData = cd.Psu
	return resp, nil
}

// UpdateAuthorisation applies resp to the authorisation and saves it.
func (p *Processor[O, R]) UpdateAuthorisation(ctx context.Context, repos domain.Repositories, req processor.Request, resp *processor.Response) error {
	auth := req.Authorisation
	from := auth.ScaStatus()
	now := p.now()

	if !resp.PsuData.IsEmpty() {
		auth.IdentifyPsu(resp.PsuData)
	}
	if resp.ChosenScaMethod != nil {
		auth.ChooseScaMethod(*resp.ChosenScaMethod)
	}
	if resp.ScaStatus == domain.ScaStatusFailed {
		auth.Fail(now)
	} else if err := auth.TransitionTo(resp.ScaStatus, now); err != nil {
		return err
	}

	if err := repos.Authorisations().Save(ctx, auth); err != nil {
		return err
	}

	resp.AuthorisationID = auth.ID().String()
	resp.ParentID = auth.ParentID()
	resp.PsuData = auth.PsuData()

	metrics.RecordScaTransition(string(p.service()), from.String(), auth.ScaStatus().String())
	logging.InfoContext(ctx, "Authorisation updated",
		"authorisation_id", auth.ID().String(),
		"authorisation_type", string(auth.Type()),
		"from", from.String(),
		"to", auth.ScaStatus().String(),
	)
	return nil
}

// CompleteOutOfBand settles the parent object for a finalised redirect or
// decoupled authorisation and stores the new status.
func (p *Processor[O, R]) CompleteOutOfBand(ctx context.Context, repos domain.Repositories, auth *domain.Authorisation, status domain.ScaStatus) (*processor.Response, error) {
	req := processor.NewRequest(auth, processor.Payload{})
	resp := p.response(req, status)

	if status == domain.ScaStatusFinalised {
		obj, err := p.capability.Load(ctx, repos, auth.ParentID())
		if err != nil {
			return nil, err
		}
		if err := p.capability.Settle(ctx, repos, obj, auth, p.capability.CompletedOutcome(), p.now()); err != nil {
			return nil, err
		}
	}

	if err := p.UpdateAuthorisation(ctx, repos, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Processor[O, R]) identify(req processor.Request) *processor.Response {
	resp := p.response(req, domain.ScaStatusPsuIdentified)
	resp.PsuData = req.Payload.PsuData
	return resp
}

// authenticate runs password authentication and decides the next stage from
// the exemption flag and the methods the bank offers.
func (p *Processor[O, R]) authenticate(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	obj, err := p.capability.Load(ctx, repos, req.Authorisation.ParentID())
	if err != nil {
		return nil, err
	}
	cd := p.contextData(ctx, req)
	authID := req.Authorisation.ID().String()

	authorised := spi.Invoke(ctx, p.guard, "AuthorisePsu", func(ctx context.Context) spi.Response[spi.PsuAuthorisation] {
		return p.capability.Adapter().AuthorisePsu(ctx, cd, authID, cd.Psu, req.Payload.Password, obj)
	})
	if authorised.HasError() {
		return p.fail(ctx, req, authorised.Errors), nil
	}
	if authorised.Payload.Status != spi.AuthorisationSuccess {
		return p.failWith(ctx, req, domain.CodePsuCredentialsInvalid), nil
	}

	if authorised.Payload.ScaExempted && p.capability.ExemptionAllowed(obj) {
		return p.DoScaExempted(ctx, repos, req)
	}
	if req.ScaApproach == domain.ScaApproachDecoupled {
		return p.proceedDecoupled(ctx, req, obj, cd, nil), nil
	}

	methods := spi.Invoke(ctx, p.guard, "RequestAvailableScaMethods", func(ctx context.Context) spi.Response[[]domain.AuthenticationObject] {
		return p.capability.Adapter().RequestAvailableScaMethods(ctx, cd, obj)
	})
	if methods.HasError() {
		return p.fail(ctx, req, methods.Errors), nil
	}

	switch len(methods.Payload) {
	case 0:
		if p.capability.ExemptionAllowed(obj) {
			return p.DoScaExempted(ctx, repos, req)
		}
		return p.failWith(ctx, req, domain.CodeScaMethodUnknown), nil
	case 1:
		method := methods.Payload[0]
		if method.Decoupled {
			return p.proceedDecoupled(ctx, req, obj, cd, &method), nil
		}
		resp := p.response(req, domain.ScaStatusScaMethodSelected)
		resp.PsuData = cd.Psu
		resp.ChosenScaMethod = &method
		return resp, nil
	default:
		resp := p.response(req, domain.ScaStatusPsuAuthenticated)
		resp.PsuData = cd.Psu
		resp.AvailableScaMethods = methods.Payload
		return resp, nil
	}
}

func (p *Processor[O, R]) proceedDecoupled(ctx context.Context, req processor.Request, obj O, cd spi.ContextData, method *domain.AuthenticationObject) *processor.Response {
	var methodID string
	if method != nil {
		methodID = method.MethodID
	}
	authID := req.Authorisation.ID().String()

	started := spi.Invoke(ctx, p.guard, "StartScaDecoupled", func(ctx context.Context) spi.Response[spi.DecoupledStart] {
		return p.capability.Adapter().StartScaDecoupled(ctx, cd, authID, methodID, obj)
	})
	if started.HasError() {
		return p.fail(ctx, req, started.Errors)
	}

	resp := p.response(req, domain.ScaStatusStarted)
	resp.PsuData = cd.Psu
	resp.ChosenScaMethod = method
	resp.PsuMessage = started.Payload.PsuMessage
	if resp.PsuMessage == "" {
		resp.PsuMessage = decoupledPsuMessage
	}
	return resp
}

func (p *Processor[O, R]) decoupled(req processor.Request) bool {
	if req.ScaApproach == domain.ScaApproachDecoupled {
		return true
	}
	chosen, ok := req.Authorisation.ChosenScaMethod()
	return ok && chosen.Decoupled
}

func (p *Processor[O, R]) fail(ctx context.Context, req processor.Request, errs []spi.Error) *processor.Response {
	holder := errormapper.ToErrorHolder(errs, p.service())
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	logging.WarnContext(ctx, "Bank adapter reported failure",
		"authorisation_id", req.Authorisation.ID().String(),
		"service", string(p.service()),
		"sca_status", req.ScaStatus.String(),
		"codes", codes,
	)

	resp := p.response(req, domain.ScaStatusFailed)
	resp.ErrorHolder = holder
	return resp
}

func (p *Processor[O, R]) failWith(ctx context.Context, req processor.Request, code domain.MessageErrorCode) *processor.Response {
	return p.fail(ctx, req, []spi.Error{{Code: string(code)}})
}

func (p *Processor[O, R]) response(req processor.Request, status domain.ScaStatus) *processor.Response {
	return &processor.Response{
		ScaStatus:       status,
		AuthorisationID: req.Authorisation.ID().String(),
		ParentID:        req.Authorisation.ParentID(),
	}
}

// contextData carries the request ids and the PSU the request acts for.
func (p *Processor[O, R]) contextData(ctx context.Context, req processor.Request) spi.ContextData {
	psu := req.Authorisation.PsuData()
	if psu.IsEmpty() {
		psu = req.Payload.PsuData
	} else if req.Payload.PsuData.IPAddress != "" {
		psu.IPAddress = req.Payload.PsuData.IPAddress
	}
	return spi.ContextData{
		Psu:               psu,
		XRequestID:        logging.CorrelationIDFromContext(ctx).String(),
		InternalRequestID: logging.InternalRequestIDFromContext(ctx).String(),
	}
}
