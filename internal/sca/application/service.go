package application

import (
	"context"
	"errors"
	"strings"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/sca/application/errormapper"
	"psd2gateway/internal/sca/application/expiration"
	"psd2gateway/internal/sca/application/processor"
	"psd2gateway/internal/sca/application/stage"
	"psd2gateway/internal/sca/application/strategy"
	"psd2gateway/internal/sca/domain"
)

// AuthorisationService is the entry point for authorisation requests.
// Every operation runs in one Atomic call in this order: load objects,
// reject unknown ids, apply confirmation expiration, validate, then run the
// strategy. Expiration is committed even when the request is refused;
// refusals raised after it roll back and leave the store untouched.
// Refusals are returned as *domain.ErrorHolder errors.
type AuthorisationService struct {
	store    domain.Store
	registry *strategy.Registry
	checker  *expiration.Checker
	stages   map[domain.AuthorisationType]stage.Service
}

// NewAuthorisationService creates a new AuthorisationService.
func NewAuthorisationService(
	store domain.Store,
	registry *strategy.Registry,
	checker *expiration.Checker,
	stages map[domain.AuthorisationType]stage.Service,
) *AuthorisationService {
	return &AuthorisationService{
		store:    store,
		registry: registry,
		checker:  checker,
		stages:   stages,
	}
}

// CreateAuthorisationRequest starts an authorisation on a payment or consent.
type CreateAuthorisationRequest struct {
	Type     domain.AuthorisationType
	ParentID string
	Psu      domain.PsuIdData
	// Password runs the first stage right away when the approach accepts
	// PSU data.
	Password           string
	RedirectPreferred  *bool
	DecoupledPreferred *bool
}

// UpdatePsuDataRequest advances an authorisation by one stage.
type UpdatePsuDataRequest struct {
	Type                   domain.AuthorisationType
	ParentID               string
	AuthorisationID        string
	Psu                    domain.PsuIdData
	Password               string
	AuthenticationMethodID string
	ScaAuthenticationData  string
}

// IdentificationOnly reports whether the request carries nothing but PSU
// identification. Such a request only identifies the PSU, whatever the
// authorisation status.
func (r UpdatePsuDataRequest) IdentificationOnly() bool {
	return !r.Psu.IsEmpty() && r.Password == "" && r.AuthenticationMethodID == "" && r.ScaAuthenticationData == ""
}

func (r UpdatePsuDataRequest) payload() processor.Payload {
	return processor.Payload{
		UpdatePsuIdentification: r.IdentificationOnly(),
		PsuData:                 r.Psu,
		Password:                r.Password,
		AuthenticationMethodID:  r.AuthenticationMethodID,
		ScaAuthenticationData:   r.ScaAuthenticationData,
	}
}

// AuthorisationResponse describes an authorisation after a request.
// ErrorHolder is set when the stage failed at the bank.
type AuthorisationResponse struct {
	AuthorisationID     string
	ParentID            string
	Type                domain.AuthorisationType
	ScaStatus           domain.ScaStatus
	ScaApproach         domain.ScaApproach
	PsuData             domain.PsuIdData
	ChosenScaMethod     *domain.AuthenticationObject
	AvailableScaMethods []domain.AuthenticationObject
	ChallengeData       *domain.ChallengeData
	PsuMessage          string
	RedirectURI         string
	NokRedirectURI      string
	ErrorHolder         *domain.ErrorHolder
}

func newAuthorisationResponse(auth *domain.Authorisation, stageResp *processor.Response) *AuthorisationResponse {
	resp := &AuthorisationResponse{
		AuthorisationID: auth.ID().String(),
		ParentID:        auth.ParentID(),
		Type:            auth.Type(),
		ScaStatus:       auth.ScaStatus(),
		ScaApproach:     auth.ScaApproach(),
		PsuData:         auth.PsuData(),
		RedirectURI:     auth.RedirectURI(),
		NokRedirectURI:  auth.NokRedirectURI(),
	}
	if m, ok := auth.ChosenScaMethod(); ok {
		resp.ChosenScaMethod = &m
	}
	if stageResp != nil {
		resp.AvailableScaMethods = stageResp.AvailableScaMethods
		resp.ChallengeData = stageResp.ChallengeData
		resp.PsuMessage = stageResp.PsuMessage
		resp.ErrorHolder = stageResp.ErrorHolder
	}
	return resp
}

func refusal(service domain.ServiceType, code domain.MessageErrorCode) *domain.ErrorHolder {
	return errormapper.Holder(service, code)
}

// loadParent returns the payment or consent an authorisation type belongs to.
// Unknown or malformed ids are refused with the 403 code of the service.
func loadParent(ctx context.Context, repos domain.Repositories, t domain.AuthorisationType, parentID string) (domain.ParentObject, error) {
	service := t.ServiceType()
	switch service {
	case domain.ServiceTypePIS:
		id, err := domain.ParsePaymentID(parentID)
		if err != nil {
			return nil, refusal(service, domain.CodeResourceUnknown403)
		}
		p, err := repos.Payments().FindByID(ctx, id)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, refusal(service, domain.CodeResourceUnknown403)
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		id, err := domain.ParseConsentID(parentID)
		if err != nil {
			return nil, refusal(service, domain.CodeConsentUnknown403)
		}
		c, err := repos.Consents().FindByID(ctx, id)
		if errors.Is(err, domain.ErrConsentNotFound) {
			return nil, refusal(service, domain.CodeConsentUnknown403)
		}
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// loadAuthorisation returns the authorisation and its strategy, refusing ids
// that are unknown or belong to another parent or type.
func (s *AuthorisationService) loadAuthorisation(ctx context.Context, repos domain.Repositories, t domain.AuthorisationType, parentID, authorisationID string) (strategy.Strategy, *domain.Authorisation, error) {
	service := t.ServiceType()
	id, err := domain.ParseAuthorisationID(authorisationID)
	if err != nil {
		return nil, nil, refusal(service, domain.CodeResourceUnknown403)
	}
	st, auth, err := s.registry.ResolveByAuthorisationID(ctx, repos.Authorisations(), id)
	if errors.Is(err, domain.ErrAuthorisationNotFound) {
		return nil, nil, refusal(service, domain.CodeResourceUnknown403)
	}
	if err != nil {
		return nil, nil, err
	}
	if auth.Type() != t || !strings.EqualFold(auth.ParentID(), parentID) {
		return nil, nil, refusal(service, domain.CodeResourceUnknown403)
	}
	return st, auth, nil
}

// expire applies confirmation expiration to parent and reports whether the
// parent can no longer be authorised.
func (s *AuthorisationService) expire(ctx context.Context, repos domain.Repositories, parent domain.ParentObject) (bool, error) {
	if _, err := s.checker.CheckAndUpdateOnConfirmationExpiration(ctx, repos, parent); err != nil {
		return false, err
	}
	return parent.IsRejected(), nil
}

// CreateAuthorisation creates an authorisation with the approach chosen from
// the TPP preferences and runs the first stage when a password is supplied.
func (s *AuthorisationService) CreateAuthorisation(ctx context.Context, req CreateAuthorisationRequest) (*AuthorisationResponse, error) {
	service := req.Type.ServiceType()
	var result *AuthorisationResponse
	var refused *domain.ErrorHolder

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		parent, err := loadParent(ctx, repos, req.Type, req.ParentID)
		if err != nil {
			return err
		}

		rejected, err := s.expire(ctx, repos, parent)
		if err != nil {
			return err
		}
		if rejected {
			refused = refusal(service, domain.CodeResourceExpired403)
			return nil
		}

		if err := validateParentStatus(req.Type, parent); err != nil {
			return err
		}
		if err := s.admitPsu(ctx, repos, parent, req.Psu); err != nil {
			return err
		}

		approach := s.registry.SelectApproach(req.RedirectPreferred, req.DecoupledPreferred)
		st, err := s.registry.Resolve(req.Type, approach)
		if err != nil {
			return err
		}

		auth, err := st.CreateAuthorisation(ctx, repos, parent, req.Psu)
		if errors.Is(err, strategy.ErrNotApplicable) {
			return refusal(service, domain.CodeServiceInvalid405)
		}
		if err != nil {
			return err
		}

		var stageResp *processor.Response
		if req.Password != "" && st.AcceptsPsuData() {
			stageResp, err = st.UpdatePsuData(ctx, repos, processor.NewRequest(auth, processor.Payload{
				PsuData:  req.Psu,
				Password: req.Password,
			}))
			if err != nil {
				return err
			}
		}

		result = newAuthorisationResponse(auth, stageResp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refused != nil {
		logging.InfoContext(ctx, "Authorisation refused, parent expired",
			"parent_id", req.ParentID,
			"authorisation_type", string(req.Type),
		)
		return nil, refused
	}
	return result, nil
}

func validateParentStatus(t domain.AuthorisationType, parent domain.ParentObject) error {
	service := t.ServiceType()
	switch t {
	case domain.AuthorisationTypePISCancellation:
		if p, ok := parent.(*domain.Payment); ok && p.TransactionStatus().IsFinal() {
			return refusal(service, domain.CodeStatusInvalid)
		}
	default:
		if !parent.AwaitingConfirmation() {
			return refusal(service, domain.CodeStatusInvalid)
		}
	}
	return nil
}

// admitPsu checks psu against the PSUs of parent. A new PSU is added to a
// multilevel object and refused otherwise.
func (s *AuthorisationService) admitPsu(ctx context.Context, repos domain.Repositories, parent domain.ParentObject, psu domain.PsuIdData) error {
	if psu.IsEmpty() {
		return nil
	}
	known := parent.PsuDataList()
	if domain.ContainsPsu(known, psu) {
		return nil
	}
	if len(known) > 0 && !parent.MultilevelScaRequired() {
		return refusal(parent.ServiceType(), domain.CodePsuCredentialsInvalid)
	}

	switch o := parent.(type) {
	case *domain.Payment:
		o.AddPsu(psu)
		return repos.Payments().Save(ctx, o)
	case *domain.Consent:
		o.AddPsu(psu)
		return repos.Consents().Save(ctx, o)
	}
	return nil
}

// UpdatePsuData advances an authorisation by one stage.
func (s *AuthorisationService) UpdatePsuData(ctx context.Context, req UpdatePsuDataRequest) (*AuthorisationResponse, error) {
	service := req.Type.ServiceType()
	var result *AuthorisationResponse
	var refused *domain.ErrorHolder

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		st, auth, err := s.loadAuthorisation(ctx, repos, req.Type, req.ParentID, req.AuthorisationID)
		if err != nil {
			return err
		}
		parent, err := loadParent(ctx, repos, req.Type, req.ParentID)
		if err != nil {
			return err
		}

		rejected, err := s.expire(ctx, repos, parent)
		if err != nil {
			return err
		}
		if rejected {
			refused = refusal(service, domain.CodeResourceExpired403)
			return nil
		}

		// expiration may have failed the stored copy
		if auth, err = repos.Authorisations().FindByID(ctx, auth.ID()); err != nil {
			return err
		}
		if auth.IsFinal() {
			return refusal(service, domain.CodeStatusInvalid)
		}
		if err := s.checkPsu(ctx, repos, auth, parent, req.Psu); err != nil {
			return err
		}
		if err := validatePayload(auth, req); err != nil {
			return err
		}
		if !st.AcceptsPsuData() {
			return refusal(service, domain.CodeServiceInvalid405)
		}

		stageResp, err := st.UpdatePsuData(ctx, repos, processor.NewRequest(auth, req.payload()))
		if err != nil {
			return err
		}
		if stageResp == nil {
			return refusal(service, domain.CodeStatusInvalid)
		}

		result = newAuthorisationResponse(auth, stageResp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refused != nil {
		return nil, refused
	}
	return result, nil
}

// checkPsu refuses a request made for a PSU other than the one the
// authorisation was started for. A PSU claiming an authorisation started
// without one is admitted to the object like a PSU starting a new one.
func (s *AuthorisationService) checkPsu(ctx context.Context, repos domain.Repositories, auth *domain.Authorisation, parent domain.ParentObject, psu domain.PsuIdData) error {
	if psu.IsEmpty() {
		return nil
	}
	if current := auth.PsuData(); !current.IsEmpty() {
		if !current.SamePsu(psu) {
			return refusal(auth.ServiceType(), domain.CodePsuCredentialsInvalid)
		}
		return nil
	}
	return s.admitPsu(ctx, repos, parent, psu)
}

// validatePayload checks that the request carries what the current status
// needs.
func validatePayload(auth *domain.Authorisation, req UpdatePsuDataRequest) error {
	service := auth.ServiceType()
	formatError := refusal(service, domain.CodeFormatError)

	switch auth.ScaStatus() {
	case domain.ScaStatusReceived, domain.ScaStatusPsuIdentified:
		if req.IdentificationOnly() {
			return nil
		}
		if req.Password == "" {
			return formatError
		}
		if auth.PsuData().IsEmpty() && req.Psu.IsEmpty() {
			return formatError
		}
	case domain.ScaStatusPsuAuthenticated:
		if req.AuthenticationMethodID == "" {
			return formatError
		}
	case domain.ScaStatusScaMethodSelected:
		// the update only asks the bank for a code
		if req.Password != "" || req.ScaAuthenticationData != "" {
			return formatError
		}
		if chosen, _ := auth.ChosenScaMethod(); req.AuthenticationMethodID != "" && req.AuthenticationMethodID != chosen.MethodID {
			return formatError
		}
	case domain.ScaStatusStarted:
		chosen, _ := auth.ChosenScaMethod()
		decoupled := auth.ScaApproach() == domain.ScaApproachDecoupled || chosen.Decoupled
		if !decoupled && req.ScaAuthenticationData == "" {
			return formatError
		}
	}
	return nil
}

// GetScaStatus returns the current status after applying expiration.
func (s *AuthorisationService) GetScaStatus(ctx context.Context, t domain.AuthorisationType, parentID, authorisationID string) (domain.ScaStatus, error) {
	var status domain.ScaStatus
	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		_, auth, err := s.loadAuthorisation(ctx, repos, t, parentID, authorisationID)
		if err != nil {
			return err
		}
		parent, err := loadParent(ctx, repos, t, parentID)
		if err != nil {
			return err
		}
		expired, err := s.checker.CheckAndUpdateOnConfirmationExpiration(ctx, repos, parent)
		if err != nil {
			return err
		}
		if expired {
			if auth, err = repos.Authorisations().FindByID(ctx, auth.ID()); err != nil {
				return err
			}
		}
		status = auth.ScaStatus()
		return nil
	})
	return status, err
}

// GetAuthorisationIDs lists the authorisations of type t on a parent.
func (s *AuthorisationService) GetAuthorisationIDs(ctx context.Context, t domain.AuthorisationType, parentID string) ([]string, error) {
	var ids []string
	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		parent, err := loadParent(ctx, repos, t, parentID)
		if err != nil {
			return err
		}
		if _, err := s.checker.CheckAndUpdateOnConfirmationExpiration(ctx, repos, parent); err != nil {
			return err
		}
		auths, err := repos.Authorisations().FindByParentID(ctx, parent.ExternalID(), t)
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(auths))
		for _, a := range auths {
			ids = append(ids, a.ID().String())
		}
		return nil
	})
	return ids, err
}

// UpdateStatusFromAspsp records the outcome of a redirect or decoupled
// authorisation reported by the ASPSP. Only finalised and failed are
// accepted.
func (s *AuthorisationService) UpdateStatusFromAspsp(ctx context.Context, authorisationID string, status domain.ScaStatus) (*AuthorisationResponse, error) {
	var result *AuthorisationResponse
	var refused *domain.ErrorHolder

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		id, err := domain.ParseAuthorisationID(authorisationID)
		if err != nil {
			return refusal(domain.ServiceTypePIS, domain.CodeResourceUnknown404)
		}
		auth, err := repos.Authorisations().FindByID(ctx, id)
		if errors.Is(err, domain.ErrAuthorisationNotFound) {
			return refusal(domain.ServiceTypePIS, domain.CodeResourceUnknown404)
		}
		if err != nil {
			return err
		}
		service := auth.ServiceType()

		parent, err := loadParent(ctx, repos, auth.Type(), auth.ParentID())
		if err != nil {
			return err
		}
		rejected, err := s.expire(ctx, repos, parent)
		if err != nil {
			return err
		}
		if rejected {
			refused = refusal(service, domain.CodeResourceExpired403)
			return nil
		}

		if status != domain.ScaStatusFinalised && status != domain.ScaStatusFailed {
			return refusal(service, domain.CodeFormatError)
		}
		if a := auth.ScaApproach(); a != domain.ScaApproachRedirect && a != domain.ScaApproachDecoupled {
			return refusal(service, domain.CodeServiceInvalid405)
		}
		if auth, err = repos.Authorisations().FindByID(ctx, id); err != nil {
			return err
		}
		if auth.IsFinal() {
			return refusal(service, domain.CodeStatusInvalid)
		}

		svc, ok := s.stages[auth.Type()]
		if !ok {
			return processor.ErrUnknownAuthorisationType
		}
		stageResp, err := svc.CompleteOutOfBand(ctx, repos, auth, status)
		if err != nil {
			return err
		}

		result = newAuthorisationResponse(auth, stageResp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refused != nil {
		return nil, refused
	}
	return result, nil
}
