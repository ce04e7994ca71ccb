// Package strategy maps an authorisation type and SCA approach to the flow
// that creates and advances authorisations for it.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/application/processor"
	"psd2gateway/internal/sca/domain"
)

var (
	// ErrNotApplicable is returned by operations an approach does not run
	// inside this engine.
	ErrNotApplicable = errors.New("operation not applicable for SCA approach")
	// ErrStrategyNotConfigured means the deployment has no strategy for a
	// type and approach. It is a configuration error.
	ErrStrategyNotConfigured = errors.New("no authorisation strategy configured")
)

// Strategy is the authorisation flow of one approach for one type.
type Strategy interface {
	AuthorisationType() domain.AuthorisationType
	Approach() domain.ScaApproach
	// AcceptsPsuData reports whether PSU data updates are processed in band.
	AcceptsPsuData() bool
	// CreateAuthorisation stores a new RECEIVED authorisation for parent.
	CreateAuthorisation(ctx context.Context, repos domain.Repositories, parent domain.ParentObject, psu domain.PsuIdData) (*domain.Authorisation, error)
	// UpdatePsuData advances the authorisation of req by one stage.
	UpdatePsuData(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error)
}

type base struct {
	authType domain.AuthorisationType
	approach domain.ScaApproach
	now      func() time.Time
}

func (b base) AuthorisationType() domain.AuthorisationType { return b.authType }
func (b base) Approach() domain.ScaApproach                { return b.approach }

func (b base) create(ctx context.Context, repos domain.Repositories, parent domain.ParentObject, psu domain.PsuIdData, prepare func(*domain.Authorisation)) (*domain.Authorisation, error) {
	auth := domain.NewAuthorisation(parent.ExternalID(), b.authType, psu, b.approach, b.now())
	if prepare != nil {
		prepare(auth)
	}
	if err := repos.Authorisations().Save(ctx, auth); err != nil {
		return nil, err
	}

	metrics.RecordAuthorisationCreated(string(b.authType.ServiceType()), string(b.approach))
	logging.InfoContext(ctx, "Authorisation created",
		"authorisation_id", auth.ID().String(),
		"parent_id", parent.ExternalID(),
		"authorisation_type", string(b.authType),
		"sca_approach", string(b.approach),
	)
	return auth, nil
}

// inBand runs PSU data updates through the processor chain. It serves the
// embedded and decoupled approaches; they differ only in how the stage
// processors treat the approach.
type inBand struct {
	base
	chain *processor.Chain
}

func (s inBand) AcceptsPsuData() bool { return true }

func (s inBand) CreateAuthorisation(ctx context.Context, repos domain.Repositories, parent domain.ParentObject, psu domain.PsuIdData) (*domain.Authorisation, error) {
	return s.create(ctx, repos, parent, psu, nil)
}

func (s inBand) UpdatePsuData(ctx context.Context, repos domain.Repositories, req processor.Request) (*processor.Response, error) {
	return s.chain.Process(ctx, repos, req)
}

// redirect hands the PSU to the ASPSP; the outcome arrives through the
// ASPSP status callback.
type redirect struct {
	base
	okTemplate  string
	nokTemplate string
}

func (s redirect) AcceptsPsuData() bool { return false }

func (s redirect) CreateAuthorisation(ctx context.Context, repos domain.Repositories, parent domain.ParentObject, psu domain.PsuIdData) (*domain.Authorisation, error) {
	return s.create(ctx, repos, parent, psu, func(auth *domain.Authorisation) {
		r := strings.NewReplacer(
			"{service}", servicePath(s.authType),
			"{parentId}", parent.ExternalID(),
			"{authorisationId}", auth.ID().String(),
		)
		auth.SetRedirectLinks(r.Replace(s.okTemplate), r.Replace(s.nokTemplate))
	})
}

func (s redirect) UpdatePsuData(context.Context, domain.Repositories, processor.Request) (*processor.Response, error) {
	return nil, ErrNotApplicable
}

// oauth is delegated entirely outside the engine.
type oauth struct {
	base
}

func (s oauth) AcceptsPsuData() bool { return false }

func (s oauth) CreateAuthorisation(context.Context, domain.Repositories, domain.ParentObject, domain.PsuIdData) (*domain.Authorisation, error) {
	return nil, ErrNotApplicable
}

func (s oauth) UpdatePsuData(context.Context, domain.Repositories, processor.Request) (*processor.Response, error) {
	return nil, ErrNotApplicable
}

func servicePath(t domain.AuthorisationType) string {
	switch t {
	case domain.AuthorisationTypePISCancellation:
		return "payment-cancellations"
	case domain.AuthorisationTypeAIS:
		return "consents"
	default:
		return "payments"
	}
}

type key struct {
	authType domain.AuthorisationType
	approach domain.ScaApproach
}

// Registry resolves strategies. It is built once at startup.
type Registry struct {
	strategies map[key]Strategy
	approaches []domain.ScaApproach
}

// Options configures the strategies a registry builds.
type Options struct {
	// Approaches lists the enabled approaches; the first is the default.
	Approaches          []domain.ScaApproach
	Chain               *processor.Chain
	RedirectURLTemplate string
	NokRedirectTemplate string
	Now                 func() time.Time
}

var authorisationTypes = []domain.AuthorisationType{
	domain.AuthorisationTypeAIS,
	domain.AuthorisationTypePISCreation,
	domain.AuthorisationTypePISCancellation,
}

// NewRegistry builds one strategy per enabled approach and authorisation type.
func NewRegistry(opts Options) (*Registry, error) {
	if len(opts.Approaches) == 0 {
		return nil, fmt.Errorf("%w: no SCA approach enabled", ErrStrategyNotConfigured)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{strategies: make(map[key]Strategy)}
	for _, approach := range opts.Approaches {
		if _, dup := r.strategies[key{domain.AuthorisationTypeAIS, approach}]; dup {
			return nil, fmt.Errorf("SCA approach %s enabled twice", approach)
		}
		r.approaches = append(r.approaches, approach)

		for _, t := range authorisationTypes {
			b := base{authType: t, approach: approach, now: now}
			var s Strategy
			switch approach {
			case domain.ScaApproachEmbedded, domain.ScaApproachDecoupled:
				if opts.Chain == nil {
					return nil, fmt.Errorf("%w: %s needs a processor chain", ErrStrategyNotConfigured, approach)
				}
				s = inBand{base: b, chain: opts.Chain}
			case domain.ScaApproachRedirect:
				s = redirect{base: b, okTemplate: opts.RedirectURLTemplate, nokTemplate: opts.NokRedirectTemplate}
			case domain.ScaApproachOAuth:
				s = oauth{base: b}
			default:
				return nil, fmt.Errorf("%w: unknown SCA approach %q", ErrStrategyNotConfigured, approach)
			}
			r.strategies[key{t, approach}] = s
		}
	}
	return r, nil
}

// Resolve returns the strategy for t and approach.
func (r *Registry) Resolve(t domain.AuthorisationType, approach domain.ScaApproach) (Strategy, error) {
	s, ok := r.strategies[key{t, approach}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrStrategyNotConfigured, t, approach)
	}
	return s, nil
}

// ResolveByAuthorisationID loads the authorisation and resolves the
// strategy of its stored approach.
func (r *Registry) ResolveByAuthorisationID(ctx context.Context, repo domain.AuthorisationRepository, id domain.AuthorisationID) (Strategy, *domain.Authorisation, error) {
	auth, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s, err := r.Resolve(auth.Type(), auth.ScaApproach())
	if err != nil {
		return nil, nil, err
	}
	return s, auth, nil
}

// DefaultApproach returns the first enabled approach.
func (r *Registry) DefaultApproach() domain.ScaApproach {
	return r.approaches[0]
}

// Enabled reports whether approach is configured.
func (r *Registry) Enabled(approach domain.ScaApproach) bool {
	_, ok := r.strategies[key{domain.AuthorisationTypeAIS, approach}]
	return ok
}

// SelectApproach picks the approach for a new authorisation from the TPP
// preferences. A preference for a disabled approach is ignored.
func (r *Registry) SelectApproach(redirectPreferred, decoupledPreferred *bool) domain.ScaApproach {
	if decoupledPreferred != nil && *decoupledPreferred && r.Enabled(domain.ScaApproachDecoupled) {
		return domain.ScaApproachDecoupled
	}
	if redirectPreferred != nil {
		if *redirectPreferred && r.Enabled(domain.ScaApproachRedirect) {
			return domain.ScaApproachRedirect
		}
		if !*redirectPreferred && r.DefaultApproach() == domain.ScaApproachRedirect {
			for _, a := range r.approaches {
				if a == domain.ScaApproachEmbedded || a == domain.ScaApproachDecoupled {
					return a
				}
			}
		}
	}
	return r.DefaultApproach()
}
