package application

import (
	"time"

	"psd2gateway/internal/sca/application/expiration"
	"psd2gateway/internal/sca/application/processor"
	"psd2gateway/internal/sca/application/stage"
	"psd2gateway/internal/sca/application/strategy"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/spi"
)

// Adapters are the bank adapters, one per authorisation type.
type Adapters struct {
	Payments      spi.PaymentAuthorisationSpi
	Cancellations spi.PaymentCancellationSpi
	Consents      spi.AisConsentSpi
}

// Settings configures the engine.
type Settings struct {
	// Approaches lists the enabled SCA approaches; the first is the default.
	Approaches             []domain.ScaApproach
	PaymentExpiration      time.Duration
	ConsentExpiration      time.Duration
	ExemptedProducts       []string
	AisExemptionAllowed    bool
	RedirectURLTemplate    string
	NokRedirectURLTemplate string
	Guard                  *spi.Guard
	Now                    func() time.Time
}

// Engine groups the services exposed to the API.
type Engine struct {
	Authorisations *AuthorisationService
	Initiation     *InitiationService
}

// NewEngine wires stage processors, the processor chain, the strategy
// registry and the expiration checker over store.
func NewEngine(store domain.Store, adapters Adapters, settings Settings) (*Engine, error) {
	now := settings.Now
	if now == nil {
		now = time.Now
	}
	cfg := stage.Config{Guard: settings.Guard, Now: now}

	stages := map[domain.AuthorisationType]stage.Service{
		domain.AuthorisationTypePISCreation:     stage.NewPisProcessor(adapters.Payments, cfg, settings.ExemptedProducts),
		domain.AuthorisationTypePISCancellation: stage.NewPisCancellationProcessor(adapters.Cancellations, cfg, settings.ExemptedProducts),
		domain.AuthorisationTypeAIS:             stage.NewAisProcessor(adapters.Consents, cfg, settings.AisExemptionAllowed),
	}
	byType := make(map[domain.AuthorisationType]processor.Service, len(stages))
	for t, s := range stages {
		byType[t] = s
	}

	registry, err := strategy.NewRegistry(strategy.Options{
		Approaches:          settings.Approaches,
		Chain:               processor.NewChain(processor.NewServices(byType)),
		RedirectURLTemplate: settings.RedirectURLTemplate,
		NokRedirectTemplate: settings.NokRedirectURLTemplate,
		Now:                 now,
	})
	if err != nil {
		return nil, err
	}

	checker := expiration.NewChecker(settings.PaymentExpiration, settings.ConsentExpiration, now)
	return &Engine{
		Authorisations: NewAuthorisationService(store, registry, checker, stages),
		Initiation:     NewInitiationService(store, checker, now),
	}, nil
}
