package application

import (
	"context"
	"errors"
	"time"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/types"
	"psd2gateway/internal/sca/application/errormapper"
	"psd2gateway/internal/sca/application/expiration"
	"psd2gateway/internal/sca/domain"
)

// InitiationService creates payments and consents and reads their status.
// Reads apply confirmation expiration first.
type InitiationService struct {
	store   domain.Store
	checker *expiration.Checker
	now     func() time.Time
}

// NewInitiationService creates a new InitiationService.
// A nil now defaults to time.Now.
func NewInitiationService(store domain.Store, checker *expiration.Checker, now func() time.Time) *InitiationService {
	if now == nil {
		now = time.Now
	}
	return &InitiationService{store: store, checker: checker, now: now}
}

// CreatePaymentRequest initiates a payment.
type CreatePaymentRequest struct {
	PaymentType  domain.PaymentType
	Product      string
	Amount       types.Money
	CreditorName string
	CreditorIBAN string
	Psu          domain.PsuIdData
	Multilevel   bool
}

// CreateConsentRequest initiates an account access consent.
type CreateConsentRequest struct {
	Psu             domain.PsuIdData
	Recurring       bool
	ValidUntil      time.Time
	FrequencyPerDay int
	Multilevel      bool
}

// CreatePayment stores a new payment in RCVD.
func (s *InitiationService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*domain.Payment, error) {
	payment, err := domain.NewPayment(
		req.PaymentType,
		req.Product,
		req.Amount,
		req.CreditorName,
		req.CreditorIBAN,
		req.Psu,
		req.Multilevel,
		s.now(),
	)
	if errors.Is(err, domain.ErrInvalidPaymentType) || errors.Is(err, domain.ErrInvalidAmount) {
		return nil, domain.NewErrorHolder(domain.ServiceTypePIS, domain.CodeFormatError, err.Error())
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.Payments().Save(ctx, payment); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Payment initiated",
		"payment_id", payment.ID().String(),
		"payment_type", string(payment.PaymentType()),
		"multilevel", payment.MultilevelScaRequired(),
	)
	return payment, nil
}

// CreateConsent stores a new consent in received.
func (s *InitiationService) CreateConsent(ctx context.Context, req CreateConsentRequest) (*domain.Consent, error) {
	now := s.now()
	if req.FrequencyPerDay < 1 {
		return nil, domain.NewErrorHolder(domain.ServiceTypeAIS, domain.CodeFormatError, "frequencyPerDay must be at least 1")
	}
	if !req.ValidUntil.IsZero() && !req.ValidUntil.After(now) {
		return nil, domain.NewErrorHolder(domain.ServiceTypeAIS, domain.CodeFormatError, "validUntil must be in the future")
	}

	consent := domain.NewConsent(req.Psu, req.Recurring, req.ValidUntil, req.FrequencyPerDay, req.Multilevel, now)
	if err := s.store.Consents().Save(ctx, consent); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Consent initiated",
		"consent_id", consent.ID().String(),
		"multilevel", consent.MultilevelScaRequired(),
	)
	return consent, nil
}

// GetPayment returns a payment after applying expiration.
// Unknown ids are refused with RESOURCE_UNKNOWN_404.
func (s *InitiationService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	unknown := errormapper.Holder(domain.ServiceTypePIS, domain.CodeResourceUnknown404)
	id, err := domain.ParsePaymentID(paymentID)
	if err != nil {
		return nil, unknown
	}

	var payment *domain.Payment
	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		p, err := repos.Payments().FindByID(ctx, id)
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return unknown
		}
		if err != nil {
			return err
		}
		if _, err := s.checker.CheckAndUpdateOnConfirmationExpiration(ctx, repos, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	return payment, err
}

// GetConsent returns a consent after applying expiration.
// Unknown ids are refused with RESOURCE_UNKNOWN_404.
func (s *InitiationService) GetConsent(ctx context.Context, consentID string) (*domain.Consent, error) {
	unknown := errormapper.Holder(domain.ServiceTypeAIS, domain.CodeResourceUnknown404)
	id, err := domain.ParseConsentID(consentID)
	if err != nil {
		return nil, unknown
	}

	var consent *domain.Consent
	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		c, err := repos.Consents().FindByID(ctx, id)
		if errors.Is(err, domain.ErrConsentNotFound) {
			return unknown
		}
		if err != nil {
			return err
		}
		if _, err := s.checker.CheckAndUpdateOnConfirmationExpiration(ctx, repos, c); err != nil {
			return err
		}
		consent = c
		return nil
	})
	return consent, err
}

// ListPayments returns the known payments among ids after applying
// expiration to all of them in one pass. Unknown and malformed ids are
// skipped.
func (s *InitiationService) ListPayments(ctx context.Context, ids []string) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		var objs []domain.ParentObject
		for _, raw := range ids {
			id, err := domain.ParsePaymentID(raw)
			if err != nil {
				continue
			}
			p, err := repos.Payments().FindByID(ctx, id)
			if errors.Is(err, domain.ErrPaymentNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			payments = append(payments, p)
			objs = append(objs, p)
		}
		_, err := s.checker.UpdateListOnConfirmationExpiration(ctx, repos, objs)
		return err
	})
	return payments, err
}

// ListConsents returns the known consents among ids after applying
// expiration to all of them in one pass. Unknown and malformed ids are
// skipped.
func (s *InitiationService) ListConsents(ctx context.Context, ids []string) ([]*domain.Consent, error) {
	var consents []*domain.Consent
	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		var objs []domain.ParentObject
		for _, raw := range ids {
			id, err := domain.ParseConsentID(raw)
			if err != nil {
				continue
			}
			c, err := repos.Consents().FindByID(ctx, id)
			if errors.Is(err, domain.ErrConsentNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			consents = append(consents, c)
			objs = append(objs, c)
		}
		_, err := s.checker.UpdateListOnConfirmationExpiration(ctx, repos, objs)
		return err
	})
	return consents, err
}
