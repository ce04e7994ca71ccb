// Package expiration rejects payments and consents whose SCA was not
// confirmed within the configured window. The check runs lazily on every
// read and authorisation path; there is no background sweep.
package expiration

import (
	"context"
	"fmt"
	"time"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/domain"
)

// Checker evaluates and applies confirmation expiration.
type Checker struct {
	windows map[domain.ServiceType]time.Duration
	now     func() time.Time
}

// NewChecker creates a checker with one window per service.
// A nil now defaults to time.Now.
func NewChecker(paymentWindow, consentWindow time.Duration, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{
		windows: map[domain.ServiceType]time.Duration{
			domain.ServiceTypePIS: paymentWindow,
			domain.ServiceTypeAIS: consentWindow,
		},
		now: now,
	}
}

// IsExpired reports whether obj is still awaiting confirmation and its
// window has strictly elapsed. A missing object is never expired.
func (c *Checker) IsExpired(obj domain.ParentObject) bool {
	if obj == nil || !obj.AwaitingConfirmation() {
		return false
	}
	window, ok := c.windows[obj.ServiceType()]
	if !ok {
		return false
	}
	return c.now().Sub(obj.CreatedAt()) > window
}

// CheckAndUpdateOnConfirmationExpiration rejects an expired obj, fails its
// non-terminal authorisations and persists both. obj is updated in place.
// Reports whether obj expired.
func (c *Checker) CheckAndUpdateOnConfirmationExpiration(ctx context.Context, repos domain.Repositories, obj domain.ParentObject) (bool, error) {
	if !c.IsExpired(obj) {
		return false, nil
	}

	now := c.now()
	if err := c.expire(ctx, repos, obj, now); err != nil {
		return false, err
	}

	switch o := obj.(type) {
	case *domain.Payment:
		if err := repos.Payments().Save(ctx, o); err != nil {
			return false, err
		}
	case *domain.Consent:
		if err := repos.Consents().Save(ctx, o); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unsupported parent object %T", obj)
	}

	return true, nil
}

// UpdateListOnConfirmationExpiration applies expiration to every object in
// objs and writes the rejected ones with one bulk save per object kind.
// Returns the number of expired objects.
func (c *Checker) UpdateListOnConfirmationExpiration(ctx context.Context, repos domain.Repositories, objs []domain.ParentObject) (int, error) {
	now := c.now()

	var payments []*domain.Payment
	var consents []*domain.Consent
	for _, obj := range objs {
		if !c.IsExpired(obj) {
			continue
		}
		if err := c.expire(ctx, repos, obj, now); err != nil {
			return 0, err
		}
		switch o := obj.(type) {
		case *domain.Payment:
			payments = append(payments, o)
		case *domain.Consent:
			consents = append(consents, o)
		default:
			return 0, fmt.Errorf("unsupported parent object %T", obj)
		}
	}

	if len(payments) > 0 {
		if err := repos.Payments().SaveAll(ctx, payments); err != nil {
			return 0, err
		}
	}
	if len(consents) > 0 {
		if err := repos.Consents().SaveAll(ctx, consents); err != nil {
			return 0, err
		}
	}

	return len(payments) + len(consents), nil
}

func (c *Checker) expire(ctx context.Context, repos domain.Repositories, obj domain.ParentObject, now time.Time) error {
	auths, err := repos.Authorisations().FindByParentID(ctx, obj.ExternalID(), obj.AuthorisationTypes()...)
	if err != nil {
		return err
	}

	service := string(obj.ServiceType())
	failed := 0
	for _, auth := range auths {
		from := auth.ScaStatus()
		if !auth.Fail(now) {
			continue
		}
		if err := repos.Authorisations().Save(ctx, auth); err != nil {
			return err
		}
		metrics.RecordScaTransition(service, from.String(), auth.ScaStatus().String())
		failed++
	}

	obj.RejectOnExpiration(now)
	metrics.RecordConfirmationExpired(service)

	logging.InfoContext(ctx, "SCA confirmation window elapsed",
		"parent_id", obj.ExternalID(),
		"service", service,
		"failed_authorisations", failed,
	)
	return nil
}
