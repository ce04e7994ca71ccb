package domain

import "context"

// AuthorisationRepository defines the interface for authorisation persistence.
type AuthorisationRepository interface {
	// Save inserts or updates an authorisation.
	// Returns ErrOptimisticLock if the stored version moved since it was loaded.
	Save(ctx context.Context, auth *Authorisation) error
	// FindByID returns ErrAuthorisationNotFound when no record exists.
	FindByID(ctx context.Context, id AuthorisationID) (*Authorisation, error)
	// FindByParentID lists authorisations of a parent, oldest first, limited
	// to the given types when any are passed.
	FindByParentID(ctx context.Context, parentID string, types ...AuthorisationType) ([]*Authorisation, error)
}

// PaymentRepository defines the interface for payment persistence.
type PaymentRepository interface {
	Save(ctx context.Context, payment *Payment) error
	// SaveAll writes every payment in one bulk operation.
	SaveAll(ctx context.Context, payments []*Payment) error
	// FindByID returns ErrPaymentNotFound when no record exists.
	FindByID(ctx context.Context, id PaymentID) (*Payment, error)
}

// ConsentRepository defines the interface for consent persistence.
type ConsentRepository interface {
	Save(ctx context.Context, consent *Consent) error
	// SaveAll writes every consent in one bulk operation.
	SaveAll(ctx context.Context, consents []*Consent) error
	// FindByID returns ErrConsentNotFound when no record exists.
	FindByID(ctx context.Context, id ConsentID) (*Consent, error)
}

// Repositories provides access to all repositories within a transaction.
type Repositories interface {
	Authorisations() AuthorisationRepository
	Payments() PaymentRepository
	Consents() ConsentRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor runs a callback against repositories sharing one transaction.
// Every SCA transition reads and writes the authorisation and its parent
// inside a single Atomic call, which gives the per-id serialization the
// engine relies on.
type AtomicExecutor interface {
	// Atomic commits when fn returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn AtomicCallback) error
}

// Store is what services need from a datastore.
type Store interface {
	AtomicExecutor
	Repositories
}
