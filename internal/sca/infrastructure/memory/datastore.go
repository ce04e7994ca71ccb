package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/domain"
)

// entity is what the store needs from an aggregate: a version for the
// optimistic check and a deep copy so callers never share stored state.
type entity[T any] interface {
	Version() int
	MarkSaved()
	Clone() T
}

// DataStore implements domain.AtomicExecutor and domain.Repositories in memory.
// Writes use the same version check as the postgres store.
// Concurrency: all access is guarded by a mutex; Atomic holds it for the
// whole callback, which serializes transitions per authorisation id.
type DataStore struct {
	mu             sync.RWMutex
	authorisations map[string]*domain.Authorisation
	payments       map[string]*domain.Payment
	consents       map[string]*domain.Consent

	authorisationRepo *AuthorisationRepository
	paymentRepo       *PaymentRepository
	consentRepo       *ConsentRepository
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		authorisations: make(map[string]*domain.Authorisation),
		payments:       make(map[string]*domain.Payment),
		consents:       make(map[string]*domain.Consent),
	}

	ds.authorisationRepo = &AuthorisationRepository{store: ds}
	ds.paymentRepo = &PaymentRepository{store: ds}
	ds.consentRepo = &ConsentRepository{store: ds}

	return ds
}

// Authorisations returns the authorisation repository.
func (ds *DataStore) Authorisations() domain.AuthorisationRepository {
	return ds.authorisationRepo
}

// Payments returns the payment repository.
func (ds *DataStore) Payments() domain.PaymentRepository {
	return ds.paymentRepo
}

// Consents returns the consent repository.
func (ds *DataStore) Consents() domain.ConsentRepository {
	return ds.consentRepo
}

// Atomic executes the callback atomically.
// It locks the store, runs the callback against staged maps, and commits
// staged changes only if the callback succeeds.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx := &transactionalDataStore{
		parent:               ds,
		stagedAuthorisations: make(map[string]*domain.Authorisation),
		stagedPayments:       make(map[string]*domain.Payment),
		stagedConsents:       make(map[string]*domain.Consent),
	}

	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.stagedAuthorisations {
		ds.authorisations[k] = v
	}
	for k, v := range tx.stagedPayments {
		ds.payments[k] = v
	}
	for k, v := range tx.stagedConsents {
		ds.consents[k] = v
	}

	return nil
}

// stage writes e into staged after checking its version against the latest
// copy in staged or committed.
func stage[T entity[T]](staged, committed map[string]T, key string, e T, repository string) error {
	current, ok := staged[key]
	if !ok {
		current, ok = committed[key]
	}
	if (ok && current.Version() != e.Version()) || (!ok && e.Version() != 0) {
		metrics.RecordOptimisticLockConflict(repository)
		return fmt.Errorf("%w: %s %s", domain.ErrOptimisticLock, repository, key)
	}
	e.MarkSaved()
	staged[key] = e.Clone()
	return nil
}

// lookup returns a copy of the staged or committed entity.
func lookup[T entity[T]](staged, committed map[string]T, key string) (T, bool) {
	if e, ok := staged[key]; ok {
		return e.Clone(), true
	}
	if e, ok := committed[key]; ok {
		return e.Clone(), true
	}
	var zero T
	return zero, false
}

func authorisationsOf(staged, committed map[string]*domain.Authorisation, parentID string, types []domain.AuthorisationType) []*domain.Authorisation {
	var out []*domain.Authorisation
	for key, a := range committed {
		if _, ok := staged[key]; ok {
			continue
		}
		if matchesParent(a, parentID, types) {
			out = append(out, a.Clone())
		}
	}
	for _, a := range staged {
		if matchesParent(a, parentID, types) {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Authorisation) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		if a.ID().String() < b.ID().String() {
			return -1
		}
		return 1
	})
	return out
}

func matchesParent(a *domain.Authorisation, parentID string, types []domain.AuthorisationType) bool {
	if a.ParentID() != parentID {
		return false
	}
	return len(types) == 0 || slices.Contains(types, a.Type())
}

// transactionalDataStore provides transaction isolation for memory operations.
type transactionalDataStore struct {
	parent               *DataStore
	stagedAuthorisations map[string]*domain.Authorisation
	stagedPayments       map[string]*domain.Payment
	stagedConsents       map[string]*domain.Consent
}

func (tx *transactionalDataStore) Authorisations() domain.AuthorisationRepository {
	return &txAuthorisationRepository{tx: tx}
}

func (tx *transactionalDataStore) Payments() domain.PaymentRepository {
	return &txPaymentRepository{tx: tx}
}

func (tx *transactionalDataStore) Consents() domain.ConsentRepository {
	return &txConsentRepository{tx: tx}
}

// Transactional repository implementations

type txAuthorisationRepository struct {
	tx *transactionalDataStore
}

func (r *txAuthorisationRepository) Save(ctx context.Context, auth *domain.Authorisation) error {
	return stage(r.tx.stagedAuthorisations, r.tx.parent.authorisations, auth.ID().String(), auth, "authorisations")
}

func (r *txAuthorisationRepository) FindByID(ctx context.Context, id domain.AuthorisationID) (*domain.Authorisation, error) {
	if auth, ok := lookup(r.tx.stagedAuthorisations, r.tx.parent.authorisations, id.String()); ok {
		return auth, nil
	}
	return nil, domain.ErrAuthorisationNotFound
}

func (r *txAuthorisationRepository) FindByParentID(ctx context.Context, parentID string, types ...domain.AuthorisationType) ([]*domain.Authorisation, error) {
	return authorisationsOf(r.tx.stagedAuthorisations, r.tx.parent.authorisations, parentID, types), nil
}

type txPaymentRepository struct {
	tx *transactionalDataStore
}

func (r *txPaymentRepository) Save(ctx context.Context, payment *domain.Payment) error {
	return stage(r.tx.stagedPayments, r.tx.parent.payments, payment.ID().String(), payment, "payments")
}

func (r *txPaymentRepository) SaveAll(ctx context.Context, payments []*domain.Payment) error {
	for _, p := range payments {
		if err := r.Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *txPaymentRepository) FindByID(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	if p, ok := lookup(r.tx.stagedPayments, r.tx.parent.payments, id.String()); ok {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}

type txConsentRepository struct {
	tx *transactionalDataStore
}

func (r *txConsentRepository) Save(ctx context.Context, consent *domain.Consent) error {
	return stage(r.tx.stagedConsents, r.tx.parent.consents, consent.ID().String(), consent, "consents")
}

func (r *txConsentRepository) SaveAll(ctx context.Context, consents []*domain.Consent) error {
	for _, c := range consents {
		if err := r.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *txConsentRepository) FindByID(ctx context.Context, id domain.ConsentID) (*domain.Consent, error) {
	if c, ok := lookup(r.tx.stagedConsents, r.tx.parent.consents, id.String()); ok {
		return c, nil
	}
	return nil, domain.ErrConsentNotFound
}

// Non-transactional repository implementations (for direct access)

// AuthorisationRepository provides non-transactional access to in-memory authorisations.
type AuthorisationRepository struct {
	store *DataStore
}

// Save stores an authorisation after the version check.
func (r *AuthorisationRepository) Save(ctx context.Context, auth *domain.Authorisation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return stage(r.store.authorisations, r.store.authorisations, auth.ID().String(), auth, "authorisations")
}

// FindByID returns ErrAuthorisationNotFound when missing.
func (r *AuthorisationRepository) FindByID(ctx context.Context, id domain.AuthorisationID) (*domain.Authorisation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if auth, ok := lookup(nil, r.store.authorisations, id.String()); ok {
		return auth, nil
	}
	return nil, domain.ErrAuthorisationNotFound
}

// FindByParentID lists authorisations of a parent, oldest first.
func (r *AuthorisationRepository) FindByParentID(ctx context.Context, parentID string, types ...domain.AuthorisationType) ([]*domain.Authorisation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return authorisationsOf(nil, r.store.authorisations, parentID, types), nil
}

// PaymentRepository provides non-transactional access to in-memory payments.
type PaymentRepository struct {
	store *DataStore
}

// Save stores a payment after the version check.
func (r *PaymentRepository) Save(ctx context.Context, payment *domain.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return stage(r.store.payments, r.store.payments, payment.ID().String(), payment, "payments")
}

// SaveAll stores every payment; it stops at the first conflict.
func (r *PaymentRepository) SaveAll(ctx context.Context, payments []*domain.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range payments {
		if err := stage(r.store.payments, r.store.payments, p.ID().String(), p, "payments"); err != nil {
			return err
		}
	}
	return nil
}

// FindByID returns ErrPaymentNotFound when missing.
func (r *PaymentRepository) FindByID(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if p, ok := lookup(nil, r.store.payments, id.String()); ok {
		return p, nil
	}
	return nil, domain.ErrPaymentNotFound
}

// ConsentRepository provides non-transactional access to in-memory consents.
type ConsentRepository struct {
	store *DataStore
}

// Save stores a consent after the version check.
func (r *ConsentRepository) Save(ctx context.Context, consent *domain.Consent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return stage(r.store.consents, r.store.consents, consent.ID().String(), consent, "consents")
}

// SaveAll stores every consent; it stops at the first conflict.
func (r *ConsentRepository) SaveAll(ctx context.Context, consents []*domain.Consent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, c := range consents {
		if err := stage(r.store.consents, r.store.consents, c.ID().String(), c, "consents"); err != nil {
			return err
		}
	}
	return nil
}

// FindByID returns ErrConsentNotFound when missing.
func (r *ConsentRepository) FindByID(ctx context.Context, id domain.ConsentID) (*domain.Consent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if c, ok := lookup(nil, r.store.consents, id.String()); ok {
		return c, nil
	}
	return nil, domain.ErrConsentNotFound
}

// Verify interface implementations
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ domain.Store          = (*DataStore)(nil)
)
