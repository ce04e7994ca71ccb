package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/domain"
)

// DataStore is the PostgreSQL implementation of domain.Store.
type DataStore struct {
	pool              *pgxpool.Pool
	authorisationRepo *AuthorisationRepository
	paymentRepo       *PaymentRepository
	consentRepo       *ConsentRepository
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		pool:              pool,
		authorisationRepo: NewAuthorisationRepository(pool),
		paymentRepo:       NewPaymentRepository(pool),
		consentRepo:       NewConsentRepository(pool),
	}
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

// withTx creates a DataStore whose repositories share tx.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		pool:              ds.pool,
		authorisationRepo: NewAuthorisationRepository(tx),
		paymentRepo:       NewPaymentRepository(tx),
		consentRepo:       NewConsentRepository(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
// Callback errors are wrapped with %w so protocol refusals survive the rollback.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	start := time.Now()
	tx, err := ds.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
			}
		} else {
			err = tx.Commit(ctx)
			if err != nil {
				err = fmt.Errorf("commit transaction: %w", err)
			}
		}
		metrics.RecordTransactionDuration("atomic", time.Since(start))
	}()

	err = fn(ds.withTx(tx))
	return
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ domain.Store          = (*DataStore)(nil)
)
