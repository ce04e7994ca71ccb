package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"psd2gateway/internal/common/types"
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/infrastructure/postgres"
)

// DataStoreSuite tests DataStore transaction behavior against a real Postgres instance.
//
// Justification: commit/rollback semantics, panic handling and row locking
// between concurrent transactions need real database behavior.
type DataStoreSuite struct {
	suite.Suite
	ctx       context.Context
	dataStore *postgres.DataStore
	now       time.Time
}

func TestDataStoreSuite(t *testing.T) {
	suite.Run(t, new(DataStoreSuite))
}

func (s *DataStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(truncateTables(s.ctx, getTestPool()))
	s.dataStore = postgres.NewDataStore(getTestPool())
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *DataStoreSuite) newPayment() *domain.Payment {
	p, err := domain.NewPayment(domain.PaymentTypeSingle, "sepa-credit-transfers", types.NewMoneyFromInt(75, types.CurrencyEUR),
		"Creditor", "DE89370400440532013000", domain.PsuIdData{ID: "alice"}, false, s.now)
	s.Require().NoError(err)
	return p
}

func (s *DataStoreSuite) TestTransactionBehavior() {
	s.Run("successful callback commits all changes", func() {
		p := s.newPayment()
		auth := domain.NewAuthorisation(p.ExternalID(), domain.AuthorisationTypePISCreation, domain.PsuIdData{ID: "alice"}, domain.ScaApproachEmbedded, s.now)

		err := s.dataStore.Atomic(s.ctx, func(repos domain.Repositories) error {
			if err := repos.Payments().Save(s.ctx, p); err != nil {
				return err
			}
			return repos.Authorisations().Save(s.ctx, auth)
		})
		s.Require().NoError(err)

		_, err = s.dataStore.Payments().FindByID(s.ctx, p.ID())
		s.Require().NoError(err)
		found, err := s.dataStore.Authorisations().FindByID(s.ctx, auth.ID())
		s.Require().NoError(err)
		s.Equal(1, found.Version())
	})

	s.Run("error in callback rolls back all changes", func() {
		p := s.newPayment()
		testErr := errors.New("simulated failure")

		err := s.dataStore.Atomic(s.ctx, func(repos domain.Repositories) error {
			if err := repos.Payments().Save(s.ctx, p); err != nil {
				return err
			}
			return testErr
		})
		s.ErrorIs(err, testErr)

		_, err = s.dataStore.Payments().FindByID(s.ctx, p.ID())
		s.ErrorIs(err, domain.ErrPaymentNotFound)
	})

	s.Run("protocol refusals survive the rollback", func() {
		refusal := domain.NewErrorHolder(domain.ServiceTypePIS, domain.CodeStatusInvalid, "")

		err := s.dataStore.Atomic(s.ctx, func(repos domain.Repositories) error {
			return refusal
		})

		var holder *domain.ErrorHolder
		s.Require().ErrorAs(err, &holder)
		s.Equal(domain.CodeStatusInvalid, holder.Code())
	})

	s.Run("panic in callback rolls back and re-panics", func() {
		p := s.newPayment()

		s.Panics(func() {
			_ = s.dataStore.Atomic(s.ctx, func(repos domain.Repositories) error {
				if err := repos.Payments().Save(s.ctx, p); err != nil {
					return err
				}
				panic("simulated panic")
			})
		})

		_, err := s.dataStore.Payments().FindByID(s.ctx, p.ID())
		s.ErrorIs(err, domain.ErrPaymentNotFound)
	})
}

func (s *DataStoreSuite) TestConcurrentTransitionsAreSerialized() {
	p := s.newPayment()
	s.Require().NoError(s.dataStore.Payments().Save(s.ctx, p))
	auth := domain.NewAuthorisation(p.ExternalID(), domain.AuthorisationTypePISCreation, domain.PsuIdData{ID: "alice"}, domain.ScaApproachEmbedded, s.now)
	s.Require().NoError(s.dataStore.Authorisations().Save(s.ctx, auth))

	const goroutines = 10
	errTerminal := errors.New("already terminal")

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var terminalCount atomic.Int32

	for range goroutines {
		wg.Go(func() {
			err := s.dataStore.Atomic(s.ctx, func(repos domain.Repositories) error {
				a, err := repos.Authorisations().FindByID(s.ctx, auth.ID())
				if err != nil {
					return err
				}
				if a.IsFinal() {
					return errTerminal
				}
				if err := a.TransitionTo(domain.ScaStatusFinalised, time.Now()); err != nil {
					return err
				}
				return repos.Authorisations().Save(s.ctx, a)
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, errTerminal):
				terminalCount.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one transaction finalises")
	s.Equal(int32(goroutines-1), terminalCount.Load(), "the others observe the terminal status")

	final, err := s.dataStore.Authorisations().FindByID(s.ctx, auth.ID())
	s.Require().NoError(err)
	s.Equal(domain.ScaStatusFinalised, final.ScaStatus())
	s.Equal(2, final.Version())
}

func (s *DataStoreSuite) TestRepositoryAccess() {
	err := s.dataStore.Atomic(s.ctx, func(repos domain.Repositories) error {
		s.NotNil(repos.Authorisations())
		s.NotNil(repos.Payments())
		s.NotNil(repos.Consents())
		return nil
	})
	s.Require().NoError(err)
}
