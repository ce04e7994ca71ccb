package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/common/types"
	"psd2gateway/internal/sca/domain"
)

const insertPayment = `
	INSERT INTO sca.payments (
		id, payment_type, payment_product, amount, currency, creditor_name, creditor_iban,
		transaction_status, psu_data, multilevel_sca_required, version, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	ON CONFLICT (id) DO NOTHING`

const updatePayment = `
	UPDATE sca.payments
	SET transaction_status = $2, psu_data = $3, multilevel_sca_required = $4,
		updated_at = $5, version = version + 1
	WHERE id = $1 AND version = $6`

const selectPayment = `
	SELECT id::text, payment_type, payment_product, amount, currency, creditor_name, creditor_iban,
		transaction_status, psu_data, multilevel_sca_required, version, created_at, updated_at
	FROM sca.payments WHERE id = $1 FOR UPDATE`

// PaymentRepository persists payments in sca.payments.
type PaymentRepository struct {
	db Executor
}

// NewPaymentRepository binds the repository to a pool or transaction.
func NewPaymentRepository(db Executor) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// paymentStatement returns the insert or versioned update for p.
func paymentStatement(p *domain.Payment) (string, []any, error) {
	psus, err := encodePsuList(p.PsuDataList())
	if err != nil {
		return "", nil, fmt.Errorf("encode psu_data: %w", err)
	}
	if p.Version() == 0 {
		return insertPayment, []any{
			p.ID().String(),
			string(p.PaymentType()),
			p.PaymentProduct(),
			decimalToNumeric(p.Amount().Amount),
			p.Amount().Currency,
			textFromString(p.CreditorName()),
			textFromString(p.CreditorIBAN()),
			string(p.TransactionStatus()),
			psus,
			p.MultilevelScaRequired(),
			timeToTimestamptz(p.CreatedAt()),
			timeToTimestamptz(p.UpdatedAt()),
		}, nil
	}
	return updatePayment, []any{
		p.ID().String(),
		string(p.TransactionStatus()),
		psus,
		p.MultilevelScaRequired(),
		timeToTimestamptz(p.UpdatedAt()),
		p.Version(),
	}, nil
}

// Save inserts a new payment or updates a loaded one.
// Errors: returns domain.ErrOptimisticLock on version conflict.
func (r *PaymentRepository) Save(ctx context.Context, p *domain.Payment) error {
	sql, args, err := paymentStatement(p)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordOptimisticLockConflict("payments")
		return fmt.Errorf("%w: payment %s", domain.ErrOptimisticLock, p.ID())
	}
	p.MarkSaved()
	return nil
}

// SaveAll writes every payment in one batch round-trip.
// Versions advance only when the whole batch succeeded.
func (r *PaymentRepository) SaveAll(ctx context.Context, payments []*domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range payments {
		sql, args, err := paymentStatement(p)
		if err != nil {
			return err
		}
		batch.Queue(sql, args...)
	}

	if err := execBatch(ctx, r.db, batch, len(payments), "payments"); err != nil {
		return err
	}
	for _, p := range payments {
		p.MarkSaved()
	}
	return nil
}

// FindByID loads a payment and locks its row for the rest of the transaction.
// Errors: returns domain.ErrPaymentNotFound when missing and
// domain.ErrCorruptData when stored values cannot be decoded.
func (r *PaymentRepository) FindByID(ctx context.Context, id domain.PaymentID) (*domain.Payment, error) {
	var (
		rawID, paymentType, product, currency, status string
		amount                                        pgtype.Numeric
		creditorName, creditorIBAN                    pgtype.Text
		psuRaw                                        []byte
		multilevel                                    bool
		version                                       int
		createdAt, updatedAt                          pgtype.Timestamptz
	)
	err := r.db.QueryRow(ctx, selectPayment, id.String()).Scan(
		&rawID, &paymentType, &product, &amount, &currency, &creditorName, &creditorIBAN,
		&status, &psuRaw, &multilevel, &version, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	paymentID, err := domain.ParsePaymentID(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	pt := domain.PaymentType(paymentType)
	if !pt.IsValid() {
		return nil, fmt.Errorf("%w: invalid payment_type %q", domain.ErrCorruptData, paymentType)
	}
	value, err := numericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount: %v", domain.ErrCorruptData, err)
	}
	psus, err := decodePsuList(psuRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid psu_data: %v", domain.ErrCorruptData, err)
	}
	created, err := timestamptzToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	updated, err := timestamptzToTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid updated_at: %v", domain.ErrCorruptData, err)
	}

	return domain.ReconstructPayment(
		paymentID,
		pt,
		product,
		types.NewMoney(value, currency),
		creditorName.String,
		creditorIBAN.String,
		domain.TransactionStatus(status),
		psus,
		multilevel,
		created,
		updated,
		version,
	), nil
}

// execBatch sends batch and expects every statement to touch one row.
func execBatch(ctx context.Context, db Executor, batch *pgx.Batch, n int, repository string) (err error) {
	results := db.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); err == nil {
			err = closeErr
		}
	}()

	for i := 0; i < n; i++ {
		tag, err := results.Exec()
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			metrics.RecordOptimisticLockConflict(repository)
			return fmt.Errorf("%w: %s batch entry %d", domain.ErrOptimisticLock, repository, i)
		}
	}
	return nil
}

// Verify interface implementation.
var _ domain.PaymentRepository = (*PaymentRepository)(nil)
