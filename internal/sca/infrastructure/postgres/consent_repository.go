package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/domain"
)

const insertConsent = `
	INSERT INTO sca.consents (
		id, consent_status, recurring_indicator, valid_until, frequency_per_day,
		psu_data, multilevel_sca_required, version, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	ON CONFLICT (id) DO NOTHING`

const updateConsent = `
	UPDATE sca.consents
	SET consent_status = $2, psu_data = $3, multilevel_sca_required = $4,
		updated_at = $5, version = version + 1
	WHERE id = $1 AND version = $6`

const selectConsent = `
	SELECT id::text, consent_status, recurring_indicator, valid_until, frequency_per_day,
		psu_data, multilevel_sca_required, version, created_at, updated_at
	FROM sca.consents WHERE id = $1 FOR UPDATE`

// ConsentRepository persists consents in sca.consents.
type ConsentRepository struct {
	db Executor
}

// NewConsentRepository binds the repository to a pool or transaction.
func NewConsentRepository(db Executor) *ConsentRepository {
	return &ConsentRepository{db: db}
}

func consentStatement(c *domain.Consent) (string, []any, error) {
	psus, err := encodePsuList(c.PsuDataList())
	if err != nil {
		return "", nil, fmt.Errorf("encode psu_data: %w", err)
	}
	if c.Version() == 0 {
		return insertConsent, []any{
			c.ID().String(),
			string(c.ConsentStatus()),
			c.RecurringIndicator(),
			timeToTimestamptz(c.ValidUntil()),
			c.FrequencyPerDay(),
			psus,
			c.MultilevelScaRequired(),
			timeToTimestamptz(c.CreatedAt()),
			timeToTimestamptz(c.UpdatedAt()),
		}, nil
	}
	return updateConsent, []any{
		c.ID().String(),
		string(c.ConsentStatus()),
		psus,
		c.MultilevelScaRequired(),
		timeToTimestamptz(c.UpdatedAt()),
		c.Version(),
	}, nil
}

// Save inserts a new consent or updates a loaded one.
// Errors: returns domain.ErrOptimisticLock on version conflict.
func (r *ConsentRepository) Save(ctx context.Context, c *domain.Consent) error {
	sql, args, err := consentStatement(c)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordOptimisticLockConflict("consents")
		return fmt.Errorf("%w: consent %s", domain.ErrOptimisticLock, c.ID())
	}
	c.MarkSaved()
	return nil
}

// SaveAll writes every consent in one batch round-trip.
func (r *ConsentRepository) SaveAll(ctx context.Context, consents []*domain.Consent) error {
	if len(consents) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range consents {
		sql, args, err := consentStatement(c)
		if err != nil {
			return err
		}
		batch.Queue(sql, args...)
	}

	if err := execBatch(ctx, r.db, batch, len(consents), "consents"); err != nil {
		return err
	}
	for _, c := range consents {
		c.MarkSaved()
	}
	return nil
}

// FindByID loads a consent and locks its row for the rest of the transaction.
func (r *ConsentRepository) FindByID(ctx context.Context, id domain.ConsentID) (*domain.Consent, error) {
	var (
		rawID, status         string
		recurring, multilevel bool
		validUntil            pgtype.Timestamptz
		frequency, version    int
		psuRaw                []byte
		createdAt, updatedAt  pgtype.Timestamptz
	)
	err := r.db.QueryRow(ctx, selectConsent, id.String()).Scan(
		&rawID, &status, &recurring, &validUntil, &frequency,
		&psuRaw, &multilevel, &version, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConsentNotFound
	}
	if err != nil {
		return nil, err
	}

	consentID, err := domain.ParseConsentID(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	until, err := optionalTime(validUntil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid valid_until: %v", domain.ErrCorruptData, err)
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

	return domain.ReconstructConsent(
		consentID,
		domain.ConsentStatus(status),
		recurring,
		until,
		frequency,
		psus,
		multilevel,
		created,
		updated,
		version,
	), nil
}

// Verify interface implementation.
var _ domain.ConsentRepository = (*ConsentRepository)(nil)
