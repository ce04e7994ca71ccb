package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"psd2gateway/internal/common/metrics"
	"psd2gateway/internal/sca/domain"
)

const authorisationColumns = `id::text, parent_id, authorisation_type, psu_data, sca_status, sca_approach,
	chosen_sca_method, redirect_uri, nok_redirect_uri, version, created_at, last_action_at`

const insertAuthorisation = `
	INSERT INTO sca.authorisations (
		id, parent_id, authorisation_type, psu_data, sca_status, sca_approach,
		chosen_sca_method, redirect_uri, nok_redirect_uri, version, created_at, last_action_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
	ON CONFLICT (id) DO NOTHING`

const updateAuthorisation = `
	UPDATE sca.authorisations
	SET psu_data = $2, sca_status = $3, chosen_sca_method = $4, redirect_uri = $5,
		nok_redirect_uri = $6, last_action_at = $7, version = version + 1
	WHERE id = $1 AND version = $8`

// AuthorisationRepository persists authorisations in sca.authorisations.
// Reads lock the row when run inside a transaction, so concurrent requests
// for one authorisation are applied one after the other.
type AuthorisationRepository struct {
	db Executor
}

// NewAuthorisationRepository binds the repository to a pool or transaction.
func NewAuthorisationRepository(db Executor) *AuthorisationRepository {
	return &AuthorisationRepository{db: db}
}

// Save inserts a new authorisation (version 0) or updates a loaded one.
// Errors: returns domain.ErrOptimisticLock when the stored version moved or
// the id already exists.
func (r *AuthorisationRepository) Save(ctx context.Context, auth *domain.Authorisation) error {
	psu, err := json.Marshal(auth.PsuData())
	if err != nil {
		return fmt.Errorf("encode psu_data: %w", err)
	}
	var chosen []byte
	if m, ok := auth.ChosenScaMethod(); ok {
		if chosen, err = json.Marshal(m); err != nil {
			return fmt.Errorf("encode chosen_sca_method: %w", err)
		}
	}

	if auth.Version() == 0 {
		tag, err := r.db.Exec(ctx, insertAuthorisation,
			auth.ID().String(),
			auth.ParentID(),
			string(auth.Type()),
			psu,
			string(auth.ScaStatus()),
			string(auth.ScaApproach()),
			chosen,
			textFromString(auth.RedirectURI()),
			textFromString(auth.NokRedirectURI()),
			timeToTimestamptz(auth.CreatedAt()),
			timeToTimestamptz(auth.LastActionAt()),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			metrics.RecordOptimisticLockConflict("authorisations")
			return fmt.Errorf("%w: authorisation %s already exists", domain.ErrOptimisticLock, auth.ID())
		}
		auth.MarkSaved()
		return nil
	}

	tag, err := r.db.Exec(ctx, updateAuthorisation,
		auth.ID().String(),
		psu,
		string(auth.ScaStatus()),
		chosen,
		textFromString(auth.RedirectURI()),
		textFromString(auth.NokRedirectURI()),
		timeToTimestamptz(auth.LastActionAt()),
		auth.Version(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordOptimisticLockConflict("authorisations")
		return fmt.Errorf("%w: authorisation %s", domain.ErrOptimisticLock, auth.ID())
	}
	auth.MarkSaved()
	return nil
}

// FindByID loads an authorisation and locks its row for the rest of the
// transaction.
// Errors: returns domain.ErrAuthorisationNotFound when missing and
// domain.ErrCorruptData when stored values cannot be decoded.
func (r *AuthorisationRepository) FindByID(ctx context.Context, id domain.AuthorisationID) (*domain.Authorisation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+authorisationColumns+` FROM sca.authorisations WHERE id = $1 FOR UPDATE`, id.String())
	auth, err := scanAuthorisation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAuthorisationNotFound
	}
	return auth, err
}

// FindByParentID lists the authorisations of a parent, oldest first.
func (r *AuthorisationRepository) FindByParentID(ctx context.Context, parentID string, types ...domain.AuthorisationType) ([]*domain.Authorisation, error) {
	query := `SELECT ` + authorisationColumns + ` FROM sca.authorisations WHERE parent_id = $1`
	args := []any{strings.ToLower(parentID)}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND authorisation_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []*domain.Authorisation
	for rows.Next() {
		auth, err := scanAuthorisation(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, auth)
	}
	return auths, rows.Err()
}

func scanAuthorisation(row pgx.Row) (*domain.Authorisation, error) {
	var (
		id, parentID, authType, status, approach string
		psuRaw, chosenRaw                        []byte
		redirectURI, nokRedirectURI              pgtype.Text
		version                                  int
		createdAt, lastActionAt                  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &parentID, &authType, &psuRaw, &status, &approach,
		&chosenRaw, &redirectURI, &nokRedirectURI, &version, &createdAt, &lastActionAt); err != nil {
		return nil, err
	}

	authID, err := domain.ParseAuthorisationID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptData, err)
	}
	t := domain.AuthorisationType(authType)
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: invalid authorisation_type %q", domain.ErrCorruptData, authType)
	}
	scaStatus, ok := domain.ParseScaStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: invalid sca_status %q", domain.ErrCorruptData, status)
	}
	scaApproach, ok := domain.ParseScaApproach(approach)
	if !ok {
		return nil, fmt.Errorf("%w: invalid sca_approach %q", domain.ErrCorruptData, approach)
	}

	var psu domain.PsuIdData
	if len(psuRaw) > 0 {
		if err := json.Unmarshal(psuRaw, &psu); err != nil {
			return nil, fmt.Errorf("%w: invalid psu_data: %v", domain.ErrCorruptData, err)
		}
	}
	var chosen *domain.AuthenticationObject
	if len(chosenRaw) > 0 {
		chosen = new(domain.AuthenticationObject)
		if err := json.Unmarshal(chosenRaw, chosen); err != nil {
			return nil, fmt.Errorf("%w: invalid chosen_sca_method: %v", domain.ErrCorruptData, err)
		}
	}

	created, err := timestamptzToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid created_at: %v", domain.ErrCorruptData, err)
	}
	lastAction, err := timestamptzToTime(lastActionAt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid last_action_at: %v", domain.ErrCorruptData, err)
	}

	return domain.ReconstructAuthorisation(
		authID,
		parentID,
		t,
		psu,
		scaStatus,
		scaApproach,
		chosen,
		redirectURI.String,
		nokRedirectURI.String,
		created,
		lastAction,
		version,
	), nil
}

// Verify interface implementation.
var _ domain.AuthorisationRepository = (*AuthorisationRepository)(nil)
