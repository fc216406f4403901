package postgres

import (
	"context"
	"time"

	"github.com/and161185/linkgate/internal/crypto"
	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, username, display_name, COALESCE(email, ''), provider, provider_id, role, status, deleted_at,
refresh_token_digest, COALESCE(provider_access_token, ''), COALESCE(provider_refresh_token, ''), created_at, updated_at`

// AccountRepo implements AccountRepository using PostgreSQL. Refresh tokens are
// persisted as keyed digests only.
type AccountRepo struct {
	db     *DB
	digest *crypto.Digester
}

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB, digest *crypto.Digester) *AccountRepo {
	return &AccountRepo{db: db, digest: digest}
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Email, &a.Provider, &a.ProviderID, &a.Role, &a.Status,
		&a.DeletedAt, &a.RefreshTokenDigest, &a.ProviderAccessToken, &a.ProviderRefreshToken, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindByProviderIncludingDeleted selects an account by (provider, provider_id) in any status.
func (r *AccountRepo) FindByProviderIncludingDeleted(ctx context.Context, provider, providerID string) (*model.Account, error) {
	q := `SELECT ` + accountColumns + `
FROM accounts WHERE provider=$1 AND provider_id=$2`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, provider, providerID))
}

// FindByID selects an ACTIVE account by ID.
func (r *AccountRepo) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	q := `SELECT ` + accountColumns + `
FROM accounts WHERE id=$1 AND status='ACTIVE'`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, id))
}

// FindByRefreshToken selects the ACTIVE account holding the digest of token.
func (r *AccountRepo) FindByRefreshToken(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, errs.ErrNotFound
	}
	q := `SELECT ` + accountColumns + `
FROM accounts WHERE refresh_token_digest=$1 AND refresh_expires_at > now() AND status='ACTIVE'`
	return scanAccount(r.db.Pool.QueryRow(ctx, q, r.digest.Digest(token)))
}

// Create inserts a new account row and fills ID and timestamps.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (username, display_name, email, provider, provider_id, role, status, provider_access_token, provider_refresh_token)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
RETURNING id, created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q, a.Username, a.DisplayName, a.Email, a.Provider, a.ProviderID, a.Role, a.Status,
		a.ProviderAccessToken, a.ProviderRefreshToken).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Save updates the mutable profile, status and provider credential columns.
func (r *AccountRepo) Save(ctx context.Context, a *model.Account) error {
	const q = `
UPDATE accounts
SET display_name=$2, email=NULLIF($3, ''), role=$4, status=$5, deleted_at=$6,
    provider_access_token=NULLIF($7, ''), provider_refresh_token=NULLIF($8, ''), updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, a.ID, a.DisplayName, a.Email, a.Role, a.Status, a.DeletedAt,
		a.ProviderAccessToken, a.ProviderRefreshToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetRefreshToken overwrites the stored refresh token digest; "" clears it.
func (r *AccountRepo) SetRefreshToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	const q = `
UPDATE accounts SET refresh_token_digest=$2, refresh_expires_at=$3, updated_at=now()
WHERE id=$1 AND status='ACTIVE'`
	var digest []byte
	var exp *time.Time
	if token != "" {
		digest = r.digest.Digest(token)
		exp = &expiresAt
	}
	tag, err := r.db.Pool.Exec(ctx, q, id, digest, exp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RotateRefreshToken swaps the digest only while the old one is still stored,
// so exactly one of several concurrent rotations wins.
func (r *AccountRepo) RotateRefreshToken(ctx context.Context, id int64, oldToken, newToken string, expiresAt time.Time) error {
	const q = `
UPDATE accounts SET refresh_token_digest=$3, refresh_expires_at=$4, updated_at=now()
WHERE id=$1 AND refresh_token_digest=$2 AND status='ACTIVE'`
	tag, err := r.db.Pool.Exec(ctx, q, id, r.digest.Digest(oldToken), r.digest.Digest(newToken), expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

// SoftDelete flips the row to DELETED and nulls every stored credential.
func (r *AccountRepo) SoftDelete(ctx context.Context, id int64) error {
	const q = `
UPDATE accounts
SET status='DELETED', deleted_at=now(), refresh_token_digest=NULL, refresh_expires_at=NULL,
    provider_access_token=NULL, provider_refresh_token=NULL, updated_at=now()
WHERE id=$1 AND status='ACTIVE'`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
