package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// CredentialRepository handles service credential database operations. The
// raw key is never stored; rows are looked up by the deterministic key hash.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create inserts a credential row and fills in its ID and CreatedAt.
func (r *CredentialRepository) Create(ctx context.Context, cred *models.ServiceCredential) error {
	const query = `
		INSERT INTO service_credentials (
			key_hash, service_name, description, can_write, can_read,
			allowed_modules, expires_at, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		cred.KeyHash,
		cred.ServiceName,
		cred.Description,
		cred.CanWrite,
		cred.CanRead,
		cred.AllowedModules,
		cred.ExpiresAt,
		cred.CreatedBy,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create service credential: %w", err)
	}
	return nil
}

// GetByHash looks up a credential by its key hash. Returns ErrNotFound when
// no row matches; active/expiry checks are the caller's concern.
func (r *CredentialRepository) GetByHash(ctx context.Context, keyHash string) (*models.ServiceCredential, error) {
	cred := &models.ServiceCredential{}
	err := r.db.GetContext(ctx, cred,
		`SELECT * FROM service_credentials WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential by hash: %w", err)
	}
	return cred, nil
}

// GetByID fetches a credential by id. Returns ErrNotFound when missing.
func (r *CredentialRepository) GetByID(ctx context.Context, id int64) (*models.ServiceCredential, error) {
	cred := &models.ServiceCredential{}
	err := r.db.GetContext(ctx, cred,
		`SELECT * FROM service_credentials WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %d: %w", id, err)
	}
	return cred, nil
}

// List returns all credentials, newest first. Key hashes ride along but are
// stripped at the JSON boundary.
func (r *CredentialRepository) List(ctx context.Context) ([]*models.ServiceCredential, error) {
	creds := make([]*models.ServiceCredential, 0)
	err := r.db.SelectContext(ctx, &creds,
		`SELECT * FROM service_credentials ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// Revoke marks a credential inactive and records who revoked it. Revoking an
// already revoked credential is a no-op that still succeeds.
func (r *CredentialRepository) Revoke(ctx context.Context, id int64, revokedBy string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE service_credentials
		SET is_active = FALSE,
		    revoked_at = COALESCE(revoked_at, NOW()),
		    revoked_by = COALESCE(revoked_by, $2)
		WHERE id = $1`, id, revokedBy)
	if err != nil {
		return fmt.Errorf("failed to revoke credential %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revoke result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a credential row entirely.
func (r *CredentialRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM service_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUsed stamps the credential's last use time. Called off the
// request path; failures are logged by the caller, not surfaced.
func (r *CredentialRepository) UpdateLastUsed(ctx context.Context, id int64, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE service_credentials SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to update credential last use: %w", err)
	}
	return nil
}
