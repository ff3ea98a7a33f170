package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/db/models"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/safego"
)

var (
	// ErrCredentialNotFound means no credential matches the presented key.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialRevoked means the credential exists but was revoked or
	// deactivated.
	ErrCredentialRevoked = errors.New("credential revoked")
	// ErrCredentialExpired means the credential's expiry has passed.
	ErrCredentialExpired = errors.New("credential expired")
)

// CredentialService manages service key issuance and validation. Raw keys
// are returned exactly once at issuance; only their hash is stored.
type CredentialService struct {
	repo *repositories.CredentialRepository
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(repo *repositories.CredentialRepository) *CredentialService {
	return &CredentialService{repo: repo}
}

// IssueInput describes a credential to create.
type IssueInput struct {
	ServiceName    string     `json:"service_name" binding:"required"`
	Description    *string    `json:"description"`
	CanWrite       bool       `json:"can_write"`
	CanRead        bool       `json:"can_read"`
	AllowedModules []string   `json:"allowed_modules"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// Issue creates a credential and returns it together with the one-time raw
// key. The raw key is never retrievable again.
func (s *CredentialService) Issue(ctx context.Context, in IssueInput, createdBy string) (*models.ServiceCredential, string, error) {
	rawKey, keyHash, err := auth.GenerateServiceKey(in.ServiceName)
	if err != nil {
		return nil, "", err
	}

	cred := &models.ServiceCredential{
		KeyHash:        keyHash,
		ServiceName:    in.ServiceName,
		Description:    in.Description,
		CanWrite:       in.CanWrite,
		CanRead:        in.CanRead,
		AllowedModules: in.AllowedModules,
		IsActive:       true,
		ExpiresAt:      in.ExpiresAt,
		CreatedBy:      createdBy,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		return nil, "", err
	}

	slog.Info("service credential issued",
		"credential_id", cred.ID, "service_name", cred.ServiceName, "created_by", createdBy)
	return cred, rawKey, nil
}

// Validate checks a presented raw key and returns its credential. The three
// failure modes are distinct errors so callers can log them apart, but every
// one maps to the same unauthorized response at the HTTP boundary.
func (s *CredentialService) Validate(ctx context.Context, rawKey string) (*models.ServiceCredential, error) {
	cred, err := s.repo.GetByHash(ctx, auth.HashServiceKey(rawKey))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	if !cred.IsActive || cred.RevokedAt != nil {
		return nil, ErrCredentialRevoked
	}
	if cred.ExpiresAt != nil && time.Now().After(*cred.ExpiresAt) {
		return nil, ErrCredentialExpired
	}

	// Last-use stamping is fire and forget; a slow or failed update must
	// not add latency to the request.
	id := cred.ID
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.UpdateLastUsed(ctx, id, time.Now().UTC()); err != nil {
			slog.Warn("failed to stamp credential last use", "credential_id", id, "error", err)
		}
	})

	return cred, nil
}

// List returns all credentials.
func (s *CredentialService) List(ctx context.Context) ([]*models.ServiceCredential, error) {
	return s.repo.List(ctx)
}

// Get fetches a credential by id.
func (s *CredentialService) Get(ctx context.Context, id int64) (*models.ServiceCredential, error) {
	return s.repo.GetByID(ctx, id)
}

// Revoke deactivates a credential.
func (s *CredentialService) Revoke(ctx context.Context, id int64, revokedBy string) error {
	if err := s.repo.Revoke(ctx, id, revokedBy); err != nil {
		return err
	}
	slog.Info("service credential revoked", "credential_id", id, "revoked_by", revokedBy)
	return nil
}

// Delete removes a credential row entirely.
func (s *CredentialService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
