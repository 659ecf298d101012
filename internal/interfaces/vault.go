package interfaces

import (
	"context"

	"github.com/ternarybob/metior/internal/models"
)

// CredentialVault encrypts, persists, retrieves, and validates per-user
// target-site credentials. Passwords never touch disk in plaintext; the
// per-user key is derived from the process master secret.
type CredentialVault interface {
	// Store encrypts and persists a credential, replacing any existing one
	// for the user.
	Store(ctx context.Context, userID string, cred *models.Credential) error

	// Retrieve decrypts and returns the stored credential.
	// Returns models.NewCredentialError-wrapped failures; callers must not
	// surface decryption detail.
	Retrieve(ctx context.Context, userID string) (*models.Credential, error)

	// Validate reports whether a credential is present, decryptable, and
	// not older than the vault's max age (30 days).
	Validate(ctx context.Context, userID string) bool

	// Touch updates last_used_at on the stored credential.
	Touch(ctx context.Context, userID string) error

	// Delete removes the stored credential file.
	Delete(ctx context.Context, userID string) error

	// Info returns the masked view for API responses.
	Info(ctx context.Context, userID string) (*models.CredentialInfo, error)

	// ListUsers returns the user IDs that currently hold a stored credential.
	ListUsers(ctx context.Context) ([]string, error)
}
