package models

import "time"

// Credential is the decrypted form of a stored target-site credential.
// It exists in memory only while in use; the vault persists an encrypted
// blob and never writes the password in plaintext.
type Credential struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`
	Valid        bool      `json:"valid"`
	AttemptCount int       `json:"attempt_count"`
}

// Age returns how long ago the credential was stored
func (c *Credential) Age() time.Duration {
	return time.Since(c.CreatedAt)
}

// CredentialInfo is the masked view returned by the API; it never carries
// the password.
type CredentialInfo struct {
	HasCredentials bool      `json:"has_credentials"`
	Username       string    `json:"username,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// CredentialTestResult reports a live verification attempt against the
// target site.
type CredentialTestResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
