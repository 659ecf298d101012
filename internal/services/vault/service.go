// -----------------------------------------------------------------------
// Credential Vault - encrypted at-rest storage for target-site credentials
// -----------------------------------------------------------------------

package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

const (
	// blobVersion tags every encrypted file; unknown versions are rejected
	// rather than guessed at.
	blobVersion = 0x01

	// kdfIterations is the PBKDF2 iteration count for per-user keys.
	kdfIterations = 100_000

	keyLen    = 32
	nonceLen  = 12
	credExt   = ".cred"
	dirMode   = 0700
	fileMode  = 0600
	maxCredAge = 30 * 24 * time.Hour
)

// ErrNotFound is returned when no credential file exists for a user
var ErrNotFound = errors.New("credential not found")

// ErrDecryption covers any cipher-level failure. Callers surface the generic
// credential error; the underlying detail stays in server logs only.
var ErrDecryption = errors.New("credential decryption failed")

// Service implements interfaces.CredentialVault over per-user encrypted
// files. One file per user; directory 0700, files 0600.
type Service struct {
	dir       string
	masterKey []byte
	logger    arbor.ILogger
	mu        sync.Mutex
}

// Compile-time assertion
var _ interfaces.CredentialVault = (*Service)(nil)

// NewService creates the vault. A missing master key is a startup error;
// the service never runs with credentials it cannot protect.
func NewService(cfg *common.Config, logger arbor.ILogger) (*Service, error) {
	if strings.TrimSpace(cfg.Vault.MasterKey) == "" {
		return nil, fmt.Errorf("MASTER_KEY environment variable is required")
	}
	if err := os.MkdirAll(cfg.Vault.Dir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	// Tighten a pre-existing directory created with a looser umask
	if err := os.Chmod(cfg.Vault.Dir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to set credential directory mode: %w", err)
	}

	return &Service{
		dir:       cfg.Vault.Dir,
		masterKey: []byte(cfg.Vault.MasterKey),
		logger:    logger,
	}, nil
}

// deriveKey computes the per-user AES key from the master secret. The salt
// is deterministic (SHA-256 of the user id) so retrieval needs no stored
// key material.
func (s *Service) deriveKey(userID string) []byte {
	salt := sha256.Sum256([]byte(userID))
	return pbkdf2.Key(s.masterKey, salt[:], kdfIterations, keyLen, sha256.New)
}

// credentialPayload is the JSON shape inside the encrypted blob
type credentialPayload struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`
	Valid        bool      `json:"valid"`
	AttemptCount int       `json:"attempt_count"`
}

func (s *Service) path(userID string) string {
	return filepath.Join(s.dir, userID+credExt)
}

func (s *Service) encrypt(userID string, plaintext []byte) ([]byte, error) {
	key := s.deriveKey(userID)
	defer zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}

	blob := make([]byte, 0, 1+nonceLen+len(plaintext)+gcm.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, []byte(userID))
	return blob, nil
}

func (s *Service) decrypt(userID string, blob []byte) ([]byte, error) {
	if len(blob) < 1+nonceLen {
		return nil, ErrDecryption
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecryption, blob[0])
	}

	key := s.deriveKey(userID)
	defer zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrDecryption
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryption
	}

	nonce := blob[1 : 1+nonceLen]
	plaintext, err := gcm.Open(nil, nonce, blob[1+nonceLen:], []byte(userID))
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// Store encrypts and writes the credential, replacing any existing file for
// the user. Created-at is preserved as now; attempt counters reset.
func (s *Service) Store(ctx context.Context, userID string, cred *models.Credential) error {
	if userID == "" || cred == nil || cred.Username == "" || cred.Password == "" {
		return fmt.Errorf("user id, username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	payload := credentialPayload{
		UserID:    userID,
		Username:  cred.Username,
		Password:  cred.Password,
		CreatedAt: now,
		Valid:     true,
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	defer zeroize(plaintext)

	blob, err := s.encrypt(userID, plaintext)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path(userID), blob, fileMode); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	// WriteFile honors umask; force the required mode
	if err := os.Chmod(s.path(userID), fileMode); err != nil {
		return fmt.Errorf("set credential file mode: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Msg("Credential stored")
	return nil
}

func (s *Service) load(userID string) (*credentialPayload, error) {
	blob, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	plaintext, err := s.decrypt(userID, blob)
	if err != nil {
		s.logger.Warn().Str("user_id", userID).Err(err).Msg("Credential decryption failed")
		return nil, err
	}
	defer zeroize(plaintext)

	var payload credentialPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrDecryption
	}
	return &payload, nil
}

func (s *Service) save(userID string, payload *credentialPayload) error {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	defer zeroize(plaintext)

	blob, err := s.encrypt(userID, plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(userID), blob, fileMode); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// Retrieve decrypts and returns the stored credential. Expiry does not block
// retrieval; only Validate enforces the 30-day window.
func (s *Service) Retrieve(ctx context.Context, userID string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.load(userID)
	if err != nil {
		return nil, err
	}

	return &models.Credential{
		UserID:       payload.UserID,
		Username:     payload.Username,
		Password:     payload.Password,
		CreatedAt:    payload.CreatedAt,
		LastUsedAt:   payload.LastUsedAt,
		Valid:        payload.Valid,
		AttemptCount: payload.AttemptCount,
	}, nil
}

// Validate reports presence, decryptability, and freshness (<= 30 days)
func (s *Service) Validate(ctx context.Context, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.load(userID)
	if err != nil {
		return false
	}
	return time.Since(payload.CreatedAt) <= maxCredAge
}

// Touch updates last_used_at in place
func (s *Service) Touch(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.load(userID)
	if err != nil {
		return err
	}
	payload.LastUsedAt = time.Now().UTC()
	return s.save(userID, payload)
}

// Delete removes the credential file
func (s *Service) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(userID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove credential file: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Msg("Credential deleted")
	return nil
}

// Info returns the masked view; never the password
func (s *Service) Info(ctx context.Context, userID string) (*models.CredentialInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.load(userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &models.CredentialInfo{HasCredentials: false}, nil
		}
		return nil, err
	}

	updated := payload.CreatedAt
	if payload.LastUsedAt.After(updated) {
		updated = payload.LastUsedAt
	}
	return &models.CredentialInfo{
		HasCredentials: true,
		Username:       payload.Username,
		CreatedAt:      payload.CreatedAt,
		UpdatedAt:      updated,
	}, nil
}

// ListUsers scans the credential directory for stored users
func (s *Service) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read credential directory: %w", err)
	}

	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), credExt) {
			continue
		}
		users = append(users, strings.TrimSuffix(e.Name(), credExt))
	}
	return users, nil
}

// zeroize wipes sensitive byte buffers once they are no longer needed
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
