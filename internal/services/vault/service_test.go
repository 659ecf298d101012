package vault

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/common"
	"github.com/ternarybob/metior/internal/models"
)

func newTestVault(t *testing.T, masterKey string) *Service {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Vault.Dir = filepath.Join(t.TempDir(), "credentials")
	cfg.Vault.MasterKey = masterKey

	svc, err := NewService(cfg, arbor.NewLogger())
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresMasterKey(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Vault.Dir = t.TempDir()
	cfg.Vault.MasterKey = ""

	_, err := NewService(cfg, arbor.NewLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MASTER_KEY")
}

func TestStoreRetrieve_RoundTrip(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   string
		username string
		password string
	}{
		{"simple", "user-1", "tech@example.com", "hunter2"},
		{"unicode password", "user-2", "ops@example.com", "pä55wörd£"},
		{"long password", "user-3", "x@example.com", "abcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Store(ctx, tt.userID, &models.Credential{
				Username: tt.username,
				Password: tt.password,
			})
			require.NoError(t, err)

			got, err := svc.Retrieve(ctx, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.username, got.Username)
			assert.Equal(t, tt.password, got.Password)
			assert.Equal(t, tt.userID, got.UserID)
			assert.True(t, got.Valid)
			assert.WithinDuration(t, time.Now().UTC(), got.CreatedAt, 5*time.Second)
		})
	}
}

func TestRetrieve_NotFound(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")

	_, err := svc.Retrieve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecryption_FailsWithDifferentMasterKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "credentials")

	cfg := common.NewDefaultConfig()
	cfg.Vault.Dir = dir
	cfg.Vault.MasterKey = "original-master-key"
	svc, err := NewService(cfg, arbor.NewLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "a@example.com",
		Password: "secret",
	}))

	// Same directory, different master key
	cfg2 := common.NewDefaultConfig()
	cfg2.Vault.Dir = dir
	cfg2.Vault.MasterKey = "rotated-master-key"
	svc2, err := NewService(cfg2, arbor.NewLogger())
	require.NoError(t, err)

	_, err = svc2.Retrieve(ctx, "user-1")
	assert.ErrorIs(t, err, ErrDecryption)
	assert.False(t, svc2.Validate(ctx, "user-1"))
}

func TestNoPlaintextAtRest(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	username := "calibration-tech@example.com"
	password := "extremely-secret-password"
	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: username,
		Password: password,
	}))

	blob, err := os.ReadFile(svc.path("user-1"))
	require.NoError(t, err)

	assert.False(t, bytes.Contains(blob, []byte(username)), "username must not appear in stored file")
	assert.False(t, bytes.Contains(blob, []byte(password)), "password must not appear in stored file")
	assert.Equal(t, byte(blobVersion), blob[0], "blob must carry the version tag")
}

func TestFilePermissions(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "a@example.com",
		Password: "secret",
	}))

	dirInfo, err := os.Stat(svc.dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(dirMode), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(svc.path("user-1"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), fileInfo.Mode().Perm())
}

func TestStore_OverwriteKeepsSingleFile(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "a@example.com", Password: "password-a",
	}))
	got, err := svc.Retrieve(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "password-a", got.Password)

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "b@example.com", Password: "password-b",
	}))
	got, err = svc.Retrieve(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got.Username)
	assert.Equal(t, "password-b", got.Password)

	entries, err := os.ReadDir(svc.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "overwrite must not leave extra credential files")
}

func TestValidate_ExpiredCredential(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "a@example.com", Password: "secret",
	}))

	// Rewrite the payload with an old created-at to simulate expiry
	payload, err := svc.load("user-1")
	require.NoError(t, err)
	payload.CreatedAt = time.Now().UTC().Add(-31 * 24 * time.Hour)
	require.NoError(t, svc.save("user-1", payload))

	assert.False(t, svc.Validate(ctx, "user-1"), "expired credential must not validate")

	// Retrieval still works for expired credentials
	got, err := svc.Retrieve(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Username)
}

func TestTouch_UpdatesLastUsed(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "a@example.com", Password: "secret",
	}))

	before, err := svc.Retrieve(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, before.LastUsedAt.IsZero())

	require.NoError(t, svc.Touch(ctx, "user-1"))

	after, err := svc.Retrieve(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, after.LastUsedAt.IsZero())
}

func TestDeleteAndList(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{Username: "a@x.com", Password: "p1"}))
	require.NoError(t, svc.Store(ctx, "user-2", &models.Credential{Username: "b@x.com", Password: "p2"}))

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, users)

	require.NoError(t, svc.Delete(ctx, "user-1"))
	assert.ErrorIs(t, svc.Delete(ctx, "user-1"), ErrNotFound)

	users, err = svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, users)
}

func TestInfo_NeverReturnsPassword(t *testing.T) {
	svc := newTestVault(t, "test-master-key-0001")
	ctx := context.Background()

	info, err := svc.Info(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, info.HasCredentials)

	require.NoError(t, svc.Store(ctx, "user-1", &models.Credential{
		Username: "a@example.com", Password: "secret",
	}))

	info, err = svc.Info(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, info.HasCredentials)
	assert.Equal(t, "a@example.com", info.Username)
	assert.False(t, info.CreatedAt.IsZero())
}
