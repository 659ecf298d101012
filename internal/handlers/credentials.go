// -----------------------------------------------------------------------
// Credential Handler - stores, masks, tests, and deletes site credentials
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/metior/internal/interfaces"
	"github.com/ternarybob/metior/internal/models"
)

// serviceWorkFossa is the only credential service the vault knows
const serviceWorkFossa = "workfossa"

// CredentialHandler fronts the credential vault. The password crosses the
// API exactly once, on store; every read returns the masked view.
type CredentialHandler struct {
	vault  interfaces.CredentialVault
	driver interfaces.SiteDriver
	logger arbor.ILogger
}

func NewCredentialHandler(vault interfaces.CredentialVault, driver interfaces.SiteDriver, logger arbor.ILogger) *CredentialHandler {
	return &CredentialHandler{
		vault:  vault,
		driver: driver,
		logger: logger,
	}
}

type storeCredentialRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *CredentialHandler) requireService(w http.ResponseWriter, r *http.Request) bool {
	if service := r.PathValue("service"); service != serviceWorkFossa {
		WriteError(w, models.NewNotFoundError("unknown credential service %q", service))
		return false
	}
	return true
}

// StoreHandler handles POST /credentials/{service}
func (h *CredentialHandler) StoreHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w, r) {
		return
	}
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	var req storeCredentialRequest
	if err := decodeAndValidate(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	cred := &models.Credential{
		UserID:    userID,
		Username:  req.Username,
		Password:  req.Password,
		CreatedAt: time.Now(),
		Valid:     true,
	}
	if err := h.vault.Store(r.Context(), userID, cred); err != nil {
		h.logger.Error().Str("user_id", userID).Err(err).Msg("Credential store failed")
		WriteError(w, models.NewCredentialError())
		return
	}

	info, err := h.vault.Info(r.Context(), userID)
	if err != nil {
		WriteError(w, models.NewCredentialError())
		return
	}

	h.logger.Info().Str("user_id", userID).Str("username", req.Username).Msg("Credential stored")
	WriteJSON(w, http.StatusCreated, info)
}

// GetHandler handles GET /credentials/{service}
func (h *CredentialHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w, r) {
		return
	}
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	info, err := h.vault.Info(r.Context(), userID)
	if err != nil {
		// Absence is a normal answer here, never an error
		WriteJSON(w, http.StatusOK, &models.CredentialInfo{HasCredentials: false})
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// DeleteHandler handles DELETE /credentials/{service}
func (h *CredentialHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w, r) {
		return
	}
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	if err := h.vault.Delete(r.Context(), userID); err != nil {
		h.logger.Error().Str("user_id", userID).Err(err).Msg("Credential delete failed")
		WriteError(w, models.NewCredentialError())
		return
	}

	h.logger.Info().Str("user_id", userID).Msg("Credential deleted")
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// TestHandler handles POST /credentials/{service}/test. It verifies the
// stored credential live against the target site without keeping a session.
func (h *CredentialHandler) TestHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w, r) {
		return
	}
	userID := targetUser(r)
	if !requireUserScope(w, r, h.logger, userID) {
		return
	}

	cred, err := h.vault.Retrieve(r.Context(), userID)
	if err != nil {
		WriteError(w, models.NewCredentialError())
		return
	}

	result, err := h.driver.VerifyCredentials(r.Context(), cred.Username, cred.Password)
	if err != nil {
		h.logger.Warn().Str("user_id", userID).Err(err).Msg("Credential verification errored")
		WriteError(w, models.NewUpstreamError(models.CodeExternalService, "credential verification failed"))
		return
	}

	h.logger.Info().Str("user_id", userID).Bool("ok", result.OK).Msg("Credential verified")
	WriteJSON(w, http.StatusOK, result)
}
