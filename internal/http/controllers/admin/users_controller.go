package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/store"
)

// UsersController covers the user-side admin actions: withdrawing a stored
// consent and cutting every live token of a user (offboarding, compromised
// account).
type UsersController struct {
	store store.Storage
}

func NewUsersController(st store.Storage) *UsersController {
	return &UsersController{store: st}
}

// RevokeTokens handles POST /admin/users/{userID}/revoke.
func (c *UsersController) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := c.store.RevokeAllUserTokens(r.Context(), userID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	audit.Log(r.Context(), audit.EventTokenRevoked, logger.UserID(userID), logger.Count(n))
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// DeleteConsent handles DELETE /admin/users/{userID}/consents/{clientID}.
// The next authorize call for that pair prompts again.
func (c *UsersController) DeleteConsent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	clientID := chi.URLParam(r, "clientID")
	if err := c.store.DeleteConsent(r.Context(), userID, clientID); err != nil {
		writeStoreError(w, r, err)
		return
	}
	audit.Log(r.Context(), audit.EventConsentRevoked, logger.UserID(userID), logger.ClientID(clientID))
	w.WriteHeader(http.StatusNoContent)
}
