package oauth

import (
	"net/http"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/http/middlewares"
	"github.com/bastionlabs/bastion/internal/oauth"
)

// ConsentController is the seam the host login/consent UI calls back into:
// GET shows what is pending, POST records the decision.
type ConsentController struct {
	service oauth.ConsentService
}

func NewConsentController(s oauth.ConsentService) *ConsentController {
	return &ConsentController{service: s}
}

// Pending handles GET /oauth/consent?challenge=...
func (c *ConsentController) Pending(w http.ResponseWriter, r *http.Request) {
	req, err := c.service.Resolve(r.Context(), r.URL.Query().Get("challenge"))
	if err != nil {
		helpers.WriteOAuthError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, req)
}

// Decide handles POST /oauth/consent with challenge, approve=true|false and
// optionally user_id when no authenticated principal carries one.
func (c *ConsentController) Decide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		helpers.WriteOAuthError(w, oauth.E(oauth.CodeInvalidRequest, "malformed form body"))
		return
	}
	challenge := helpers.FormValue(r, "challenge")

	if helpers.FormValue(r, "approve") != "true" {
		redirect, err := c.service.Deny(r.Context(), challenge)
		if err != nil {
			helpers.WriteOAuthError(w, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}

	userID := helpers.FormValue(r, "user_id")
	if p := middlewares.GetPrincipal(r.Context()); p != nil && p.UserID != "" {
		userID = p.UserID
	}
	redirect, err := c.service.Approve(r.Context(), challenge, userID)
	if err != nil {
		helpers.WriteOAuthError(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}
