package oauth

import (
	"net/http"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/oauth"
)

// IntrospectController handles POST /oauth/introspect.
type IntrospectController struct {
	service oauth.IntrospectService
}

func NewIntrospectController(s oauth.IntrospectService) *IntrospectController {
	return &IntrospectController{service: s}
}

func (c *IntrospectController) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := helpers.ParseBody(w, r); err != nil {
		helpers.WriteOAuthError(w, oauth.E(oauth.CodeInvalidRequest, "malformed request body"))
		return
	}
	result := c.service.Introspect(r.Context(), helpers.FormValue(r, "token"))
	w.Header().Set("Cache-Control", "no-store")
	helpers.WriteJSON(w, http.StatusOK, result)
}
