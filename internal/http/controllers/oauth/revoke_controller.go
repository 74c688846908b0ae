package oauth

import (
	"net/http"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/oauth"
	"github.com/bastionlabs/bastion/internal/observability/logger"
)

// RevokeController handles POST /oauth/revoke.
type RevokeController struct {
	service oauth.RevokeService
}

func NewRevokeController(s oauth.RevokeService) *RevokeController {
	return &RevokeController{service: s}
}

// Revoke responds 204 whether or not the token existed, per RFC 7009, so
// the endpoint cannot be used to probe for live tokens.
func (c *RevokeController) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := helpers.ParseBody(w, r); err == nil {
		if err := c.service.Revoke(r.Context(), r.PostFormValue("token")); err != nil {
			logger.From(r.Context()).Error("revocation error suppressed", logger.Err(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
