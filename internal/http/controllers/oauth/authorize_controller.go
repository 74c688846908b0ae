package oauth

import (
	"net/http"
	"strings"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/http/middlewares"
	"github.com/bastionlabs/bastion/internal/oauth"
)

// AuthorizeController handles GET /oauth/authorize.
type AuthorizeController struct {
	service oauth.AuthorizeService
}

func NewAuthorizeController(s oauth.AuthorizeService) *AuthorizeController {
	return &AuthorizeController{service: s}
}

func (c *AuthorizeController) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := oauth.AuthorizeRequest{
		ResponseType:        strings.TrimSpace(q.Get("response_type")),
		ClientID:            strings.TrimSpace(q.Get("client_id")),
		RedirectURI:         strings.TrimSpace(q.Get("redirect_uri")),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       strings.TrimSpace(q.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(q.Get("code_challenge_method")),
	}
	// An authenticated session enables the consent-skip path.
	if p := middlewares.GetPrincipal(r.Context()); p != nil {
		req.UserID = p.UserID
	}

	res := c.service.Authorize(r.Context(), req)
	if res.Type == oauth.AuthResultDirectError {
		helpers.WriteJSON(w, res.Err.Status(), res.Err)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}
