// Package admin exposes client registration and management. Routes are
// mounted behind RequireScope("clients:write") / ("clients:read").
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/scope"
	"github.com/bastionlabs/bastion/internal/security/secret"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
)

// ClientsController manages registered OAuth clients.
type ClientsController struct {
	store   store.Storage
	catalog []string
}

func NewClientsController(st store.Storage, scopeCatalog []string) *ClientsController {
	return &ClientsController{store: st, catalog: scopeCatalog}
}

type createClientRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scopes"`
	Confidential bool     `json:"confidential"`
	OwnerID      string   `json:"owner_id,omitempty"`
}

type createClientResponse struct {
	*store.Client
	// ClientSecret is returned exactly once, at registration. Only the
	// argon2id hash is stored.
	ClientSecret string `json:"client_secret,omitempty"`
}

// Create handles POST /admin/clients.
func (c *ClientsController) Create(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op("admin.clients.create"))

	var req createClientRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Name == "" || len(req.GrantTypes) == 0 {
		helpers.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_request", "error_description": "name and grant_types are required",
		})
		return
	}
	for _, g := range req.GrantTypes {
		switch g {
		case "authorization_code", "client_credentials", "refresh_token":
		default:
			helpers.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_request", "error_description": "unknown grant type " + g,
			})
			return
		}
	}
	if res := scope.Validate(req.Scopes, c.catalog); !res.Valid() {
		helpers.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_request", "error_description": "unknown scopes: " + scope.Join(res.Invalid),
		})
		return
	}

	now := time.Now().UTC()
	client := &store.Client{
		ClientID:     uuid.NewString(),
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       req.Scopes,
		Confidential: req.Confidential,
		OwnerID:      req.OwnerID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var plaintext string
	if req.Confidential {
		var err error
		plaintext, err = tokens.GenerateOpaque(32)
		if err != nil {
			helpers.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		client.SecretHash, err = secret.Hash(secret.Default, plaintext)
		if err != nil {
			log.Error("secret hashing failed", logger.Err(err))
			helpers.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
	}

	if err := c.store.CreateClient(r.Context(), client); err != nil {
		log.Error("client creation failed", logger.Err(err))
		helpers.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	audit.Log(r.Context(), audit.EventClientRegistered, logger.ClientID(client.ClientID))
	log.Info("client registered", logger.ClientID(client.ClientID), logger.Bool("confidential", client.Confidential))

	helpers.WriteJSON(w, http.StatusCreated, createClientResponse{Client: client, ClientSecret: plaintext})
}

// List handles GET /admin/clients.
func (c *ClientsController) List(w http.ResponseWriter, r *http.Request) {
	clients, err := c.store.ListClients(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("client listing failed", logger.Err(err))
		helpers.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

// Get handles GET /admin/clients/{clientID}.
func (c *ClientsController) Get(w http.ResponseWriter, r *http.Request) {
	client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, client)
}

type updateClientRequest struct {
	Name         *string   `json:"name"`
	RedirectURIs *[]string `json:"redirect_uris"`
	GrantTypes   *[]string `json:"grant_types"`
	Scopes       *[]string `json:"scopes"`
	Active       *bool     `json:"active"`
}

// Update handles PUT /admin/clients/{clientID}. Partial: absent fields keep
// their stored values.
func (c *ClientsController) Update(w http.ResponseWriter, r *http.Request) {
	var req updateClientRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if req.Name != nil {
		client.Name = *req.Name
	}
	if req.RedirectURIs != nil {
		client.RedirectURIs = *req.RedirectURIs
	}
	if req.GrantTypes != nil {
		client.GrantTypes = *req.GrantTypes
	}
	if req.Scopes != nil {
		if res := scope.Validate(*req.Scopes, c.catalog); !res.Valid() {
			helpers.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_request", "error_description": "unknown scopes: " + scope.Join(res.Invalid),
			})
			return
		}
		client.Scopes = *req.Scopes
	}
	if req.Active != nil {
		client.Active = *req.Active
	}
	client.UpdatedAt = time.Now().UTC()

	if err := c.store.UpdateClient(r.Context(), client); err != nil {
		writeStoreError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, client)
}

// Delete handles DELETE /admin/clients/{clientID}. The store cascades:
// every token of the client is revoked with it.
func (c *ClientsController) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientID")
	if err := c.store.DeleteClient(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	audit.Log(r.Context(), audit.EventClientDeleted, logger.ClientID(id))
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		helpers.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	logger.From(r.Context()).Error("storage failure", logger.Err(err))
	helpers.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
}
