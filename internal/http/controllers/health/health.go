// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/store"
)

type Controller struct {
	store store.Storage
}

func New(st store.Storage) *Controller {
	return &Controller{store: st}
}

// Live reports process liveness. Always 200 while the server is serving.
func (c *Controller) Live(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness to take traffic: the storage backend must answer
// a ping within two seconds.
func (c *Controller) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		logger.From(r.Context()).Warn("readiness probe failed", logger.Err(err))
		helpers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable", "reason": "storage unreachable",
		})
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
