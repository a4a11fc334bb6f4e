// Package api assembles the HTTP surface of courierd.
package api

import (
	"errors"
	"net/http"

	"github.com/kilianp07/courierd/api/admin"
	"github.com/kilianp07/courierd/api/drivers"
	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/api/notifications"
	"github.com/kilianp07/courierd/api/orders"
	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/infra/logger"
)

// Deps are the services behind the routes. Hub is optional.
type Deps struct {
	Orders   orders.Service
	Presence drivers.Service
	Mailbox  notify.Mailbox
	Purger   admin.Purger
	Audit    audit.Store
	Hub      *notifications.Hub
	Log      logger.Logger
}

// NewRouter returns the root handler. Every /api route requires the actor
// headers; /healthz does not.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Log == nil {
		return nil, errors.New("api: logger is nil")
	}
	oh, err := orders.NewHandler(d.Orders, d.Log)
	if err != nil {
		return nil, err
	}
	dh, err := drivers.NewHandler(d.Presence, d.Log)
	if err != nil {
		return nil, err
	}
	nh, err := notifications.NewHandler(d.Mailbox, d.Hub, d.Log)
	if err != nil {
		return nil, err
	}
	ah, err := admin.NewHandler(d.Purger, d.Audit, d.Mailbox, d.Log)
	if err != nil {
		return nil, err
	}

	apiMux := http.NewServeMux()
	oh.Register(apiMux)
	dh.Register(apiMux)
	nh.Register(apiMux)
	ah.Register(apiMux)

	root := http.NewServeMux()
	root.Handle("/api/", httpx.RequireActor(apiMux))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return httpx.WithRequestID(httpx.Recoverer(d.Log)(root)), nil
}
