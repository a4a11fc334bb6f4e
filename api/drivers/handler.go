// Package drivers exposes driver presence over HTTP: the driver's own
// online switch and heartbeat, and the admin roster controls.
package drivers

import (
	"context"
	"errors"
	"net/http"

	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/infra/logger"
)

// Service is the subset of presence.Manager used by the handlers.
type Service interface {
	SetStatus(ctx context.Context, driverID string, status model.PresenceStatus) (model.PresenceView, error)
	Heartbeat(ctx context.Context, driverID string) (model.PresenceView, error)
	Status(ctx context.Context, driverID string) (model.PresenceView, error)
	ForceOffline(ctx context.Context, driverID, reason string, actor model.Actor) (model.PresenceView, error)
	AllowOnline(ctx context.Context, driverID string, actor model.Actor) (model.PresenceView, error)
	ListAvailable(ctx context.Context) ([]string, error)
	ListDrivers(ctx context.Context, actor model.Actor) ([]model.PresenceView, error)
}

type statusRequest struct {
	Status model.PresenceStatus `json:"status"`
}

type forceOfflineRequest struct {
	Reason string `json:"reason"`
}

// AvailableResponse lists the drivers a new order would be sent to.
type AvailableResponse struct {
	DriverIDs []string `json:"driver_ids"`
	Count     int      `json:"count"`
}

// Handler serves /api/drivers and /api/admin/drivers.
type Handler struct {
	svc Service
	log logger.Logger
}

func NewHandler(svc Service, log logger.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("presence service is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	return &Handler{svc: svc, log: log}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/drivers/me/status", h.driverOnly(h.setStatus))
	mux.HandleFunc("POST /api/drivers/me/heartbeat", h.driverOnly(h.heartbeat))
	mux.HandleFunc("GET /api/drivers/me/status", h.driverOnly(h.ownStatus))
	mux.HandleFunc("GET /api/drivers/{id}/status", h.status)
	mux.HandleFunc("GET /api/drivers/available", h.adminOnly(h.available))
	mux.HandleFunc("GET /api/admin/drivers", h.listDrivers)
	mux.HandleFunc("POST /api/admin/drivers/{id}/force-offline", h.forceOffline)
	mux.HandleFunc("POST /api/admin/drivers/{id}/allow-online", h.allowOnline)
}

func (h *Handler) driverOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httpx.Actor(r).IsDriver() {
			httpx.WriteError(w, r, h.log, model.ErrPermission)
			return
		}
		next(w, r)
	}
}

func (h *Handler) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httpx.Actor(r).IsAdmin() {
			httpx.WriteError(w, r, h.log, model.ErrPermission)
			return
		}
		next(w, r)
	}
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	v, err := h.svc.SetStatus(r.Context(), httpx.Actor(r).ID, req.Status)
	h.reply(w, r, v, err)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Heartbeat(r.Context(), httpx.Actor(r).ID)
	h.reply(w, r, v, err)
}

func (h *Handler) ownStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Status(r.Context(), httpx.Actor(r).ID)
	h.reply(w, r, v, err)
}

// status lets admins read any driver and drivers read themselves.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	actor := httpx.Actor(r)
	id := r.PathValue("id")
	if !actor.IsAdmin() && !(actor.IsDriver() && actor.ID == id) {
		httpx.WriteError(w, r, h.log, model.ErrPermission)
		return
	}
	v, err := h.svc.Status(r.Context(), id)
	h.reply(w, r, v, err)
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListAvailable(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, AvailableResponse{DriverIDs: ids, Count: len(ids)})
}

func (h *Handler) listDrivers(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListDrivers(r.Context(), httpx.Actor(r))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) forceOffline(w http.ResponseWriter, r *http.Request) {
	var req forceOfflineRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
	}
	v, err := h.svc.ForceOffline(r.Context(), r.PathValue("id"), req.Reason, httpx.Actor(r))
	h.reply(w, r, v, err)
}

func (h *Handler) allowOnline(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.AllowOnline(r.Context(), r.PathValue("id"), httpx.Actor(r))
	h.reply(w, r, v, err)
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v model.PresenceView, err error) {
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}
