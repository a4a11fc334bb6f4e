// Package orders exposes the order lifecycle over HTTP.
package orders

import (
	"context"
	"errors"
	"net/http"

	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/order"
	"github.com/kilianp07/courierd/infra/logger"
)

// Service is the subset of order.Manager used by the handlers.
type Service interface {
	Create(ctx context.Context, actor model.Actor, in order.CreateInput) (model.Order, error)
	Transition(ctx context.Context, id int64, actor model.Actor, to model.OrderStatus, extra order.TransitionExtra) (model.Order, error)
	Get(ctx context.Context, actor model.Actor, id int64) (model.Order, error)
	List(ctx context.Context, actor model.Actor, lf order.ListFilter) ([]model.Order, error)
}

// TransitionRequest is the body of POST /api/orders/{id}/transition.
type TransitionRequest struct {
	Status   model.OrderStatus `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	DriverID string            `json:"driver_id,omitempty"`
}

// Handler serves /api/orders.
type Handler struct {
	svc Service
	log logger.Logger
}

func NewHandler(svc Service, log logger.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("order service is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	return &Handler{svc: svc, log: log}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.create)
	mux.HandleFunc("GET /api/orders", h.list)
	mux.HandleFunc("GET /api/orders/{id}", h.get)
	mux.HandleFunc("POST /api/orders/{id}/transition", h.transition)
	mux.HandleFunc("POST /api/orders/{id}/accept", h.shorthand(model.StatusAssigned))
	mux.HandleFunc("POST /api/orders/{id}/start", h.shorthand(model.StatusInProgress))
	mux.HandleFunc("POST /api/orders/{id}/complete", h.shorthand(model.StatusDelivered))
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.shorthand(model.StatusCancelled))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in order.CreateInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.svc.Create(r.Context(), httpx.Actor(r), in)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	res, err := h.svc.List(r.Context(), httpx.Actor(r), order.ListFilter{
		Status:     model.OrderStatus(q.Get("status")),
		DriverID:   q.Get("driver_id"),
		CustomerID: q.Get("customer_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if res == nil {
		res = []model.Order{}
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.svc.Get(r.Context(), httpx.Actor(r), id)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.apply(w, r, req)
}

// shorthand serves accept/start/complete/cancel. The body is optional and
// may carry a cancel reason or, for admins, the driver to assign.
func (h *Handler) shorthand(to model.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeJSON(w, r, &req); err != nil {
				httpx.WriteError(w, r, h.log, err)
				return
			}
		}
		req.Status = to
		h.apply(w, r, req)
	}
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, req TransitionRequest) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if req.Status == "" {
		verr := &model.ValidationError{}
		verr.Add("status", "is required")
		httpx.WriteError(w, r, h.log, verr)
		return
	}
	o, err := h.svc.Transition(r.Context(), id, httpx.Actor(r), req.Status, order.TransitionExtra{
		Reason:   req.Reason,
		DriverID: req.DriverID,
	})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}
