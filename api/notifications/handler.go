// Package notifications exposes a driver's mailbox over HTTP and pushes new
// entries to connected websocket clients.
package notifications

import (
	"errors"
	"net/http"

	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/infra/logger"
)

// CountResponse carries the result of a counting or bulk operation.
type CountResponse struct {
	Count int `json:"count"`
}

// Handler serves /api/notifications for the calling driver.
type Handler struct {
	mailbox notify.Mailbox
	hub     *Hub
	log     logger.Logger
}

// NewHandler builds the mailbox routes. hub may be nil, in which case the
// stream route is not mounted.
func NewHandler(mailbox notify.Mailbox, hub *Hub, log logger.Logger) (*Handler, error) {
	if mailbox == nil {
		return nil, errors.New("mailbox is nil")
	}
	if log == nil {
		return nil, errors.New("logger is nil")
	}
	return &Handler{mailbox: mailbox, hub: hub, log: log}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notifications", h.driverOnly(h.list))
	mux.HandleFunc("GET /api/notifications/unread-count", h.driverOnly(h.unreadCount))
	mux.HandleFunc("POST /api/notifications/{id}/read", h.driverOnly(h.markRead))
	mux.HandleFunc("POST /api/notifications/read-all", h.driverOnly(h.markAllRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", h.driverOnly(h.delete))
	mux.HandleFunc("DELETE /api/notifications", h.driverOnly(h.clear))
	if h.hub != nil {
		mux.HandleFunc("GET /api/notifications/stream", h.driverOnly(h.hub.ServeWS))
	}
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

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"
	res, err := h.mailbox.List(r.Context(), httpx.Actor(r).ID, unread)
	if err != nil {
		httpx.WriteError(w, r, h.log, model.Internal("list notifications", err))
		return
	}
	if res == nil {
		res = []model.Notification{}
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.mailbox.UnreadCount(r.Context(), httpx.Actor(r).ID)
	h.count(w, r, n, err)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if err := h.mailbox.MarkRead(r.Context(), httpx.Actor(r).ID, id); err != nil {
		httpx.WriteError(w, r, h.log, mailboxErr("mark read", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.mailbox.MarkAllRead(r.Context(), httpx.Actor(r).ID)
	h.count(w, r, n, err)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	if err := h.mailbox.Delete(r.Context(), httpx.Actor(r).ID, id); err != nil {
		httpx.WriteError(w, r, h.log, mailboxErr("delete notification", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.mailbox.Clear(r.Context(), httpx.Actor(r).ID)
	h.count(w, r, n, err)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request, n int, err error) {
	if err != nil {
		httpx.WriteError(w, r, h.log, model.Internal("mailbox", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, CountResponse{Count: n})
}

// mailboxErr keeps ErrNotFound and wraps every other store failure.
func mailboxErr(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	return model.Internal(op, err)
}
