// Package admin exposes maintenance and audit endpoints reserved to admins.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/infra/logger"
	"github.com/kilianp07/courierd/pkg/export"
)

// Purger runs one retention sweep.
type Purger interface {
	PurgeExpired(ctx context.Context) (notify.PurgeResult, error)
}

// Handler serves /api/admin maintenance routes.
type Handler struct {
	purger  Purger
	audit   audit.Store
	mailbox notify.Mailbox
	log     logger.Logger
}

func NewHandler(purger Purger, auditStore audit.Store, mailbox notify.Mailbox, log logger.Logger) (*Handler, error) {
	if purger == nil || auditStore == nil || mailbox == nil || log == nil {
		return nil, errors.New("admin: nil parameter provided to NewHandler")
	}
	return &Handler{purger: purger, audit: auditStore, mailbox: mailbox, log: log}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/maintenance/purge", h.adminOnly(h.purge))
	mux.HandleFunc("GET /api/admin/audit", h.adminOnly(h.queryAudit))
	mux.HandleFunc("DELETE /api/admin/drivers/{id}/notifications/{nid}", h.adminOnly(h.deleteNotification))
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

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	res, err := h.purger.PurgeExpired(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.log, model.Internal("purge", err))
		return
	}
	h.log.Infow("manual purge", map[string]any{"actor_id": httpx.Actor(r).ID, "notifications": res.Notifications, "stale_presence": res.StalePresence})
	httpx.WriteJSON(w, http.StatusOK, res)
}

// queryAudit filters by start, end (RFC3339), order_id, driver_id and limit.
// format=csv returns a CSV attachment instead of JSON.
func (h *Handler) queryAudit(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	records, err := h.audit.Query(r.Context(), q)
	if err != nil {
		httpx.WriteError(w, r, h.log, model.Internal("query audit", err))
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
		if err := export.WriteCSV(w, records); err != nil {
			h.log.Errorf("write audit csv: %v", err)
		}
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	httpx.WriteJSON(w, http.StatusOK, records)
}

func parseQuery(r *http.Request) (audit.Query, error) {
	var q audit.Query
	verr := &model.ValidationError{}
	v := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		if s := v.Get(p.name); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				verr.Add(p.name, "must be an RFC3339 timestamp")
				continue
			}
			*p.dst = t
		}
	}
	if f := v.Get("format"); f != "" && f != "json" && f != "csv" {
		verr.Add("format", "must be json or csv")
	}
	if s := v.Get("order_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			verr.Add("order_id", "must be a positive integer")
		}
		q.OrderID = id
	}
	q.DriverID = v.Get("driver_id")
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		verr.Add("limit", "must be a non-negative integer")
	}
	q.Limit = limit
	return q, verr.OrNil()
}

func (h *Handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	nid, err := httpx.PathID(r, "nid")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	driverID := r.PathValue("id")
	if err := h.mailbox.Delete(r.Context(), driverID, nid); err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			err = model.Internal("delete notification", err)
		}
		httpx.WriteError(w, r, h.log, err)
		return
	}
	h.log.Infof("notification %d of %s deleted by %s", nid, driverID, httpx.Actor(r).ID)
	w.WriteHeader(http.StatusNoContent)
}
