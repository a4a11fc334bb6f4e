// Package httpx holds the request plumbing shared by the API handlers:
// actor extraction, request ids, JSON encoding and error mapping.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderRequestID = "X-Request-ID"

	// MsgAlreadyTaken is what a driver sees when another driver won the claim.
	MsgAlreadyTaken = "order already taken, pick a different order"
)

// ErrBadRequest marks a body or parameter that could not be parsed.
var ErrBadRequest = errors.New("bad request")

type ctxKey int

const (
	actorKey ctxKey = iota
	requestIDKey
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string             `json:"error"`
	Fields    []model.FieldError `json:"fields,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// WithActor stores a on ctx.
func WithActor(ctx context.Context, a model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom returns the actor attached by RequireActor.
func ActorFrom(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(actorKey).(model.Actor)
	return a, ok
}

// RequestID returns the id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestID propagates X-Request-ID, generating one when absent.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequireActor reads the identity forwarded by the gateway. Requests without
// a usable actor are rejected with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := model.Actor{
			ID:   r.Header.Get(HeaderActorID),
			Role: model.Role(r.Header.Get(HeaderActorRole)),
		}
		if a.ID == "" || !a.Role.Valid() {
			WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing or invalid actor", RequestID: RequestID(r.Context())})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
	})
}

// Recoverer turns a handler panic into a 500 after reporting it.
func Recoverer(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error
			func() {
				defer monitoring.RecoverAsError(&err)
				next.ServeHTTP(w, r)
			}()
			if err != nil {
				log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
				WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", RequestID: RequestID(r.Context())})
			}
		})
	}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads the request body into v. Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// StatusOf maps a domain error to its HTTP status and public message.
// Internal failures never leak their text.
func StatusOf(err error) (int, ErrorResponse) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "validation failed", Fields: verr.Fields}
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found"}
	case errors.Is(err, model.ErrPermission):
		return http.StatusForbidden, ErrorResponse{Error: "permission denied"}
	case errors.Is(err, model.ErrAlreadyAssigned):
		return http.StatusConflict, ErrorResponse{Error: MsgAlreadyTaken}
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: err.Error()}
	case errors.Is(err, model.ErrForcedOffline):
		return http.StatusConflict, ErrorResponse{Error: "driver is forced offline"}
	case errors.Is(err, model.ErrValidation):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

// WriteError answers with the mapping of StatusOf. 5xx are logged and
// reported with the request id.
func WriteError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status, body := StatusOf(err)
	body.RequestID = RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s [%s]: %v", r.Method, r.URL.Path, body.RequestID, err)
		monitoring.CaptureException(err, map[string]string{
			"module":     "api",
			"path":       r.URL.Path,
			"request_id": body.RequestID,
		})
	}
	WriteJSON(w, status, body)
}

// PathID parses the int64 path wildcard name.
func PathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		verr := &model.ValidationError{}
		verr.Add(name, "must be a positive integer")
		return 0, verr
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		verr := &model.ValidationError{}
		verr.Add(name, "must be a non-negative integer")
		return 0, verr
	}
	return v, nil
}

// Actor is ActorFrom for handlers mounted behind RequireActor.
func Actor(r *http.Request) model.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}
