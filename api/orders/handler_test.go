package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/courierd/api/httpx"
	"github.com/kilianp07/courierd/core/model"
	"github.com/kilianp07/courierd/core/order"
	"github.com/kilianp07/courierd/infra/logger"
)

type transitionCall struct {
	id    int64
	actor model.Actor
	to    model.OrderStatus
	extra order.TransitionExtra
}

type stubService struct {
	created     order.CreateInput
	transitions []transitionCall
	listed      order.ListFilter
	err         error
}

func (s *stubService) Create(_ context.Context, actor model.Actor, in order.CreateInput) (model.Order, error) {
	s.created = in
	if s.err != nil {
		return model.Order{}, s.err
	}
	return model.Order{ID: 1, CustomerID: actor.ID, Status: model.StatusPendingAssignment}, nil
}

func (s *stubService) Transition(_ context.Context, id int64, actor model.Actor, to model.OrderStatus, extra order.TransitionExtra) (model.Order, error) {
	s.transitions = append(s.transitions, transitionCall{id, actor, to, extra})
	if s.err != nil {
		return model.Order{}, s.err
	}
	return model.Order{ID: id, Status: to}, nil
}

func (s *stubService) Get(_ context.Context, _ model.Actor, id int64) (model.Order, error) {
	if s.err != nil {
		return model.Order{}, s.err
	}
	return model.Order{ID: id}, nil
}

func (s *stubService) List(_ context.Context, _ model.Actor, lf order.ListFilter) ([]model.Order, error) {
	s.listed = lf
	return nil, s.err
}

func newMux(t *testing.T, svc Service) http.Handler {
	t.Helper()
	h, err := NewHandler(svc, logger.NopLogger{})
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.Register(mux)
	return httpx.RequireActor(mux)
}

func serve(h http.Handler, method, path string, actor model.Actor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(httpx.HeaderActorID, actor.ID)
	req.Header.Set(httpx.HeaderActorRole, string(actor.Role))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var (
	customer = model.Actor{ID: "c1", Role: model.RoleCustomer}
	driver   = model.Actor{ID: "d1", Role: model.RoleDriver}
	admin    = model.Actor{ID: "a1", Role: model.RoleAdmin}
)

func TestCreate(t *testing.T) {
	svc := &stubService{}
	h := newMux(t, svc)

	rec := serve(h, http.MethodPost, "/api/orders", customer, `{"customer_name":"Cam","total":12}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Cam", svc.created.CustomerName)
	assert.Equal(t, 12.0, svc.created.Total)

	rec = serve(h, http.MethodPost, "/api/orders", customer, `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_ValidationFields(t *testing.T) {
	verr := &model.ValidationError{}
	verr.Add("customer_name", "is required")
	verr.Add("items", "is required")
	h := newMux(t, &stubService{err: verr})

	rec := serve(h, http.MethodPost, "/api/orders", customer, `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Fields, 2)
	assert.Equal(t, "items", body.Fields[1].Field)
}

func TestTransition_BodyAndShorthands(t *testing.T) {
	svc := &stubService{}
	h := newMux(t, svc)

	rec := serve(h, http.MethodPost, "/api/orders/5/transition", admin, `{"status":"assigned","driver_id":"d9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(h, http.MethodPost, "/api/orders/5/accept", driver, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(h, http.MethodPost, "/api/orders/5/start", driver, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(h, http.MethodPost, "/api/orders/5/complete", driver, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(h, http.MethodPost, "/api/orders/5/cancel", admin, `{"reason":"customer left"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.transitions, 5)
	assert.Equal(t, transitionCall{5, admin, model.StatusAssigned, order.TransitionExtra{DriverID: "d9"}}, svc.transitions[0])
	assert.Equal(t, model.StatusAssigned, svc.transitions[1].to)
	assert.Equal(t, model.StatusInProgress, svc.transitions[2].to)
	assert.Equal(t, model.StatusDelivered, svc.transitions[3].to)
	assert.Equal(t, transitionCall{5, admin, model.StatusCancelled, order.TransitionExtra{Reason: "customer left"}}, svc.transitions[4])
}

func TestTransition_Errors(t *testing.T) {
	h := newMux(t, &stubService{})
	rec := serve(h, http.MethodPost, "/api/orders/5/transition", driver, `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = serve(h, http.MethodPost, "/api/orders/x/accept", driver, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	h = newMux(t, &stubService{err: model.ErrAlreadyAssigned})
	rec = serve(h, http.MethodPost, "/api/orders/5/accept", driver, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), httpx.MsgAlreadyTaken)

	h = newMux(t, &stubService{err: model.ErrPermission})
	rec = serve(h, http.MethodPost, "/api/orders/5/start", driver, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestList_QueryParams(t *testing.T) {
	svc := &stubService{}
	h := newMux(t, svc)

	rec := serve(h, http.MethodGet, "/api/orders?status=assigned&driver_id=d1&limit=10&offset=20", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, order.ListFilter{Status: model.StatusAssigned, DriverID: "d1", Limit: 10, Offset: 20}, svc.listed)

	rec = serve(h, http.MethodGet, "/api/orders?limit=-1", admin, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGet_NotFound(t *testing.T) {
	h := newMux(t, &stubService{err: model.ErrNotFound})
	rec := serve(h, http.MethodGet, "/api/orders/9", customer, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewHandler_Nil(t *testing.T) {
	_, err := NewHandler(nil, logger.NopLogger{})
	assert.Error(t, err)
}
