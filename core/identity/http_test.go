package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/courierd/auth"
	"github.com/kilianp07/courierd/core/model"
)

func userService(t *testing.T, tokenHits *int32) *httptest.Server {
	t.Helper()
	users := map[string]User{
		"d1": {ID: "d1", Name: "Ali", Role: model.RoleDriver, Active: true},
		"d2": {ID: "d2", Name: "Bea", Role: model.RoleDriver},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(tokenHits, 1)
		w.Header().Set("Content-Type", "application/json")
		tok := "stale"
		if n > 1 {
			tok = "fresh"
		}
		_, _ = w.Write([]byte(`{"access_token":"` + tok + `","token_type":"bearer","expires_in":3600}`))
	})
	authorized := func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer fresh" }
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		u, ok := users[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(u)
	})
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		res := []User{}
		for _, id := range []string{"d1", "d2"} {
			if string(users[id].Role) == r.URL.Query().Get("role") {
				res = append(res, users[id])
			}
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDirectory(t *testing.T) {
	var hits int32
	srv := userService(t, &hits)
	cred := auth.NewClientCred(auth.Conf{ClientID: "courierd", ClientSecret: "s", TokenURL: srv.URL + "/token"})
	d, err := NewHTTPDirectory(srv.URL+"/", time.Second, cred)
	require.NoError(t, err)
	ctx := context.Background()

	// first token is rejected, the client refreshes once
	u, err := d.GetUser(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Ali", u.Name)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, err = d.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)

	active, err := d.IsActive(ctx, "d2")
	require.NoError(t, err)
	assert.False(t, active)

	drivers, err := d.ListUsersByRole(ctx, model.RoleDriver)
	require.NoError(t, err)
	assert.Len(t, drivers, 2)

	admins, err := d.ListUsersByRole(ctx, model.RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, admins)
}

func TestHTTPDirectory_Errors(t *testing.T) {
	_, err := NewHTTPDirectory("not a url", 0, nil)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	d, err := NewHTTPDirectory(srv.URL, 0, nil)
	require.NoError(t, err)
	_, err = d.GetUser(context.Background(), "d1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrNotFound)
}
