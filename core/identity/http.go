package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilianp07/courierd/core/model"
)

// Authorizer decorates outbound directory requests with credentials.
type Authorizer interface {
	SetAuthHeader(r *http.Request) error
	Invalidate()
}

// HTTPDirectory reads users from a remote user service:
//
//	GET {base}/users/{id}
//	GET {base}/users?role={role}
type HTTPDirectory struct {
	base   string
	client *http.Client
	auth   Authorizer
}

// NewHTTPDirectory returns a directory client. auth may be nil for an
// unauthenticated service.
func NewHTTPDirectory(baseURL string, timeout time.Duration, auth Authorizer) (*HTTPDirectory, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid directory url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDirectory{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		auth:   auth,
	}, nil
}

func (d *HTTPDirectory) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	if err := d.get(ctx, "/users/"+url.PathEscape(id), &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (d *HTTPDirectory) ListUsersByRole(ctx context.Context, role model.Role) ([]User, error) {
	var users []User
	if err := d.get(ctx, "/users?role="+url.QueryEscape(string(role)), &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

func (d *HTTPDirectory) IsActive(ctx context.Context, id string) (bool, error) {
	u, err := d.GetUser(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Active, nil
}

// get retries once with a fresh token when the service answers 401.
func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	status, err := d.do(ctx, path, out)
	if status == http.StatusUnauthorized && d.auth != nil {
		d.auth.Invalidate()
		_, err = d.do(ctx, path, out)
	}
	return err
}

func (d *HTTPDirectory) do(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if d.auth != nil {
		if err := d.auth.SetAuthHeader(req); err != nil {
			return 0, fmt.Errorf("directory auth: %w", err)
		}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("directory request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, model.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("directory %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("directory decode: %w", err)
	}
	return resp.StatusCode, nil
}
