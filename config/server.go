package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/courierd/auth"
)

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Addr                   string `json:"addr"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
	// AllowedOrigins restricts websocket upgrades. Empty accepts same-host requests only.
	AllowedOrigins []string `json:"allowed_origins"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeoutSeconds == 0 {
		c.ShutdownTimeoutSeconds = 10
	}
}

func (c ServerConfig) Validate() error {
	if c.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("shutdown_timeout_seconds must be positive")
	}
	return nil
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// IdentityConfig selects the user directory: a local users file or a remote
// user service. Neither means driver ids are not checked.
type IdentityConfig struct {
	UsersFile      string    `json:"users_file"`
	URL            string    `json:"url"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Auth           auth.Conf `json:"auth"`
}

func (c IdentityConfig) Validate() error {
	if c.UsersFile != "" && c.URL != "" {
		return errors.New("users_file and url are mutually exclusive")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.Auth.Enabled() && c.URL == "" {
		return errors.New("auth requires url")
	}
	return c.Auth.Validate()
}

func (c IdentityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
