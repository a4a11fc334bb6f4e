package config

import (
	"net/url"
	"strings"

	"github.com/kilianp07/courierd/core/factory"
)

const mask = "****"

// Redacted returns a copy safe to print: passwords, client secrets, tokens
// and credentials embedded in URLs are masked.
func (c Config) Redacted() Config {
	out := c
	out.MQTT.Password = maskIfSet(c.MQTT.Password)
	out.AMQP.URL = redactURL(c.AMQP.URL)
	out.Identity.Auth.ClientSecret = maskIfSet(c.Identity.Auth.ClientSecret)
	out.Sentry.DSN = redactURL(c.Sentry.DSN)
	out.Storage.Orders = redactModule(c.Storage.Orders)
	out.Storage.Mailbox = redactModule(c.Storage.Mailbox)
	if c.Metrics.Sinks != nil {
		out.Metrics.Sinks = make([]factory.ModuleConfig, len(c.Metrics.Sinks))
		for i, s := range c.Metrics.Sinks {
			out.Metrics.Sinks[i] = redactModule(s)
		}
	}
	return out
}

func maskIfSet(s string) string {
	if s == "" {
		return ""
	}
	return mask
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), mask)
	} else {
		u.User = url.User(mask)
	}
	return u.String()
}

func redactModule(m factory.ModuleConfig) factory.ModuleConfig {
	if m.Conf == nil {
		return m
	}
	conf := make(map[string]any, len(m.Conf))
	for k, v := range m.Conf {
		switch lk := strings.ToLower(k); {
		case strings.Contains(lk, "password"), strings.Contains(lk, "secret"), strings.Contains(lk, "token"):
			conf[k] = mask
		case lk == "dsn" || lk == "url":
			if s, ok := v.(string); ok {
				v = redactURL(s)
			}
			conf[k] = v
		default:
			conf[k] = v
		}
	}
	return factory.ModuleConfig{Type: m.Type, Conf: conf}
}
