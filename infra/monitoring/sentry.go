package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/courierd/config"
	coremon "github.com/kilianp07/courierd/core/monitoring"
)

// NewSentryMonitor returns a Monitor reporting to Sentry, or a no-op monitor
// when no DSN is configured.
func NewSentryMonitor(cfg config.SentryConfig) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	return newSentryMonitor(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		SampleRate:       cfg.SampleRate,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		AttachStacktrace: true,
		ServerName:       "courierd",
	})
}

// sentryMonitor owns its hub so the process-global one stays untouched.
type sentryMonitor struct {
	hub *sentry.Hub
}

func newSentryMonitor(opts sentry.ClientOptions) (*sentryMonitor, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (m *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	m.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		m.hub.CaptureException(err)
	})
}

func (m *sentryMonitor) CapturePanic(v any) {
	m.hub.Recover(v)
}

func (m *sentryMonitor) Flush(timeout time.Duration) { m.hub.Flush(timeout) }
