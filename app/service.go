package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kilianp07/courierd/api"
	"github.com/kilianp07/courierd/api/notifications"
	"github.com/kilianp07/courierd/app/plugins"
	"github.com/kilianp07/courierd/auth"
	"github.com/kilianp07/courierd/config"
	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/identity"
	coremetrics "github.com/kilianp07/courierd/core/metrics"
	coremon "github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/core/order"
	"github.com/kilianp07/courierd/core/presence"
	"github.com/kilianp07/courierd/infra/amqp"
	"github.com/kilianp07/courierd/infra/logger"
	"github.com/kilianp07/courierd/infra/metrics"
	"github.com/kilianp07/courierd/infra/monitoring"
	"github.com/kilianp07/courierd/infra/mqtt"
	"github.com/kilianp07/courierd/internal/eventbus"
)

// availabilitySampleInterval refreshes the available drivers gauge.
const availabilitySampleInterval = 30 * time.Second

// Service wires the dispatch core to its stores, transports and HTTP surface.
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	logFile io.Closer

	Orders   *order.Manager
	Presence *presence.Manager
	Notifier *notify.Dispatcher
	Sweeper  *notify.Sweeper
	Mailbox  notify.Mailbox
	Audit    audit.Store
	Handler  http.Handler

	orderStore order.Store
	sink       coremetrics.MetricsSink
	orderBus   *eventbus.TypedBus[events.OrderEvent]
	notifBus   *eventbus.TypedBus[events.NotificationEvent]
	presBus    *eventbus.TypedBus[events.PresenceEvent]
	hub        *notifications.Hub
	mqtt       *mqtt.Client
	pusher     *mqtt.Pusher
	listener   *mqtt.HeartbeatListener
	amqp       *amqp.Publisher

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Service from the configuration. Transports left
// unconfigured are skipped.
func New(cfg *config.Config) (svc *Service, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logFile, err := logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	s := &Service{
		cfg:      cfg,
		log:      logg,
		logFile:  logFile,
		orderBus: eventbus.NewTyped[events.OrderEvent](),
		notifBus: eventbus.NewTyped[events.NotificationEvent](),
		presBus:  eventbus.NewTyped[events.PresenceEvent](),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	s.orderBus.OnDrop(func(ev events.OrderEvent) {
		logg.Warnf("order %d event dropped by a slow subscriber", ev.Order.ID)
	})
	s.notifBus.OnDrop(func(ev events.NotificationEvent) {
		logg.Debugf("live push of notification %d skipped, mailbox keeps it", ev.Notification.ID)
	})

	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	directory, err := loadDirectory(cfg.Identity)
	if err != nil {
		return nil, err
	}
	if directory == nil {
		logg.Warnf("no user directory configured, driver ids are not checked")
	}
	pol := cfg.Dispatch.Policy()

	if s.Presence, err = presence.NewManager(presence.NewMemoryStore(), pol, directory, logger.New("presence"), s.sink); err != nil {
		return nil, fmt.Errorf("presence manager: %w", err)
	}
	s.Presence.SetBus(s.presBus)

	if s.orderStore, err = plugins.OrderStores.Create(cfg.Storage.Orders); err != nil {
		return nil, fmt.Errorf("order store: %w", err)
	}
	if s.Mailbox, err = plugins.NewMailbox(cfg.Storage.Mailbox, pol.MailboxCapacity); err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}
	if s.Audit, err = plugins.AuditStores.Create(cfg.Audit.Module()); err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	if s.Notifier, err = notify.NewDispatcher(s.Presence, s.Mailbox, logger.New("notify"), s.sink); err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	s.Notifier.SetBus(s.notifBus)

	if s.Orders, err = order.NewManager(s.orderStore, s.Presence, directory, logger.New("order"), s.sink); err != nil {
		return nil, fmt.Errorf("order manager: %w", err)
	}
	s.Orders.SetNotifier(s.Notifier)
	s.Orders.SetAuditStore(s.Audit)
	s.Orders.SetBus(s.orderBus)
	s.Orders.SetDispatchTimeout(cfg.Dispatch.FanOutTimeout())

	if s.Sweeper, err = notify.NewSweeper(s.Mailbox, s.Presence, pol, logger.New("sweeper"), s.sink); err != nil {
		return nil, fmt.Errorf("sweeper: %w", err)
	}

	if err := s.setupTransports(); err != nil {
		return nil, err
	}

	s.hub = notifications.NewHub(cfg.Server.AllowedOrigins, logger.New("websocket"))
	if s.Handler, err = api.NewRouter(api.Deps{
		Orders:   s.Orders,
		Presence: s.Presence,
		Mailbox:  s.Mailbox,
		Purger:   s.Sweeper,
		Audit:    s.Audit,
		Hub:      s.hub,
		Log:      logger.New("api"),
	}); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	return s, nil
}

func (s *Service) setupTransports() error {
	if s.cfg.MQTT.Enabled() {
		client, err := mqtt.NewClient(s.cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt client: %w", err)
		}
		s.mqtt = client
		if s.pusher, err = mqtt.NewPusher(client, s.cfg.MQTT, logger.New("mqtt-push")); err != nil {
			return fmt.Errorf("mqtt pusher: %w", err)
		}
		if s.listener, err = mqtt.NewHeartbeatListener(client, s.Presence, s.cfg.MQTT, logger.New("mqtt-presence")); err != nil {
			return fmt.Errorf("mqtt listener: %w", err)
		}
	}
	if s.cfg.AMQP.Enabled() {
		pub, err := amqp.Dial(s.cfg.AMQP, logger.New("amqp"))
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		s.amqp = pub
	}
	return nil
}

// loadDirectory returns a nil Directory when neither a users file nor a
// user service is configured; driver ids are then trusted as forwarded by
// the gateway.
func loadDirectory(cfg config.IdentityConfig) (identity.Directory, error) {
	if cfg.URL != "" {
		var cred identity.Authorizer
		if cfg.Auth.Enabled() {
			cred = auth.NewClientCred(cfg.Auth)
		}
		dir, err := identity.NewHTTPDirectory(cfg.URL, cfg.Timeout(), cred)
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		return dir, nil
	}
	if cfg.UsersFile == "" {
		return nil, nil
	}
	dir, err := identity.LoadFile(cfg.UsersFile)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return dir, nil
}

// Run starts the background workers and the HTTP server, and blocks until
// ctx is canceled. The server is then drained within the shutdown timeout.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubSub := s.notifBus.Subscribe()
	s.goRun(func() { s.hub.Run(ctx, hubSub) })
	if s.pusher != nil {
		notifSub := s.notifBus.Subscribe()
		presSub := s.presBus.Subscribe()
		s.goRun(func() { s.pusher.Run(ctx, notifSub) })
		s.goRun(func() { s.pusher.RunPresence(ctx, presSub) })
	}
	if s.listener != nil {
		if err := s.listener.Start(); err != nil {
			return fmt.Errorf("mqtt listener: %w", err)
		}
	}
	if s.amqp != nil {
		sub := s.orderBus.Subscribe()
		s.goRun(func() { s.amqp.Run(ctx, sub) })
	}
	s.goRun(func() { s.Sweeper.Run(ctx) })
	metrics.StartAvailabilitySampler(ctx, s.Presence, availabilitySampleInterval, logger.New("metrics"))
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		s.goRun(func() {
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		})
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout())
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("http shutdown: %v", err)
	}
	cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer coremon.Recover()
		fn()
	}()
}

// Close waits for pending fan-outs and releases every resource. It is safe
// to call more than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.Orders != nil {
			s.Orders.Wait()
		}
		if s.mqtt != nil {
			s.mqtt.Disconnect()
		}
		if s.amqp != nil {
			errs = append(errs, s.amqp.Close())
		}
		s.orderBus.Close()
		s.notifBus.Close()
		s.presBus.Close()
		for _, c := range []io.Closer{s.orderStore, s.Mailbox, s.Audit} {
			if c != nil {
				errs = append(errs, c.Close())
			}
		}
		if c, ok := s.sink.(interface{ Close() }); ok {
			c.Close()
		}
		coremon.Flush(2 * time.Second)
		if s.logFile != nil {
			errs = append(errs, s.logFile.Close())
		}
	})
	return errors.Join(errs...)
}
