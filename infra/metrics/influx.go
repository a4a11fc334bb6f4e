package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/courierd/core/metrics"
	"github.com/kilianp07/courierd/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	now      func() time.Time
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
		now:      time.Now,
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes one order_transition point per status change.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	from := string(ev.From)
	if from == "" {
		from = "none"
	}
	p := write.NewPointWithMeasurement("order_transition").
		AddTag("from", from).
		AddTag("to", string(ev.To)).
		AddTag("actor_role", string(ev.ActorRole)).
		AddField("order_id", ev.OrderID).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordClaimConflict(ev coremetrics.ClaimConflictEvent) error {
	p := write.NewPointWithMeasurement("claim_conflict").
		AddTag("driver_id", ev.DriverID).
		AddField("order_id", ev.OrderID).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordFanOut(ev coremetrics.FanOutEvent) error {
	p := write.NewPointWithMeasurement("notification_fanout").
		AddTag("order_id", strconv.FormatInt(ev.OrderID, 10)).
		AddField("notified", ev.Notified).
		AddField("failed", ev.Failed).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordMailboxEviction(driverID string, evicted int) error {
	p := write.NewPointWithMeasurement("mailbox_eviction").
		AddTag("driver_id", driverID).
		AddField("evicted", evicted).
		SetTime(s.now())
	return s.write(p)
}

func (s *InfluxSink) RecordPurge(ev coremetrics.PurgeEvent) error {
	p := write.NewPointWithMeasurement("retention_purge").
		AddField("notifications", ev.Notifications).
		AddField("stale_presence", ev.StalePresence).
		AddField("duration_ms", ev.Duration.Milliseconds()).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordPresence(ev coremetrics.PresenceEvent) error {
	p := write.NewPointWithMeasurement("driver_presence").
		AddTag("driver_id", ev.DriverID).
		AddTag("status", string(ev.Status)).
		AddField("forced", ev.Forced).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) RecordAvailableDrivers(n int) error {
	p := write.NewPointWithMeasurement("available_drivers").
		AddField("count", n).
		SetTime(s.now())
	return s.write(p)
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() { s.client.Close() }
