package mqtt

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

func TestClient_QoSPerKind(t *testing.T) {
	mc := &mockClient{}
	stubClient(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"notification": 2, "heartbeat": 1}}
	cli, err := NewClient(cfg, logger.NopLogger{})
	require.NoError(t, err)

	require.NoError(t, cli.Subscribe("couriers/+/heartbeat", "heartbeat", func(paho.Client, paho.Message) {}))
	require.NoError(t, cli.Publish("couriers/d1/notifications", "notification", []byte("{}")))
	require.NoError(t, cli.Publish("couriers/d1/presence", "presence", []byte("{}")))

	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)
	require.Len(t, mc.published, 2)
	assert.Equal(t, byte(2), mc.published[0].qos)
	assert.Equal(t, byte(0), mc.published[1].qos)
}

func TestClient_ResubscribesOnReconnect(t *testing.T) {
	mc := &mockClient{}
	stubClient(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"}, logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, cli.Subscribe("couriers/+/status", "status", func(paho.Client, paho.Message) {}))

	mc.opts.OnConnect(mc)
	require.Len(t, mc.subscribed, 2)
	assert.Equal(t, "couriers/+/status", mc.subscribed[1].topic)
}

func TestClient_LastWill(t *testing.T) {
	mc := &mockClient{}
	stubClient(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "couriers/_service/status", LWTPayload: "offline", LWTQoS: 1}
	cli, err := NewClient(cfg, logger.NopLogger{})
	require.NoError(t, err)
	assert.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "couriers/_service/status", mc.opts.WillTopic)
	assert.Equal(t, "offline", string(mc.opts.WillPayload))

	cli.Disconnect()
	assert.Zero(t, mc.publishedCount())
}

func TestClient_PublishRetries(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	stubClient(t, mc)
	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1}, logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, cli.Publish("t", "notification", nil))
	assert.Equal(t, 2, mc.publishedCount())
}

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err, r.tags = err, tags
}
func (r *recordMonitor) CapturePanic(any)    {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestClient_PublishFailureReported(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), errors.New("net fail")}}
	stubClient(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	cli, err := NewClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1}, logger.NopLogger{})
	require.NoError(t, err)
	err = cli.Publish("couriers/d1/notifications", "notification", nil)
	require.Error(t, err)
	require.Error(t, mon.err)
	assert.Equal(t, "couriers/d1/notifications", mon.tags["topic"])
	assert.Equal(t, "mqtt", mon.tags["module"])
}

func TestNewClient_Errors(t *testing.T) {
	mc := &mockClient{connectErr: errors.New("refused")}
	stubClient(t, mc)
	_, err := NewClient(Config{Broker: "tcp://localhost:1883"}, logger.NopLogger{})
	assert.Error(t, err)

	_, err = NewClient(Config{}, nil)
	assert.Error(t, err)
}
