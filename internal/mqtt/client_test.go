package mqtt

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/observability/metrics"
)

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakeClient) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeClient) IsConnected() bool             { return f.connected }
func (f *fakeClient) Disconnect()                   { f.connected = false }

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.messages = append(f.messages, published{topic: topic, payload: payload})
	return nil
}

func newMQTTMetrics(t *testing.T) *metrics.MQTTMetrics {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestSinkPublishesResultJSON(t *testing.T) {
	fc := &fakeClient{connected: true}
	sink := NewSink(fc, "cropdoctor/diagnoses/")
	assert.Equal(t, "mqtt", sink.Name())

	r := &diagnosis.Result{
		Success:        true,
		PredictionID:   "abc",
		PredictedClass: "Late Blight",
		Confidence:     0.87,
		CropType:       "potatoes",
	}
	require.NoError(t, sink.Consume(context.Background(), r))

	require.Len(t, fc.messages, 1)
	assert.Equal(t, "cropdoctor/diagnoses/potatoes", fc.messages[0].topic)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fc.messages[0].payload, &decoded))
	assert.Equal(t, "abc", decoded["prediction_id"])
	assert.Equal(t, "Late Blight", decoded["predicted_class"])
	assert.Equal(t, "potatoes", decoded["crop_type"])
}

func TestSinkPropagatesNotConnected(t *testing.T) {
	sink := NewSink(&fakeClient{}, "cropdoctor")
	err := sink.Consume(context.Background(), &diagnosis.Result{CropType: "beans"})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishWhileDisconnected(t *testing.T) {
	m := newMQTTMetrics(t)
	c := NewClient(DefaultConfig(), m)

	assert.False(t, c.IsConnected())
	err := c.Publish(context.Background(), "cropdoctor/test", []byte("{}"))
	require.ErrorIs(t, err, ErrNotConnected)
	assert.InDelta(t, 1, counterValue(t, m.Errors), 0)
	assert.InDelta(t, 0, counterValue(t, m.MessagesDelivered), 0)

	// disconnect before connect is a no-op
	c.Disconnect()
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "://missing-scheme"
	c := NewClient(cfg, nil)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConnectCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1"
	cfg.ConnectTimeout = time.Second
	c := NewClient(cfg, nil)

	require.Error(t, c.Connect(context.Background()))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestConfigFromSettings(t *testing.T) {
	settings := conf.Defaults().MQTT
	settings.Username = "farm"
	settings.Retain = true

	cfg := ConfigFromSettings(&settings)
	assert.Equal(t, "tcp://localhost:1883", cfg.Broker)
	assert.Equal(t, "cropdoctor/diagnoses", cfg.Topic)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, "farm", cfg.Username)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}

func isMosquittoTestServerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "test.mosquitto.org:1883", 5*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// TestPublicBroker exercises a real connection when the public test broker is reachable.
func TestPublicBroker(t *testing.T) {
	if testing.Short() || !isMosquittoTestServerAvailable() {
		t.Skip("Skipping MQTT broker test: test.mosquitto.org is not available")
	}

	m := newMQTTMetrics(t)
	cfg := DefaultConfig()
	cfg.Broker = "tcp://test.mosquitto.org:1883"
	cfg.ClientID = "cropdoctor-test"
	c := NewClient(cfg, m)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Publish(ctx, "cropdoctor/test", []byte(`{"ok":true}`)))
	assert.InDelta(t, 1, counterValue(t, m.MessagesDelivered), 0)

	c.Disconnect()
	assert.False(t, c.IsConnected())
}
