package app

import (
	"context"
	"sync"
	"time"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/history"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/mqtt"
	"github.com/agrisol/cropdoctor/internal/notification"
	"github.com/agrisol/cropdoctor/internal/observability"
	obsmetrics "github.com/agrisol/cropdoctor/internal/observability/metrics"
)

const (
	// DefaultSinkTimeout bounds one sink call
	DefaultSinkTimeout = 10 * time.Second
	mqttRetryInterval  = 30 * time.Second
)

// Sinks owns the result dispatcher and the resources of its sinks.
type Sinks struct {
	dispatcher *diagnosis.Dispatcher
	history    *history.Store
	mqttClient mqtt.Client
	metrics    *observability.Metrics
	sinkCount  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenSinks creates the sinks enabled in settings. A sink that cannot be created is
// logged and skipped, except history which returns an error. metrics may be nil.
func OpenSinks(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) (*Sinks, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Sinks{metrics: metrics, cancel: cancel}
	log := GetLogger()

	var sinks []diagnosis.Sink

	if settings.History.Enabled {
		var observer history.Observer
		if metrics != nil {
			observer = metrics.History
		}
		store, err := history.Open(&settings.History, observer)
		if err != nil {
			cancel()
			return nil, err
		}
		s.history = store
		sinks = append(sinks, history.NewSink(store))
	}

	if settings.MQTT.Enabled {
		var m *obsmetrics.MQTTMetrics
		if metrics != nil {
			m = metrics.MQTT
		}
		s.mqttClient = mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), m)
		s.connectMQTT(ctx)
		sinks = append(sinks, mqtt.NewSink(s.mqttClient, settings.MQTT.Topic))
	}

	if settings.Notification.Enabled {
		sender, err := notification.NewShoutrrrSender(settings.Notification.URLs, settings.Notification.Timeout)
		if err != nil {
			log.Warn("notifications disabled", logger.Error(err))
		} else {
			opts := []notification.SinkOption{}
			if metrics != nil {
				opts = append(opts, notification.WithRecorder(metrics.Notification))
			}
			sinks = append(sinks, notification.NewSink(
				notification.Filter{MinConfidence: settings.Notification.MinConfidence},
				[]notification.Sender{sender},
				opts...))
		}
	}

	s.sinkCount = len(sinks)
	if s.sinkCount > 0 {
		s.dispatcher = diagnosis.NewDispatcher(settings.History.QueueSize, DefaultSinkTimeout, sinks...)
	}
	return s, nil
}

// connectMQTT tries once in the foreground and keeps retrying in the background
// until connected. paho reconnects on its own after the first successful connect.
func (s *Sinks) connectMQTT(ctx context.Context) {
	err := s.mqttClient.Connect(ctx)
	if err == nil {
		return
	}
	GetLogger().Warn("MQTT broker unavailable, retrying in background",
		logger.Error(err),
		logger.Duration("interval", mqttRetryInterval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(mqttRetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.mqttClient.IsConnected() {
					return
				}
				if err := s.mqttClient.Connect(ctx); err != nil {
					GetLogger().Debug("MQTT reconnect failed", logger.Error(err))
					continue
				}
				return
			}
		}
	}()
}

// Publisher returns the publisher handed to the diagnosis service, nil when no
// sink is enabled. Dropped results are counted in the metrics.
func (s *Sinks) Publisher() diagnosis.Publisher {
	if s.sinkCount == 0 {
		return nil
	}
	return &countingPublisher{inner: s.dispatcher, metrics: s.metrics}
}

// History returns the history store, nil when history is disabled
func (s *Sinks) History() *history.Store {
	return s.history
}

// Stats returns dispatcher counters
func (s *Sinks) Stats() diagnosis.DispatcherStats {
	return s.dispatcher.Stats()
}

// Close drains the dispatcher within timeout and releases sink resources.
func (s *Sinks) Close(timeout time.Duration) error {
	s.cancel()
	s.wg.Wait()

	err := s.dispatcher.Shutdown(timeout)

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.history != nil {
		if cerr := s.history.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type countingPublisher struct {
	inner   diagnosis.Publisher
	metrics *observability.Metrics
}

func (p *countingPublisher) TryPublish(r *diagnosis.Result) bool {
	ok := p.inner.TryPublish(r)
	if !ok && p.metrics != nil {
		p.metrics.Diagnosis.IncrementResultsDropped()
	}
	return ok
}
