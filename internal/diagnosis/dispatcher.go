package diagnosis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agrisol/cropdoctor/internal/logger"
)

// Sink consumes finished results outside the request path, e.g. history storage or MQTT.
type Sink interface {
	Name() string
	Consume(ctx context.Context, r *Result) error
}

// Publisher accepts results without blocking
type Publisher interface {
	TryPublish(r *Result) bool
}

// DispatcherStats counts dispatcher activity
type DispatcherStats struct {
	Received   uint64 `json:"received"`
	Processed  uint64 `json:"processed"`
	Dropped    uint64 `json:"dropped"`
	SinkErrors uint64 `json:"sink_errors"`
}

// Dispatcher fans results out to sinks from a bounded queue drained by one worker.
// Sink failures and panics are logged and never reach the publisher.
type Dispatcher struct {
	queue       chan *Result
	sinks       []Sink
	sinkTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	received   atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	sinkErrors atomic.Uint64
}

// NewDispatcher starts a dispatcher. A non-positive bufferSize defaults to 100 and a
// non-positive sinkTimeout to 10 seconds.
func NewDispatcher(bufferSize int, sinkTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if sinkTimeout <= 0 {
		sinkTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:       make(chan *Result, bufferSize),
		sinks:       sinks,
		sinkTimeout: sinkTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	GetLogger().Info("result dispatcher started",
		logger.Int("buffer_size", bufferSize),
		logger.Strings("sinks", names))

	d.wg.Add(1)
	go d.worker()
	return d
}

// TryPublish queues r and reports whether it was accepted. A full queue drops r.
func (d *Dispatcher) TryPublish(r *Result) bool {
	if d == nil || r == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.sinks) == 0 {
		return false
	}

	select {
	case d.queue <- r:
		d.received.Add(1)
		return true
	default:
		d.dropped.Add(1)
		GetLogger().Debug("result dropped due to full queue",
			logger.String("prediction_id", r.PredictionID),
			logger.String("crop", r.CropType))
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for r := range d.queue {
		d.process(r)
	}
}

func (d *Dispatcher) process(r *Result) {
	for _, sink := range d.sinks {
		if err := d.consume(sink, r); err != nil {
			d.sinkErrors.Add(1)
			GetLogger().Error("sink error",
				logger.String("sink", sink.Name()),
				logger.String("prediction_id", r.PredictionID),
				logger.Error(err))
		}
	}
	d.processed.Add(1)
}

func (d *Dispatcher) consume(sink Sink, r *Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panicked: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, d.sinkTimeout)
	defer cancel()
	return sink.Consume(ctx, r)
}

// Shutdown stops accepting results and waits for queued ones to drain.
// In-flight sink calls are cancelled when timeout expires.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		GetLogger().Info("result dispatcher stopped", logger.Any("stats", d.Stats()))
		return nil
	case <-time.After(timeout):
		d.cancel()
		<-done
		return fmt.Errorf("dispatcher shutdown timeout exceeded after %s", timeout)
	}
}

// Stats returns current counters
func (d *Dispatcher) Stats() DispatcherStats {
	if d == nil {
		return DispatcherStats{}
	}
	return DispatcherStats{
		Received:   d.received.Load(),
		Processed:  d.processed.Load(),
		Dropped:    d.dropped.Load(),
		SinkErrors: d.sinkErrors.Load(),
	}
}
