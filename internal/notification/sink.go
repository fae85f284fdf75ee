package notification

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
)

const (
	// DefaultCooldown suppresses repeat alerts for the same crop and disease
	DefaultCooldown = 15 * time.Minute

	alertsPerMinute = 6
	alertBurst      = 3
)

// DeliveryRecorder receives per-sender delivery outcomes, typically metrics
type DeliveryRecorder interface {
	RecordDelivery(service string, err error)
}

// Sink forwards urgent diagnoses to the configured senders.
type Sink struct {
	senders  []Sender
	filter   Filter
	recorder DeliveryRecorder
	recent   *cache.Cache
	limiter  *rate.Limiter
}

// SinkOption configures a Sink
type SinkOption func(*Sink)

// WithRecorder reports delivery outcomes to r
func WithRecorder(r DeliveryRecorder) SinkOption {
	return func(s *Sink) { s.recorder = r }
}

// WithCooldown sets the repeat suppression window. Zero disables suppression.
func WithCooldown(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d <= 0 {
			s.recent = nil
			return
		}
		s.recent = cache.New(d, 2*d)
	}
}

// WithRateLimit bounds alert throughput across all crops
func WithRateLimit(perMinute float64, burst int) SinkOption {
	return func(s *Sink) {
		s.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

// NewSink creates a notification sink over senders
func NewSink(filter Filter, senders []Sender, opts ...SinkOption) *Sink {
	s := &Sink{
		senders: senders,
		filter:  filter,
		recent:  cache.New(DefaultCooldown, 2*DefaultCooldown),
		limiter: rate.NewLimiter(rate.Limit(float64(alertsPerMinute)/60), alertBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (*Sink) Name() string { return "notification" }

// Consume alerts on r when the filter matches and the alert is not suppressed.
func (s *Sink) Consume(ctx context.Context, r *diagnosis.Result) error {
	if !s.filter.Match(r) {
		return nil
	}

	key := r.CropType + "|" + r.PredictedClass
	if s.recent != nil {
		if _, seen := s.recent.Get(key); seen {
			GetLogger().Debug("suppressing repeated alert",
				logger.String("crop", r.CropType),
				logger.String("disease", r.PredictedClass))
			return nil
		}
	}
	if !s.limiter.Allow() {
		GetLogger().Warn("alert rate limit exceeded, dropping alert",
			logger.String("crop", r.CropType),
			logger.String("prediction_id", r.PredictionID))
		return nil
	}

	n := FromResult(r)
	var errs []error
	for _, sender := range s.senders {
		err := sender.Send(ctx, n)
		if s.recorder != nil {
			s.recorder.RecordDelivery(sender.Name(), err)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		GetLogger().Info("alert sent",
			logger.String("service", sender.Name()),
			logger.String("crop", n.Crop),
			logger.String("disease", n.Disease))
	}

	// one successful sender is enough to start the cooldown
	if len(errs) < len(s.senders) && s.recent != nil {
		s.recent.SetDefault(key, struct{}{})
	}
	return errors.Join(errs...)
}

var _ diagnosis.Sink = (*Sink)(nil)
