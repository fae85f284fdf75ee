package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agrisol/cropdoctor/internal/advisory"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/inference"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/model"
)

// Service runs the full diagnosis pipeline against a resolved model snapshot.
type Service struct {
	snapshot     *model.Snapshot
	preprocessor *imaging.Preprocessor
	policy       imaging.UploadPolicy
	engine       *inference.Engine
	resolver     *advisory.Resolver
	publisher    Publisher
	newID        func() string
	now          func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithPublisher forwards every successful result to p
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithUploadPolicy applies boundary checks to file names and sizes
func WithUploadPolicy(p imaging.UploadPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithClock replaces the ID generator and clock, for tests
func WithClock(newID func() string, now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.newID = newID
		s.now = now
	}
}

// NewService creates a pipeline over snapshot.
func NewService(snapshot *model.Snapshot, pre *imaging.Preprocessor, engine *inference.Engine, resolver *advisory.Resolver, opts ...ServiceOption) *Service {
	s := &Service{
		snapshot:     snapshot,
		preprocessor: pre,
		engine:       engine,
		resolver:     resolver,
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the model snapshot the service serves
func (s *Service) Snapshot() *model.Snapshot {
	return s.snapshot
}

// ValidateUpload applies the configured upload policy to a file name and size.
// Without a policy every upload passes.
func (s *Service) ValidateUpload(filename string, size int64) error {
	if len(s.policy.AllowedExtensions) == 0 && s.policy.MaxBytes <= 0 {
		return nil
	}
	return s.policy.ValidateUpload(filename, size)
}

// Diagnose classifies one uploaded image for crop. Errors carry categories the API maps
// to status codes: not-found and validation for client input, model-loading and
// inference for server failures.
func (s *Service) Diagnose(ctx context.Context, crop, filename string, data []byte) (*Result, error) {
	start := time.Now()
	log := GetLogger().With(logger.String("crop", crop)).WithContext(ctx)

	m, err := s.snapshot.Lookup(crop)
	if err != nil {
		return nil, err
	}

	if err := s.ValidateUpload(filename, int64(len(data))); err != nil {
		return nil, err
	}

	tensor, err := s.preprocessor.Preprocess(data, m.TargetSize())
	if err != nil {
		log.Debug("image rejected", logger.String("filename", filename), logger.Error(err))
		return nil, err
	}

	outcome, err := s.engine.Run(ctx, m, tensor)
	if err != nil {
		log.Error("prediction failed", logger.Error(err))
		return nil, err
	}

	advice := s.resolver.Resolve(outcome.Label, crop, outcome.Confidence)

	result := Assemble(Input{
		ID:      s.newID(),
		At:      s.now(),
		Outcome: outcome,
		Advice:  advice,
		Model:   m.Metadata,
		Elapsed: time.Since(start),
	})

	log.Info("prediction completed",
		logger.String("prediction_id", result.PredictionID),
		logger.String("predicted_class", result.PredictedClass),
		logger.Float64("confidence", result.Confidence),
		logger.String("severity", string(result.Severity)),
		logger.Float64("processing_time", result.ProcessingTime))

	if s.publisher != nil && !s.publisher.TryPublish(result) {
		log.Debug("result not dispatched", logger.String("prediction_id", result.PredictionID))
	}
	return result, nil
}

// SelfTestResult is the smoke test outcome of one crop
type SelfTestResult struct {
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
	PredictedClass string  `json:"predicted_class,omitempty"`
	PredictedIndex int     `json:"predicted_class_idx"`
	MaxConfidence  float64 `json:"max_confidence"`
	OutputClasses  int     `json:"output_classes"`
	ProcessingTime float64 `json:"processing_time"`
}

// SelfTest runs every loaded model on a synthetic tensor. Unavailable crops are reported as errors.
func (s *Service) SelfTest(ctx context.Context) map[string]SelfTestResult {
	results := make(map[string]SelfTestResult, len(s.snapshot.Crops()))

	for _, st := range s.snapshot.Statuses() {
		name := st.Crop.Name
		if !st.Loaded() {
			results[name] = SelfTestResult{Status: inference.StatusError, Error: st.Err.Error()}
			continue
		}

		out, err := s.engine.Run(ctx, st.Model, imaging.Synthetic(st.Model.TargetSize()))
		if err != nil {
			results[name] = SelfTestResult{Status: inference.StatusError, Error: err.Error()}
			continue
		}

		results[name] = SelfTestResult{
			Status:         inference.StatusSuccess,
			PredictedClass: out.Label,
			PredictedIndex: out.Index,
			MaxConfidence:  round(out.Confidence, 4),
			OutputClasses:  len(out.Scores),
			ProcessingTime: round(out.Elapsed.Seconds(), 3),
		}
	}
	return results
}
