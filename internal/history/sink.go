package history

import (
	"context"

	"github.com/agrisol/cropdoctor/internal/diagnosis"
)

// Sink stores dispatched diagnosis results
type Sink struct {
	store *Store
}

// NewSink wraps store as a diagnosis.Sink
func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

func (*Sink) Name() string { return "history" }

// Consume persists r
func (s *Sink) Consume(ctx context.Context, r *diagnosis.Result) error {
	return s.store.Save(ctx, FromResult(r))
}

// FromResult maps a result to its stored form
func FromResult(r *diagnosis.Result) *Record {
	return &Record{
		PredictionID:   r.PredictionID,
		Crop:           r.CropType,
		Disease:        r.PredictedClass,
		Confidence:     r.Confidence,
		Severity:       string(r.Severity),
		Urgency:        string(r.TreatmentUrgency),
		ModelPath:      r.ModelInfo.SourcePath,
		ClassMismatch:  r.ClassMismatch,
		ProcessingTime: r.ProcessingTime,
		CreatedAt:      r.Timestamp,
	}
}

var _ diagnosis.Sink = (*Sink)(nil)
