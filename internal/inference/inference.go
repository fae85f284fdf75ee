// Package inference runs a loaded model on a preprocessed tensor and reduces
// the raw output to one class decision plus the full distribution.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/model"
)

// Prediction status values reported to an Observer
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PlaceholderLabel is the label used for an output index with no configured class
func PlaceholderLabel(index int) string {
	return fmt.Sprintf("Class_%d", index)
}

// Observer receives per-call outcomes, typically a metrics collector.
type Observer interface {
	RecordPrediction(crop, status string, duration time.Duration)
	RecordClassMismatch(crop string)
}

// Score is one entry of the confidence vector
type Score struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Outcome is the reduced result of one forward pass.
type Outcome struct {
	Crop       string
	Index      int
	Label      string
	Confidence float64
	// Scores follows output order and has one entry per output value
	Scores []Score
	// Mismatch is set when the predicted index has no configured label
	Mismatch bool
	Elapsed  time.Duration
}

// Engine runs predictions. It holds no model state and is safe for concurrent use.
type Engine struct {
	observer Observer
}

// NewEngine creates an engine. observer may be nil.
func NewEngine(observer Observer) *Engine {
	return &Engine{observer: observer}
}

// Run predicts m on tensor. A failed predict call is returned as an inference error
// and never retried.
func (e *Engine) Run(ctx context.Context, m *model.LoadedModel, tensor *imaging.Tensor) (*Outcome, error) {
	if m == nil {
		return nil, errors.Newf("no model bound").
			Component("inference").
			Category(errors.CategoryInference).
			Build()
	}
	if tensor == nil || tensor.Len() == 0 {
		return nil, errors.Newf("empty input tensor").
			Component("inference").
			Category(errors.CategoryInference).
			Context("crop", m.Crop).
			Build()
	}

	start := time.Now()
	raw, shape, err := m.Predict(ctx, tensor.Data)
	elapsed := time.Since(start)
	if err == nil {
		raw, err = Flatten(raw, shape)
	}
	if err != nil {
		e.record(m.Crop, StatusError, elapsed)
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryInference).
			ModelContext(m.Metadata.SourcePath, m.Crop).
			Context("input_shape", tensor.Shape).
			Timing("predict", elapsed).
			Build()
	}

	index, confidence := Argmax(raw)
	label, mismatch := ResolveLabel(m.Classes, index)

	out := &Outcome{
		Crop:       m.Crop,
		Index:      index,
		Label:      label,
		Confidence: float64(confidence),
		Scores:     scores(m.Classes, raw),
		Mismatch:   mismatch,
		Elapsed:    elapsed,
	}

	if mismatch {
		GetLogger().Warn("predicted index has no configured class label",
			logger.String("crop", m.Crop),
			logger.Int("index", index),
			logger.Int("configured_classes", len(m.Classes)),
			logger.Int("output_classes", len(raw)))
		if e.observer != nil {
			e.observer.RecordClassMismatch(m.Crop)
		}
	}
	e.record(m.Crop, StatusSuccess, elapsed)

	return out, nil
}

func (e *Engine) record(crop, status string, d time.Duration) {
	if e.observer != nil {
		e.observer.RecordPrediction(crop, status, d)
	}
}

// Flatten reduces a raw output to the confidence vector of the single input sample:
// the first batch element, then the first sample element while dimensions remain.
// For row-major data this is the first run of len(last dimension) values.
func Flatten(values []float32, shape []int) ([]float32, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("model returned an empty output")
	}
	if len(shape) <= 1 {
		return values, nil
	}

	total := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid output shape %v", shape)
		}
		total *= d
	}
	if total != len(values) {
		return nil, fmt.Errorf("output shape %v does not match %d values", shape, len(values))
	}

	return values[:shape[len(shape)-1]], nil
}

// Argmax returns the index and value of the maximum. Ties resolve to the lowest index.
// values must not be empty.
func Argmax(values []float32) (int, float32) {
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best, values[best]
}

// ResolveLabel maps index to its class label. Indexes beyond the class list get a
// placeholder and the mismatch flag.
func ResolveLabel(classes []string, index int) (string, bool) {
	if index >= 0 && index < len(classes) {
		return classes[index], false
	}
	return PlaceholderLabel(index), true
}

func scores(classes []string, values []float32) []Score {
	out := make([]Score, len(values))
	for i, v := range values {
		label, _ := ResolveLabel(classes, i)
		out[i] = Score{Label: label, Confidence: float64(v)}
	}
	return out
}
