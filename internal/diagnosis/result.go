// Package diagnosis wires preprocessing, inference and advisory lookup into the
// per-request result served by the API.
package diagnosis

import (
	"math"
	"time"

	"github.com/agrisol/cropdoctor/internal/advisory"
	"github.com/agrisol/cropdoctor/internal/inference"
	"github.com/agrisol/cropdoctor/internal/model"
)

// Result is the response contract of one prediction. It is created per request and
// shared read-only with sinks.
type Result struct {
	Success              bool               `json:"success"`
	PredictionID         string             `json:"prediction_id"`
	PredictedClass       string             `json:"predicted_class"`
	Confidence           float64            `json:"confidence"`
	ConfidencePercentage float64            `json:"confidence_percentage"`
	Severity             advisory.Level     `json:"severity"`
	Recommendations      []string           `json:"recommendations"`
	TreatmentUrgency     advisory.Urgency   `json:"treatment_urgency"`
	EstimatedRecovery    string             `json:"estimated_recovery"`
	CropType             string             `json:"crop_type"`
	ProcessingTime       float64            `json:"processing_time"`
	AllPredictions       map[string]float64 `json:"all_predictions"`
	ModelInfo            model.Metadata     `json:"model_info"`
	ClassMismatch        bool               `json:"class_mismatch"`
	Timestamp            time.Time          `json:"timestamp"`
	Cached               bool               `json:"cached"`
	Treatment            advisory.Advice    `json:"treatment"`
}

// Input carries everything Assemble merges
type Input struct {
	ID      string
	At      time.Time
	Outcome *inference.Outcome
	Advice  advisory.Advice
	Model   model.Metadata
	// Elapsed is the whole pipeline time, not only the predict call
	Elapsed time.Duration
}

// Assemble builds the response from pipeline outputs. It makes no decisions of its own.
func Assemble(in Input) *Result {
	all := make(map[string]float64, len(in.Outcome.Scores))
	for _, s := range in.Outcome.Scores {
		all[s.Label] = round(s.Confidence, 4)
	}

	return &Result{
		Success:              true,
		PredictionID:         in.ID,
		PredictedClass:       in.Outcome.Label,
		Confidence:           round(in.Outcome.Confidence, 4),
		ConfidencePercentage: round(in.Outcome.Confidence*100, 1),
		Severity:             in.Advice.Severity,
		Recommendations:      in.Advice.Recommendations,
		TreatmentUrgency:     in.Advice.Urgency,
		EstimatedRecovery:    in.Advice.Recovery,
		CropType:             in.Outcome.Crop,
		ProcessingTime:       round(in.Elapsed.Seconds(), 3),
		AllPredictions:       all,
		ModelInfo:            in.Model,
		ClassMismatch:        in.Outcome.Mismatch,
		Timestamp:            in.At,
		Treatment:            in.Advice,
	}
}

// WithCached returns a shallow copy flagged as served from cache
func (r *Result) WithCached() *Result {
	c := *r
	c.Cached = true
	return &c
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
