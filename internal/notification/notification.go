// Package notification sends alerts for urgent crop disease detections.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/agrisol/cropdoctor/internal/advisory"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
)

// Notification is one outgoing alert
type Notification struct {
	Title        string
	Message      string
	Crop         string
	Disease      string
	Confidence   float64
	Urgency      advisory.Urgency
	PredictionID string
}

// Sender delivers notifications to one backend. Implementations must be safe for concurrent use.
type Sender interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Filter decides which results raise an alert.
type Filter struct {
	MinConfidence float64
}

// Match reports whether r is a High urgency detection at or above the confidence floor.
func (f Filter) Match(r *diagnosis.Result) bool {
	if r == nil || !r.Success {
		return false
	}
	return r.TreatmentUrgency == advisory.UrgencyHigh && r.Confidence >= f.MinConfidence
}

// FromResult builds the alert text for r
func FromResult(r *diagnosis.Result) *Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s detected on %s with %.1f%% confidence.\n", r.PredictedClass, r.CropType, r.ConfidencePercentage)
	if r.Treatment.PriorityMessage != "" {
		b.WriteString(r.Treatment.PriorityMessage)
		b.WriteString("\n")
	}
	for i, rec := range r.Recommendations {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	if r.EstimatedRecovery != "" {
		fmt.Fprintf(&b, "Estimated recovery: %s", r.EstimatedRecovery)
	}

	return &Notification{
		Title:        fmt.Sprintf("CropDoctor: %s on %s", r.PredictedClass, r.CropType),
		Message:      strings.TrimRight(b.String(), "\n"),
		Crop:         r.CropType,
		Disease:      r.PredictedClass,
		Confidence:   r.Confidence,
		Urgency:      r.TreatmentUrgency,
		PredictionID: r.PredictionID,
	}
}
