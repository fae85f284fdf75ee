// Package advisory maps a predicted disease and its confidence to treatment advice.
// All functions are pure; the only data source is the immutable treatment database.
package advisory

import "fmt"

// Level is the confidence-derived severity tier
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

const (
	highThreshold   = 0.8
	mediumThreshold = 0.6

	organicHeader      = "Organic alternatives available:"
	maxOrganic         = 2
	maxMediumImmediate = 2

	// FallbackRecommendation is returned for labels without reference data
	FallbackRecommendation = "Consult your local agricultural extension office for a professional diagnosis"
	fallbackRecovery       = "2-3 weeks"
)

// Severity tiers a confidence value. Both thresholds are exclusive, so 0.8 is
// Medium and 0.6 is Low.
func Severity(confidence float64) Level {
	switch {
	case confidence > highThreshold:
		return LevelHigh
	case confidence > mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// PriorityMessage returns the headline shown with advice of the given severity
func PriorityMessage(level Level) string {
	switch level {
	case LevelHigh:
		return "URGENT: Immediate action required to prevent crop loss"
	case LevelMedium:
		return "MODERATE: Take action within 24-48 hours"
	default:
		return "PREVENTIVE: Monitor and maintain healthy practices"
	}
}

func additionalNotes(level Level) []string {
	switch level {
	case LevelHigh:
		return []string{
			"Monitor daily for changes",
			"Consider consulting agricultural extension service",
			"Document progress with photos",
		}
	case LevelMedium:
		return []string{
			"Monitor every 2-3 days",
			"Keep detailed treatment records",
		}
	default:
		return []string{
			"Weekly monitoring sufficient",
			"Focus on prevention",
		}
	}
}

// CareReminders are appended to every recommendation list
func CareReminders(crop string) []string {
	return []string{
		fmt.Sprintf("Monitor %s plant regularly for disease progression", crop),
		"Ensure proper air circulation around plants",
		"Avoid overhead watering to reduce moisture on leaves",
	}
}

// Advice is the advisory content for one prediction
type Advice struct {
	Disease         string   `json:"disease"`
	Crop            string   `json:"crop"`
	Severity        Level    `json:"severity"`
	Urgency         Urgency  `json:"urgency"`
	Recovery        string   `json:"estimated_recovery"`
	Recommendations []string `json:"recommendations"`
	Immediate       []string `json:"immediate_actions"`
	Treatment       []string `json:"treatment_options"`
	Prevention      []string `json:"prevention"`
	Organic         []string `json:"organic_alternatives"`
	PriorityMessage string   `json:"priority_message"`
	AdditionalNotes []string `json:"additional_notes"`
	// Known is false when the label had no reference data and generic advice was returned
	Known bool `json:"known"`
}

// Resolver composes Advice from a treatment database
type Resolver struct {
	db *Database
}

// NewResolver creates a resolver over db
func NewResolver(db *Database) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns advice for disease on crop at the given confidence.
func (r *Resolver) Resolve(disease, crop string, confidence float64) Advice {
	level := Severity(confidence)

	t, ok := r.db.Lookup(disease)
	if !ok {
		return Advice{
			Disease:         disease,
			Crop:            crop,
			Severity:        level,
			Urgency:         UrgencyMedium,
			Recovery:        fallbackRecovery,
			Recommendations: append([]string{FallbackRecommendation}, CareReminders(crop)...),
			Immediate:       []string{},
			Treatment:       []string{},
			Prevention:      []string{},
			Organic:         []string{},
			PriorityMessage: "Professional diagnosis recommended",
			AdditionalNotes: []string{
				"Keep detailed records of symptoms",
				"Note environmental conditions",
				"Track progression over time",
			},
		}
	}

	var recs []string
	switch level {
	case LevelHigh:
		recs = append(recs, t.Immediate...)
		recs = append(recs, t.Treatment...)
	case LevelMedium:
		recs = append(recs, t.Immediate[:min(maxMediumImmediate, len(t.Immediate))]...)
		recs = append(recs, t.Treatment...)
	default:
		recs = append(recs, t.Prevention...)
	}
	if len(t.Organic) > 0 {
		recs = append(recs, organicHeader)
		recs = append(recs, t.Organic[:min(maxOrganic, len(t.Organic))]...)
	}
	recs = append(recs, CareReminders(crop)...)

	return Advice{
		Disease:         disease,
		Crop:            crop,
		Severity:        level,
		Urgency:         t.Urgency,
		Recovery:        t.Recovery,
		Recommendations: recs,
		Immediate:       nonNil(t.Immediate),
		Treatment:       nonNil(t.Treatment),
		Prevention:      nonNil(t.Prevention),
		Organic:         nonNil(t.Organic),
		PriorityMessage: PriorityMessage(level),
		AdditionalNotes: additionalNotes(level),
		Known:           true,
	}
}

// nonNil copies s so callers cannot alias the database, and renders empty lists as []
func nonNil(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
