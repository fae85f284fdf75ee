package advisory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	db, err := DefaultDatabase()
	require.NoError(t, err)
	return NewResolver(db)
}

func TestSeverityBoundaries(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Level
	}{
		{0, LevelLow},
		{0.5, LevelLow},
		{0.6, LevelLow},
		{0.6000001, LevelMedium},
		{0.7, LevelMedium},
		{0.8, LevelMedium},
		{0.8000001, LevelHigh},
		{0.95, LevelHigh},
		{1, LevelHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Severity(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestDefaultDatabaseCoversConfiguredLabels(t *testing.T) {
	db, err := DefaultDatabase()
	require.NoError(t, err)
	assert.Equal(t, 15, db.Len())

	for _, label := range []string{
		"Bacterial Spot", "Early Blight", "Late Blight", "Leaf Mold", "Septoria Leaf Spot",
		"Spider Mites", "Target Spot", "Mosaic Virus", "Yellow Leaf Curl Virus",
		"Common Rust", "Gray Leaf Spot", "Northern Corn Leaf Blight",
		"Angular Leaf Spot", "Bean Rust", "Healthy",
	} {
		_, ok := db.Lookup(label)
		assert.True(t, ok, label)
	}

	yellow, _ := db.Lookup("Yellow Leaf Curl Virus")
	assert.Equal(t, UrgencyHigh, yellow.Urgency)
	healthy, _ := db.Lookup("Healthy")
	assert.Equal(t, UrgencyNone, healthy.Urgency)
}

func TestResolveHighSeverity(t *testing.T) {
	r := newTestResolver(t)

	advice := r.Resolve("Bacterial Spot", "tomatoes", 0.9)

	assert.Equal(t, LevelHigh, advice.Severity)
	assert.Equal(t, UrgencyHigh, advice.Urgency)
	assert.Equal(t, "3-4 weeks", advice.Recovery)
	assert.True(t, advice.Known)
	assert.Equal(t, []string{
		"Remove infected plants to prevent spread",
		"Disinfect all gardening tools with 10% bleach solution",
		"Avoid working with plants when they are wet",
		"Apply copper-based bactericide (follow label instructions)",
		"Use streptomycin-based spray if available",
		"Implement strict sanitation protocols",
		"Organic alternatives available:",
		"Neem oil spray (weekly application)",
		"Baking soda solution (1 tsp per quart water)",
		"Monitor tomatoes plant regularly for disease progression",
		"Ensure proper air circulation around plants",
		"Avoid overhead watering to reduce moisture on leaves",
	}, advice.Recommendations)
	assert.Len(t, advice.Organic, 3)
	assert.Equal(t, "URGENT: Immediate action required to prevent crop loss", advice.PriorityMessage)
}

func TestResolveMediumSeverityTakesTwoImmediateActions(t *testing.T) {
	r := newTestResolver(t)

	advice := r.Resolve("Early Blight", "potatoes", 0.8)

	assert.Equal(t, LevelMedium, advice.Severity)
	require.Len(t, advice.Recommendations, 2+3+1+2+3)
	assert.Equal(t, "Remove affected lower leaves immediately", advice.Recommendations[0])
	assert.Equal(t, "Mulch around plants to prevent soil splash", advice.Recommendations[1])
	assert.Equal(t, "Apply copper-based fungicide every 7-10 days", advice.Recommendations[2])
	assert.Equal(t, organicHeader, advice.Recommendations[5])
	assert.Equal(t, "Monitor potatoes plant regularly for disease progression", advice.Recommendations[8])
	assert.Equal(t, "MODERATE: Take action within 24-48 hours", advice.PriorityMessage)
}

func TestResolveLowSeverityUsesPrevention(t *testing.T) {
	r := newTestResolver(t)

	advice := r.Resolve("Common Rust", "maize", 0.6)

	assert.Equal(t, LevelLow, advice.Severity)
	assert.Equal(t, []string{
		"Choose resistant varieties",
		"Ensure proper plant spacing",
		"Remove crop residue",
		"Rotate crops appropriately",
	}, advice.Recommendations[:4])
	assert.NotContains(t, advice.Recommendations, "Remove infected plant debris")
	assert.Equal(t, "PREVENTIVE: Monitor and maintain healthy practices", advice.PriorityMessage)
}

func TestResolveUnknownLabelFallsBack(t *testing.T) {
	r := newTestResolver(t)

	advice := r.Resolve("Class_7", "beans", 0.99)

	assert.False(t, advice.Known)
	assert.Equal(t, UrgencyMedium, advice.Urgency)
	assert.Equal(t, "2-3 weeks", advice.Recovery)
	assert.Equal(t, LevelHigh, advice.Severity)
	assert.Equal(t, FallbackRecommendation, advice.Recommendations[0])
	assert.Equal(t, CareReminders("beans"), advice.Recommendations[1:])
	assert.Empty(t, advice.Immediate)
	assert.NotNil(t, advice.Immediate)
}

func TestResolveDoesNotAliasDatabase(t *testing.T) {
	r := newTestResolver(t)

	first := r.Resolve("Late Blight", "tomatoes", 0.95)
	first.Immediate[0] = "mutated"
	first.Recommendations[0] = "mutated"

	second := r.Resolve("Late Blight", "tomatoes", 0.95)
	assert.Equal(t, "Remove entire infected plants immediately", second.Immediate[0])
	assert.Equal(t, "Remove entire infected plants immediately", second.Recommendations[0])
}

func TestLoadDatabaseRejectsBadRecords(t *testing.T) {
	tests := map[string]string{
		"unknown urgency": "treatments:\n  - disease: X\n    urgency: Extreme\n",
		"missing label":   "treatments:\n  - urgency: Low\n",
		"duplicate":       "treatments:\n  - disease: X\n    urgency: Low\n  - disease: X\n    urgency: Low\n",
		"unknown field":   "treatments:\n  - disease: X\n    urgency: Low\n    dosage: lots\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadDatabase(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
