// Package telemetry reports internal errors to Sentry when the operator opts in.
package telemetry

import (
	"fmt"
	"slices"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
)

// DefaultFlushTimeout bounds Flush during shutdown
const DefaultFlushTimeout = 5 * time.Second

// client errors are expected under normal operation and never reported
var ignoredCategories = []errors.ErrorCategory{
	errors.CategoryValidation,
	errors.CategoryImageDecode,
	errors.CategoryNotFound,
	errors.CategoryLimit,
}

// context keys that carry no user data
var allowedContextKeys = []string{"crop", "model_path", "operation", "duration_ms", "driver", "topic", "file_extension", "file_size_category"}

// Reporter sends EnhancedErrors to Sentry through its own hub.
type Reporter struct {
	hub     *sentry.Hub
	enabled bool
}

// Option adjusts the sentry client options before the client is created
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// New creates a reporter from the sentry settings. A disabled section yields a
// reporter whose IsEnabled is false.
func New(settings *conf.SentrySettings, release string, opts ...Option) (*Reporter, error) {
	if !settings.Enabled {
		return &Reporter{}, nil
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		Debug:            settings.Debug,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          "cropdoctor@" + release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	GetLogger().Info("error telemetry enabled", logger.String("environment", settings.Environment))
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope()), enabled: true}, nil
}

// IsEnabled implements errors.TelemetryReporter
func (r *Reporter) IsEnabled() bool { return r != nil && r.enabled }

// ReportError implements errors.TelemetryReporter.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() || ee == nil || slices.Contains(ignoredCategories, ee.Category) {
		return
	}
	ee.MarkReported()

	component := ee.GetComponent()
	message := errors.ScrubMessage(ee.GetMessage())
	title := fmt.Sprintf("%s: %s", component, ee.Category)

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetFingerprint([]string{title, component})

		extra := map[string]any{}
		for k, v := range ee.GetContext() {
			if slices.Contains(allowedContextKeys, k) {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			scope.SetContext("error", extra)
		}

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		r.hub.CaptureEvent(event)
	})

	GetLogger().Debug("error event sent",
		logger.String("component", component),
		logger.String("category", string(ee.Category)))
}

// Flush waits for queued events to be delivered
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.IsEnabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

// Install registers r as the global error reporter
func Install(r *Reporter) {
	if r.IsEnabled() {
		errors.SetTelemetryReporter(r)
	}
}

// applyPrivacyFilters drops host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	return event
}
