// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateImagingSettings(&s.Imaging) },
		func(s *Settings) error { return validateModelSettings(&s.Models) },
		func(s *Settings) error { return validateCacheSettings(&s.Cache) },
		func(s *Settings) error { return validateHistorySettings(&s.History) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateNotificationSettings(&s.Notification) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
		func(s *Settings) error { return validateMetricsSettings(&s.Metrics) },
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	var errs []error
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		errs = append(errs, fmt.Errorf("webserver.listen %q is not host:port", settings.Listen))
	}
	if settings.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("webserver.maxupload must be greater than zero"))
	}
	if settings.RateLimit.Enabled && (settings.RateLimit.RequestsPerSecond <= 0 || settings.RateLimit.Burst <= 0) {
		errs = append(errs, fmt.Errorf("webserver.ratelimit requires positive requestspersecond and burst"))
	}
	return errors.Join(errs...)
}

func validateImagingSettings(settings *ImagingSettings) error {
	var errs []error
	if settings.TargetWidth <= 0 || settings.TargetHeight <= 0 {
		errs = append(errs, fmt.Errorf("imaging target size must be positive, got %dx%d", settings.TargetWidth, settings.TargetHeight))
	}
	if len(settings.AllowedExtensions) == 0 {
		errs = append(errs, fmt.Errorf("imaging.allowedextensions must not be empty"))
	}
	for _, ext := range settings.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("invalid file extension %q", ext))
		}
	}
	return errors.Join(errs...)
}

func validateModelSettings(settings *ModelSettings) error {
	var errs []error
	if settings.Threads < 0 {
		errs = append(errs, fmt.Errorf("models.threads must not be negative"))
	}
	if len(settings.Crops) == 0 {
		errs = append(errs, fmt.Errorf("at least one crop must be configured"))
	}

	seen := make(map[string]bool, len(settings.Crops))
	for i := range settings.Crops {
		crop := &settings.Crops[i]
		switch {
		case crop.Name == "":
			errs = append(errs, fmt.Errorf("crop #%d has no name", i+1))
			continue
		case seen[crop.Name]:
			errs = append(errs, fmt.Errorf("crop %s is configured more than once", crop.Name))
		}
		seen[crop.Name] = true

		if len(crop.Candidates()) == 0 {
			errs = append(errs, fmt.Errorf("crop %s has no model path", crop.Name))
		}
		if len(crop.Classes) == 0 {
			errs = append(errs, fmt.Errorf("crop %s has no class labels", crop.Name))
		}
		for _, label := range crop.Classes {
			if label == "" {
				errs = append(errs, fmt.Errorf("crop %s has an empty class label", crop.Name))
				break
			}
		}
		if crop.TargetWidth <= 0 || crop.TargetHeight <= 0 {
			errs = append(errs, fmt.Errorf("crop %s target size must be positive", crop.Name))
		}
	}
	return errors.Join(errs...)
}

func validateCacheSettings(settings *CacheSettings) error {
	if settings.Enabled && settings.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero when the cache is enabled")
	}
	return nil
}

func validateHistorySettings(settings *HistorySettings) error {
	if !settings.Enabled {
		return nil
	}
	switch settings.Driver {
	case "sqlite":
		if settings.SQLite.Path == "" {
			return fmt.Errorf("history.sqlite.path is required")
		}
	case "mysql":
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return fmt.Errorf("history.mysql requires host and database")
		}
	default:
		return fmt.Errorf("unknown history driver %q", settings.Driver)
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	if err := validateEnvURL(settings.Broker); err != nil {
		return fmt.Errorf("mqtt.broker %q: %w", settings.Broker, err)
	}
	if settings.Topic == "" {
		return fmt.Errorf("mqtt.topic is required")
	}
	if settings.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func validateNotificationSettings(settings *NotificationSettings) error {
	if !settings.Enabled {
		return nil
	}
	if len(settings.URLs) == 0 {
		return fmt.Errorf("notification.urls must not be empty when notifications are enabled")
	}
	if settings.MinConfidence < 0 || settings.MinConfidence > 1 {
		return fmt.Errorf("notification.minconfidence must be between 0 and 1")
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	if _, err := url.Parse(settings.DSN); err != nil {
		return fmt.Errorf("invalid sentry.dsn: %w", err)
	}
	return nil
}

func validateMetricsSettings(settings *MetricsSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("metrics.listen %q is not host:port", settings.Listen)
	}
	return nil
}
