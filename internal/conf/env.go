// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	gbytes "github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "CROPDOCTOR_DEBUG", validateEnvBool},
		{"logging.defaultlevel", "CROPDOCTOR_LOG_LEVEL", validateEnvLogLevel},

		// Web server
		{"webserver.listen", "CROPDOCTOR_LISTEN", validateEnvListen},
		{"webserver.maxupload", "CROPDOCTOR_MAX_UPLOAD", validateEnvSize},
		{"webserver.ratelimit.enabled", "CROPDOCTOR_RATELIMIT_ENABLED", validateEnvBool},

		// Model runtime
		{"models.threads", "CROPDOCTOR_MODEL_THREADS", validateEnvThreads},
		{"models.usexnnpack", "CROPDOCTOR_USEXNNPACK", validateEnvBool},
		{"models.onnxlibrary", "CROPDOCTOR_ONNX_LIBRARY", nil},

		{"cache.enabled", "CROPDOCTOR_CACHE_ENABLED", validateEnvBool},

		// History
		{"history.enabled", "CROPDOCTOR_HISTORY_ENABLED", validateEnvBool},
		{"history.driver", "CROPDOCTOR_HISTORY_DRIVER", validateEnvDriver},
		{"history.sqlite.path", "CROPDOCTOR_SQLITE_PATH", nil},
		{"history.mysql.password", "CROPDOCTOR_MYSQL_PASSWORD", nil},

		// Integrations
		{"mqtt.enabled", "CROPDOCTOR_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "CROPDOCTOR_MQTT_BROKER", validateEnvURL},
		{"mqtt.password", "CROPDOCTOR_MQTT_PASSWORD", nil},
		{"sentry.enabled", "CROPDOCTOR_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "CROPDOCTOR_SENTRY_DSN", validateEnvURL},
		{"metrics.enabled", "CROPDOCTOR_METRICS_ENABLED", validateEnvBool},
		{"testing.enabled", "CROPDOCTOR_TESTING_ENABLED", validateEnvBool},
	}
}

// bindEnvVars binds environment variables to config keys. A malformed value is
// not bound and is reported as a warning instead.
func bindEnvVars(v *viper.Viper) []string {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("ignoring invalid %s value %q: %v", binding.EnvVar, envValue, err))
					continue
				}
			}
		}

		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
		}
	}

	return warnings
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	return nil
}

func validateEnvSize(value string) error {
	size, err := gbytes.Parse(value)
	if err != nil {
		return err
	}
	if size <= 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

// validateEnvThreads validates thread count, 0 means auto-detect
func validateEnvThreads(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 || n > 256 {
		return fmt.Errorf("must be between 0 and 256, got %d", n)
	}
	return nil
}

func validateEnvDriver(value string) error {
	switch value {
	case "sqlite", "mysql":
		return nil
	}
	return fmt.Errorf("must be sqlite or mysql")
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL with scheme and host")
	}
	return nil
}
