// Package conf loads and validates cropdoctor settings from defaults, config file and environment.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	gbytes "github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"

	"github.com/agrisol/cropdoctor/internal/logger"
)

// APIVersion is reported by the status endpoints
const APIVersion = "v1"

// Settings is the complete runtime configuration.
type Settings struct {
	Debug bool `mapstructure:"debug"`

	Main struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"main"`

	Logging      logger.LoggingConfig `mapstructure:"logging"`
	WebServer    WebServerSettings    `mapstructure:"webserver"`
	Imaging      ImagingSettings      `mapstructure:"imaging"`
	Models       ModelSettings        `mapstructure:"models"`
	Cache        CacheSettings        `mapstructure:"cache"`
	History      HistorySettings      `mapstructure:"history"`
	MQTT         MQTTSettings         `mapstructure:"mqtt"`
	Notification NotificationSettings `mapstructure:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry"`
	Metrics      MetricsSettings      `mapstructure:"metrics"`
	Testing      TestingSettings      `mapstructure:"testing"`

	// Warnings collects non-fatal problems found while loading (bad env values, duplicate labels).
	Warnings []string `mapstructure:"-"`
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Listen          string            `mapstructure:"listen"`
	CORSOrigins     []string          `mapstructure:"corsorigins"`
	MaxUpload       string            `mapstructure:"maxupload"` // human readable, e.g. "16MiB"
	MaxUploadBytes  int64             `mapstructure:"-"`
	ReadTimeout     time.Duration     `mapstructure:"readtimeout"`
	WriteTimeout    time.Duration     `mapstructure:"writetimeout"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdowntimeout"`
	RateLimit       RateLimitSettings `mapstructure:"ratelimit"`
}

// RateLimitSettings throttles the prediction endpoint per client IP
type RateLimitSettings struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requestspersecond"`
	Burst             int     `mapstructure:"burst"`
}

// ImagingSettings configures image preprocessing defaults
type ImagingSettings struct {
	TargetWidth       int      `mapstructure:"targetwidth"`
	TargetHeight      int      `mapstructure:"targetheight"`
	AllowedExtensions []string `mapstructure:"allowedextensions"`
}

// ModelSettings configures model runtimes and the per-crop model table
type ModelSettings struct {
	Threads         int          `mapstructure:"threads"` // 0 = auto-detect
	UseXNNPACK      bool         `mapstructure:"usexnnpack"`
	ONNXLibraryPath string       `mapstructure:"onnxlibrary"`
	LoadConcurrency int          `mapstructure:"loadconcurrency"`
	Crops           []CropConfig `mapstructure:"crops"`
}

// CacheSettings configures the prediction result cache
type CacheSettings struct {
	Enabled         bool          `mapstructure:"enabled"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanupinterval"`
}

// HistorySettings configures persistence of diagnoses
type HistorySettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"` // sqlite or mysql
	QueueSize int    `mapstructure:"queuesize"`
	SQLite    struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
	MySQL MySQLSettings `mapstructure:"mysql"`
}

// MySQLSettings holds MySQL connection parameters
type MySQLSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// MQTTSettings configures publishing of diagnosis events
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"clientid"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	Retain   bool   `mapstructure:"retain"`
	QoS      byte   `mapstructure:"qos"`
}

// NotificationSettings configures alerts for urgent detections
type NotificationSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	URLs          []string      `mapstructure:"urls"` // shoutrrr service URLs
	MinConfidence float64       `mapstructure:"minconfidence"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// SentrySettings configures error telemetry (opt-in)
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// TestingSettings toggles diagnostic endpoints
type TestingSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the optional config file and environment variables into a Settings value.
func Load() (*Settings, error) {
	return LoadWith(viper.GetViper())
}

// LoadWith is Load on an explicit viper instance. Flags bound to v take part in the resolution.
func LoadWith(v *viper.Viper) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	warnings, err := initViper(v)
	if err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}
	settings.Warnings = append(settings.Warnings, warnings...)

	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	settings.Warnings = append(settings.Warnings, prepareSettings(settings)...)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults, environment bindings and reads the config file if present.
func initViper(v *viper.Viper) ([]string, error) {
	setDefaultConfig(v)
	warnings := bindEnvVars(v)

	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range defaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return warnings, nil
		}
		return warnings, fmt.Errorf("fatal error reading config file: %w", err)
	}

	return warnings, nil
}

// Defaults returns settings built only from built-in defaults, without reading
// files or the environment.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		// built-in defaults always decode
		panic(fmt.Sprintf("conf: decoding defaults: %v", err))
	}
	settings.Warnings = prepareSettings(settings)
	return settings
}

// defaultConfigPaths lists directories searched for config.yaml, in priority order
func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cropdoctor"))
	}
	return append(paths, "/etc/cropdoctor")
}

// prepareSettings derives computed fields and normalizes the crop table.
func prepareSettings(settings *Settings) []string {
	var warnings []string

	if settings.Debug && settings.Logging.DefaultLevel == "info" {
		settings.Logging.DefaultLevel = "debug"
	}

	if settings.WebServer.MaxUpload != "" {
		size, err := gbytes.Parse(settings.WebServer.MaxUpload)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid webserver.maxupload %q: %v", settings.WebServer.MaxUpload, err))
		} else {
			settings.WebServer.MaxUploadBytes = size
		}
	}

	for i := range settings.Imaging.AllowedExtensions {
		settings.Imaging.AllowedExtensions[i] = normalizeExtension(settings.Imaging.AllowedExtensions[i])
	}

	for i := range settings.Models.Crops {
		crop := &settings.Models.Crops[i]
		if removed := crop.dedupeClasses(); len(removed) > 0 {
			warnings = append(warnings, fmt.Sprintf("crop %s: removed duplicate class labels %v", crop.Name, removed))
		}
		if crop.TargetWidth == 0 {
			crop.TargetWidth = settings.Imaging.TargetWidth
		}
		if crop.TargetHeight == 0 {
			crop.TargetHeight = settings.Imaging.TargetHeight
		}
	}

	return warnings
}

// Setting returns the most recently loaded settings, or nil before Load.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Crop returns the configuration of the named crop.
func (s *Settings) Crop(name string) (CropConfig, bool) {
	for _, c := range s.Models.Crops {
		if c.Name == name {
			return c, true
		}
	}
	return CropConfig{}, false
}

// CropNames returns configured crop names in configuration order.
func (s *Settings) CropNames() []string {
	names := make([]string, 0, len(s.Models.Crops))
	for _, c := range s.Models.Crops {
		names = append(names, c.Name)
	}
	return names
}

// IsExtensionAllowed reports whether ext (with or without dot, any case) is in the allow-list.
func (s *Settings) IsExtensionAllowed(ext string) bool {
	return slices.Contains(s.Imaging.AllowedExtensions, normalizeExtension(ext))
}
