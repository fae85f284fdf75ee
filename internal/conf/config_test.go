package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	v := viper.New()
	v.Set("config", path)
	return v
}

func TestDefaults(t *testing.T) {
	s := Defaults()

	assert.Equal(t, []string{"tomatoes", "potatoes", "maize", "beans"}, s.CropNames())
	assert.Equal(t, int64(16*1024*1024), s.WebServer.MaxUploadBytes)
	assert.Equal(t, "0.0.0.0:5000", s.WebServer.Listen)
	assert.Equal(t, 10*time.Minute, s.Cache.TTL)
	require.NoError(t, ValidateSettings(s))

	tomatoes, ok := s.Crop("tomatoes")
	require.True(t, ok)
	assert.Len(t, tomatoes.Classes, 10)
	assert.Equal(t, "Yellow Leaf Curl Virus", tomatoes.Classes[9])
	assert.Equal(t, 256, tomatoes.TargetWidth)
	assert.Equal(t, []string{
		"models/tomato_disease_best_model_fixed.tflite",
		"models/tomato_disease_best_model.tflite",
		"models/tomato_transfer_best.tflite",
	}, tomatoes.Candidates())

	beans, ok := s.Crop("beans")
	require.True(t, ok)
	assert.Equal(t, []string{"Angular Leaf Spot", "Bean Rust", "Healthy"}, beans.Classes)
	assert.Equal(t, 224, beans.TargetWidth)
	assert.Equal(t, 224, beans.TargetHeight)

	_, ok = s.Crop("rice")
	assert.False(t, ok)
}

func TestLoadFromFileDeduplicatesClasses(t *testing.T) {
	v := writeConfig(t, `
webserver:
  maxupload: 2MiB
models:
  crops:
    - name: beans
      modelpath: models/beans.onnx
      alternatives: ["", models/beans_old.tflite]
      classes: [Angular Leaf Spot, Bean Rust, Healthy, Healthy]
`)

	s, err := LoadWith(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"beans"}, s.CropNames())
	beans, _ := s.Crop("beans")
	assert.Equal(t, []string{"Angular Leaf Spot", "Bean Rust", "Healthy"}, beans.Classes)
	assert.Equal(t, []string{"models/beans.onnx", "models/beans_old.tflite"}, beans.Candidates())
	// falls back to the imaging default when the crop omits a size
	assert.Equal(t, DefaultTargetSize, beans.TargetWidth)
	assert.Equal(t, int64(2*1024*1024), s.WebServer.MaxUploadBytes)
	require.NotEmpty(t, s.Warnings)
	assert.Contains(t, s.Warnings[len(s.Warnings)-1], "duplicate class labels [Healthy]")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CROPDOCTOR_LISTEN", "127.0.0.1:9000")
	t.Setenv("CROPDOCTOR_MODEL_THREADS", "many")

	s, err := LoadWith(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", s.WebServer.Listen)
	assert.Equal(t, 0, s.Models.Threads, "invalid value must not be applied")
	assert.Equal(t, "debug", s.Logging.DefaultLevel)

	var found bool
	for _, w := range s.Warnings {
		if strings.Contains(w, "CROPDOCTOR_MODEL_THREADS") {
			found = true
		}
	}
	assert.True(t, found, "expected a warning for the invalid thread count, got %v", s.Warnings)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	v := writeConfig(t, "models: [unbalanced\n")
	_, err := LoadWith(v)
	require.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid defaults", func(*Settings) {}, ""},
		{"bad listen", func(s *Settings) { s.WebServer.Listen = "5000" }, "webserver.listen"},
		{"zero upload", func(s *Settings) { s.WebServer.MaxUploadBytes = 0 }, "maxupload"},
		{"extension without dot", func(s *Settings) { s.Imaging.AllowedExtensions = []string{"jpg"} }, "invalid file extension"},
		{"no crops", func(s *Settings) { s.Models.Crops = nil }, "at least one crop"},
		{"crop without paths", func(s *Settings) { s.Models.Crops[0].ModelPath = ""; s.Models.Crops[0].Alternatives = nil }, "has no model path"},
		{"crop without classes", func(s *Settings) { s.Models.Crops[1].Classes = nil }, "potatoes has no class labels"},
		{"duplicate crop", func(s *Settings) { s.Models.Crops[1].Name = "tomatoes" }, "more than once"},
		{"unknown history driver", func(s *Settings) { s.History.Enabled = true; s.History.Driver = "postgres" }, "unknown history driver"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true; s.MQTT.Broker = "" }, "mqtt.broker"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"cache ttl", func(s *Settings) { s.Cache.TTL = 0 }, "cache.ttl"},
		{"notification without urls", func(s *Settings) { s.Notification.Enabled = true }, "notification.urls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	assert.NoError(t, validateEnvBool("TRUE"))
	assert.Error(t, validateEnvBool("yes please"))
	assert.NoError(t, validateEnvSize("16MB"))
	assert.Error(t, validateEnvSize("lots"))
	assert.NoError(t, validateEnvThreads("0"))
	assert.Error(t, validateEnvThreads("-1"))
	assert.NoError(t, validateEnvURL("tcp://broker:1883"))
	assert.Error(t, validateEnvURL("broker"))
	assert.NoError(t, validateEnvLogLevel("WARN"))
	assert.Error(t, validateEnvLogLevel("verbose"))
}

func TestDisplayNameAndExtensions(t *testing.T) {
	assert.Equal(t, "Tomatoes", DisplayName("tomatoes"))
	assert.Equal(t, "Sweet Potatoes", DisplayName("sweet_potatoes"))

	s := Defaults()
	assert.True(t, s.IsExtensionAllowed(".JPG"))
	assert.True(t, s.IsExtensionAllowed("webp"))
	assert.False(t, s.IsExtensionAllowed(".gif"))
	assert.Equal(t, ".tiff", FileExtension("leaf.TIFF"))
	assert.Empty(t, FileExtension("noext"))
}
