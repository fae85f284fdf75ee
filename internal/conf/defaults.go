// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultTargetSize is the serving image size when a crop does not override it
const DefaultTargetSize = 256

// defaultCrops is the built-in crop table in priority order of model candidates.
func defaultCrops() []map[string]any {
	return []map[string]any{
		{
			"name":      "tomatoes",
			"modelpath": "models/tomato_disease_best_model_fixed.tflite",
			"alternatives": []string{
				"models/tomato_disease_best_model.tflite",
				"models/tomato_transfer_best.tflite",
			},
			"classes": []string{
				"Bacterial Spot", "Early Blight", "Healthy", "Late Blight", "Leaf Mold",
				"Septoria Leaf Spot", "Spider Mites", "Target Spot", "Mosaic Virus",
				"Yellow Leaf Curl Virus",
			},
		},
		{
			"name":      "potatoes",
			"modelpath": "models/potato_disease_model_best.tflite",
			"alternatives": []string{
				"models/sweet_spot_potato_model.tflite",
				"models/agrisol_potato_model.tflite",
				"models/nuclear_potato_model.tflite",
			},
			"classes": []string{"Early Blight", "Healthy", "Late Blight"},
		},
		{
			"name":      "maize",
			"modelpath": "models/corn_gentle_v3.tflite",
			"alternatives": []string{
				"models/corn_antibias_v2.tflite",
				"models/corn_disease_balanced_model.tflite",
			},
			"classes": []string{"Common Rust", "Gray Leaf Spot", "Healthy", "Northern Corn Leaf Blight"},
		},
		{
			"name":         "beans",
			"modelpath":    "models/bean_disease_model_best.tflite",
			"classes":      []string{"Angular Leaf Spot", "Bean Rust", "Healthy"},
			"targetwidth":  224,
			"targetheight": 224,
		},
	}
}

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("main.name", "CropDoctor")

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/cropdoctor.log")
	v.SetDefault("logging.fileoutput.level", "info")

	v.SetDefault("webserver.listen", "0.0.0.0:5000")
	v.SetDefault("webserver.corsorigins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("webserver.maxupload", "16MiB")
	v.SetDefault("webserver.readtimeout", 30*time.Second)
	v.SetDefault("webserver.writetimeout", 60*time.Second)
	v.SetDefault("webserver.shutdowntimeout", 10*time.Second)
	v.SetDefault("webserver.ratelimit.enabled", true)
	v.SetDefault("webserver.ratelimit.requestspersecond", 5.0)
	v.SetDefault("webserver.ratelimit.burst", 10)

	v.SetDefault("imaging.targetwidth", DefaultTargetSize)
	v.SetDefault("imaging.targetheight", DefaultTargetSize)
	v.SetDefault("imaging.allowedextensions", []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".tif", ".webp"})

	v.SetDefault("models.threads", 0)
	v.SetDefault("models.usexnnpack", true)
	v.SetDefault("models.onnxlibrary", "")
	v.SetDefault("models.loadconcurrency", 2)
	v.SetDefault("models.crops", defaultCrops())

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.cleanupinterval", 15*time.Minute)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.queuesize", 100)
	v.SetDefault("history.sqlite.path", "cropdoctor.db")
	v.SetDefault("history.mysql.host", "localhost")
	v.SetDefault("history.mysql.port", 3306)
	v.SetDefault("history.mysql.database", "cropdoctor")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "cropdoctor")
	v.SetDefault("mqtt.topic", "cropdoctor/diagnoses")
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.minconfidence", 0.8)
	v.SetDefault("notification.timeout", 10*time.Second)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "0.0.0.0:8090")

	v.SetDefault("testing.enabled", true)
}
