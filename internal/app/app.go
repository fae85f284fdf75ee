// Package app builds the diagnosis pipeline from settings. It is shared by the
// serve, predict and models commands.
package app

import (
	"context"
	"time"

	"github.com/agrisol/cropdoctor/internal/advisory"
	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/cpuspec"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/inference"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/model"
	"github.com/agrisol/cropdoctor/internal/model/onnx"
	"github.com/agrisol/cropdoctor/internal/model/tflite"
	"github.com/agrisol/cropdoctor/internal/observability"
)

// DefaultLoadTimeout bounds loading of a single model candidate
const DefaultLoadTimeout = 2 * time.Minute

// InitLogging installs the central logger configured by settings. The returned
// function flushes and closes log files.
func InitLogging(settings *conf.Settings) (func(), error) {
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return func() {}, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(cl)
	return func() { _ = cl.Close() }, nil
}

// NewRegistry returns a registry with the tflite and onnx backends. metrics may be nil.
func NewRegistry(settings *conf.Settings, crops []conf.CropConfig, metrics *observability.Metrics) *model.Registry {
	threads := cpuspec.ResolveThreads(settings.Models.Threads)

	opts := []model.Option{
		model.WithBackend(tflite.New()),
		model.WithBackend(onnx.New(settings.Models.ONNXLibraryPath)),
		model.WithLoadOptions(model.LoadOptions{
			Threads:    threads,
			UseXNNPACK: settings.Models.UseXNNPACK,
		}),
		model.WithConcurrency(settings.Models.LoadConcurrency),
		model.WithLoadTimeout(DefaultLoadTimeout),
	}
	if metrics != nil {
		opts = append(opts, model.WithObserver(metrics.Diagnosis))
	}

	GetLogger().Debug("model registry configured",
		logger.Int("threads", threads),
		logger.Bool("xnnpack", settings.Models.UseXNNPACK),
		logger.Int("crops", len(crops)))
	return model.NewRegistry(crops, opts...)
}

// LoadSnapshot resolves every configured crop and logs the outcome of each.
func LoadSnapshot(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) *model.Snapshot {
	return LoadCrops(ctx, settings, settings.Models.Crops, metrics)
}

// LoadCrops resolves only the given crops
func LoadCrops(ctx context.Context, settings *conf.Settings, crops []conf.CropConfig, metrics *observability.Metrics) *model.Snapshot {
	start := time.Now()
	snapshot := NewRegistry(settings, crops, metrics).Resolve(ctx)

	log := GetLogger()
	for _, st := range snapshot.Statuses() {
		if st.Loaded() {
			log.Info("model ready",
				logger.String("crop", st.Crop.Name),
				logger.String("path", st.Model.Metadata.SourcePath),
				logger.String("backend", st.Model.Metadata.Backend),
				logger.Bool("class_mismatch", st.Model.Metadata.ClassMismatch))
			continue
		}
		log.Warn("model unavailable",
			logger.String("crop", st.Crop.Name),
			logger.String("attempts", st.Err.Summary()))
	}
	log.Info("model loading finished",
		logger.Strings("loaded", snapshot.Loaded()),
		logger.Strings("unavailable", snapshot.Unavailable()),
		logger.Duration("elapsed", time.Since(start)))
	return snapshot
}

// NewService builds the diagnosis service over snapshot. metrics may be nil.
func NewService(settings *conf.Settings, snapshot *model.Snapshot, metrics *observability.Metrics, opts ...diagnosis.ServiceOption) (*diagnosis.Service, error) {
	db, err := advisory.DefaultDatabase()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	var observer inference.Observer
	if metrics != nil {
		observer = metrics.Diagnosis
	}

	opts = append([]diagnosis.ServiceOption{
		diagnosis.WithUploadPolicy(imaging.UploadPolicy{
			MaxBytes:          settings.WebServer.MaxUploadBytes,
			AllowedExtensions: settings.Imaging.AllowedExtensions,
		}),
	}, opts...)

	return diagnosis.NewService(snapshot,
		imaging.NewPreprocessor(settings.WebServer.MaxUploadBytes),
		inference.NewEngine(observer),
		advisory.NewResolver(db),
		opts...), nil
}

// Shutdown releases process wide runtime state
func Shutdown() {
	if err := onnx.Shutdown(); err != nil {
		GetLogger().Warn("onnx runtime shutdown failed", logger.Error(err))
	}
}
