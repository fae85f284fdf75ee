package model

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/logger"
)

// Load status values reported to a LoadObserver
const (
	LoadStatusSuccess = "success"
	LoadStatusFailed  = "failed"
)

// LoadObserver receives load outcomes, typically a metrics collector.
type LoadObserver interface {
	RecordModelLoad(crop, status string, duration time.Duration)
	SetModelsLoaded(count int)
}

// Registry resolves models for the configured crops. It holds no model state itself;
// Resolve returns a new Snapshot.
type Registry struct {
	crops       []conf.CropConfig
	backends    map[string]Backend
	opts        LoadOptions
	concurrency int
	loadTimeout time.Duration
	observer    LoadObserver
}

// Option configures a Registry
type Option func(*Registry)

// WithBackend registers b for each of its extensions, replacing earlier registrations
func WithBackend(b Backend) Option {
	return func(r *Registry) {
		for _, ext := range b.Extensions() {
			r.backends[strings.ToLower(ext)] = b
		}
	}
}

// WithLoadOptions sets runtime options passed to backends
func WithLoadOptions(opts LoadOptions) Option {
	return func(r *Registry) { r.opts = opts }
}

// WithConcurrency bounds how many crops load in parallel. Values below 1 mean unbounded.
func WithConcurrency(n int) Option {
	return func(r *Registry) { r.concurrency = n }
}

// WithLoadTimeout fails a candidate whose load takes longer than d
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Registry) { r.loadTimeout = d }
}

// WithObserver reports load outcomes to o
func WithObserver(o LoadObserver) Option {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates a registry for crops
func NewRegistry(crops []conf.CropConfig, opts ...Option) *Registry {
	r := &Registry{
		crops:    crops,
		backends: make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extensions lists the registered artifact extensions
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.backends))
	for ext := range r.backends {
		exts = append(exts, ext)
	}
	return exts
}

// Resolve loads every crop once. Crops load independently: a failing or slow crop
// never blocks or fails another. The returned snapshot is never nil.
func (r *Registry) Resolve(ctx context.Context) *Snapshot {
	start := time.Now()
	statuses := make([]*CropStatus, len(r.crops))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i := range r.crops {
		g.Go(func() error {
			statuses[i] = r.resolveCrop(ctx, r.crops[i])
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	snapshot := NewSnapshot(statuses...)
	if r.observer != nil {
		r.observer.SetModelsLoaded(len(snapshot.Loaded()))
	}

	GetLogger().Info("model resolution complete",
		logger.Int("crops", len(r.crops)),
		logger.Strings("loaded", snapshot.Loaded()),
		logger.Strings("unavailable", snapshot.Unavailable()),
		logger.Int64("duration_ms", time.Since(start).Milliseconds()))

	return snapshot
}

// resolveCrop tries candidates in order; the first success wins.
func (r *Registry) resolveCrop(ctx context.Context, crop conf.CropConfig) *CropStatus {
	log := GetLogger().With(logger.String("crop", crop.Name))
	start := time.Now()
	var attempts []Attempt

	for _, cand := range Candidates(crop.Candidates()) {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, newAttempt(cand, "", 0, fmt.Errorf("resolution cancelled: %w", err)))
			break
		}

		loaded, attempt := r.tryCandidate(ctx, crop, cand)
		attempts = append(attempts, attempt)

		if loaded != nil {
			if r.observer != nil {
				r.observer.RecordModelLoad(crop.Name, LoadStatusSuccess, time.Since(start))
			}
			fields := []logger.Field{
				logger.String("path", cand.Path),
				logger.String("rank", cand.Label()),
				logger.String("backend", loaded.Metadata.Backend),
				logger.String("strategy", loaded.Metadata.Strategy),
				logger.Int("output_classes", loaded.Metadata.OutputClasses),
				logger.Int64("duration_ms", attempt.DurationMs),
			}
			log.Info("model loaded", fields...)
			for _, w := range loaded.Metadata.Warnings {
				log.Warn("model loaded with warning", logger.String("path", cand.Path), logger.String("warning", w))
			}
			return &CropStatus{Crop: crop, Model: loaded, Attempts: attempts}
		}

		log.Warn("model candidate failed",
			logger.String("path", cand.Path),
			logger.String("rank", cand.Label()),
			logger.String("error", attempt.Error))
	}

	loadErr := &LoadError{Crop: crop.Name, Attempts: attempts}
	if r.observer != nil {
		r.observer.RecordModelLoad(crop.Name, LoadStatusFailed, time.Since(start))
	}

	enhanced := errors.New(loadErr).
		Component("model").
		Category(errors.CategoryModelLoad).
		Context("crop", crop.Name).
		Context("attempted_paths", crop.Candidates()).
		Timing("model-resolve", time.Since(start)).
		Build()
	log.Warn("crop unavailable, no candidate could be loaded",
		logger.Error(enhanced),
		logger.String("attempts", loadErr.Summary()))

	return &CropStatus{Crop: crop, Err: loadErr, Attempts: attempts}
}

// tryCandidate materializes one candidate. Backends own any candidate-local fallback strategy.
func (r *Registry) tryCandidate(ctx context.Context, crop conf.CropConfig, cand Candidate) (*LoadedModel, Attempt) {
	start := time.Now()

	if _, err := os.Stat(cand.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrModelNotFound, cand.Path)
		}
		return nil, newAttempt(cand, "", time.Since(start), err)
	}

	ext := strings.ToLower(filepath.Ext(cand.Path))
	backend, ok := r.backends[ext]
	if !ok {
		return nil, newAttempt(cand, "", time.Since(start), fmt.Errorf("%w %q", ErrUnsupportedFormat, ext))
	}

	runner, err := r.load(ctx, backend, cand.Path)
	if err != nil {
		return nil, newAttempt(cand, backend.Name(), time.Since(start), err)
	}
	if runner == nil {
		return nil, newAttempt(cand, backend.Name(), time.Since(start), fmt.Errorf("backend %s returned no model", backend.Name()))
	}

	elapsed := time.Since(start)
	meta := describe(crop, cand, backend.Name(), runner)
	meta.LoadDuration = elapsed

	return NewLoadedModel(crop.Name, crop.Classes, meta, runner), newAttempt(cand, backend.Name(), elapsed, nil)
}

// load calls the backend, abandoning it after loadTimeout. An abandoned runner is closed once it arrives.
func (r *Registry) load(ctx context.Context, b Backend, path string) (Runner, error) {
	if r.loadTimeout <= 0 {
		return b.Load(ctx, path, r.opts)
	}

	ctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()

	type result struct {
		runner Runner
		err    error
	}
	done := make(chan result, 1)
	go func() {
		runner, err := b.Load(ctx, path, r.opts)
		done <- result{runner, err}
	}()

	select {
	case res := <-done:
		return res.runner, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.runner != nil {
				_ = res.runner.Close()
			}
		}()
		return nil, fmt.Errorf("load did not finish within %s: %w", r.loadTimeout, ctx.Err())
	}
}

// describe builds metadata and annotates class count and input size mismatches.
func describe(crop conf.CropConfig, cand Candidate, backend string, runner Runner) Metadata {
	meta := Metadata{
		Crop:        crop.Name,
		SourcePath:  cand.Path,
		Rank:        cand.Rank,
		Backend:     backend,
		Strategy:    runner.Strategy(),
		InputShape:  runner.InputShape(),
		OutputShape: runner.OutputShape(),
		Classes:     len(crop.Classes),
		TargetSize:  imaging.Size{Width: crop.TargetWidth, Height: crop.TargetHeight},
		LoadedAt:    time.Now(),
		Warnings:    []string{},
	}

	if n := len(meta.OutputShape); n > 0 && meta.OutputShape[n-1] > 0 {
		meta.OutputClasses = meta.OutputShape[n-1]
		if meta.OutputClasses != meta.Classes {
			meta.ClassMismatch = true
			meta.Warnings = append(meta.Warnings, fmt.Sprintf(
				"model outputs %d classes but %d labels are configured", meta.OutputClasses, meta.Classes))
		}
	} else {
		meta.Warnings = append(meta.Warnings, "model does not declare a static output width")
	}

	switch size, layout := declaredInput(meta.InputShape); layout {
	case layoutNHWC:
		if size != meta.TargetSize {
			meta.Warnings = append(meta.Warnings, fmt.Sprintf(
				"configured target size %s differs from model input %s, using model input", meta.TargetSize, size))
			meta.TargetSize = size
		}
	case layoutNCHW:
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("model input %v looks channels-first, images are fed channels-last", meta.InputShape))
	}

	return meta
}

type inputLayout int

const (
	layoutUnknown inputLayout = iota
	layoutNHWC
	layoutNCHW
)

// declaredInput reads a static spatial size from a 4-D image input shape
func declaredInput(shape []int) (imaging.Size, inputLayout) {
	if len(shape) != 4 {
		return imaging.Size{}, layoutUnknown
	}
	switch {
	case shape[3] == imaging.Channels && shape[1] > 0 && shape[2] > 0:
		return imaging.Size{Width: shape[2], Height: shape[1]}, layoutNHWC
	case shape[1] == imaging.Channels && shape[2] > 0 && shape[3] > 0:
		return imaging.Size{Width: shape[3], Height: shape[2]}, layoutNCHW
	}
	return imaging.Size{}, layoutUnknown
}

func newAttempt(cand Candidate, backend string, d time.Duration, err error) Attempt {
	a := Attempt{
		Path:       cand.Path,
		Rank:       cand.Rank,
		Backend:    backend,
		Duration:   d,
		DurationMs: d.Milliseconds(),
		err:        err,
	}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}
