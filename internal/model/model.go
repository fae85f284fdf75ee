// Package model resolves one inference model per crop from an ordered list of
// candidate artifacts and exposes the result as an immutable snapshot.
package model

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/agrisol/cropdoctor/internal/imaging"
)

// Candidate is one model artifact location with its priority rank. Rank 0 is the primary path.
type Candidate struct {
	Path string `json:"path"`
	Rank int    `json:"rank"`
}

// Label describes the rank for logs and status output
func (c Candidate) Label() string {
	if c.Rank == 0 {
		return "primary"
	}
	return fmt.Sprintf("alternative %d", c.Rank)
}

// Candidates builds ranked candidates from ordered paths
func Candidates(paths []string) []Candidate {
	out := make([]Candidate, len(paths))
	for i, p := range paths {
		out[i] = Candidate{Path: p, Rank: i}
	}
	return out
}

// LoadOptions tunes runtime creation
type LoadOptions struct {
	Threads    int
	UseXNNPACK bool
}

// Runner is an executable model handle created by a Backend.
type Runner interface {
	// Predict runs one forward pass and returns the first output tensor with its shape.
	Predict(ctx context.Context, input []float32) (output []float32, shape []int, err error)
	InputShape() []int
	OutputShape() []int
	// Strategy names the load strategy that produced the runner, e.g. "xnnpack" or "cpu"
	Strategy() string
	Close() error
}

// Backend materializes runners from artifacts of the file extensions it claims.
type Backend interface {
	Name() string
	Extensions() []string
	Load(ctx context.Context, path string, opts LoadOptions) (Runner, error)
}

// Metadata describes a loaded model
type Metadata struct {
	Crop          string        `json:"crop"`
	SourcePath    string        `json:"source_path"`
	Rank          int           `json:"rank"`
	Backend       string        `json:"backend"`
	Strategy      string        `json:"strategy"`
	InputShape    []int         `json:"input_shape"`
	OutputShape   []int         `json:"output_shape"`
	OutputClasses int           `json:"output_classes"`
	Classes       int           `json:"configured_classes"`
	TargetSize    imaging.Size  `json:"target_size"`
	LoadedAt      time.Time     `json:"loaded_at"`
	LoadDuration  time.Duration `json:"-"`
	Warnings      []string      `json:"warnings"`
	// ClassMismatch is set when the output width differs from the configured class list length
	ClassMismatch bool `json:"class_mismatch"`
}

// LoadedModel is the model bound to one crop for the lifetime of the process.
// Predict calls on the same model are serialized; different crops never share a lock.
type LoadedModel struct {
	Crop     string
	Classes  []string
	Metadata Metadata

	mu     sync.Mutex
	runner Runner
}

// NewLoadedModel binds a runner to a crop. It is exported for backends tests and tools.
func NewLoadedModel(crop string, classes []string, meta Metadata, runner Runner) *LoadedModel {
	return &LoadedModel{
		Crop:     crop,
		Classes:  slices.Clone(classes),
		Metadata: meta,
		runner:   runner,
	}
}

// TargetSize is the image size the model expects
func (m *LoadedModel) TargetSize() imaging.Size {
	return m.Metadata.TargetSize
}

// Predict runs the model on input
func (m *LoadedModel) Predict(ctx context.Context, input []float32) ([]float32, []int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runner == nil {
		return nil, nil, fmt.Errorf("model for %s is closed", m.Crop)
	}
	return m.runner.Predict(ctx, input)
}

// Close releases the runtime
func (m *LoadedModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runner == nil {
		return nil
	}
	err := m.runner.Close()
	m.runner = nil
	return err
}
