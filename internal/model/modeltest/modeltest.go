// Package modeltest provides an in-memory model backend for tests.
package modeltest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/agrisol/cropdoctor/internal/model"
)

// Extension is the artifact extension handled by Backend
const Extension = ".stub"

// Spec describes how a stub artifact behaves
type Spec struct {
	LoadErr     error
	InputShape  []int
	OutputShape []int
	// Output is returned by every Predict call, OutputFunc takes precedence when set
	Output     []float32
	OutputFunc func(input []float32) []float32
	PredictErr error
	Strategy   string
}

// Backend serves runners from registered specs keyed by path
type Backend struct {
	mu     sync.Mutex
	specs  map[string]Spec
	loaded []string
}

// NewBackend returns an empty stub backend
func NewBackend() *Backend {
	return &Backend{specs: make(map[string]Spec)}
}

// Register associates path with spec
func (b *Backend) Register(path string, spec Spec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.specs[path] = spec
}

// Loaded returns the paths passed to Load so far, in call order
func (b *Backend) Loaded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.loaded)
}

func (b *Backend) Name() string         { return "stub" }
func (b *Backend) Extensions() []string { return []string{Extension} }

// Load returns a runner for a registered path
func (b *Backend) Load(_ context.Context, path string, _ model.LoadOptions) (model.Runner, error) {
	b.mu.Lock()
	b.loaded = append(b.loaded, path)
	spec, ok := b.specs[path]
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no stub registered for %s", path)
	}
	if spec.LoadErr != nil {
		return nil, spec.LoadErr
	}
	return &Runner{spec: spec}, nil
}

// Runner is a stub model.Runner
type Runner struct {
	spec   Spec
	mu     sync.Mutex
	calls  int
	closed bool
}

// Predict returns the configured output
func (r *Runner) Predict(_ context.Context, input []float32) ([]float32, []int, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.spec.PredictErr != nil {
		return nil, nil, r.spec.PredictErr
	}
	out := r.spec.Output
	if r.spec.OutputFunc != nil {
		out = r.spec.OutputFunc(input)
	}
	shape := r.spec.OutputShape
	if shape == nil {
		shape = []int{1, len(out)}
	}
	return slices.Clone(out), slices.Clone(shape), nil
}

func (r *Runner) InputShape() []int { return slices.Clone(r.spec.InputShape) }

// OutputShape falls back to (1, len(Output)) when no shape was given
func (r *Runner) OutputShape() []int {
	if r.spec.OutputShape != nil {
		return slices.Clone(r.spec.OutputShape)
	}
	if r.spec.Output != nil {
		return []int{1, len(r.spec.Output)}
	}
	return nil
}

func (r *Runner) Strategy() string {
	if r.spec.Strategy == "" {
		return "stub"
	}
	return r.spec.Strategy
}

// Close marks the runner closed
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Calls returns the number of Predict calls
func (r *Runner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Closed reports whether Close was called
func (r *Runner) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Artifact creates an empty stub artifact file under t's temp dir and returns its path.
func Artifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("stub"), 0o600); err != nil {
		t.Fatalf("write stub artifact: %v", err)
	}
	return path
}

// Uniform returns n equal probabilities except index hot, which gets hotValue
func Uniform(n, hot int, base, hotValue float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = base
	}
	if hot >= 0 && hot < n {
		out[hot] = hotValue
	}
	return out
}
