// Package tflite loads TensorFlow Lite models for the model registry.
package tflite

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	tfl "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/model"
)

const (
	StrategyXNNPACK = "xnnpack"
	StrategyCPU     = "cpu"
)

// Backend creates TFLite interpreters
type Backend struct{}

// New returns the TFLite backend
func New() *Backend {
	return &Backend{}
}

func (*Backend) Name() string         { return "tflite" }
func (*Backend) Extensions() []string { return []string{".tflite"} }

// Load reads path and builds an interpreter. With XNNPACK enabled the delegate is
// tried first and the plain CPU interpreter is the fallback.
func (b *Backend) Load(ctx context.Context, path string, opts model.LoadOptions) (model.Runner, error) {
	start := time.Now()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, errors.New(err).
			Component("tflite").
			Category(errors.CategoryFileIO).
			ModelContext(path, "").
			Context("operation", "read").
			Timing("model-file-read", time.Since(start)).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tfModel := tfl.NewModel(data)
	if tfModel == nil {
		return nil, errors.New(fmt.Errorf("cannot parse TensorFlow Lite model")).
			Component("tflite").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Context("model_size_bytes", len(data)).
			Build()
	}

	threads := max(1, opts.Threads)
	log := GetLogger().With(logger.String("path", path))

	if opts.UseXNNPACK {
		r, err := newRunner(tfModel, threads, true)
		if err == nil {
			return r, nil
		}
		log.Warn("XNNPACK interpreter failed, falling back to default CPU", logger.Error(err))
	}

	r, err := newRunner(tfModel, threads, false)
	if err != nil {
		tfModel.Delete()
		return nil, errors.New(err).
			Component("tflite").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Context("use_xnnpack", opts.UseXNNPACK).
			Context("threads", threads).
			Timing("model-init", time.Since(start)).
			Build()
	}

	// The interpreter holds its own copy of the weights
	runtime.GC()
	return r, nil
}

// newRunner creates and allocates an interpreter with or without the XNNPACK delegate.
func newRunner(tfModel *tfl.Model, threads int, useXNNPACK bool) (*Runner, error) {
	options := tfl.NewInterpreterOptions()

	strategy := StrategyCPU
	var delegate delegates.Delegater
	if useXNNPACK {
		delegate = xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			return nil, fmt.Errorf("cannot create XNNPACK delegate")
		}
		options.AddDelegate(delegate)
		options.SetNumThread(1)
		strategy = StrategyXNNPACK
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interp := tfl.NewInterpreter(tfModel, options)
	fail := func(err error) (*Runner, error) {
		if interp != nil {
			interp.Delete()
		}
		if delegate != nil {
			delegate.Delete()
		}
		return nil, err
	}

	if interp == nil {
		return fail(fmt.Errorf("cannot create interpreter"))
	}
	if status := interp.AllocateTensors(); status != tfl.OK {
		return fail(fmt.Errorf("tensor allocation failed with status %v", status))
	}

	input := interp.GetInputTensor(0)
	output := interp.GetOutputTensor(0)
	switch {
	case input == nil || output == nil:
		return fail(fmt.Errorf("model has no input or output tensor"))
	case input.Type() != tfl.Float32:
		return fail(fmt.Errorf("unsupported input tensor type %v, want float32", input.Type()))
	}

	return &Runner{
		model:       tfModel,
		interp:      interp,
		delegate:    delegate,
		strategy:    strategy,
		inputShape:  tensorShape(input),
		outputShape: tensorShape(output),
	}, nil
}

type shaped interface {
	NumDims() int
	Dim(int) int
}

func tensorShape(t shaped) []int {
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

// Runner wraps one interpreter. It is not safe for concurrent use; model.LoadedModel serializes calls.
type Runner struct {
	model       *tfl.Model
	interp      *tfl.Interpreter
	delegate    delegates.Delegater
	strategy    string
	inputShape  []int
	outputShape []int
}

// Predict copies input into the input tensor, invokes and copies the first output out.
func (r *Runner) Predict(ctx context.Context, input []float32) ([]float32, []int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	in := r.interp.GetInputTensor(0)
	buf := in.Float32s()
	if len(buf) != len(input) {
		return nil, nil, fmt.Errorf("input has %d values, model expects %d %v", len(input), len(buf), r.inputShape)
	}
	copy(buf, input)

	if status := r.interp.Invoke(); status != tfl.OK {
		return nil, nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := r.interp.GetOutputTensor(0)
	values := make([]float32, len(out.Float32s()))
	copy(values, out.Float32s())
	return values, tensorShape(out), nil
}

func (r *Runner) InputShape() []int  { return append([]int(nil), r.inputShape...) }
func (r *Runner) OutputShape() []int { return append([]int(nil), r.outputShape...) }
func (r *Runner) Strategy() string   { return r.strategy }

// Close deletes the interpreter, delegate and model
func (r *Runner) Close() error {
	if r.interp != nil {
		r.interp.Delete()
		r.interp = nil
	}
	if r.delegate != nil {
		r.delegate.Delete()
		r.delegate = nil
	}
	if r.model != nil {
		r.model.Delete()
		r.model = nil
	}
	return nil
}

var _ model.Backend = (*Backend)(nil)
