// Package onnx loads ONNX models through onnxruntime for the model registry.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/model"
)

// Shape discovery strategies reported as Runner.Strategy
const (
	StrategyIOInfo  = "io-info"
	StrategySidecar = "sidecar"
)

// SidecarSuffix is appended to a model path to find its metadata file
const SidecarSuffix = ".json"

// Sidecar is optional model metadata stored next to the artifact, used when the
// runtime cannot report concrete tensor shapes.
type Sidecar struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
}

var (
	envMu   sync.Mutex
	envErr  error
	envDone bool
)

// Backend creates onnxruntime sessions. The runtime environment is process global
// and initialized on first Load.
type Backend struct {
	libraryPath string
}

// New returns the ONNX backend. An empty libraryPath uses the platform default
// onnxruntime shared library.
func New(libraryPath string) *Backend {
	return &Backend{libraryPath: libraryPath}
}

func (*Backend) Name() string         { return "onnx" }
func (*Backend) Extensions() []string { return []string{".onnx"} }

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envDone {
		return envErr
	}
	envDone = true

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		envErr = fmt.Errorf("initialize onnxruntime: %w", err)
		return envErr
	}
	GetLogger().Info("onnxruntime initialized", logger.String("library", libraryPath))
	return nil
}

// Shutdown destroys the runtime environment. Sessions must be closed first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envDone || envErr != nil {
		return nil
	}
	envDone = false
	return ort.DestroyEnvironment()
}

// Load creates a session for path with pre-allocated input and output tensors.
func (b *Backend) Load(ctx context.Context, path string, opts model.LoadOptions) (model.Runner, error) {
	start := time.Now()

	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(err).
			Component("onnx").
			Category(errors.CategoryFileIO).
			ModelContext(path, "").
			Context("operation", "stat").
			Build()
	}

	if err := initEnvironment(b.libraryPath); err != nil {
		return nil, errors.New(err).
			Component("onnx").
			Category(errors.CategoryModelInit).
			Context("library_path", b.libraryPath).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	io, err := discover(path)
	if err != nil {
		return nil, errors.New(err).
			Component("onnx").
			Category(errors.CategoryModelLoad).
			ModelContext(path, "").
			Timing("model-inspect", time.Since(start)).
			Build()
	}

	r, err := newRunner(path, io, opts.Threads)
	if err != nil {
		return nil, errors.New(err).
			Component("onnx").
			Category(errors.CategoryModelInit).
			ModelContext(path, "").
			Context("strategy", io.strategy).
			Context("threads", opts.Threads).
			Timing("model-init", time.Since(start)).
			Build()
	}
	return r, nil
}

// tensorIO holds the resolved names and concrete shapes of the first input and output.
type tensorIO struct {
	inputName   string
	outputName  string
	inputShape  []int64
	outputShape []int64
	strategy    string
}

// discover reads shapes from the model itself and falls back to the sidecar file.
func discover(path string) (tensorIO, error) {
	io, infoErr := fromIOInfo(path)
	if infoErr == nil {
		return io, nil
	}

	sidecarPath := path + SidecarSuffix
	sc, err := ReadSidecar(sidecarPath)
	if err != nil {
		return tensorIO{}, fmt.Errorf("cannot determine tensor shapes: %w; sidecar %s: %w", infoErr, sidecarPath, err)
	}

	GetLogger().Debug("using sidecar tensor metadata",
		logger.String("path", path),
		logger.String("reason", infoErr.Error()))
	return fromSidecar(sc)
}

func fromIOInfo(path string) (tensorIO, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return tensorIO{}, err
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return tensorIO{}, fmt.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs))
	}
	if inputs[0].DataType != ort.TensorElementDataTypeFloat {
		return tensorIO{}, fmt.Errorf("unsupported input element type %v, want float32", inputs[0].DataType)
	}

	in, err := ConcreteShape(inputs[0].Dimensions)
	if err != nil {
		return tensorIO{}, fmt.Errorf("input %s: %w", inputs[0].Name, err)
	}
	out, err := ConcreteShape(outputs[0].Dimensions)
	if err != nil {
		return tensorIO{}, fmt.Errorf("output %s: %w", outputs[0].Name, err)
	}

	return tensorIO{
		inputName:   inputs[0].Name,
		outputName:  outputs[0].Name,
		inputShape:  in,
		outputShape: out,
		strategy:    StrategyIOInfo,
	}, nil
}

func fromSidecar(sc Sidecar) (tensorIO, error) {
	in, err := ConcreteShape(sc.InputShape)
	if err != nil {
		return tensorIO{}, fmt.Errorf("sidecar input_shape: %w", err)
	}
	out, err := ConcreteShape(sc.OutputShape)
	if err != nil {
		return tensorIO{}, fmt.Errorf("sidecar output_shape: %w", err)
	}

	io := tensorIO{
		inputName:   sc.InputName,
		outputName:  sc.OutputName,
		inputShape:  in,
		outputShape: out,
		strategy:    StrategySidecar,
	}
	if io.inputName == "" {
		io.inputName = "input"
	}
	if io.outputName == "" {
		io.outputName = "output"
	}
	return io, nil
}

// ReadSidecar parses a sidecar metadata file
func ReadSidecar(path string) (Sidecar, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: derived from a configured model path
	if err != nil {
		return Sidecar{}, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, fmt.Errorf("parse sidecar: %w", err)
	}
	if len(sc.InputShape) == 0 || len(sc.OutputShape) == 0 {
		return Sidecar{}, fmt.Errorf("sidecar must declare input_shape and output_shape")
	}
	return sc, nil
}

// ConcreteShape resolves a dynamic batch dimension to 1. Any other dynamic or
// non-positive dimension is an error.
func ConcreteShape(dims []int64) ([]int64, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	out := slices.Clone(dims)
	for i, d := range out {
		switch {
		case d > 0:
		case i == 0:
			out[i] = 1
		default:
			return nil, fmt.Errorf("dimension %d of %v is not fixed", i, dims)
		}
	}
	return out, nil
}

func toInts(dims []int64) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = int(d)
	}
	return out
}

func newRunner(path string, io tensorIO, threads int) (*Runner, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(io.inputShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(io.outputShape...))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	fail := func(err error) (*Runner, error) {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fail(fmt.Errorf("create session options: %w", err))
	}
	defer func() { _ = options.Destroy() }()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return fail(fmt.Errorf("set thread count: %w", err))
		}
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{io.inputName}, []string{io.outputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		options)
	if err != nil {
		return fail(fmt.Errorf("create session: %w", err))
	}

	return &Runner{
		session:     session,
		input:       input,
		output:      output,
		strategy:    io.strategy,
		inputShape:  toInts(io.inputShape),
		outputShape: toInts(io.outputShape),
	}, nil
}

// Runner wraps one session and its bound tensors. Calls are serialized by model.LoadedModel.
type Runner struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	strategy    string
	inputShape  []int
	outputShape []int
}

// Predict copies input into the bound tensor, runs the session and copies the output.
func (r *Runner) Predict(ctx context.Context, input []float32) ([]float32, []int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	buf := r.input.GetData()
	if len(buf) != len(input) {
		return nil, nil, fmt.Errorf("input has %d values, model expects %d %v", len(input), len(buf), r.inputShape)
	}
	copy(buf, input)

	if err := r.session.Run(); err != nil {
		return nil, nil, fmt.Errorf("session run: %w", err)
	}

	return slices.Clone(r.output.GetData()), slices.Clone(r.outputShape), nil
}

func (r *Runner) InputShape() []int  { return slices.Clone(r.inputShape) }
func (r *Runner) OutputShape() []int { return slices.Clone(r.outputShape) }
func (r *Runner) Strategy() string   { return r.strategy }

// Close destroys the session and its tensors
func (r *Runner) Close() error {
	var errs []error
	if r.session != nil {
		errs = append(errs, r.session.Destroy())
		r.session = nil
	}
	if r.input != nil {
		errs = append(errs, r.input.Destroy())
		r.input = nil
	}
	if r.output != nil {
		errs = append(errs, r.output.Destroy())
		r.output = nil
	}
	return errors.Join(errs...)
}

var _ model.Backend = (*Backend)(nil)
