package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/model"
)

func TestConcreteShape(t *testing.T) {
	tests := []struct {
		name    string
		dims    []int64
		want    []int64
		wantErr bool
	}{
		{"fixed", []int64{1, 224, 224, 3}, []int64{1, 224, 224, 3}, false},
		{"dynamic batch", []int64{-1, 256, 256, 3}, []int64{1, 256, 256, 3}, false},
		{"dynamic spatial", []int64{1, -1, -1, 3}, nil, true},
		{"empty", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConcreteShape(tt.dims)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadSidecar(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "beans.onnx.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"input_shape":[-1,224,224,3],"output_shape":[1,3]}`), 0o600))
	sc, err := ReadSidecar(good)
	require.NoError(t, err)

	io, err := fromSidecar(sc)
	require.NoError(t, err)
	assert.Equal(t, "input", io.inputName)
	assert.Equal(t, "output", io.outputName)
	assert.Equal(t, []int64{1, 224, 224, 3}, io.inputShape)
	assert.Equal(t, StrategySidecar, io.strategy)

	incomplete := filepath.Join(dir, "partial.onnx.json")
	require.NoError(t, os.WriteFile(incomplete, []byte(`{"input_shape":[1,224,224,3]}`), 0o600))
	_, err = ReadSidecar(incomplete)
	require.Error(t, err)

	_, err = ReadSidecar(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := New("").Load(context.Background(), filepath.Join(t.TempDir(), "none.onnx"), model.LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

// TestLoadRealModel runs when CROPDOCTOR_ONNX_MODEL and an onnxruntime library are available.
func TestLoadRealModel(t *testing.T) {
	path := os.Getenv("CROPDOCTOR_ONNX_MODEL")
	if path == "" {
		t.Skip("CROPDOCTOR_ONNX_MODEL not set")
	}

	runner, err := New(os.Getenv("CROPDOCTOR_ONNX_LIBRARY")).Load(context.Background(), path, model.LoadOptions{Threads: 1})
	require.NoError(t, err)
	defer func() { require.NoError(t, runner.Close()) }()

	size := 1
	for _, d := range runner.InputShape() {
		size *= d
	}
	out, shape, err := runner.Predict(context.Background(), make([]float32, size))
	require.NoError(t, err)
	assert.Len(t, out, shape[len(shape)-1])
}
