package tflite

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

type fakeTensor []int

func (f fakeTensor) NumDims() int  { return len(f) }
func (f fakeTensor) Dim(i int) int { return f[i] }

func TestTensorShape(t *testing.T) {
	assert.Equal(t, []int{1, 256, 256, 3}, tensorShape(fakeTensor{1, 256, 256, 3}))
	assert.Empty(t, tensorShape(fakeTensor{}))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := New().Load(context.Background(), filepath.Join(t.TempDir(), "none.tflite"), model.LoadOptions{Threads: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

// TestLoadRealModel runs against a real artifact when CROPDOCTOR_TFLITE_MODEL points at one.
func TestLoadRealModel(t *testing.T) {
	path := os.Getenv("CROPDOCTOR_TFLITE_MODEL")
	if path == "" {
		t.Skip("CROPDOCTOR_TFLITE_MODEL not set")
	}

	runner, err := New().Load(context.Background(), path, model.LoadOptions{Threads: 2, UseXNNPACK: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, runner.Close()) }()

	in := runner.InputShape()
	require.Len(t, in, 4)
	out, shape, err := runner.Predict(context.Background(), make([]float32, in[1]*in[2]*in[3]))
	require.NoError(t, err)
	assert.Len(t, out, shape[len(shape)-1])
}
