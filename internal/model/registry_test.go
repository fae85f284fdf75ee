package model_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/model"
	"github.com/agrisol/cropdoctor/internal/model/modeltest"
)

var potatoClasses = []string{"Early Blight", "Healthy", "Late Blight"}

func cropConfig(name string, classes []string, paths ...string) conf.CropConfig {
	return conf.CropConfig{
		Name:         name,
		ModelPath:    paths[0],
		Alternatives: paths[1:],
		Classes:      classes,
		TargetWidth:  256,
		TargetHeight: 256,
	}
}

func TestResolveFallsBackInOrder(t *testing.T) {
	dir := t.TempDir()
	backend := modeltest.NewBackend()

	a := filepath.Join(dir, "a.stub") // never created
	b := modeltest.Artifact(t, dir, "b.stub")
	c := modeltest.Artifact(t, dir, "c.stub")
	d := modeltest.Artifact(t, dir, "d.stub")

	backend.Register(b, modeltest.Spec{LoadErr: errors.NewStd("corrupt flatbuffer")})
	backend.Register(c, modeltest.Spec{Output: []float32{0.1, 0.2, 0.7}, InputShape: []int{1, 256, 256, 3}})
	backend.Register(d, modeltest.Spec{Output: []float32{0.1, 0.2, 0.7}})

	reg := model.NewRegistry([]conf.CropConfig{cropConfig("potatoes", potatoClasses, a, b, c, d)},
		model.WithBackend(backend))
	snapshot := reg.Resolve(context.Background())

	st, ok := snapshot.Status("potatoes")
	require.True(t, ok)
	require.True(t, st.Loaded())
	assert.Nil(t, st.Err)
	assert.Equal(t, c, st.Model.Metadata.SourcePath)
	assert.Equal(t, 2, st.Model.Metadata.Rank)
	assert.False(t, st.Model.Metadata.ClassMismatch)
	assert.Empty(t, st.Model.Metadata.Warnings)

	// A is rejected before reaching the backend, D is never tried
	assert.Equal(t, []string{b, c}, backend.Loaded())

	require.Len(t, st.Attempts, 3)
	assert.Equal(t, a, st.Attempts[0].Path)
	assert.ErrorIs(t, st.Attempts[0].Err(), model.ErrModelNotFound)
	assert.Equal(t, b, st.Attempts[1].Path)
	assert.Contains(t, st.Attempts[1].Error, "corrupt flatbuffer")
	assert.Equal(t, c, st.Attempts[2].Path)
	assert.Empty(t, st.Attempts[2].Error)

	m, err := snapshot.Lookup("potatoes")
	require.NoError(t, err)
	assert.Same(t, st.Model, m)
}

func TestResolveAllCandidatesFail(t *testing.T) {
	dir := t.TempDir()
	backend := modeltest.NewBackend()
	h5 := modeltest.Artifact(t, dir, "legacy.h5")
	broken := modeltest.Artifact(t, dir, "broken.stub")
	backend.Register(broken, modeltest.Spec{LoadErr: errors.NewStd("tensor allocation failed")})

	reg := model.NewRegistry([]conf.CropConfig{cropConfig("maize", []string{"Healthy"}, h5, broken)},
		model.WithBackend(backend))
	snapshot := reg.Resolve(context.Background())

	st, _ := snapshot.Status("maize")
	assert.False(t, st.Loaded())
	require.NotNil(t, st.Err)
	require.Len(t, st.Err.Attempts, 2)
	assert.ErrorIs(t, st.Err.Attempts[0].Err(), model.ErrUnsupportedFormat)
	assert.Contains(t, st.Err.Error(), "maize")
	assert.Contains(t, st.Err.Error(), "tensor allocation failed")
	assert.Contains(t, st.Err.Summary(), "legacy.h5 (primary)")

	_, err := snapshot.Lookup("maize")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrModelUnavailable)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
	assert.Contains(t, err.Error(), "maize")
	assert.Contains(t, err.Error(), "tensor allocation failed")

	assert.Empty(t, snapshot.Loaded())
	assert.Equal(t, []string{"maize"}, snapshot.Unavailable())
}

func TestLookupUnknownCrop(t *testing.T) {
	snapshot := model.NewRegistry(nil).Resolve(context.Background())

	_, err := snapshot.Lookup("rice")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownCrop)
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveAnnotatesMismatches(t *testing.T) {
	dir := t.TempDir()
	backend := modeltest.NewBackend()
	path := modeltest.Artifact(t, dir, "beans.stub")
	backend.Register(path, modeltest.Spec{
		InputShape:  []int{1, 224, 224, 3},
		OutputShape: []int{1, 4},
		Output:      []float32{0.1, 0.1, 0.1, 0.7},
	})

	reg := model.NewRegistry([]conf.CropConfig{
		cropConfig("beans", []string{"Angular Leaf Spot", "Bean Rust", "Healthy"}, path),
	}, model.WithBackend(backend))
	m, err := reg.Resolve(context.Background()).Lookup("beans")
	require.NoError(t, err)

	meta := m.Metadata
	assert.True(t, meta.ClassMismatch)
	assert.Equal(t, 4, meta.OutputClasses)
	assert.Equal(t, 3, meta.Classes)
	assert.Equal(t, imaging.Size{Width: 224, Height: 224}, m.TargetSize())
	require.Len(t, meta.Warnings, 2)
	assert.Contains(t, meta.Warnings[0], "outputs 4 classes but 3 labels")
	assert.Contains(t, meta.Warnings[1], "256x256 differs from model input 224x224")
}

// blockingBackend never finishes loading until its context ends
type blockingBackend struct{}

func (blockingBackend) Name() string         { return "blocking" }
func (blockingBackend) Extensions() []string { return []string{".slow"} }
func (blockingBackend) Load(ctx context.Context, _ string, _ model.LoadOptions) (model.Runner, error) {
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	return nil, ctx.Err()
}

func TestResolveSlowCropDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	stub := modeltest.NewBackend()
	fast := modeltest.Artifact(t, dir, "fast.stub")
	stub.Register(fast, modeltest.Spec{Output: []float32{0.5, 0.5, 0}})
	slow := modeltest.Artifact(t, dir, "hang.slow")

	reg := model.NewRegistry([]conf.CropConfig{
		cropConfig("tomatoes", []string{"A"}, slow),
		cropConfig("potatoes", potatoClasses, fast),
	},
		model.WithBackend(stub),
		model.WithBackend(blockingBackend{}),
		model.WithLoadTimeout(50*time.Millisecond),
		model.WithConcurrency(2))

	start := time.Now()
	snapshot := reg.Resolve(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, []string{"potatoes"}, snapshot.Loaded())
	assert.Equal(t, []string{"tomatoes", "potatoes"}, snapshot.Crops())
	st, _ := snapshot.Status("tomatoes")
	require.NotNil(t, st.Err)
	assert.Contains(t, st.Err.Error(), "did not finish within")
}

type recordingObserver struct {
	mu     sync.Mutex
	loads  map[string]string
	loaded int
}

func (o *recordingObserver) RecordModelLoad(crop, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads[crop] = status
}

func (o *recordingObserver) SetModelsLoaded(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loaded = n
}

func TestResolveReportsToObserverAndCloses(t *testing.T) {
	dir := t.TempDir()
	backend := modeltest.NewBackend()
	ok := modeltest.Artifact(t, dir, "ok.stub")
	backend.Register(ok, modeltest.Spec{Output: []float32{1}})

	obs := &recordingObserver{loads: map[string]string{}}
	reg := model.NewRegistry([]conf.CropConfig{
		cropConfig("beans", []string{"Healthy"}, ok),
		cropConfig("maize", []string{"Healthy"}, filepath.Join(dir, "missing.stub")),
	}, model.WithBackend(backend), model.WithObserver(obs))

	snapshot := reg.Resolve(context.Background())
	assert.Equal(t, map[string]string{"beans": model.LoadStatusSuccess, "maize": model.LoadStatusFailed}, obs.loads)
	assert.Equal(t, 1, obs.loaded)

	m, err := snapshot.Lookup("beans")
	require.NoError(t, err)
	require.NoError(t, snapshot.Close())

	_, _, err = m.Predict(context.Background(), []float32{0})
	assert.Error(t, err, "closed model must not run")
}

func TestCandidateLabels(t *testing.T) {
	cands := model.Candidates([]string{"a", "b"})
	assert.Equal(t, "primary", cands[0].Label())
	assert.Equal(t, "alternative 1", cands[1].Label())
}
