package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/cropdoctor/internal/advisory"
	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/imaging"
	"github.com/agrisol/cropdoctor/internal/inference"
	"github.com/agrisol/cropdoctor/internal/model"
	"github.com/agrisol/cropdoctor/internal/observability"
)

func newTestServer(t *testing.T, mutate func(*conf.Settings), opts ...Option) *Server {
	t.Helper()
	settings := conf.Defaults()
	settings.WebServer.Listen = "127.0.0.1:0"
	if mutate != nil {
		mutate(settings)
	}

	settingsCrop, _ := settings.Crop("maize")
	snap := model.NewSnapshot(&model.CropStatus{
		Crop: settingsCrop,
		Err:  &model.LoadError{Crop: "maize"},
	})
	svc := diagnosis.NewService(snap, imaging.NewPreprocessor(settings.WebServer.MaxUploadBytes),
		inference.NewEngine(nil), advisory.NewResolver(advisory.MustDefaultDatabase()))

	s := New(settings, svc, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestServerStartAndShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Nil(t, s.Addr())

	require.NoError(t, s.Start())
	require.NotNil(t, s.Addr())
	require.Error(t, s.Start(), "second start must fail")

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", s.Addr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body["status"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err, ok := <-s.Errors():
		assert.False(t, ok, "unexpected serve error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve loop did not stop")
	}
}

func TestServerStartBindFailure(t *testing.T) {
	s := newTestServer(t, func(settings *conf.Settings) {
		settings.WebServer.Listen = "256.0.0.1:99999"
	})
	require.Error(t, s.Start())
}

func TestOversizedUploadIsBadRequest(t *testing.T) {
	s := newTestServer(t, func(settings *conf.Settings) {
		settings.WebServer.MaxUploadBytes = 1024
	})

	payload := bytes.Repeat([]byte("x"), 1024+128<<10)
	req := httptest.NewRequest(http.MethodPost, "/api/ml/maize", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "File too large", body["message"])
}

func TestServerMetrics(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, nil, WithMetrics(m))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "cropdoctor_http_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}
