package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/cropdoctor/internal/logger"
)

func newConsoleLogger(t *testing.T, level string, moduleLevels map[string]string) (*logger.CentralLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: level,
		Console:      &logger.ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: moduleLevels,
	}, logger.WithConsoleWriter(buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl, buf
}

func TestModuleLoggerLevels(t *testing.T) {
	cl, buf := newConsoleLogger(t, "info", map[string]string{"model": "debug"})

	api := cl.Module("api")
	api.Debug("hidden debug")
	api.Info("visible info", logger.String("crop", "tomatoes"))

	model := cl.Module("model")
	model.Debug("model debug", logger.Int("attempt", 2))

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.Contains(t, out, "visible info")
	assert.Contains(t, out, "module=api")
	assert.Contains(t, out, "crop=tomatoes")
	assert.Contains(t, out, "model debug")
	assert.Contains(t, out, "attempt=2")
}

func TestTraceLevelName(t *testing.T) {
	cl, buf := newConsoleLogger(t, "trace", nil)

	cl.Module("history").Trace("sql query")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestSubModuleAndFields(t *testing.T) {
	cl, buf := newConsoleLogger(t, "info", nil)

	l := cl.Module("api").Module("middleware").With(logger.String("request_id", "abc"))
	l.Warn("slow request", logger.Duration("latency", 1500*time.Millisecond), logger.Float64("ratio", 0.123456))

	out := buf.String()
	assert.Contains(t, out, "module=api.middleware")
	assert.Contains(t, out, "request_id=abc")
	assert.Contains(t, out, "latency=1.5s")
	assert.Contains(t, out, "ratio=0.123")
}

func TestWithContextTraceID(t *testing.T) {
	cl, buf := newConsoleLogger(t, "info", nil)

	ctx := logger.WithTraceID(context.Background(), "req-42")
	cl.Module("api").WithContext(ctx).Info("handled")
	cl.Module("api").WithContext(context.Background()).Info("untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=req-42")
	assert.NotContains(t, lines[1], "trace_id")
	assert.Equal(t, "req-42", logger.TraceIDFromContext(ctx))
}

func TestErrorFieldNil(t *testing.T) {
	f := logger.Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)

	f = logger.Error(fmt.Errorf("boom"))
	assert.Equal(t, "boom", f.Value)
}

func TestFileOutputWritesJSON(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "logs", "main.log")
	accessPath := filepath.Join(dir, "logs", "access.log")

	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "info",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: mainPath, Level: "info"},
		ModuleOutputs: map[string]logger.ModuleOutput{
			"access": {Enabled: true, FilePath: accessPath},
		},
	})
	require.NoError(t, err)

	cl.Module("model").Info("model loaded", logger.String("crop", "maize"))
	cl.Module("access").Info("GET /api/health", logger.Int("status", 200))
	require.NoError(t, cl.Close())

	mainData, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mainData), &entry))
	assert.Equal(t, "model loaded", entry["msg"])
	assert.Equal(t, "model", entry["module"])
	assert.Equal(t, "maize", entry["crop"])

	accessData, err := os.ReadFile(accessPath)
	require.NoError(t, err)
	assert.Contains(t, string(accessData), "GET /api/health")
	assert.NotContains(t, string(mainData), "GET /api/health")
}

func TestInvalidTimezone(t *testing.T) {
	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")
}

func TestNilConfig(t *testing.T) {
	_, err := logger.NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGormAdapterLogsQueryErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	adapter := logger.NewGormLoggerAdapter(logger.NewWriterLogger(buf, logger.LogLevelInfo), 0)

	adapter.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "INSERT INTO diagnoses", 0
	}, fmt.Errorf("disk I/O error"))
	adapter.Trace(context.Background(), time.Now(), func() (string, int64) {
		return "SELECT 1", 1
	}, nil)

	out := buf.String()
	assert.Contains(t, out, "query error")
	assert.Contains(t, out, "disk I/O error")
	// trace-level statements are filtered at info
	assert.NotContains(t, out, "SELECT 1")
}

func TestDiscard(t *testing.T) {
	l := logger.Discard()
	assert.NotPanics(t, func() {
		l.Error("nothing")
		l.Module("x").With(logger.Bool("ok", true)).Info("still nothing")
	})
	assert.NoError(t, l.Flush())
}
