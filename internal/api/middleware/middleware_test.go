package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/observability/metrics"
)

func TestRequestIDPropagatesToContext(t *testing.T) {
	e := echo.New()
	e.Use(NewRequestID())

	var seenID, traceID string
	e.GET("/ping", func(c echo.Context) error {
		seenID = RequestID(c)
		traceID = logger.TraceIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))

	require.NotEmpty(t, seenID)
	assert.Equal(t, seenID, traceID)
	assert.Equal(t, seenID, rec.Header().Get(echo.HeaderXRequestID))
}

func TestBodyLimit(t *testing.T) {
	e := echo.New()
	e.POST("/upload", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, NewBodyLimit(1024))

	small := httptest.NewRecorder()
	e.ServeHTTP(small, httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 1024))))
	assert.Equal(t, http.StatusOK, small.Code)

	large := httptest.NewRecorder()
	e.ServeHTTP(large, httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 1024+multipartOverhead+1))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, large.Code)
}

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	settings := conf.RateLimitSettings{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}
	e.GET("/limited", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, NewRateLimiter(&settings))

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/limited", http.NoBody)
		req.RemoteAddr = "192.0.2.10:4000"
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	disabled := NewRateLimiter(&conf.RateLimitSettings{})
	require.NotNil(t, disabled)
}

func requestCount(t *testing.T, reg *prometheus.Registry, path, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "cropdoctor_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == path && labels["status_code"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Use(NewMetrics(m))
	e.GET("/api/models", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"ok": "yes"})
	})
	e.GET("/boom", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})

	for _, path := range []string{"/api/models", "/api/models", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	assert.InDelta(t, 2, requestCount(t, reg, "/api/models", "200"), 0)
	assert.InDelta(t, 1, requestCount(t, reg, "/boom", "502"), 0)
}
