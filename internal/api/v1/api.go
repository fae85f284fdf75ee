// Package v1 implements the cropdoctor JSON API.
package v1

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	mw "github.com/agrisol/cropdoctor/internal/api/middleware"
	"github.com/agrisol/cropdoctor/internal/buildinfo"
	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/history"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/observability"
)

var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the api module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("api")
	})
	return pkgLogger
}

// HistoryReader is the read side of the prediction history store
type HistoryReader interface {
	Recent(ctx context.Context, q history.Query) ([]history.Record, error)
	Stats(ctx context.Context) (*history.Stats, error)
}

// Controller owns the API routes and their dependencies.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	service   *diagnosis.Service
	history   HistoryReader
	metrics   *observability.Metrics
	results   *cache.Cache
	build     *buildinfo.Context
	startTime time.Time
}

// Option configures a Controller
type Option func(*Controller)

// WithHistory enables the history endpoints
func WithHistory(h HistoryReader) Option {
	return func(c *Controller) { c.history = h }
}

// WithMetrics records cache lookups and request errors
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBuildInfo sets the version reported by the status endpoints
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(c *Controller) { c.build = b }
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, settings *conf.Settings, service *diagnosis.Service, opts ...Option) *Controller {
	c := &Controller{
		Echo:      e,
		Group:     e.Group("/api"),
		Settings:  settings,
		service:   service,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if settings.Cache.Enabled && settings.Cache.TTL > 0 {
		c.results = cache.New(settings.Cache.TTL, settings.Cache.CleanupInterval)
	}

	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Echo.GET("/", c.GetHealth)
	c.Group.GET("/health", c.GetHealth)
	c.Group.GET("/models", c.GetModels)
	c.Group.POST("/ml/:cropType", c.PredictDisease, mw.NewRateLimiter(&c.Settings.WebServer.RateLimit))

	if c.Settings.Testing.Enabled {
		c.Group.GET("/test/models", c.TestModels)
		c.Group.GET("/test/config", c.TestConfig)
	}

	c.Group.GET("/history", c.GetHistory)
	c.Group.GET("/history/stats", c.GetHistoryStats)

	c.Echo.RouteNotFound("/*", c.NotFound)
}

// Shutdown drops cached results
func (c *Controller) Shutdown() {
	if c.results != nil {
		c.results.Flush()
	}
}

func (c *Controller) version() string {
	return c.build.GetVersion()
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error"`
	Message        string   `json:"message"`
	Code           int      `json:"code"`
	CorrelationID  string   `json:"correlation_id"`
	SupportedCrops []string `json:"supported_crops,omitempty"`
}

// NewErrorResponse creates a new API error response. Server errors only carry
// message; the wrapped error detail stays in the server log.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil && code < http.StatusInternalServerError {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Success:       false,
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// StatusFor maps an error category to the HTTP status returned to the client.
func StatusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation, errors.CategoryImageDecode, errors.CategoryNotFound, errors.CategoryLimit:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs err with a correlation id and writes the error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	return c.writeError(ctx, NewErrorResponse(err, message, code), err)
}

func (c *Controller) writeError(ctx echo.Context, resp *ErrorResponse, err error) error {
	req := ctx.Request()

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", resp.Message),
		logger.String("response_error", resp.Error),
		logger.Int("code", resp.Code),
		logger.String("path", req.URL.Path),
		logger.String("method", req.Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := GetLogger().WithContext(req.Context())
	if resp.Code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Warn("API error", fields...)
	}

	if c.metrics != nil && err != nil {
		c.metrics.HTTP.RecordHTTPRequestError(req.Method, ctx.Path(), string(errors.CategoryOf(err)))
	}
	return ctx.JSON(resp.Code, resp)
}

// generateCorrelationID creates a short random identifier for error tracking
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	limit := big.NewInt(int64(len(charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			b[i] = charset[i%len(charset)]
			continue
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}
