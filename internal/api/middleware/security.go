package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/logger"
)

const (
	// ContextKeyRequestID holds the request id in the echo context
	ContextKeyRequestID = "request_id"

	// multipartOverhead is allowed on top of the upload limit for boundaries and headers
	multipartOverhead = 64 << 10

	rateLimitExpiry = 3 * time.Minute
)

// NewCORS allows the configured origins to call the API from a browser.
func NewCORS(origins []string) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestID,
			"X-Requested-With",
		},
	})
}

// NewSecureHeaders creates a middleware that sets security-related HTTP headers.
func NewSecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	})
}

// NewBodyLimit rejects request bodies larger than the upload limit plus multipart overhead.
// Zero disables the limit.
func NewBodyLimit(maxUpload int64) echo.MiddlewareFunc {
	if maxUpload <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.BodyLimit(strconv.FormatInt(maxUpload+multipartOverhead, 10) + "B")
}

// NewRequestID assigns every request an id, echoes it in X-Request-ID and attaches it
// to the request context as the log trace id.
func NewRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(ContextKeyRequestID, id)
			ctx := logger.WithTraceID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}

// RequestID returns the id assigned by NewRequestID, or an empty string
func RequestID(c echo.Context) string {
	id, _ := c.Get(ContextKeyRequestID).(string)
	return id
}

// NewRateLimiter throttles clients by IP. A disabled section yields a pass-through middleware.
func NewRateLimiter(settings *conf.RateLimitSettings) echo.MiddlewareFunc {
	if !settings.Enabled || settings.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(settings.RequestsPerSecond),
				Burst:     settings.Burst,
				ExpiresIn: rateLimitExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]any{
				"success": false,
				"error":   "unable to identify client",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   "Too many prediction requests, please wait before trying again",
			})
		},
	})
}
