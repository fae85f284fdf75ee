// Package api assembles the echo server that serves the cropdoctor JSON API.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	mw "github.com/agrisol/cropdoctor/internal/api/middleware"
	v1 "github.com/agrisol/cropdoctor/internal/api/v1"
	"github.com/agrisol/cropdoctor/internal/buildinfo"
	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/observability"
)

// DefaultShutdownTimeout bounds graceful shutdown when the configuration leaves it unset
const DefaultShutdownTimeout = 10 * time.Second

// Server wraps the echo instance and the API controller.
type Server struct {
	echo       *echo.Echo
	settings   *conf.Settings
	controller *v1.Controller
	metrics    *observability.Metrics

	controllerOpts []v1.Option

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
}

// Option configures a Server
type Option func(*Server)

// WithMetrics enables the HTTP metrics middleware and controller metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
		s.controllerOpts = append(s.controllerOpts, v1.WithMetrics(m))
	}
}

// WithHistory exposes the history endpoints backed by h
func WithHistory(h v1.HistoryReader) Option {
	return func(s *Server) {
		s.controllerOpts = append(s.controllerOpts, v1.WithHistory(h))
	}
}

// WithBuildInfo sets the reported version
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(s *Server) {
		s.controllerOpts = append(s.controllerOpts, v1.WithBuildInfo(b))
	}
}

// New builds the server with its middleware stack and routes. Nothing listens until Start.
func New(settings *conf.Settings, service *diagnosis.Service, opts ...Option) *Server {
	s := &Server{
		echo:     echo.New(),
		settings: settings,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
	e.HTTPErrorHandler = s.handleHTTPError
	e.Server.ReadTimeout = settings.WebServer.ReadTimeout
	e.Server.WriteTimeout = settings.WebServer.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(mw.NewRequestID())
	e.Use(mw.NewRequestLogger(GetLogger()))
	e.Use(mw.NewCORS(settings.WebServer.CORSOrigins))
	e.Use(mw.NewSecureHeaders())
	if settings.WebServer.MaxUploadBytes > 0 {
		e.Use(mw.NewBodyLimit(settings.WebServer.MaxUploadBytes))
	}
	if s.metrics != nil {
		e.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	s.controller = v1.New(e, settings, service, s.controllerOpts...)
	return s
}

// Echo returns the underlying echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Controller returns the API controller
func (s *Server) Controller() *v1.Controller {
	return s.controller
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listen address and serves in the background. Bind errors are
// returned directly; later serve errors are delivered on Errors.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.Newf("server already started on %s", s.listener.Addr()).
			Component("api").
			Category(errors.CategoryGeneric).
			Build()
	}

	ln, err := net.Listen("tcp", s.settings.WebServer.Listen)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.settings.WebServer.Listen).
			Build()
	}
	s.listener = ln
	s.echo.Listener = ln
	s.errCh = make(chan error, 1)

	GetLogger().Info("HTTP server listening",
		logger.String("address", ln.Addr().String()),
		logger.Int64("max_upload_bytes", s.settings.WebServer.MaxUploadBytes))

	go func(errCh chan<- error) {
		defer close(errCh)
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			GetLogger().Error("HTTP server stopped unexpectedly", logger.Error(err))
			errCh <- err
		}
	}(s.errCh)
	return nil
}

// Errors delivers a fatal serve error, or closes when the server stops cleanly.
// It returns nil before Start.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.controller.Shutdown()

	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	GetLogger().Info("shutting down HTTP server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown bound
func (s *Server) ShutdownTimeout() time.Duration {
	if s.settings.WebServer.ShutdownTimeout > 0 {
		return s.settings.WebServer.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}

// handleHTTPError renders errors that escaped the handlers, which are mostly
// routing and middleware errors, in the API's error envelope.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	}

	// oversized uploads are reported like other invalid images
	if code == http.StatusRequestEntityTooLarge {
		code = http.StatusBadRequest
		message = "File too large"
	}

	resp := v1.NewErrorResponse(nil, message, code)
	log := GetLogger().WithContext(c.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("method", c.Request().Method),
		logger.String("path", c.Request().URL.Path),
		logger.Int("code", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		log.Error("unhandled request error", fields...)
	} else {
		log.Debug("request rejected", fields...)
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, resp)
	}
	if writeErr != nil {
		log.Warn("failed to write error response", logger.Error(writeErr))
	}
}
