package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/logger"
	metricspkg "github.com/agrisol/cropdoctor/internal/observability/metrics"
)

// Endpoint serves /metrics on its own listen address.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	done          chan struct{}
}

// NewEndpoint creates the metrics endpoint. It fails when metrics are disabled in settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, fmt.Errorf("metrics not enabled in settings")
	}

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		metrics:       metrics,
	}, nil
}

// Start binds the listen address and serves in the background. The returned error
// reports bind failures only.
func (e *Endpoint) Start() error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("metrics endpoint listen on %s: %w", e.listenAddress, err)
	}

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		GetLogger().Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			GetLogger().Error("metrics HTTP server error", logger.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server gracefully
func (e *Endpoint) Shutdown() error {
	if e.server == nil {
		return nil
	}
	GetLogger().Info("stopping metrics server")

	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	err := e.server.Shutdown(ctx)
	<-e.done
	return err
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
