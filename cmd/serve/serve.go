package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agrisol/cropdoctor/internal/api"
	"github.com/agrisol/cropdoctor/internal/app"
	"github.com/agrisol/cropdoctor/internal/buildinfo"
	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/logger"
	"github.com/agrisol/cropdoctor/internal/observability"
	"github.com/agrisol/cropdoctor/internal/telemetry"
)

// Command creates the serve command which runs the HTTP API until interrupted.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Load the configured crop models and serve the prediction API until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, build)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address of the API server, e.g. 0.0.0.0:8080")
	cmd.Flags().Bool("testing", true, "Expose the /api/test endpoints")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics on metrics.listen")
	cmd.Flags().Bool("history", false, "Record predictions in the history database")

	bindings := map[string]string{
		"webserver.listen": "listen",
		"testing.enabled":  "testing",
		"metrics.enabled":  "metrics",
		"history.enabled":  "history",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Run starts every component, blocks until ctx is cancelled or a signal arrives,
// then shuts down in reverse order.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	log := app.GetLogger()
	log.Info("starting "+settings.Main.Name,
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()))

	reporter, err := telemetry.New(&settings.Sentry, build.GetVersion())
	if err != nil {
		log.Warn("error telemetry disabled", logger.Error(err))
	} else {
		telemetry.Install(reporter)
		defer reporter.Flush(telemetry.DefaultFlushTimeout)
	}

	var metrics *observability.Metrics
	if settings.Metrics.Enabled {
		metrics, err = observability.NewMetrics()
		if err != nil {
			return err
		}
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return err
		}
		if err := endpoint.Start(); err != nil {
			return err
		}
		defer func() {
			if err := endpoint.Shutdown(); err != nil {
				log.Warn("metrics endpoint shutdown failed", logger.Error(err))
			}
		}()
	}

	snapshot := app.LoadSnapshot(ctx, settings, metrics)
	defer app.Shutdown()
	defer func() {
		if err := snapshot.Close(); err != nil {
			log.Warn("failed to release models", logger.Error(err))
		}
	}()

	sinks, err := app.OpenSinks(ctx, settings, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(app.DefaultSinkTimeout); err != nil {
			log.Warn("result sinks did not drain", logger.Error(err))
		}
		stats := sinks.Stats()
		log.Info("result dispatcher stopped",
			logger.Int64("processed", int64(stats.Processed)),
			logger.Int64("dropped", int64(stats.Dropped)),
			logger.Int64("sink_errors", int64(stats.SinkErrors)))
	}()

	var serviceOpts []diagnosis.ServiceOption
	if pub := sinks.Publisher(); pub != nil {
		serviceOpts = append(serviceOpts, diagnosis.WithPublisher(pub))
	}
	service, err := app.NewService(settings, snapshot, metrics, serviceOpts...)
	if err != nil {
		return err
	}

	serverOpts := []api.Option{api.WithBuildInfo(build)}
	if metrics != nil {
		serverOpts = append(serverOpts, api.WithMetrics(metrics))
	}
	if store := sinks.History(); store != nil {
		serverOpts = append(serverOpts, api.WithHistory(store))
	}

	server := api.New(settings, service, serverOpts...)
	if err := server.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-server.Errors():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", logger.Error(err))
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("shutdown complete", logger.Duration("uptime", time.Since(started)))
	return nil
}
