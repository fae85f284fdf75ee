package predict

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrisol/cropdoctor/internal/app"
	"github.com/agrisol/cropdoctor/internal/client"
	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/diagnosis"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/model"
)

type options struct {
	server  string
	output  string
	top     int
	timeout time.Duration
}

// Command creates the predict command for classifying a single image.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "predict <crop> <image>",
		Short: "Classify a leaf image",
		Long: `Classify one leaf image of the given crop and print the diagnosis.

The image is classified locally with the configured models, or sent to a running
server when --server is set.`,
		Example: "  cropdoctor predict tomatoes leaf.jpg\n  cropdoctor predict maize leaf.png --server http://localhost:8080 -o json",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.CheckFormat(opts.output); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			result, err := run(ctx, settings, opts, args[0], args[1])
			if err != nil {
				return err
			}
			return app.WriteResult(cmd.OutOrStdout(), opts.output, result, opts.top)
		},
	}

	setupFlags(cmd, opts)
	return cmd
}

// setupFlags configures flags specific to the predict command.
func setupFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVar(&opts.server, "server", "", "Base URL of a running cropdoctor server")
	cmd.Flags().StringVarP(&opts.output, "output", "o", app.FormatTable, "Output format: table, json")
	cmd.Flags().IntVar(&opts.top, "top", 5, "Number of class scores to list in table output, 0 for all")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall timeout including model loading")
}

func run(ctx context.Context, settings *conf.Settings, opts *options, crop, path string) (*diagnosis.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read image: %w", err)).
			Component("cli").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}

	if opts.server != "" {
		c, err := client.New(opts.server)
		if err != nil {
			return nil, err
		}
		return c.Predict(ctx, crop, path, bytes.NewReader(data))
	}

	cropConf, ok := settings.Crop(crop)
	if !ok {
		return nil, errors.Newf("unsupported crop type: %s. Supported types: %v", crop, settings.CropNames()).
			Component("cli").
			Category(errors.CategoryNotFound).
			Build()
	}

	snapshot := app.LoadCrops(ctx, settings, []conf.CropConfig{cropConf}, nil)
	defer app.Shutdown()
	defer func() { _ = snapshot.Close() }()

	if _, err := snapshot.Lookup(crop); err != nil {
		var loadErr *model.LoadError
		if errors.As(err, &loadErr) {
			return nil, fmt.Errorf("%w\n%s", err, loadErr.Summary())
		}
		return nil, err
	}

	service, err := app.NewService(settings, snapshot, nil)
	if err != nil {
		return nil, err
	}
	return service.Diagnose(ctx, crop, path, data)
}
