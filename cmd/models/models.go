package models

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/agrisol/cropdoctor/internal/api/v1"
	"github.com/agrisol/cropdoctor/internal/app"
	"github.com/agrisol/cropdoctor/internal/client"
	"github.com/agrisol/cropdoctor/internal/conf"
)

// Command creates the models command which reports model availability per crop.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		server  string
		output  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List crop models and their load status",
		Long:  "Resolve every configured crop model, or query a running server with --server, and print which crops can be diagnosed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.CheckFormat(output); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var resp *v1.ModelsResponse
			if server != "" {
				c, err := client.New(server)
				if err != nil {
					return err
				}
				if resp, err = c.Models(ctx); err != nil {
					return err
				}
			} else {
				snapshot := app.LoadSnapshot(ctx, settings, nil)
				defer app.Shutdown()
				defer func() { _ = snapshot.Close() }()
				resp = v1.NewModelsResponse(snapshot, settings.Testing.Enabled)
			}

			return app.WriteModels(cmd.OutOrStdout(), output, resp)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Base URL of a running cropdoctor server")
	cmd.Flags().StringVarP(&output, "output", "o", app.FormatTable, "Output format: table, json")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall timeout including model loading")
	return cmd
}
