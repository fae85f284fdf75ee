package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agrisol/cropdoctor/cmd/models"
	"github.com/agrisol/cropdoctor/cmd/predict"
	"github.com/agrisol/cropdoctor/cmd/serve"
	"github.com/agrisol/cropdoctor/cmd/version"
	"github.com/agrisol/cropdoctor/internal/app"
	"github.com/agrisol/cropdoctor/internal/buildinfo"
	"github.com/agrisol/cropdoctor/internal/conf"
)

// RootCommand creates and returns the root command. settings is filled from
// defaults, the config file, the environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var closeLogs func()

	rootCmd := &cobra.Command{
		Use:           "cropdoctor",
		Short:         "Crop disease classification service",
		Long:          "CropDoctor classifies crop leaf images into diseases and returns treatment advice.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd); err != nil {
		panic(err)
	}

	serveCmd := serve.Command(settings, build)
	versionCmd := version.Command(build)

	rootCmd.AddCommand(
		serveCmd,
		predict.Command(settings),
		models.Command(settings),
		versionCmd,
	)

	// running the binary without a subcommand starts the server
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		closeLogs, err = app.InitLogging(settings)
		if err != nil {
			return err
		}
		for _, w := range settings.Warnings {
			app.GetLogger().Warn(w)
		}
		return nil
	}

	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if closeLogs != nil {
			closeLogs()
		}
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default searches ./, ~/.config/cropdoctor, /etc/cropdoctor)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	bindings := map[string]string{
		"config":               "config",
		"debug":                "debug",
		"logging.defaultlevel": "log-level",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
