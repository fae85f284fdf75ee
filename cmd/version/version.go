package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agrisol/cropdoctor/internal/buildinfo"
)

// Command creates a new cobra.Command to print version information.
func Command(build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of CropDoctor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cropdoctor %s (built %s, %s %s/%s)\n",
				build.GetVersion(), build.GetBuildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
