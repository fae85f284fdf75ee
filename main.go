package main

import (
	"fmt"
	"os"

	"github.com/agrisol/cropdoctor/cmd"
	"github.com/agrisol/cropdoctor/internal/buildinfo"
	"github.com/agrisol/cropdoctor/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	settings := &conf.Settings{}
	build := buildinfo.NewContext(version, buildDate)

	rootCmd := cmd.RootCommand(settings, build)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
