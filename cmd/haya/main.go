// Command haya is the personal assistant gateway CLI: one binary for the
// daemon and for the management commands that talk to it.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error classes to the documented codes: 2 for config and
// usage mistakes, 1 for everything else.
func exitCode(err error) int {
	var ce *errdefs.ConfigError
	var ve *errdefs.ValidationError
	if errors.As(err, &ce) || errors.As(err, &ve) {
		return 2
	}
	return 1
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "haya",
		Short:         "Haya - personal AI assistant gateway",
		Long:          "Haya connects chat channels to LLM providers through one local gateway:\nsessions on disk, tool calling, cron reminders, and a WebSocket control plane.",
		Version:       fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.haya/haya.json)")

	root.AddCommand(
		buildInitCmd(),
		buildOnboardCmd(),
		buildStartCmd(),
		buildConfigCmd(),
		buildChannelsCmd(),
		buildCronCmd(),
		buildSendersCmd(),
		buildUsageCmd(),
		buildAuditCmd(),
		buildDoctorCmd(),
		buildTokenCmd(),
	)
	return root
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}
