package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath     string
	attributeFiles []string
	overrides      []string
	verbose        bool
	jsonOutput     bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case engine.IsConfig(err):
		return 2
	case engine.IsPolicy(err):
		return 3
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rancherhost",
		Short: "Converge a host into a rancher cluster node",
		Long: `rancherhost brings a host to the state a rancher cluster node needs:
Docker, etcd, Kubernetes packages, a ufw firewall and consul-template control
files. Runs are idempotent; resources already in the desired state are left
alone.

Attributes are layered over built-in defaults from YAML, JSON, TOML, CUE and
Starlark files, then from --set overrides.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (default "+defaultConfigHint+")")
	rootCmd.PersistentFlags().StringArrayVarP(&attributeFiles, "attributes", "a", nil, "attribute file merged over the defaults (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "attribute override path=value (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newConvergeCommand(version))
	rootCmd.AddCommand(newPlanCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newAttributesCommand())
	rootCmd.AddCommand(newRecipesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand(version))

	return rootCmd
}
