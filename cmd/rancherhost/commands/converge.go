package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/rancherhost/pkg/config"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/host"
	"github.com/openfroyo/rancherhost/pkg/policy"
	"github.com/openfroyo/rancherhost/pkg/stores"
	"github.com/openfroyo/rancherhost/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newConvergeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge the host to the declared state",
		Long: `Resolve attributes, expand the run list into declarations, check them
against policy and converge each resource in order. The run stops at the first
failed resource; resources after it are reported as pending.`,
		Example: `  # Converge with the default run list
  rancherhost converge

  # Converge only the firewall and docker recipes with site attributes
  rancherhost converge -a site.yaml --run-list firewall,docker

  # Override a single attribute and export traces
  rancherhost converge --set etcd.version=3.4.3 --trace-exporter otlp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(cmd, version, false)
		},
	}
	addConvergeFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "report what would change without changing it")
	return cmd
}

func newPlanCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a converge would change",
		Long: `Run a converge in dry-run mode. Providers inspect the host and report
the changes they would make; nothing is modified.`,
		Example: `  rancherhost plan -a site.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverge(cmd, version, true)
		},
	}
	addConvergeFlags(cmd)
	return cmd
}

func addConvergeFlags(cmd *cobra.Command) {
	defaults := config.Defaults()
	cmd.Flags().StringSlice("run-list", nil, "recipes to converge, replacing the run_list attribute")
	cmd.Flags().StringArray("policy", nil, "Rego policy file or directory (repeatable)")
	cmd.Flags().String("state-db", defaults["state_db"].(string), "run history database; empty disables history")
	cmd.Flags().Int("keep-runs", defaults["keep_runs"].(int), "runs kept in history; 0 keeps all")
	cmd.Flags().String("root", "", "prefix for every host path")
	cmd.Flags().String("metrics-textfile", "", "write node_exporter metrics here after the run")
	cmd.Flags().String("trace-exporter", "none", "trace exporter: none, stdout or otlp")
	cmd.Flags().String("otlp-endpoint", defaults["otlp_endpoint"].(string), "OTLP collector endpoint")
	cmd.Flags().Int("download-retries", defaults["download_retries"].(int), "retries for archive and key downloads")
	cmd.Flags().Bool("manage-ownership", true, "apply owner and group to files and directories")
}

func runConverge(cmd *cobra.Command, version string, dryRun bool) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if !dryRun {
		dryRun, _ = cmd.Flags().GetBool("dry-run")
	}

	c, err := newConverger(cmd, s, version)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := c.converge(cmd.Context(), dryRun)
	if run != nil {
		if perr := printRun(cmd.OutOrStdout(), run); perr != nil {
			return perr
		}
	}
	return err
}

// converger holds what outlives a single run: telemetry, the policy set and
// the history store. Attributes are re-read for every run.
type converger struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	policies *policy.Engine
	history  *stores.SQLiteStore
	logger   zerolog.Logger
}

func newConverger(cmd *cobra.Command, s *config.Settings, version string) (*converger, error) {
	tel, err := telemetry.NewTelemetry(s.Telemetry(version))
	if err != nil {
		return nil, engine.NewConfigError("invalid telemetry settings", err)
	}
	c := &converger{settings: s, tel: tel, logger: tel.Logger.Zerolog()}

	c.policies, err = policy.NewEngine(c.logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	if len(s.Policies) > 0 {
		if err := c.policies.LoadPolicies(cmd.Context(), s.Policies); err != nil {
			c.Close()
			return nil, engine.NewConfigError("failed to load policies", err)
		}
	}

	c.history, err = openHistory(cmd, s)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// converge compiles the current attributes and applies them once.
func (c *converger) converge(ctx context.Context, dryRun bool) (*engine.Run, error) {
	attrs, decls, err := compile(c.settings)
	if err != nil {
		return nil, err
	}

	registry, err := engine.NewProviderRegistry(host.Providers(host.Options{
		Root:            c.settings.Root,
		ManageOwnership: c.settings.ManageOwnership,
		DownloadRetries: c.settings.DownloadRetries,
		Logger:          c.logger,
	})...)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(c.logger),
		engine.WithMetrics(c.tel.Metrics),
		engine.WithTracer(c.tel.Tracer),
		engine.WithPolicyGate(c.policies),
	}
	if c.history != nil {
		rec := stores.NewRecorder(c.history)
		opts = append(opts, engine.WithRecorder(rec), engine.WithEventPublisher(rec))
	}

	run, err := engine.NewOrchestrator(registry, opts...).Converge(ctx, decls, engine.Options{
		DryRun:  dryRun,
		RunList: attrs.RunList,
	})

	if c.history != nil && c.settings.KeepRuns > 0 {
		pruned, perr := c.history.PruneRuns(context.WithoutCancel(ctx), c.settings.KeepRuns)
		if perr != nil {
			c.logger.Warn().Err(perr).Msg("Failed to prune run history")
		} else if pruned > 0 {
			c.logger.Debug().Int64("pruned", pruned).Msg("Run history pruned")
		}
	}
	return run, err
}

// Close flushes telemetry and closes the history store.
func (c *converger) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if c.history != nil {
		if err := c.history.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run history")
		}
	}
}

func printRun(w io.Writer, run *engine.Run) error {
	if jsonOutput {
		return printJSON(w, run)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range run.Results {
		marker := " "
		switch {
		case r.State == engine.ResourceStateFailed:
			marker = "!"
		case r.Changed:
			marker = "~"
		}
		msg := r.Message
		if r.Error != "" {
			msg = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, r.ID(), r.Action, msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	verb := "changed"
	if run.DryRun {
		verb = "would change"
	}
	fmt.Fprintf(w, "\nrun %s %s: %d resources, %d %s, %d up to date, %d failed, %d pending (%s)\n",
		run.ID, run.Status, run.Summary.Total, run.Summary.Changed, verb,
		run.Summary.UpToDate, run.Summary.Failed, run.Summary.Pending,
		run.Duration().Round(time.Millisecond))
	if run.FailedResource != "" {
		fmt.Fprintf(w, "failed at %s: %s\n", run.FailedResource, strings.TrimSpace(run.Error))
	}
	return nil
}
