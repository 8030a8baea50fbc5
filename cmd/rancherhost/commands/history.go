package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/rancherhost/pkg/config"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		Long: `List runs recorded in the run history database, newest first.
Use "history show" for the per-resource results of one run.`,
		Example: `  rancherhost history --limit 5
  rancherhost history show 0b6f0c1e-...
  rancherhost history prune --keep 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingHistory(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	defaults := config.Defaults()
	cmd.PersistentFlags().String("state-db", defaults["state_db"].(string), "run history database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list; 0 lists all")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var (
		events bool
		level  string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the resources of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingHistory(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			run, err := st.GetRun(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return engine.NewConfigError(fmt.Sprintf("no run %s in history", args[0]), err)
			}
			if err != nil {
				return err
			}
			results, err := st.ListResourceResults(ctx, run.ID)
			if err != nil {
				return err
			}

			var timeline []*stores.Event
			if events {
				timeline, err = st.GetEvents(ctx, stores.EventFilter{RunID: run.ID, Level: stores.EventLevel(level)})
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, struct {
					Run     *stores.Run              `json:"run"`
					Results []*stores.ResourceResult `json:"results"`
					Events  []*stores.Event          `json:"events,omitempty"`
				}{run, results, timeline})
			}
			return printRunDetail(out, run, results, timeline)
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "include the event timeline")
	cmd.Flags().StringVar(&level, "level", "", "only events of this level (info, warning, error)")

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingHistory(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.PruneRuns(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 20, "runs to keep")

	return cmd
}

// openExistingHistory opens the history database without creating one.
func openExistingHistory(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	path := s.StateDBPath()
	if path == "" {
		return nil, engine.NewConfigError("run history is disabled (state_db is empty)", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, engine.NewConfigError(fmt.Sprintf("no run history at %s", path), err)
	}
	return openHistory(cmd, s)
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	if jsonOutput {
		return printJSON(w, runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tMODE\tCHANGED\tFAILED\tDURATION\tRUN LIST")
	for _, r := range runs {
		mode := "converge"
		if r.DryRun {
			mode = "plan"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, mode,
			r.Summary.Changed, r.Summary.Total, r.Summary.Failed,
			r.Duration().Round(time.Millisecond), strings.Join(r.RunList, ","))
	}
	return tw.Flush()
}

func printRunDetail(w io.Writer, run *stores.Run, results []*stores.ResourceResult, events []*stores.Event) error {
	fmt.Fprintf(w, "run %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(w, "  started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  duration: %s\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  run list: %s\n", strings.Join(run.RunList, ","))
	if run.Error != nil {
		fmt.Fprintf(w, "  error:    %s\n", *run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRESOURCE\tACTION\tSTATE\tCHANGED\tDURATION\tMESSAGE")
	for _, r := range results {
		msg := r.Message
		if r.Error != nil {
			msg = *r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
			r.Seq, r.ID(), r.Action, r.State, r.Changed, r.Duration.Round(time.Millisecond), msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	for _, e := range events {
		fmt.Fprintf(w, "%s %-7s %-20s %s %s\n",
			e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, e.Resource, e.Message)
	}
	return nil
}
