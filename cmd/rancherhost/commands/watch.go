package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openfroyo/rancherhost/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newWatchCommand(version string) *cobra.Command {
	var (
		interval time.Duration
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Converge now and again whenever attributes change",
		Long: `Watch converges once, then converges again whenever an attribute file
or the settings file changes, and optionally on a fixed interval. A changed
settings file is re-read before the next run; telemetry, history and policy
paths keep their startup values. Policy files are reloaded in place. Runs
never overlap; changes that arrive during a run trigger one more run after it.

With --metrics-listen, Prometheus metrics are served for the lifetime of the
process.`,
		Example: `  rancherhost watch -a /etc/rancher-host/site.yaml --interval 30m
  rancherhost watch --policy /etc/rancher-host/policies --metrics-listen :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, version, interval, dryRun)
		},
	}

	addConvergeFlags(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 0, "also converge on this interval; 0 disables")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without changing it")
	cmd.Flags().Duration("debounce", 2*time.Second, "quiet period after a file change before converging")
	cmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

func runWatch(cmd *cobra.Command, version string, interval time.Duration, dryRun bool) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	c, err := newConverger(cmd, s, version)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx = c.tel.Logger.WithContext(ctx)

	if err := c.tel.Metrics.StartMetricsServer(ctx); err != nil {
		return err
	}
	if len(s.Policies) > 0 {
		if err := c.policies.Watch(ctx, s.Policies); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	targets := newWatchSet(watcher)
	if err := targets.update(s); err != nil {
		return err
	}
	load := func() (*config.Settings, error) { return loadSettings(cmd) }

	trigger := make(chan string, 1)
	go forwardChanges(ctx, watcher, targets, s.WatchDebounce, trigger, c.logger)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.logger.Info().
		Int("files", targets.len()).
		Dur("interval", interval).
		Msg("Watching for changes")

	reason := "startup"
	for {
		if c.settings.Source != "" && reason == absPath(c.settings.Source) {
			if err := c.reloadSettings(load, targets); err != nil {
				c.logger.Error().Err(err).Msg("Failed to reload settings, keeping the previous ones")
			}
		}
		c.runOnce(ctx, cmd.OutOrStdout(), reason, dryRun)

		select {
		case <-ctx.Done():
			return nil
		case reason = <-trigger:
		case <-tick:
			reason = "interval"
		}
	}
}

// reloadSettings re-reads the settings file and swaps the watched files.
// Attribute files, overrides, run list, root and download settings apply
// from the next run on. Telemetry, history, policy paths and the debounce
// keep their startup values.
func (c *converger) reloadSettings(load func() (*config.Settings, error), targets *watchSet) error {
	s, err := load()
	if err != nil {
		return err
	}
	if err := targets.update(s); err != nil {
		return err
	}
	c.settings = s
	c.logger.Info().Str("path", s.Source).Int("files", targets.len()).Msg("Settings reloaded")
	return nil
}

// runOnce converges and reports; a failed run is logged and the watch goes on.
func (c *converger) runOnce(ctx context.Context, out io.Writer, reason string, dryRun bool) {
	c.logger.Info().Str("reason", reason).Bool("dry_run", dryRun).Msg("Starting run")

	run, err := c.converge(ctx, dryRun)
	if run != nil {
		if perr := printRun(out, run); perr != nil {
			c.logger.Warn().Err(perr).Msg("Failed to print run")
		}
	}
	if err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Str("reason", reason).Msg("Run failed")
	}
	if err := c.tel.Flush(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn().Err(err).Msg("Failed to export spans")
	}
}

// watchTargets returns the directories to watch and the files within them
// that trigger a run. Directories are watched because editors replace files
// on save.
func watchTargets(s *config.Settings) ([]string, map[string]bool) {
	files := make(map[string]bool)
	for _, f := range s.AttributeFiles {
		files[absPath(f)] = true
	}
	if s.Source != "" {
		files[absPath(s.Source)] = true
	}

	seen := make(map[string]bool)
	var dirs []string
	for f := range files {
		dir := filepath.Dir(f)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, files
}

// watchSet tracks the watched directories and the files that trigger a run.
type watchSet struct {
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	dirs  []string
	files map[string]bool
}

func newWatchSet(w *fsnotify.Watcher) *watchSet {
	return &watchSet{watcher: w, files: map[string]bool{}}
}

// update watches the targets of s and drops directories no longer needed.
func (ws *watchSet) update(s *config.Settings) error {
	dirs, files := watchTargets(s)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	keep := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		keep[dir] = true
		if err := ws.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	for _, dir := range ws.dirs {
		if !keep[dir] {
			_ = ws.watcher.Remove(dir)
		}
	}
	ws.dirs, ws.files = dirs, files
	return nil
}

func (ws *watchSet) has(name string) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.files[absPath(name)]
}

func (ws *watchSet) len() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.files)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// forwardChanges sends the name of the last changed file on trigger once no
// further change has arrived for debounce.
func forwardChanges(ctx context.Context, w *fsnotify.Watcher, targets *watchSet, debounce time.Duration, trigger chan<- string, logger zerolog.Logger) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !targets.has(event.Name) {
				continue
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Watched file changed")

			name := event.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case trigger <- name:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
