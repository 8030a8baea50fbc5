package host

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Options configures the host providers.
type Options struct {
	// Root prefixes every filesystem path. Empty means "/".
	Root string

	// Runner executes external commands. Defaults to an ExecRunner.
	Runner Runner

	// ManageOwnership applies owner and group to files and directories.
	// Disable it when not running as root.
	ManageOwnership bool

	// HTTPClient downloads archives and apt signing keys.
	HTTPClient *http.Client

	// DownloadRetries bounds retries of a failed download.
	DownloadRetries int

	Logger zerolog.Logger
}

// base is shared by every provider.
type base struct {
	root            string
	runner          Runner
	manageOwnership bool
	client          *http.Client
	component       string
	logger          zerolog.Logger
}

func newBase(opts Options, component string) base {
	runner := opts.Runner
	if runner == nil {
		runner = NewExecRunner(opts.Logger)
	}
	client := opts.HTTPClient
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = opts.DownloadRetries
		rc.RetryWaitMin = 500 * time.Millisecond
		rc.Logger = nil
		client = rc.StandardClient()
	}
	return base{
		root:            opts.Root,
		runner:          runner,
		manageOwnership: opts.ManageOwnership,
		client:          client,
		component:       component,
		logger:          opts.Logger.With().Str("component", component).Logger(),
	}
}

// log returns the resource scoped logger the orchestrator stored in ctx, or
// the provider's own logger outside a run.
func (b base) log(ctx context.Context) *zerolog.Logger {
	if l, ok := telemetry.LoggerFromContext(ctx); ok {
		zl := l.Zerolog().With().Str("component", b.component).Logger()
		return &zl
	}
	return &b.logger
}

// Providers returns one provider per supported resource kind.
func Providers(opts Options) []engine.Provider {
	return []engine.Provider{
		NewPackageProvider(opts),
		NewFileProvider(opts),
		NewDirectoryProvider(opts),
		NewServiceProvider(opts),
		NewFirewallRuleProvider(opts),
		NewFirewallProvider(opts),
		NewExecuteProvider(opts),
		NewUserProvider(opts),
		NewArchiveProvider(opts),
		NewAptRepositoryProvider(opts),
	}
}

// path maps an absolute host path under the configured root.
func (b base) path(p string) string {
	if b.root == "" {
		return p
	}
	return filepath.Join(b.root, p)
}

func (b base) exists(p string) bool {
	_, err := os.Stat(b.path(p))
	return err == nil
}

// ownershipDiffers reports whether path is not owned by owner:group.
func (b base) ownershipDiffers(info os.FileInfo, owner, group string) (bool, error) {
	if !b.manageOwnership || (owner == "" && group == "") {
		return false, nil
	}
	uid, gid, err := lookupIDs(owner, group)
	if err != nil {
		return false, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}
	return (uid >= 0 && int(stat.Uid) != uid) || (gid >= 0 && int(stat.Gid) != gid), nil
}

// chown applies owner and group when ownership is managed.
func (b base) chown(path, owner, group string) error {
	if !b.manageOwnership || (owner == "" && group == "") {
		return nil
	}
	uid, gid, err := lookupIDs(owner, group)
	if err != nil {
		return err
	}
	if err := os.Lchown(path, uid, gid); err != nil {
		return fmt.Errorf("failed to set ownership of %s: %w", path, err)
	}
	return nil
}

// lookupIDs resolves names to numeric ids; -1 leaves an id unchanged.
func lookupIDs(owner, group string) (int, int, error) {
	uid, gid := -1, -1
	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown user %q: %w", owner, err)
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown group %q: %w", group, err)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid, nil
}

// specOf extracts the concrete spec of d or fails with an internal error.
func specOf[T engine.Spec](d *engine.Declaration) (T, error) {
	spec, ok := d.Spec.(T)
	if !ok {
		var zero T
		return zero, engine.NewInternalError(fmt.Sprintf("unexpected spec %T for %s", d.Spec, d), nil)
	}
	return spec, nil
}
