package host

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// UnitDir is where created units are written.
const UnitDir = "/etc/systemd/system"

var pastTense = map[string]string{
	"enable":  "enabled",
	"disable": "disabled",
	"mask":    "masked",
	"start":   "started",
}

// ServiceProvider manages systemd units through systemctl.
type ServiceProvider struct {
	base
}

// NewServiceProvider creates a systemd provider.
func NewServiceProvider(opts Options) *ServiceProvider {
	return &ServiceProvider{base: newBase(opts, "service")}
}

// Kind implements engine.Provider.
func (p *ServiceProvider) Kind() engine.Kind { return engine.KindService }

// UnitPath returns the unit file location for unit. Names without a type
// suffix are treated as services.
func UnitPath(unit string) string {
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return filepath.Join(UnitDir, unit)
}

// Converge applies the declared action. State is queried first; systemctl
// is only asked to change something that does not already hold.
func (p *ServiceProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.ServiceSpec](d)
	if err != nil {
		return nil, err
	}

	switch d.Action {
	case engine.ActionCreate:
		return p.create(ctx, spec, dryRun)
	case engine.ActionEnable:
		return p.ensure(ctx, spec.Unit, dryRun, "is-enabled", "enable", "enabled")
	case engine.ActionDisable:
		return p.ensure(ctx, spec.Unit, dryRun, "is-enabled", "disable", "disabled", "masked", "static")
	case engine.ActionMask:
		return p.ensure(ctx, spec.Unit, dryRun, "is-enabled", "mask", "masked", "masked-runtime")
	case engine.ActionStart:
		return p.ensure(ctx, spec.Unit, dryRun, "is-active", "start", "active")
	default:
		return nil, engine.NewInternalError(fmt.Sprintf("unsupported service action %q", d.Action), nil)
	}
}

func (p *ServiceProvider) create(ctx context.Context, spec engine.ServiceSpec, dryRun bool) (*engine.Outcome, error) {
	path := p.path(UnitPath(spec.Unit))
	current, _ := os.ReadFile(path)
	if bytes.Equal(current, []byte(spec.UnitFile)) {
		return engine.Unchanged("unit up to date"), nil
	}
	if dryRun {
		return engine.Changed("would write unit"), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, engine.NewApplyError("failed to create unit directory", err)
	}
	if err := writeAtomic(path, []byte(spec.UnitFile), 0o644); err != nil {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to write %s", path), err)
	}
	if _, err := mustRun(ctx, p.runner, "systemctl", "daemon-reload"); err != nil {
		return nil, err
	}
	p.log(ctx).Info().Str("unit", spec.Unit).Str("path", path).Msg("Wrote unit")
	return engine.Changed("unit written").WithDetail("path", path), nil
}

// ensure queries the unit with query and runs verb unless the answer is one
// of satisfied. is-enabled and is-active exit non-zero for negative
// answers, so only the output is inspected.
func (p *ServiceProvider) ensure(ctx context.Context, unit string, dryRun bool, query, verb string, satisfied ...string) (*engine.Outcome, error) {
	out, _ := p.runner.Run(ctx, "systemctl", query, unit)
	state := strings.TrimSpace(string(out))
	for _, s := range satisfied {
		if state == s {
			return engine.Unchanged(state), nil
		}
	}
	if dryRun {
		return engine.Changed(fmt.Sprintf("would %s (currently %q)", verb, state)), nil
	}
	if _, err := mustRun(ctx, p.runner, "systemctl", verb, unit); err != nil {
		return nil, err
	}
	p.log(ctx).Info().Str("unit", unit).Str("action", verb).Str("previous", state).Msg("Changed unit state")
	return engine.Changed(pastTense[verb]).WithDetail("previous", state), nil
}
