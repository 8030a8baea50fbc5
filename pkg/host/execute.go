package host

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// defaultGuardTimeout bounds only_if and not_if when the declaration sets no
// timeout of its own.
const defaultGuardTimeout = time.Minute

// ExecuteProvider runs guarded shell commands.
type ExecuteProvider struct {
	base
}

// NewExecuteProvider creates an execute provider.
func NewExecuteProvider(opts Options) *ExecuteProvider {
	return &ExecuteProvider{base: newBase(opts, "execute")}
}

// Kind implements engine.Provider.
func (p *ExecuteProvider) Kind() engine.Kind { return engine.KindExecute }

// Converge runs the command unless a guard says it is not needed. Guards
// are evaluated in dry-run mode too; the command itself is not.
func (p *ExecuteProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.ExecuteSpec](d)
	if err != nil {
		return nil, err
	}

	if spec.Creates != "" && p.exists(spec.Creates) {
		return engine.Unchanged("skipped, " + spec.Creates + " exists"), nil
	}
	if spec.OnlyIf != "" {
		ok, err := p.guard(ctx, spec.OnlyIf, spec.Timeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			return engine.Unchanged("skipped by only_if"), nil
		}
	}
	if spec.NotIf != "" {
		ok, err := p.guard(ctx, spec.NotIf, spec.Timeout)
		if err != nil {
			return nil, err
		}
		if ok {
			return engine.Unchanged("skipped by not_if"), nil
		}
	}
	if dryRun {
		return engine.Changed("would run"), nil
	}

	if err := runCommand(ctx, p.runner, spec.Command, spec.Timeout); err != nil {
		return nil, err
	}
	p.log(ctx).Info().Str("execute", d.Name).Msg("Ran command")
	return engine.Changed("ran").WithDetail("command", spec.Command), nil
}

// guard reports whether line exits zero. A guard that outlives its timeout
// fails the resource with a command timeout error.
func (p *ExecuteProvider) guard(ctx context.Context, line string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = defaultGuardTimeout
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := shell(gctx, p.runner, line)
	if err != nil && errors.Is(gctx.Err(), context.DeadlineExceeded) {
		return false, engine.NewCommandTimeoutError(line, timeout, err)
	}
	return err == nil, nil
}
