// Package host implements the providers that converge declarations against
// the local machine: apt, systemd, ufw, the filesystem and plain commands.
//
// Every provider checks current state first and only mutates when the
// declaration does not already hold, so a second run is a no-op.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/alessio/shellescape"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Runner executes external commands.
type Runner interface {
	// Run executes name with args and returns combined output. A non-zero
	// exit status is reported as an error alongside the output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// waitDelay bounds how long Run waits for output pipes after the command's
// process group has been killed.
const waitDelay = 2 * time.Second

// ExecRunner runs commands with os/exec. Each command gets its own process
// group, and cancelling ctx kills the whole group.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a runner that logs each command at debug level.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "runner").Logger()}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := shellescape.QuoteCommand(append([]string{name}, args...))
	logger := r.logger
	if l, ok := telemetry.LoggerFromContext(ctx); ok {
		logger = l.Zerolog().With().Str("component", "runner").Logger()
	}
	logger.Debug().Str("command", line).Msg("Running command")

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	logger.Debug().
		Str("command", line).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("Command finished")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.Bytes(), fmt.Errorf("%s: exit status %d", name, exitErr.ExitCode())
		}
		return out.Bytes(), fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return out.Bytes(), nil
}

// shell runs line through /bin/sh.
func shell(ctx context.Context, r Runner, line string) ([]byte, error) {
	return r.Run(ctx, "/bin/sh", "-c", line)
}

// runCommand runs a bounded shell command. Exceeding the timeout yields a
// command timeout error; any other failure is an apply error carrying the
// command output.
func runCommand(ctx context.Context, r Runner, line string, timeout time.Duration) error {
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := shell(cctx, r, line)
	if err == nil {
		return nil
	}
	if timeout > 0 && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return engine.NewCommandTimeoutError(line, timeout, err)
	}
	return engine.NewApplyError(fmt.Sprintf("command %q failed", line), err).
		WithDetail("output", strings.TrimSpace(string(out)))
}

// mustRun runs a command that has to succeed, wrapping failures as apply
// errors.
func mustRun(ctx context.Context, r Runner, name string, args ...string) ([]byte, error) {
	out, err := r.Run(ctx, name, args...)
	if err != nil {
		return out, engine.NewApplyError(fmt.Sprintf("%s failed", shellescape.QuoteCommand(append([]string{name}, args...))), err).
			WithDetail("output", strings.TrimSpace(string(out)))
	}
	return out, nil
}
