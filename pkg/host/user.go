package host

import (
	"context"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// UserProvider ensures an account and its primary group exist.
type UserProvider struct {
	base
}

// NewUserProvider creates a user provider.
func NewUserProvider(opts Options) *UserProvider {
	return &UserProvider{base: newBase(opts, "user")}
}

// Kind implements engine.Provider.
func (p *UserProvider) Kind() engine.Kind { return engine.KindUser }

// Converge creates the group and then the user, each only when getent
// cannot find it. Existing accounts are left alone.
func (p *UserProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.UserSpec](d)
	if err != nil {
		return nil, err
	}

	_, groupErr := p.runner.Run(ctx, "getent", "group", spec.Group)
	_, userErr := p.runner.Run(ctx, "getent", "passwd", spec.User)
	needGroup, needUser := groupErr != nil, userErr != nil
	if !needGroup && !needUser {
		return engine.Unchanged("present"), nil
	}
	if dryRun {
		return engine.Changed("would create account"), nil
	}

	if needGroup {
		args := []string{spec.Group}
		if spec.System {
			args = append([]string{"--system"}, args...)
		}
		if _, err := mustRun(ctx, p.runner, "groupadd", args...); err != nil {
			return nil, err
		}
	}
	if needUser {
		args := []string{"--gid", spec.Group, "--no-create-home"}
		if spec.System {
			args = append(args, "--system")
		}
		if spec.Shell != "" {
			args = append(args, "--shell", spec.Shell)
		}
		if spec.Home != "" {
			args = append(args, "--home-dir", spec.Home)
		}
		args = append(args, spec.User)
		if _, err := mustRun(ctx, p.runner, "useradd", args...); err != nil {
			return nil, err
		}
	}

	p.log(ctx).Info().Str("user", spec.User).Str("group", spec.Group).Msg("Created account")
	return engine.Changed("account created").
		WithDetail("group_created", needGroup).
		WithDetail("user_created", needUser), nil
}
