package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// PackageProvider installs packages with apt.
type PackageProvider struct {
	base
}

// NewPackageProvider creates an apt package provider.
func NewPackageProvider(opts Options) *PackageProvider {
	return &PackageProvider{base: newBase(opts, "package")}
}

// Kind implements engine.Provider.
func (p *PackageProvider) Kind() engine.Kind { return engine.KindPackage }

// Converge installs the package unless the wanted version is already
// installed. A short version such as "19.03.5" matches the full Debian
// version "5:19.03.5~3-0~ubuntu-bionic".
func (p *PackageProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.PackageSpec](d)
	if err != nil {
		return nil, err
	}

	installed, current := p.installedVersion(ctx, spec.Package)
	if installed && (spec.Version == "" || versionMatches(current, spec.Version)) {
		return engine.Unchanged("installed").WithDetail("version", current), nil
	}
	if dryRun {
		if installed {
			return engine.Changed(fmt.Sprintf("would change version %s to %s", current, spec.Version)), nil
		}
		return engine.Changed("would install"), nil
	}

	target := spec.Package
	if spec.Version != "" {
		full, err := p.candidate(ctx, spec.Package, spec.Version)
		if err != nil {
			return nil, err
		}
		target = spec.Package + "=" + full
	}

	args := []string{"DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y"}
	args = append(args, spec.Options...)
	args = append(args, target)
	if _, err := mustRun(ctx, p.runner, "env", args...); err != nil {
		return nil, err
	}

	_, now := p.installedVersion(ctx, spec.Package)
	p.log(ctx).Info().Str("package", spec.Package).Str("version", now).Msg("Installed package")
	return engine.Changed("installed").WithDetail("version", now).WithDetail("previous", current), nil
}

// installedVersion queries dpkg. Any failure means "not installed".
func (p *PackageProvider) installedVersion(ctx context.Context, name string) (bool, string) {
	out, err := p.runner.Run(ctx, "dpkg-query", "-W", "-f=${Status} ${Version}", name)
	if err != nil {
		return false, ""
	}
	fields := strings.Fields(string(out))
	// "install ok installed 5:19.03.5~3-0~ubuntu-bionic"
	if len(fields) < 4 || fields[2] != "installed" {
		return false, ""
	}
	return true, fields[3]
}

// candidate picks the first repository version matching want.
func (p *PackageProvider) candidate(ctx context.Context, name, want string) (string, error) {
	out, err := mustRun(ctx, p.runner, "apt-cache", "madison", name)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			continue
		}
		if v := strings.TrimSpace(parts[1]); versionMatches(v, want) {
			return v, nil
		}
	}
	return "", engine.NewApplyError(fmt.Sprintf("no candidate version of %s matches %s", name, want), nil)
}

func versionMatches(full, want string) bool {
	if full == want {
		return true
	}
	if i := strings.Index(full, ":"); i >= 0 {
		full = full[i+1:]
	}
	if !strings.HasPrefix(full, want) {
		return false
	}
	if len(full) == len(want) {
		return true
	}
	next := full[len(want)]
	return next != '.' && (next < '0' || next > '9')
}
