package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// DirectoryProvider ensures directories exist with the declared mode.
type DirectoryProvider struct {
	base
}

// NewDirectoryProvider creates a directory provider.
func NewDirectoryProvider(opts Options) *DirectoryProvider {
	return &DirectoryProvider{base: newBase(opts, "directory")}
}

// Kind implements engine.Provider.
func (p *DirectoryProvider) Kind() engine.Kind { return engine.KindDirectory }

// Converge creates the directory, with missing parents when Recursive is
// set, and corrects its mode and ownership.
func (p *DirectoryProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.DirectorySpec](d)
	if err != nil {
		return nil, err
	}
	mode, err := spec.FileMode()
	if err != nil {
		return nil, engine.NewConfigError("invalid directory mode", err).WithCode(engine.ErrCodeInvalidDeclaration)
	}

	path := p.path(spec.Path)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if dryRun {
			return engine.Changed("would create directory"), nil
		}
		mkdir := os.Mkdir
		if spec.Recursive {
			mkdir = os.MkdirAll
		}
		if err := mkdir(path, mode); err != nil {
			return nil, engine.NewApplyError(fmt.Sprintf("failed to create %s", path), err)
		}
		// umask may have trimmed the mode
		if err := os.Chmod(path, mode); err != nil {
			return nil, engine.NewApplyError("failed to set mode", err)
		}
		if err := p.chown(path, spec.Owner, spec.Group); err != nil {
			return nil, engine.NewApplyError("failed to set ownership", err)
		}
		p.log(ctx).Info().Str("path", path).Str("mode", spec.Mode).Msg("Created directory")
		return engine.Changed("directory created"), nil
	case err != nil:
		return nil, engine.NewApplyError(fmt.Sprintf("failed to stat %s", path), err)
	case !info.IsDir():
		return nil, engine.NewApplyError(fmt.Sprintf("%s exists and is not a directory", path), nil)
	}

	owned, err := p.ownershipDiffers(info, spec.Owner, spec.Group)
	if err != nil {
		return nil, engine.NewApplyError("failed to check ownership", err)
	}
	modeDiffers := info.Mode().Perm() != mode.Perm()
	if !modeDiffers && !owned {
		return engine.Unchanged("up to date"), nil
	}
	if dryRun {
		return engine.Changed("would fix permissions"), nil
	}
	if modeDiffers {
		if err := os.Chmod(path, mode); err != nil {
			return nil, engine.NewApplyError("failed to set mode", err)
		}
	}
	if err := p.chown(path, spec.Owner, spec.Group); err != nil {
		return nil, engine.NewApplyError("failed to set ownership", err)
	}
	return engine.Changed("permissions updated"), nil
}
