package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// BackupSuffix is appended to a file path to name its single backup.
const BackupSuffix = ".bak"

// FileProvider writes file content with one-backup retention.
type FileProvider struct {
	base
}

// NewFileProvider creates a file provider.
func NewFileProvider(opts Options) *FileProvider {
	return &FileProvider{base: newBase(opts, "file")}
}

// Kind implements engine.Provider.
func (p *FileProvider) Kind() engine.Kind { return engine.KindFile }

// Converge writes the content when it differs, keeping the previous content
// in <path>.bak, then runs the post-write command. Mode and ownership drift
// is corrected without a rewrite and without running the command.
func (p *FileProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.FileSpec](d)
	if err != nil {
		return nil, err
	}
	mode, err := spec.FileMode()
	if err != nil {
		return nil, engine.NewConfigError("invalid file mode", err).WithCode(engine.ErrCodeInvalidDeclaration)
	}

	path := p.path(spec.Path)
	current, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to read %s", path), err)
	}

	content := []byte(spec.Content)
	if exists && bytes.Equal(current, content) {
		return p.fixAttributes(path, mode, spec, dryRun)
	}

	if dryRun {
		if exists {
			return engine.Changed("would update content"), nil
		}
		return engine.Changed("would create file"), nil
	}

	outcome := engine.Changed("file created")
	if exists {
		backup := path + BackupSuffix
		if err := writeAtomic(backup, current, mode); err != nil {
			return nil, engine.NewApplyError("failed to write backup", err)
		}
		outcome = engine.Changed("content updated").WithDetail("backup", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, engine.NewApplyError("failed to create parent directory", err)
	}
	if err := writeAtomic(path, content, mode); err != nil {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to write %s", path), err)
	}
	if err := p.chown(path, spec.Owner, spec.Group); err != nil {
		return nil, engine.NewApplyError("failed to set ownership", err)
	}
	p.log(ctx).Info().Str("path", path).Int("bytes", len(content)).Msg("Wrote file")

	if spec.PostWrite != nil {
		if err := runCommand(ctx, p.runner, spec.PostWrite.Line, spec.PostWrite.Timeout); err != nil {
			return nil, err
		}
		outcome.WithDetail("post_write", spec.PostWrite.Line)
	}
	return outcome, nil
}

func (p *FileProvider) fixAttributes(path string, mode os.FileMode, spec engine.FileSpec, dryRun bool) (*engine.Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to stat %s", path), err)
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

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
