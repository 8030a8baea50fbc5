package host

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// ArchiveProvider downloads and unpacks gzipped tarballs.
type ArchiveProvider struct {
	base
}

// NewArchiveProvider creates an archive provider.
func NewArchiveProvider(opts Options) *ArchiveProvider {
	return &ArchiveProvider{base: newBase(opts, "archive")}
}

// Kind implements engine.Provider.
func (p *ArchiveProvider) Kind() engine.Kind { return engine.KindArchive }

// Converge extracts the archive into TargetDir unless Creates exists.
func (p *ArchiveProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.ArchiveSpec](d)
	if err != nil {
		return nil, err
	}
	if p.exists(spec.Creates) {
		return engine.Unchanged("already extracted"), nil
	}
	if dryRun {
		return engine.Changed("would download and extract"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return nil, engine.NewApplyError("invalid archive url", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to download %s", spec.URL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to download %s: %s", spec.URL, resp.Status), nil)
	}

	target := p.path(spec.TargetDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, engine.NewApplyError("failed to create target directory", err)
	}
	n, err := extractTarGz(resp.Body, target, spec.StripComponents)
	if err != nil {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to extract %s", spec.URL), err)
	}
	if !p.exists(spec.Creates) {
		return nil, engine.NewApplyError(fmt.Sprintf("archive did not create %s", spec.Creates), nil)
	}

	p.log(ctx).Info().Str("url", spec.URL).Str("target", target).Int("files", n).Msg("Extracted archive")
	return engine.Changed("extracted").WithDetail("files", n), nil
}

// extractTarGz unpacks r into dest, dropping the first strip path elements
// of every entry. Entries escaping dest are rejected.
func extractTarGz(r io.Reader, dest string, strip int) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("reading tarball: %w", err)
		}

		name := stripComponents(hdr.Name, strip)
		if name == "" {
			continue
		}
		path := filepath.Join(dest, name)
		if !within(dest, path) {
			return files, fmt.Errorf("entry %q escapes %s", hdr.Name, dest)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return files, err
			}
			if err := writeEntry(path, tr, hdr); err != nil {
				return files, err
			}
			files++
		case tar.TypeSymlink:
			link := filepath.Join(filepath.Dir(path), hdr.Linkname)
			if filepath.IsAbs(hdr.Linkname) || !within(dest, link) {
				return files, fmt.Errorf("symlink %q points outside %s", hdr.Name, dest)
			}
			_ = os.Remove(path)
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return files, err
			}
		}
	}
}

func writeEntry(path string, r io.Reader, hdr *tar.Header) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, r, hdr.Size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func stripComponents(name string, n int) string {
	parts := strings.Split(strings.Trim(filepath.ToSlash(name), "/"), "/")
	if len(parts) <= n {
		return ""
	}
	return filepath.Join(parts[n:]...)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
