package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"golang.org/x/crypto/openpgp/armor" //nolint:staticcheck // only the armor decoder is used
)

const (
	keyringDir     = "/usr/share/keyrings"
	sourcesListDir = "/etc/apt/sources.list.d"
	maxKeySize     = 1 << 20
)

// AptRepositoryProvider registers apt sources signed by a dedicated keyring.
type AptRepositoryProvider struct {
	base
}

// NewAptRepositoryProvider creates an apt repository provider.
func NewAptRepositoryProvider(opts Options) *AptRepositoryProvider {
	return &AptRepositoryProvider{base: newBase(opts, "apt")}
}

// Kind implements engine.Provider.
func (p *AptRepositoryProvider) Kind() engine.Kind { return engine.KindAptRepository }

// KeyringPath returns where the signing key of repository is stored.
func KeyringPath(repository string) string {
	return filepath.Join(keyringDir, repository+"-archive-keyring.gpg")
}

// SourceListPath returns the sources.list.d entry of repository.
func SourceListPath(repository string) string {
	return filepath.Join(sourcesListDir, repository+".list")
}

// SourceLine renders the one-line apt source for spec.
func SourceLine(spec engine.AptRepositorySpec) string {
	return fmt.Sprintf("deb [signed-by=%s] %s %s %s\n",
		KeyringPath(spec.Repository), spec.URI, spec.Distribution, strings.Join(spec.Components, " "))
}

// Converge writes the keyring and source list, then refreshes the package
// index. The key is only fetched when the keyring is missing.
func (p *AptRepositoryProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.AptRepositorySpec](d)
	if err != nil {
		return nil, err
	}

	keyPath := p.path(KeyringPath(spec.Repository))
	listPath := p.path(SourceListPath(spec.Repository))
	line := SourceLine(spec)

	_, keyErr := os.Stat(keyPath)
	haveKey := keyErr == nil
	current, _ := os.ReadFile(listPath)
	listOK := string(current) == line
	if haveKey && listOK {
		return engine.Unchanged("repository present"), nil
	}
	if dryRun {
		return engine.Changed("would add repository"), nil
	}

	if !haveKey {
		key, err := p.fetchKey(ctx, spec.KeyURL)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
			return nil, engine.NewApplyError("failed to create keyring directory", err)
		}
		if err := writeAtomic(keyPath, key, 0o644); err != nil {
			return nil, engine.NewApplyError("failed to write keyring", err)
		}
	}
	if !listOK {
		if err := os.MkdirAll(filepath.Dir(listPath), 0o755); err != nil {
			return nil, engine.NewApplyError("failed to create sources directory", err)
		}
		if err := writeAtomic(listPath, []byte(line), 0o644); err != nil {
			return nil, engine.NewApplyError("failed to write source list", err)
		}
	}

	if _, err := mustRun(ctx, p.runner, "apt-get", "update"); err != nil {
		return nil, err
	}
	p.log(ctx).Info().Str("repository", spec.Repository).Str("uri", spec.URI).Msg("Added apt repository")
	return engine.Changed("repository added").WithDetail("keyring", keyPath), nil
}

// fetchKey downloads a signing key and dearmors it when needed.
func (p *AptRepositoryProvider) fetchKey(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, engine.NewApplyError("invalid key url", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to download key %s", url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, engine.NewApplyError(fmt.Sprintf("failed to download key %s: %s", url, resp.Status), nil)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySize))
	if err != nil {
		return nil, engine.NewApplyError("failed to read key", err)
	}
	return dearmor(raw)
}

// dearmor converts an ASCII-armored key into the binary form apt expects.
// Binary keys pass through unchanged.
func dearmor(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("-----BEGIN")) {
		return raw, nil
	}
	block, err := armor.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, engine.NewApplyError("failed to decode armored key", err)
	}
	if block.Type != "PGP PUBLIC KEY BLOCK" {
		return nil, engine.NewApplyError(fmt.Sprintf("unexpected armor block %q", block.Type), nil)
	}
	out, err := io.ReadAll(block.Body)
	if err != nil {
		return nil, engine.NewApplyError("failed to decode armored key", err)
	}
	return out, nil
}
