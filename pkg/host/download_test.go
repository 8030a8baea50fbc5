package host

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp/armor" //nolint:staticcheck
)

type entry struct {
	name     string
	body     string
	typeflag byte
}

func tarball(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o755, Size: int64(len(e.body)), Typeflag: e.typeflag}
		if e.typeflag == tar.TypeDir {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serve(t *testing.T, body []byte) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func archiveDecl(t *testing.T, url string) *engine.Declaration {
	return declare(t, func(b *engine.Builder) {
		b.Archive(engine.ArchiveSpec{
			URL:             url + "/etcd-v3.3.18-linux-amd64.tar.gz",
			TargetDir:       "/usr/local/bin",
			Creates:         "/usr/local/bin/etcd",
			StripComponents: 1,
		})
	})
}

func TestArchiveExtractStrips(t *testing.T) {
	srv := serve(t, tarball(t,
		entry{name: "etcd-v3.3.18-linux-amd64/", typeflag: tar.TypeDir},
		entry{name: "etcd-v3.3.18-linux-amd64/etcd", body: "etcd-binary", typeflag: tar.TypeReg},
		entry{name: "etcd-v3.3.18-linux-amd64/etcdctl", body: "etcdctl-binary", typeflag: tar.TypeReg},
		entry{name: "etcd-v3.3.18-linux-amd64/Documentation/README.md", body: "docs", typeflag: tar.TypeReg},
	))
	root := t.TempDir()
	opts := testOptions(root, &fakeRunner{})
	opts.HTTPClient = srv.Client()
	p := NewArchiveProvider(opts)

	out, err := p.Converge(context.Background(), archiveDecl(t, srv.URL), false)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, 3, out.Details["files"])

	bin, err := os.ReadFile(filepath.Join(root, "usr/local/bin/etcd"))
	require.NoError(t, err)
	assert.Equal(t, "etcd-binary", string(bin))
	assert.FileExists(t, filepath.Join(root, "usr/local/bin/Documentation/README.md"))

	out, err = p.Converge(context.Background(), archiveDecl(t, srv.URL), false)
	require.NoError(t, err)
	assert.False(t, out.Changed, "creates guard skips the download")
}

func TestArchiveRejectsTraversal(t *testing.T) {
	srv := serve(t, tarball(t,
		entry{name: "etcd/../../../etc/passwd", body: "root::0:0", typeflag: tar.TypeReg},
	))
	root := t.TempDir()
	opts := testOptions(root, &fakeRunner{})
	opts.HTTPClient = srv.Client()

	_, err := NewArchiveProvider(opts).Converge(context.Background(), archiveDecl(t, srv.URL), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrResourceApply))
	assert.NoFileExists(t, filepath.Join(root, "etc/passwd"))
}

func TestAptRepositoryAdd(t *testing.T) {
	key := []byte{0x99, 0x01, 0x0d, 0x04, 0x5c, 0x2b}
	var armored bytes.Buffer
	w, err := armor.Encode(&armored, "PGP PUBLIC KEY BLOCK", nil)
	require.NoError(t, err)
	_, err = w.Write(key)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	srv := serve(t, armored.Bytes())
	root := t.TempDir()
	runner := &fakeRunner{}
	opts := testOptions(root, runner)
	opts.HTTPClient = srv.Client()
	p := NewAptRepositoryProvider(opts)

	spec := engine.AptRepositorySpec{
		Repository:   "kubernetes",
		URI:          "https://apt.kubernetes.io/",
		Distribution: "kubernetes-xenial",
		Components:   []string{"main"},
		KeyURL:       srv.URL + "/apt-key.gpg",
	}
	d := declare(t, func(b *engine.Builder) { b.AptRepository(spec) })

	out, err := p.Converge(context.Background(), d, false)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, []string{"apt-get update"}, runner.calls)

	keyring, err := os.ReadFile(filepath.Join(root, "usr/share/keyrings/kubernetes-archive-keyring.gpg"))
	require.NoError(t, err)
	assert.Equal(t, key, keyring, "armored key is stored dearmored")

	list, err := os.ReadFile(filepath.Join(root, "etc/apt/sources.list.d/kubernetes.list"))
	require.NoError(t, err)
	assert.Equal(t,
		"deb [signed-by=/usr/share/keyrings/kubernetes-archive-keyring.gpg] https://apt.kubernetes.io/ kubernetes-xenial main\n",
		string(list))

	runner.reset()
	out, err = p.Converge(context.Background(), d, false)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, runner.calls)
}
