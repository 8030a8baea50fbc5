package attributes

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsResolve(t *testing.T) {
	s := New()

	url, err := s.GetString("etcd.url")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/etcd/v3.3.18/etcd-v3.3.18-linux-amd64.tar.gz", url)

	wal, err := s.GetString("etcd.path.wal")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/etcd/wal", wal)

	version, err := s.Get("docker.version")
	require.NoError(t, err)
	assert.Equal(t, "19.03.5", version)
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.json")
	require.NoError(t, os.WriteFile(first, []byte("etcd:\n  version: 3.4.0\n  ports:\n    client: 3379\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte(`{"etcd": {"version": "3.5.0"}}`), 0o644))

	s := New()
	require.NoError(t, s.LoadFiles(first, second))

	v, err := s.GetString("etcd.version")
	require.NoError(t, err)
	assert.Equal(t, "3.5.0", v, "later file wins")

	url, err := s.GetString("etcd.url")
	require.NoError(t, err)
	assert.Contains(t, url, "/v3.5.0/", "defaults interpolate overridden values")

	require.NoError(t, s.SetString("etcd.version=3.6.1"))
	v, err = s.GetString("etcd.version")
	require.NoError(t, err)
	assert.Equal(t, "3.6.1", v, "command line wins over files")

	port, err := s.Get("etcd.ports.client")
	require.NoError(t, err)
	assert.EqualValues(t, 3379, port)

	peers, err := s.Get("etcd.ports.peers")
	require.NoError(t, err)
	assert.EqualValues(t, 2380, peers, "sibling defaults survive a partial override")

	assert.Equal(t, []string{first, second, "set:etcd.version"}, s.Sources())
}

func TestCUEOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.cue")
	src := `
_base: "/data/etcd"
etcd: path: storage_base: _base
firewall: allow_mosh: true
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	s := New()
	require.NoError(t, s.LoadFile(path))

	data, err := s.GetString("etcd.path.data")
	require.NoError(t, err)
	assert.Equal(t, "/data/etcd/data", data)

	attrs, err := s.Decode()
	require.NoError(t, err)
	assert.True(t, attrs.Firewall.AllowMosh)
}

func TestCUEMustBeConcrete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.cue")
	require.NoError(t, os.WriteFile(path, []byte("etcd: version: string\n"), 0o644))

	err := New().LoadFile(path)
	require.Error(t, err)
	assert.True(t, engine.IsConfig(err))
}

func TestUnsupportedFile(t *testing.T) {
	err := New().LoadFile("/tmp/attrs.ini")
	require.Error(t, err)
	assert.True(t, engine.IsConfig(err))
}

func TestMissingAttribute(t *testing.T) {
	s := New()

	_, err := s.Get("etcd.nope")
	assert.True(t, errors.Is(err, engine.ErrMissingAttribute))

	s.Set("docker.apt.distribution", "${host.codename}")
	_, err = s.Get("docker.apt.distribution")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrMissingAttribute))
	assert.Contains(t, err.Error(), `"host.codename" referenced by "docker.apt.distribution"`)
}

func TestInterpolationCycle(t *testing.T) {
	s := NewWithDefaults(map[string]interface{}{
		"a": "${b}/x",
		"b": "${c}",
		"c": "${a}",
	})

	_, err := s.Get("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInterpolationCycle))
	assert.Contains(t, err.Error(), "a -> b -> c -> a")

	_, err = s.ResolveAll()
	assert.True(t, errors.Is(err, engine.ErrInterpolationCycle))
}

func TestEscapeAndTypedReference(t *testing.T) {
	s := NewWithDefaults(map[string]interface{}{
		"port":    2379,
		"same":    "${port}",
		"url":     "http://0.0.0.0:${port}",
		"literal": "keep $${this} as is",
	})

	same, err := s.Get("same")
	require.NoError(t, err)
	assert.Equal(t, 2379, same, "single reference keeps its type")

	url, err := s.Get("url")
	require.NoError(t, err)
	assert.Equal(t, "http://0.0.0.0:2379", url)

	literal, err := s.Get("literal")
	require.NoError(t, err)
	assert.Equal(t, "keep ${this} as is", literal)
}

func TestMemoizedUntilMutation(t *testing.T) {
	s := New()
	first, err := s.GetString("etcd.url")
	require.NoError(t, err)

	s.Set("etcd.version", "3.4.9")
	second, err := s.GetString("etcd.url")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Contains(t, second, "etcd-v3.4.9-linux-amd64")
}

func TestDecodeWeakTyping(t *testing.T) {
	s := New()
	require.NoError(t, s.SetString("etcd.ports.client=12379"))
	require.NoError(t, s.SetString("firewall.allow_winrm=true"))

	attrs, err := s.Decode()
	require.NoError(t, err)
	assert.Equal(t, 12379, attrs.Etcd.Ports.Client)
	assert.True(t, attrs.Firewall.AllowWinRM)
	assert.Equal(t, "19.03.5", attrs.Docker.Version)
	assert.Equal(t, []string{"--force-yes", "-o", "Dpkg::Options::=--force-confold", "-o", "Dpkg::Options::=--force-all"},
		attrs.Docker.PackageOptions)
	assert.Equal(t, "bionic", attrs.Docker.Apt.Distribution)
	assert.Equal(t, []string{"default"}, attrs.RunList)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	s := New()
	s.Set("etcd.ports.client", 70000)

	_, err := s.Decode()
	require.Error(t, err)
	assert.True(t, engine.IsConfig(err))
}

func TestSetStringRejectsMalformed(t *testing.T) {
	assert.Error(t, New().SetString("no-equals-sign"))
	assert.Error(t, New().SetString("=value"))
}

func TestDump(t *testing.T) {
	out, err := New().Dump()
	require.NoError(t, err)
	assert.Contains(t, string(out), "wal: /var/lib/etcd/wal")
	assert.NotContains(t, string(out), "${")
}

func TestStarlarkOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.star")
	src := `
_minor = 4
etcd = {"version": "3.%d.3" % _minor}
docker = {"version": attr("docker.version") + "~3"}
firewall = struct(ssh_port = attr("firewall.ssh_port") + 2200, allow_mosh = attr("firewall.nope", True))

def unused():
    pass
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	s := New()
	require.NoError(t, s.LoadFile(path))

	url, err := s.GetString("etcd.url")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/etcd/v3.4.3/etcd-v3.4.3-linux-amd64.tar.gz", url)

	attrs, err := s.Decode()
	require.NoError(t, err)
	assert.Equal(t, "19.03.5~3", attrs.Docker.Version)
	assert.Equal(t, 2222, attrs.Firewall.SSHPort)
	assert.True(t, attrs.Firewall.AllowMosh)
	assert.False(t, s.Has("unused"))
	assert.False(t, s.Has("_minor"))
}

func TestStarlarkErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":         "etcd = {",
		"missing attr":   `x = attr("no.such.path")`,
		"non-string key": "etcd = {1: 2}",
		"runaway":        "def f():\n    for _ in range(100000000):\n        pass\nf()\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.star")
			require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

			err := New().LoadFile(path)
			require.Error(t, err)
			assert.True(t, engine.IsConfig(err))
		})
	}
}
