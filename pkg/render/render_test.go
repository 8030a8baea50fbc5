package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type etcdData struct {
	Tag    string
	Name   string
	Client int
	Peers  int
}

const etcdSource = `listen-peer-urls: http://0.0.0.0:[% .Peers %]
listen-client-urls: http://0.0.0.0:[% .Client %]
initial-cluster: {{ range service "[% .Tag %].[% .Name %]|any" }}{{ .Node }}=http://{{ .Address }}:[% .Peers %],{{ end }}
domain: {{ keyOrDefault "config/services/consul/domain" "unknown" }}
`

func TestRenderPreservesDeferredPlaceholders(t *testing.T) {
	out, err := Render("etcd.ctmpl", etcdSource, etcdData{Tag: "rancher", Name: "etcd", Client: 2379, Peers: 2380})
	require.NoError(t, err)

	assert.Contains(t, out, "listen-client-urls: http://0.0.0.0:2379\n")
	assert.Contains(t, out, "listen-peer-urls: http://0.0.0.0:2380\n")
	assert.Contains(t, out, `{{ range service "rancher.etcd|any" }}`)
	assert.Contains(t, out, `{{ keyOrDefault "config/services/consul/domain" "unknown" }}`)
	assert.NotContains(t, out, "[%")
}

func TestRenderIsDeterministic(t *testing.T) {
	data := etcdData{Tag: "rancher", Name: "etcd", Client: 2379, Peers: 2380}
	first, err := Render("etcd.ctmpl", etcdSource, data)
	require.NoError(t, err)
	second, err := Render("etcd.ctmpl", etcdSource, data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderDetectsPhaseViolation(t *testing.T) {
	// A local value that smuggles a deferred placeholder into the output.
	_, err := Render("bad", "name: [% .Name %]\n", etcdData{Name: `{{ env "HOSTNAME" }}`})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPhaseViolation))
	assert.True(t, errors.Is(err, engine.ErrTemplate))
}

func TestRenderMissingKey(t *testing.T) {
	_, err := Render("missing", "[% .Nope %]", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrTemplate))
}

func TestRenderFuncs(t *testing.T) {
	out, err := Render("funcs", `[% join .Opts " " %] [% shq .Path %]`, map[string]interface{}{
		"Opts": []string{"-o", "a"},
		"Path": "/srv/my data",
	})
	require.NoError(t, err)
	assert.Equal(t, `-o a '/srv/my data'`, out)
}

func TestParseRejectsBrokenLocalExpression(t *testing.T) {
	_, err := Parse("broken", "[% .Name ")
	assert.True(t, errors.Is(err, engine.ErrTemplate))
}

func TestControlFileRender(t *testing.T) {
	cf := NewControlFile(
		"/etc/consul-template.d/templates/etcd.ctmpl",
		"/etc/etcd/conf.yml",
		"bash /usr/local/bin/start_etcd.sh",
		15*time.Second,
		"0550",
	)
	out, err := cf.Render()
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "perms")
	assert.Contains(t, text, "0550")
	assert.True(t, strings.HasPrefix(text, "# Managed by rancherhost"))

	file, diags := hclsyntax.ParseConfig(out, "etcd.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())

	body := file.Body.(*hclsyntax.Body)
	require.Len(t, body.Blocks, 1)
	block := body.Blocks[0]
	assert.Equal(t, "template", block.Type)

	attrs := block.Body.Attributes
	value := func(name string) cty.Value {
		v, d := attrs[name].Expr.Value(nil)
		require.False(t, d.HasErrors())
		return v
	}
	assert.Equal(t, "/etc/etcd/conf.yml", value("destination").AsString())
	assert.Equal(t, "15s", value("command_timeout").AsString())
	assert.Equal(t, cty.False, value("create_dest_dirs"))
	assert.Equal(t, cty.True, value("backup"))
	assert.Equal(t, "{{", value("left_delimiter").AsString())

	require.Len(t, block.Body.Blocks, 1)
	wait := block.Body.Blocks[0].Body.Attributes
	minV, _ := wait["min"].Expr.Value(nil)
	maxV, _ := wait["max"].Expr.Value(nil)
	assert.Equal(t, "2s", minV.AsString())
	assert.Equal(t, "10s", maxV.AsString())
}

func TestControlFileMinuteTimeout(t *testing.T) {
	out, err := NewControlFile("/a", "/b", "sh /b", time.Minute, "0755").Render()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"60s"`)
}

func TestControlFileRejectsBadWait(t *testing.T) {
	cf := NewControlFile("/a", "/b", "", 0, "")
	cf.WaitMax = time.Second
	_, err := cf.Render()
	assert.Error(t, err)
}

func TestUnitRender(t *testing.T) {
	u := Unit{
		Description:     "Etcd",
		Documentation:   "https://github.com/etcd-io/etcd",
		After:           []string{"multi-user.target"},
		Requires:        []string{"multi-user.target"},
		EnvironmentFile: "/etc/environment",
		ExecStart:       "/usr/local/bin/etcd --config-file /etc/etcd/conf.yml",
		User:            "etcd",
		Restart:         "always",
		RestartSec:      5,
		LimitNOFILE:     65536,
		WantedBy:        []string{"multi-user.target"},
	}
	out, err := u.Render()
	require.NoError(t, err)

	want := `[Unit]
Description=Etcd
Documentation=https://github.com/etcd-io/etcd
After=multi-user.target
Requires=multi-user.target
StartLimitIntervalSec=0

[Service]
User=etcd
EnvironmentFile=/etc/environment
ExecStart=/usr/local/bin/etcd --config-file /etc/etcd/conf.yml
Restart=always
RestartSec=5
LimitNOFILE=65536

[Install]
WantedBy=multi-user.target
`
	assert.Equal(t, want, strings.TrimRight(string(out), "\n")+"\n")
}

func TestUnitRequiresExecStart(t *testing.T) {
	_, err := Unit{Description: "x"}.Render()
	assert.Error(t, err)
}
