package recipes

import (
	"path"
	"time"

	"github.com/alessio/shellescape"
	"github.com/openfroyo/rancherhost/pkg/attributes"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/render"
)

const (
	etcdUnit          = "etcd"
	etcdTemplate      = "etcd.ctmpl"
	etcdControl       = "etcd.hcl"
	etcdStartTimeout  = 15 * time.Second
	etcdFileLimit     = 65536
	etcdRestartSecond = 5
)

// etcdRecipe installs the etcd binaries and unit. The unit is only created
// here; consul-template renders the cluster configuration and starts etcd
// through start_etcd.sh once the peers can be discovered.
func etcdRecipe(a *attributes.Attributes) engine.Recipe {
	return engine.Recipe{
		Name: Etcd,
		Build: func(b *engine.Builder) error {
			e := a.Etcd
			v := view{
				Attributes: a,
				ConfigFile: path.Join(e.Path.Config, "conf.yml"),
				Unit:       etcdUnit,
			}
			startScript := path.Join(e.Path.Install, "start_etcd.sh")
			templateFile := path.Join(a.ConsulTemplate.TemplatePath, etcdTemplate)

			unit, err := render.Unit{
				Description:     "Etcd",
				Documentation:   "https://github.com/etcd-io/etcd",
				After:           []string{"multi-user.target"},
				Requires:        []string{"multi-user.target"},
				User:            e.ServiceUser,
				Group:           e.ServiceGroup,
				EnvironmentFile: "/etc/environment",
				ExecStart:       path.Join(e.Path.Install, "etcd") + " --config-file " + shellescape.Quote(v.ConfigFile),
				Restart:         "always",
				RestartSec:      etcdRestartSecond,
				LimitNOFILE:     etcdFileLimit,
				WantedBy:        []string{"multi-user.target"},
			}.Render()
			if err != nil {
				return err
			}
			config, err := renderTemplate(etcdTemplate, v)
			if err != nil {
				return err
			}
			consulService, err := renderTemplate("etcd_service.json.tmpl", v)
			if err != nil {
				return err
			}
			start, err := renderTemplate("start_etcd.sh.tmpl", v)
			if err != nil {
				return err
			}
			control, err := render.NewControlFile(
				templateFile,
				v.ConfigFile,
				"bash "+shellescape.Quote(startScript),
				etcdStartTimeout,
				"0550",
			).Render()
			if err != nil {
				return err
			}

			b.User(engine.UserSpec{User: e.ServiceUser, Group: e.ServiceGroup, System: true, Shell: "/bin/false"})

			owned := func(p, mode string) {
				b.Directory(engine.DirectorySpec{
					Path:      p,
					Mode:      mode,
					Owner:     e.ServiceUser,
					Group:     e.ServiceGroup,
					Recursive: true,
				})
			}
			owned(e.Path.Config, "0550")
			owned(e.Path.StorageBase, "0770")
			owned(e.Path.Data, "0770")
			owned(e.Path.Wal, "0770")

			allowPort(b, "etcd-client", "Allow Etcd client traffic", e.Ports.Client)
			allowPort(b, "etcd-peers", "Allow Etcd peer traffic", e.Ports.Peers)

			b.Archive(engine.ArchiveSpec{
				URL:             e.URL,
				TargetDir:       e.Path.Install,
				Creates:         path.Join(e.Path.Install, "etcd"),
				StripComponents: 1,
			})
			b.Service(engine.ActionCreate, engine.ServiceSpec{Unit: etcdUnit, UnitFile: string(unit)})

			b.File(engine.FileSpec{
				Path:    path.Join(a.Consul.ConfigPath, "etcd_service.json"),
				Content: consulService,
				Mode:    "0644",
			})
			b.File(engine.FileSpec{Path: templateFile, Content: config, Mode: "0550", Owner: "root", Group: "root"})
			b.File(engine.FileSpec{Path: startScript, Content: start, Mode: "0550", Owner: "root", Group: "root"})
			b.File(engine.FileSpec{
				Path:    path.Join(a.ConsulTemplate.ConfigPath, etcdControl),
				Content:   string(control),
				Mode:      "0550",
				Owner:     "root",
				Group:     "root",
				PostWrite: reloadConsulTemplate(a),
			})
			return b.Err()
		},
	}
}
