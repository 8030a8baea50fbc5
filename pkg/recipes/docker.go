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
	networkInterfacesFile = "/etc/network/interfaces"
	dockerNetworkControl  = "docker_network.hcl"
	dockerNetworkTimeout  = 60 * time.Second
	aptTimeout            = 5 * time.Minute
)

// dockerRecipe installs docker-ce and hands the macvlan network setup to
// consul-template, which runs the rendered script once the host's network
// keys exist in Consul.
func dockerRecipe(a *attributes.Attributes) engine.Recipe {
	return engine.Recipe{
		Name: Docker,
		Build: func(b *engine.Builder) error {
			d := a.Docker
			v := view{Attributes: a, DaemonFile: path.Join(d.ConfigPath, "daemon.json")}

			daemon, err := renderTemplate("daemon.json.tmpl", v)
			if err != nil {
				return err
			}
			interfaces, err := renderTemplate("interfaces.tmpl", v)
			if err != nil {
				return err
			}
			script, err := renderTemplate("docker_network.ctmpl", v)
			if err != nil {
				return err
			}

			templateFile := path.Join(a.ConsulTemplate.TemplatePath, d.ConsulTemplateNetworkScriptFile)
			control, err := render.NewControlFile(
				templateFile,
				d.ScriptNetworkFile,
				"sh "+shellescape.Quote(d.ScriptNetworkFile),
				dockerNetworkTimeout,
				"0755",
			).Render()
			if err != nil {
				return err
			}

			b.AptRepository(engine.AptRepositorySpec{
				Repository:   "docker",
				URI:          d.Apt.URI,
				Distribution: d.Apt.Distribution,
				Components:   d.Apt.Components,
				KeyURL:       d.Apt.KeyURL,
			})
			b.Directory(engine.DirectorySpec{Path: d.ConfigPath, Mode: "0755", Owner: "root", Group: "root"})
			b.Directory(engine.DirectorySpec{Path: d.DataPath, Mode: "0777", Recursive: true})
			b.File(engine.FileSpec{Path: v.DaemonFile, Content: daemon, Mode: "0644"})
			b.Package(engine.PackageSpec{Package: d.PackageName, Version: d.Version, Options: d.PackageOptions})
			b.File(engine.FileSpec{Path: networkInterfacesFile, Content: interfaces, Mode: "0644"})
			b.File(engine.FileSpec{Path: templateFile, Content: script, Mode: "0755"})
			b.File(engine.FileSpec{
				Path:    path.Join(a.ConsulTemplate.ConfigPath, dockerNetworkControl),
				Content:   string(control),
				Mode:      "0755",
				PostWrite: reloadConsulTemplate(a),
			})
			return b.Err()
		},
	}
}
