package recipes

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/openfroyo/rancherhost/pkg/attributes"
	"github.com/openfroyo/rancherhost/pkg/engine"
)

// Manifest records what this host was provisioned with. It is written last
// so its presence means every earlier recipe converged.
type Manifest struct {
	Hostname      string   `json:"hostname"`
	RunList       []string `json:"run_list"`
	DockerVersion string   `json:"docker_version"`
	EtcdVersion   string   `json:"etcd_version"`
	ControlFiles  []string `json:"control_files"`
	Templates     []string `json:"templates"`
}

// NewManifest describes the artifacts handed to consul-template for attrs.
func NewManifest(a *attributes.Attributes) Manifest {
	return Manifest{
		Hostname:      a.Host.Hostname,
		RunList:       a.RunList,
		DockerVersion: a.Docker.Version,
		EtcdVersion:   a.Etcd.Version,
		ControlFiles: []string{
			path.Join(a.ConsulTemplate.ConfigPath, dockerNetworkControl),
			path.Join(a.ConsulTemplate.ConfigPath, etcdControl),
		},
		Templates: []string{
			path.Join(a.ConsulTemplate.TemplatePath, a.Docker.ConsulTemplateNetworkScriptFile),
			path.Join(a.ConsulTemplate.TemplatePath, etcdTemplate),
		},
	}
}

func provisioningRecipe(a *attributes.Attributes) engine.Recipe {
	return engine.Recipe{
		Name: Provisioning,
		Build: func(b *engine.Builder) error {
			content, err := json.MarshalIndent(NewManifest(a), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode manifest: %w", err)
			}

			if unit := a.ConsulTemplate.Service; unit != "" {
				b.Declare("enable "+unit, engine.ActionEnable, engine.ServiceSpec{Unit: unit})
				b.Declare("start "+unit, engine.ActionStart, engine.ServiceSpec{Unit: unit})
			}
			b.File(engine.FileSpec{
				Path:    a.Provisioning.ManifestPath,
				Content: string(content) + "\n",
				Mode:    "0644",
			})
			return b.Err()
		},
	}
}
