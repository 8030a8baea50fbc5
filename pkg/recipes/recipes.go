// Package recipes holds the rancher host recipes: one declaration script per
// concern, wired into the include graph rooted at "default".
package recipes

import (
	"embed"
	"time"

	"github.com/alessio/shellescape"
	"github.com/openfroyo/rancherhost/pkg/attributes"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/render"
)

// Recipe names.
const (
	Default      = "default"
	Firewall     = "firewall"
	Docker       = "docker"
	Meta         = "meta"
	Etcd         = "etcd"
	Nomad        = "nomad"
	Kubernetes   = "kubernetes"
	Provisioning = "provisioning"
)

const consulTemplateReloadTimeout = 30 * time.Second

//go:embed templates/*
var templateFS embed.FS

// view is the data handed to templates: the attributes plus values derived
// by the recipe.
type view struct {
	*attributes.Attributes

	DaemonFile string
	ConfigFile string
	Unit       string
}

// Catalog returns every recipe bound to attrs, in registration order.
func Catalog(attrs *attributes.Attributes) []engine.Recipe {
	return []engine.Recipe{
		defaultRecipe(),
		firewallRecipe(attrs),
		dockerRecipe(attrs),
		{Name: Meta, Includes: []string{Etcd}},
		etcdRecipe(attrs),
		{Name: Nomad, Includes: []string{Kubernetes}},
		kubernetesRecipe(attrs),
		provisioningRecipe(attrs),
	}
}

// Graph builds and validates the include graph for attrs.
func Graph(attrs *attributes.Attributes) (*engine.RecipeGraph, error) {
	g := engine.NewRecipeGraph()
	for _, r := range Catalog(attrs) {
		if err := g.Add(r); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Compile builds the declaration list for the run list in attrs.
func Compile(attrs *attributes.Attributes) ([]*engine.Declaration, error) {
	g, err := Graph(attrs)
	if err != nil {
		return nil, err
	}
	return g.Compile(attrs.RunList...)
}

// reloadConsulTemplate returns the command that makes a running
// consul-template pick up a changed control file, or nil when no
// consul-template unit is managed. A stopped unit is left stopped.
func reloadConsulTemplate(a *attributes.Attributes) *engine.Command {
	if a.ConsulTemplate.Service == "" {
		return nil
	}
	return &engine.Command{
		Line:    "systemctl try-reload-or-restart " + shellescape.Quote(a.ConsulTemplate.Service),
		Timeout: consulTemplateReloadTimeout,
	}
}

func renderTemplate(name string, data interface{}) (string, error) {
	src, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", engine.NewInternalError("missing embedded template "+name, err)
	}
	return render.Render(name, string(src), data)
}

func defaultRecipe() engine.Recipe {
	return engine.Recipe{
		Name:     Default,
		Includes: []string{Firewall, Docker, Meta, Nomad, Provisioning},
		Build: func(b *engine.Builder) error {
			// Lists refreshed within the last day are left alone.
			b.Execute("apt-update", engine.ExecuteSpec{
				Command: "apt-get update",
				NotIf:   `[ -n "$(find /var/lib/apt/lists -maxdepth 0 -mmin -1440)" ]`,
				Timeout: aptTimeout,
			})
			return b.Err()
		},
	}
}
