package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// memFiles is a file provider backed by a map.
type memFiles map[string]string

func (memFiles) Kind() engine.Kind { return engine.KindFile }

func (m memFiles) Converge(_ context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec := d.Spec.(engine.FileSpec)
	if m[spec.Path] == spec.Content {
		return engine.Unchanged("content matches"), nil
	}
	if !dryRun {
		m[spec.Path] = spec.Content
	}
	return engine.Changed("content updated"), nil
}

// Example_converge compiles a two-recipe run list and converges it. The
// included recipe's file already holds, so only one resource changes.
func Example_converge() {
	g := engine.NewRecipeGraph()
	_ = g.Add(engine.Recipe{Name: "base", Build: func(b *engine.Builder) error {
		b.File(engine.FileSpec{Path: "/etc/motd", Content: "hello\n", Mode: "0644"})
		return b.Err()
	}})
	_ = g.Add(engine.Recipe{Name: "web", Includes: []string{"base"}, Build: func(b *engine.Builder) error {
		b.File(engine.FileSpec{Path: "/etc/web.conf", Content: "port=80\n", Mode: "0644"})
		return b.Err()
	}})

	decls, err := g.Compile("web")
	if err != nil {
		fmt.Println(err)
		return
	}

	files := memFiles{"/etc/motd": "hello\n"}
	registry, _ := engine.NewProviderRegistry(files)
	run, err := engine.NewOrchestrator(registry).Converge(context.Background(), decls, engine.Options{RunList: []string{"web"}})
	if err != nil {
		fmt.Println(err)
		return
	}

	for _, r := range run.Results {
		fmt.Printf("%s changed=%t\n", r.ID(), r.Changed)
	}
	fmt.Println(run.Status)
	// Output:
	// file[/etc/web.conf] changed=true
	// file[/etc/motd] changed=false
	// converged
}
