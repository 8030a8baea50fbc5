package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/host"
	"github.com/spf13/cobra"
)

// artifact is a rendered file a run would write.
type artifact struct {
	Path     string `json:"path"`
	Resource string `json:"resource"`
	Content  string `json:"content"`
}

func newRenderCommand() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "render [path]",
		Short: "Print a rendered file without writing it",
		Long: `Render prints the content a converge would write to path: configuration
files, scripts, consul-template control files and systemd units. Deferred
consul-template placeholders are printed as they will be written.`,
		Example: `  # List every rendered artifact
  rancherhost render --list

  # Show the etcd start script
  rancherhost render /opt/etcd/start_etcd.sh

  # Show the docker unit with a different version
  rancherhost render --set docker.version=20.10.7 /etc/systemd/system/docker.service`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			_, decls, err := compile(s)
			if err != nil {
				return err
			}

			artifacts := collectArtifacts(decls)
			out := cmd.OutOrStdout()

			if list {
				return printArtifactList(out, artifacts)
			}

			a, ok := artifacts[args[0]]
			if !ok {
				return engine.NewConfigError(fmt.Sprintf("nothing in the run list renders %s", args[0]), nil)
			}
			if jsonOutput {
				return printJSON(out, a)
			}
			_, err = io.WriteString(out, a.Content)
			return err
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list rendered paths instead of printing one")
	cmd.Flags().StringSlice("run-list", nil, "recipes to render, replacing the run_list attribute")

	return cmd
}

// collectArtifacts indexes every file and unit content by destination path.
func collectArtifacts(decls []*engine.Declaration) map[string]artifact {
	out := make(map[string]artifact)
	for _, d := range decls {
		switch spec := d.Spec.(type) {
		case engine.FileSpec:
			if d.Action == engine.ActionCreate {
				out[spec.Path] = artifact{Path: spec.Path, Resource: d.String(), Content: spec.Content}
			}
		case engine.ServiceSpec:
			if spec.UnitFile != "" {
				path := host.UnitPath(spec.Unit)
				out[path] = artifact{Path: path, Resource: d.String(), Content: spec.UnitFile}
			}
		}
	}
	return out
}

func printArtifactList(w io.Writer, artifacts map[string]artifact) error {
	paths := make([]string, 0, len(artifacts))
	for p := range artifacts {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if jsonOutput {
		return printJSON(w, paths)
	}
	_, err := fmt.Fprintln(w, strings.Join(paths, "\n"))
	return err
}
