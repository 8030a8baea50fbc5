package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAttributesCommand() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "attributes",
		Short: "Print the resolved attribute tree",
		Long: `Print every attribute after layering defaults, attribute files and --set
overrides and resolving ${references}. YAML by default, JSON with --json.`,
		Example: `  rancherhost attributes -a site.yaml --set etcd.version=3.4.3
  rancherhost attributes --json | jq .etcd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			store, err := loadAttributes(s)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if showSources {
				if jsonOutput {
					return printJSON(out, store.Sources())
				}
				fmt.Fprintln(out, "defaults")
				for _, src := range store.Sources() {
					fmt.Fprintln(out, src)
				}
				return nil
			}

			if jsonOutput {
				tree, err := store.ResolveAll()
				if err != nil {
					return err
				}
				return printJSON(out, tree)
			}

			data, err := store.Dump()
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&showSources, "sources", false, "list the layers merged over the defaults, lowest first")

	return cmd
}
