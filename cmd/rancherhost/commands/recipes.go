package commands

import (
	"fmt"

	"github.com/openfroyo/rancherhost/pkg/recipes"
	"github.com/spf13/cobra"
)

func newRecipesCommand() *cobra.Command {
	var (
		dot bool
		all bool
	)

	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Show the recipes a run list expands to",
		Long: `Print the recipes the run list expands to, in converge order. Included
recipes come before the recipe that includes them and each recipe runs once.`,
		Example: `  rancherhost recipes
  rancherhost recipes --run-list meta
  rancherhost recipes --dot | dot -Tsvg > recipes.svg`,
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
			attrs, err := store.Decode()
			if err != nil {
				return err
			}
			graph, err := recipes.Graph(attrs)
			if err != nil {
				return err
			}

			runList := attrs.RunList
			if all {
				runList = graph.Names()
			}
			out := cmd.OutOrStdout()

			if dot {
				_, err := fmt.Fprint(out, graph.ToDOT(runList...))
				return err
			}

			order, err := graph.Expand(runList...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, order)
			}
			for i, name := range order {
				fmt.Fprintf(out, "%2d. %s\n", i+1, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the include graph in Graphviz DOT format")
	cmd.Flags().BoolVar(&all, "all", false, "use every known recipe instead of the run list")
	cmd.Flags().StringSlice("run-list", nil, "recipes to expand, replacing the run_list attribute")

	return cmd
}
