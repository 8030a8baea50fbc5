package commands

import (
	"fmt"
	"io"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/openfroyo/rancherhost/pkg/host"
	"github.com/openfroyo/rancherhost/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// validateReport is the --json form of validate.
type validateReport struct {
	RunList      []string           `json:"run_list"`
	Declarations int                `json:"declarations"`
	Policies     []string           `json:"policies"`
	Violations   []policy.Violation `json:"violations"`
	Warnings     []policy.Violation `json:"warnings"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check attributes, recipes and policies without touching the host",
		Long: `Validate resolves every attribute, expands the run list, builds and
validates the declaration list and evaluates it against the policy set.

This command checks:
  - attribute files parse and every ${reference} resolves
  - the recipe include graph has no cycles or unknown recipes
  - every declaration is well formed and has a provider
  - built-in and --policy Rego policies pass`,
		Example: `  # Validate the default run list
  rancherhost validate

  # Validate site attributes against extra policies
  rancherhost validate -a site.yaml --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			attrs, decls, err := compile(s)
			if err != nil {
				return err
			}

			registry, err := engine.NewProviderRegistry(host.Providers(host.Options{Logger: log.Logger})...)
			if err != nil {
				return err
			}
			if err := registry.CheckCoverage(decls); err != nil {
				return err
			}

			policies, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if len(s.Policies) > 0 {
				if err := policies.LoadPolicies(cmd.Context(), s.Policies); err != nil {
					return engine.NewConfigError("failed to load policies", err)
				}
			}

			result, err := policies.Evaluate(cmd.Context(), decls)
			if err != nil {
				return err
			}

			report := validateReport{
				RunList:      attrs.RunList,
				Declarations: len(decls),
				Policies:     result.EvaluatedPolicies,
				Violations:   result.Violations,
				Warnings:     result.Warnings,
			}
			if err := printValidation(cmd.OutOrStdout(), report); err != nil {
				return err
			}

			if !result.Allowed {
				msgs := make([]string, 0, len(result.Violations))
				for _, v := range result.Violations {
					msgs = append(msgs, v.String())
				}
				return engine.NewPolicyDeniedError(msgs)
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("run-list", nil, "recipes to validate, replacing the run_list attribute")
	cmd.Flags().StringArray("policy", nil, "Rego policy file or directory (repeatable)")

	return cmd
}

func printValidation(w io.Writer, r validateReport) error {
	if jsonOutput {
		return printJSON(w, r)
	}

	for _, v := range r.Violations {
		fmt.Fprintf(w, "error   %s\n", v)
		if v.Remediation != "" {
			fmt.Fprintf(w, "        fix: %s\n", v.Remediation)
		}
	}
	for _, v := range r.Warnings {
		fmt.Fprintf(w, "warning %s\n", v)
	}

	status := "ok"
	if len(r.Violations) > 0 {
		status = "denied"
	}
	fmt.Fprintf(w, "%s: %d declarations, %d policies, %d violations, %d warnings\n",
		status, r.Declarations, len(r.Policies), len(r.Violations), len(r.Warnings))
	return nil
}
