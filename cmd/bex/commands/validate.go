package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openbex/openbex/pkg/config"
	"github.com/openbex/openbex/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var policyDirs []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the run configuration and policies",
		Long: `Parse the run configuration, apply schema defaults and constraints, and
compile every policy. Reports all problems with file locations instead of
stopping at the first one. No provider or state store is touched.`,
		Example: `  # Validate the default configuration
  bex validate

  # Validate with additional policies
  bex validate --policy-dir ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			silenceUsage(cmd)
			ctx := cmd.Context()

			parser := config.NewCUEParser()
			parsed, err := parser.Parse(ctx, []string{configPath})
			if err != nil {
				return err
			}

			if len(parsed.Errors) > 0 {
				for _, e := range parsed.Errors {
					if e.File != "" {
						fmt.Printf("%s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
					} else {
						fmt.Printf("%s: %s\n", e.Path, e.Message)
					}
				}
				return fmt.Errorf("configuration invalid: %d error(s)", len(parsed.Errors))
			}

			runCfg := parsed.Run
			fmt.Printf("Configuration OK: provider=%s, %d credential strategies, %d classifications\n",
				runCfg.Provider, len(runCfg.CredentialOrder), len(runCfg.Variants))

			policies, err := policy.NewEngine(zerolog.Nop())
			if err != nil {
				return err
			}
			policyPaths := append([]string{}, runCfg.PolicyPaths...)
			policyPaths = append(policyPaths, policyDirs...)
			if len(policyPaths) > 0 {
				if err := policies.LoadPolicies(ctx, policyPaths); err != nil {
					return fmt.Errorf("policy compilation failed: %w", err)
				}
			}
			fmt.Printf("Policies OK: %d compiled\n", len(policies.ListPolicies()))

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy files or directories")

	return cmd
}
