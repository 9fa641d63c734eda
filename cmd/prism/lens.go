package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"prism/internal/connector"
	"prism/internal/lens"
)

var lensCmd = &cobra.Command{
	Use:   "lens",
	Short: "Lens document operations",
}

var lensValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a lens document against all gates",
	Long: `Runs the full validation pipeline on a lens YAML document: schema shape,
reference integrity, connector registry membership, key uniqueness, regex
compilation, and smoke coverage. Prints the lens id and content hash on
success; the first gate failure is reported with a path pointer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectors := connector.NewRegistry()
		if err := connectors.LoadSpecsFile(cfg.Connectors.RegistryPath); err != nil {
			return fmt.Errorf("failed to load connector registry: %w", err)
		}

		contract, err := lens.LoadFile(args[0], connectors)
		if err != nil {
			var cfgErr *lens.ConfigError
			if errors.As(err, &cfgErr) {
				return fmt.Errorf("lens invalid at %s: %s", cfgErr.Path, cfgErr.Reason)
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "lens %s valid\n", contract.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "  schema_version: %s\n", contract.SchemaVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "  content_hash:   %s\n", contract.ContentHash)
		fmt.Fprintf(cmd.OutOrStdout(), "  facets:         %d\n", len(contract.Facets))
		fmt.Fprintf(cmd.OutOrStdout(), "  values:         %d\n", len(contract.Values))
		fmt.Fprintf(cmd.OutOrStdout(), "  mapping_rules:  %d\n", len(contract.MappingRules))
		fmt.Fprintf(cmd.OutOrStdout(), "  modules:        %d\n", len(contract.Modules))
		fmt.Fprintf(cmd.OutOrStdout(), "  connectors:     %d\n", len(contract.ConnectorRules))
		return nil
	},
}

func init() {
	lensCmd.AddCommand(lensValidateCmd)
}
