package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective values",
	Long: `Load the configuration file, apply defaults and FLOWSCOPE_* environment
overrides, validate it and print the result as YAML.

Examples:
  flowscope validate -c flowscope.yml
  FLOWSCOPE_LOG_LEVEL=debug flowscope validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return fmt.Errorf("INVALID: %w", err)
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string]any{"flowscope": cfg})
	},
}
