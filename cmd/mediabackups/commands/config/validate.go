package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the mediabackups configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  mediabackups config validate

  # Validate specific config file
  mediabackups config validate --config /etc/mediabackup/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional validation checks
	var warnings []string

	// Check there is something to back up to
	if len(cfg.Storage.Endpoints) == 0 {
		warnings = append(warnings, "No backup storage endpoints configured - backup-wiki will have nowhere to write")
	}

	// Check non-public files can be encrypted
	if cfg.Encryption.IdentityFile == "" {
		warnings = append(warnings, "No encryption identity file configured - archived and deleted files cannot be backed up")
	}

	// Check the scans have wikis to work on
	if cfg.Production.Wiki == "" && len(cfg.Production.DBLists) == 0 {
		warnings = append(warnings, "Neither a wiki nor dblists configured - metadata scans will have nothing to do")
	}

	// Print results
	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Metadata database: %s\n", cfg.Metadata.DBType)
	fmt.Printf("  Backup endpoints:  %d\n", len(cfg.Storage.Endpoints))
	fmt.Printf("  Log level:         %s\n", cfg.Logging.Level)

	return nil
}
