package config

import (
	"os"

	"github.com/spf13/cobra"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/output"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the mediabackups configuration after applying environment
variables and defaults.

By default outputs YAML format. Use --output to change format.

Examples:
  # Show effective config as YAML
  mediabackups config show

  # Show as JSON
  mediabackups config show --output json

  # Show specific config file
  mediabackups config show --config /etc/mediabackup/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
