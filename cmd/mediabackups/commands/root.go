// Package commands implements the CLI commands of the mediabackups
// tooling.
package commands

import (
	"errors"

	"github.com/spf13/cobra"

	configcmd "gitlab.wikimedia.org/repos/sre/mediabackups/cmd/mediabackups/commands/config"
	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/cli/prompt"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/pipeline"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/query"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// errNoResults ends a query, recovery or deletion session whose search
// matched nothing.
var errNoResults = errors.New("no file was found that matched the given criteria")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mediabackups",
	Short: "Mediabackups - Wiki media backup and recovery tooling",
	Long: `Mediabackups maintains offline backups of the media files (images,
videos, documents) uploaded to the wikis. It discovers files from the
production MediaWiki databases, mirrors them from production storage
into S3-compatible backup endpoints, and lets operators query, recover
and (after several safety checks) delete the backed up copies.

Use "mediabackups [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/mediabackup/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(addRecentUploadsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configcmd.Cmd)

	// Hide the default completion command (not useful on operations hosts)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// ExitCode maps the error returned by Execute to the process exit code.
// Runbooks and wrapper scripts key on these values, so they are part of
// the command line contract.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case prompt.IsAborted(err):
		return 3
	case errors.Is(err, errNoResults):
		return 4
	case errors.Is(err, query.ErrInvalidMethod):
		return 5
	case errors.Is(err, query.ErrStillPublic):
		return 6
	case errors.Is(err, query.ErrProbeTimeout):
		return 7
	case errors.Is(err, pipeline.ErrTempPermission):
		return 253
	case errors.Is(err, pipeline.ErrTempConflict):
		return 254
	case errors.Is(err, pipeline.ErrTempMissingParent):
		return 255
	default:
		return 1
	}
}
