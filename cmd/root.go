// Package cmd is moxxyd's cobra command tree: serve (default), migrate,
// token, and vault. Grounded on vanducng-goclaw/cmd/root.go's rootCmd shape
// (persistent --data-dir/--verbose flags, subcommands added in init).
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var (
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "moxxyd",
	Short: "moxxy — local-first multi-agent runtime",
	Long:  "moxxyd runs the moxxy control plane: agent supervisor, orchestrator, and HTTP API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: $MOXXY_DATA_DIR or ~/.moxxy)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(vaultCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("moxxyd " + Version)
		},
	}
}

// resolveDataDir mirrors the teacher's resolveConfigPath precedence: flag,
// then env var, then a fixed default.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if v := os.Getenv("MOXXY_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".moxxy"
	}
	return home + "/.moxxy"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
