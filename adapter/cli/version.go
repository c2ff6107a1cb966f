package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build information",
	// Skips configuration loading.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "imagery %s (commit %s, built %s, %s)\n",
			Version, Commit, BuildDate, runtime.Version())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
