package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/internal/app"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := app.OpenDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		files, err := migrations.Files(conn.Driver())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, file := range files {
			fmt.Fprintf(out, "applied %s\n", file)
		}
		fmt.Fprintf(out, "%s schema is up to date\n", conn.Driver())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
