package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/internal/app"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
)

var statsCmd = &cobra.Command{
	Use:       "stats <rank|latest|by-type>",
	Short:     "Show image and transformation statistics",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"rank", "latest", "by-type"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return WithContainer(cmd, func(c *app.Container) error {
			ctx := cmd.Context()
			var (
				result any
				err    error
			)
			switch args[0] {
			case "rank":
				result, err = c.RankImagesHandler.Handle(ctx, queries.RankImagesQuery{})
			case "latest":
				result, err = c.LatestTransformationsHandler.Handle(ctx, queries.LatestTransformationsQuery{})
			case "by-type":
				result, err = c.CountTransformationsByTypeHandler.Handle(ctx, queries.CountTransformationsByTypeQuery{})
			default:
				return fmt.Errorf("unknown statistic %q", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
