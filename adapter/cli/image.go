package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/adapter/mq"
	"github.com/felixgeelhaar/imagery/internal/app"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/security"
)

var (
	uploadName  string
	transformMQ bool
	syncMQ      bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := security.ReadImageFile(args[0], cfg.MaxUploadBytes)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		name := uploadName
		if name == "" {
			name = filepath.Base(args[0])
		}

		return WithContainer(cmd, func(c *app.Container) error {
			return dispatchAndPrint(cmd, c, gallery.UploadImageCommand{Name: name, Content: content})
		})
	},
}

var transformCmd = &cobra.Command{
	Use:   "transform <image-id> <step>...",
	Short: "Transform an image",
	Long: `Apply transformations to an image in the given order.

Steps:
  rotate=DEGREES     rotate by DEGREES (-360..360)
  resize=WxH         resize to W by H pixels
  gray               convert to gray scale`,
	Example: "  imagery transform 3 rotate=90 resize=640x480 gray",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseImageID(args[0])
		if err != nil {
			return err
		}
		steps, err := parseSteps(args[1:])
		if err != nil {
			return err
		}
		command := gallery.TransformImageCommand{ImageID: id, Transformations: steps}
		if err := command.Validate(); err != nil {
			return err
		}

		return WithContainer(cmd, func(c *app.Container) error {
			if transformMQ {
				return sendAndReport(cmd, c, command)
			}
			return dispatchAndPrint(cmd, c, command)
		})
	},
}

var syncCountsCmd = &cobra.Command{
	Use:   "sync-counts [image-id]...",
	Short: "Recompute transformation counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		var command gallery.SyncTransformationCountsCommand
		for _, arg := range args {
			id, err := parseImageID(arg)
			if err != nil {
				return err
			}
			command.ImageIDs = append(command.ImageIDs, id)
		}

		return WithContainer(cmd, func(c *app.Container) error {
			if syncMQ {
				return sendAndReport(cmd, c, command)
			}
			return dispatchAndPrint(cmd, c, command)
		})
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <image-id>",
	Short: "Print a signed download URL for an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseImageID(args[0])
		if err != nil {
			return err
		}
		return WithContainer(cmd, func(c *app.Container) error {
			signed, err := c.GetImageURLHandler.Handle(cmd.Context(), queries.GetImageURLQuery{ImageID: id})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), signed)
		})
	},
}

func parseImageID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid image id %q", arg)
	}
	return id, nil
}

func dispatchAndPrint(cmd *cobra.Command, c *app.Container, command sharedDomain.Command) error {
	res := <-c.DispatchAsync(cmd.Context(), command)
	if res.Err != nil {
		return res.Err
	}
	if len(res.Values) == 0 {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), res.Values[0])
}

func sendAndReport(cmd *cobra.Command, c *app.Container, command sharedDomain.Command) error {
	if c.Config.RabbitMQURL == "" {
		return errors.New("--queue requires RABBITMQ_URL")
	}
	if err := mq.NewCommandSender(c.EventPublisher, c.Codec).Send(cmd.Context(), command); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", command.MessageType())
	return nil
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadName, "name", "n", "", "image name (defaults to the file name)")
	transformCmd.Flags().BoolVarP(&transformMQ, "queue", "q", false, "send the command to the worker instead of running it")
	syncCountsCmd.Flags().BoolVarP(&syncMQ, "queue", "q", false, "send the command to the worker instead of running it")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(syncCountsCmd)
	rootCmd.AddCommand(urlCmd)
}
