package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/adapter/api"
	"github.com/felixgeelhaar/imagery/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return WithContainer(cmd, func(c *app.Container) error {
			ctx := cmd.Context()

			if c.Config.OutboxProcessorEnabled {
				if err := c.OutboxProcessor.Start(ctx); err != nil {
					return err
				}
			} else {
				Logger().Info("outbox processor disabled")
			}

			handler := api.NewImageHandler(api.ImageHandlerConfig{
				Dispatcher:            c,
				RankImages:            c.RankImagesHandler,
				LatestTransformations: c.LatestTransformationsHandler,
				TransformationsByType: c.CountTransformationsByTypeHandler,
				ImageURL:              c.GetImageURLHandler,
				Files:                 c.Files,
				Verifier:              c.Signer,
				MaxUploadBytes:        c.Config.MaxUploadBytes,
				Logger:                Logger(),
			})
			serverCfg := api.DefaultServerConfig()
			serverCfg.Addr = c.Config.HTTPAddr
			server := api.NewServer(serverCfg, handler, c.Health, Logger(), c.Metrics)

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
