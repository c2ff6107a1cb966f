package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/adapter/mq"
	"github.com/felixgeelhaar/imagery/internal/app"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

const workerStatsInterval = time.Minute

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Publish outbox events and consume queued commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		return WithContainer(cmd, func(c *app.Container) error {
			return runWorker(cmd.Context(), c)
		})
	},
}

func runWorker(ctx context.Context, c *app.Container) error {
	log := Logger()
	processor := c.OutboxProcessor

	if err := processor.Start(ctx); err != nil {
		return err
	}

	if c.Config.RabbitMQURL != "" {
		closeConsumers, err := startConsumers(ctx, c)
		if err != nil {
			return err
		}
		defer closeConsumers()
	} else {
		log.Info("RabbitMQ not configured, queued commands will not be consumed")
	}

	cleanupTicker := time.NewTicker(c.Config.OutboxCleanupInterval)
	defer cleanupTicker.Stop()
	statsTicker := time.NewTicker(workerStatsInterval)
	defer statsTicker.Stop()

	if c.Config.WorkerHealthAddr != "" {
		healthSrv := &http.Server{
			Addr:              c.Config.WorkerHealthAddr,
			Handler:           newWorkerHealthMux(c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("health server starting", "addr", c.Config.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("health server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				log.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down worker")
			processor.Stop()
			return nil
		case <-cleanupTicker.C:
			if _, err := processor.Cleanup(ctx); err != nil {
				log.Error("outbox cleanup failed", observability.ErrorKey, err)
			}
		case <-statsTicker.C:
			stats := processor.GetStats()
			log.Info("outbox stats",
				"running", stats.IsRunning,
				"published", stats.PublishedCount,
				"failed", stats.FailedCount,
				"dead", stats.DeadCount,
				"lag_seconds", stats.LagSeconds,
				"last_error", stats.LastError,
			)
		}
	}
}

// startConsumers consumes queued commands and, when any event consumer is
// registered, published events.
func startConsumers(ctx context.Context, c *app.Container) (func(), error) {
	log := Logger()
	var closers []func() error
	closeAll := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("failed to close consumer", "error", err)
			}
		}
	}

	commands := mq.NewCommandConsumer(c.Codec, c.Bus, c.UnitOfWorkFactory, log, c.Metrics)
	commandConsumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL:       c.Config.RabbitMQURL,
		QueueName: c.Config.CommandQueue,
		Handler:   commands.HandleDelivery,
		Logger:    log,
	}, nil)
	if err != nil {
		return nil, err
	}
	closers = append(closers, commandConsumer.Close)
	if err := commandConsumer.Bind(mq.CommandBinding); err != nil {
		closeAll()
		return nil, err
	}
	go consume(ctx, commandConsumer, c.Config.CommandQueue)

	if eventTypes := c.Consumers.GetAllEventTypes(); len(eventTypes) > 0 {
		eventConsumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			URL:       c.Config.RabbitMQURL,
			QueueName: c.Config.EventQueue,
			Logger:    log,
		}, c.Consumers)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, eventConsumer.Close)
		for _, eventType := range eventTypes {
			if err := eventConsumer.Bind(eventType); err != nil {
				closeAll()
				return nil, err
			}
		}
		go consume(ctx, eventConsumer, c.Config.EventQueue)
	}

	return closeAll, nil
}

func consume(ctx context.Context, consumer *eventbus.RabbitMQConsumer, queue string) {
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		Logger().Error("consumer stopped", "queue", queue, "error", err)
	}
}

func newWorkerHealthMux(c *app.Container) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := c.OutboxProcessor.GetStats()
		response := map[string]any{
			"status":            "ok",
			"backlog":           nil,
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"last_processed_at": stats.LastProcessedAt,
			"last_error_at":     stats.LastErrorAt,
			"last_error":        stats.LastError,
		}
		if backlog, err := c.OutboxProcessor.Backlog(r.Context()); err == nil {
			response["backlog"] = backlog
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health := c.Health.GetOverallHealth(checkCtx)

		w.Header().Set("Content-Type", "application/json")
		if health.Status == observability.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	if snap, ok := c.Metrics.(observability.Snapshotter); ok {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap.Snapshot())
		})
	}
	return mux
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
