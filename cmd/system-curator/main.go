// Command system-curator handles the periodic system_monitor tick the
// Orchestrator Root publishes: it reads the configured gputelemetry.Source
// and upserts each sample's utilization/memory/temperature columns onto
// the matching GPUResource row. The concrete telemetry collector (parsing
// nvidia-smi-style CSV output on the HPC host) is an external
// collaborator; this worker only owns the ingestion seam.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"qaorchestrator/internal/bus"
	"qaorchestrator/internal/config"
	"qaorchestrator/internal/gputelemetry"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/storage"
	"qaorchestrator/internal/workerkit"
)

func main() {
	cfg, err := config.Load(os.Getenv("QAORCHESTRATOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting system-curator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RabbitMQ.URL})
	defer redisClient.Close()

	messageBus, err := bus.NewRedisBus(ctx, redisClient, bus.WithConsumerName("system-curator"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message bus")
	}
	defer messageBus.Close()

	var source gputelemetry.Source = gputelemetry.Disabled{}
	if cfg.GPUTelemetry.Source == "static" {
		source = gputelemetry.StaticSource{}
	}

	skeleton := workerkit.New(messageBus, cfg.Queues.SystemCurator, cfg.Queues.Conductor, cfg.Messaging.MaxRetries, 2*time.Second)
	skeleton.Register("system_monitor", func(ctx context.Context, env *bus.Envelope) error {
		samples, err := source.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s", workerkit.ErrRemoteExecution, err)
		}
		for _, sample := range samples {
			if err := store.UpdateGPUTelemetry(ctx, sample.GPUID, sample.UtilizationPct, sample.MemoryUsedMB, sample.TemperatureC); err != nil {
				log.Warn().Err(err).Str("gpu_id", sample.GPUID).Msg("failed to record gpu telemetry")
			}
		}
		return nil
	})

	go func() {
		if err := skeleton.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("system-curator consume loop exited")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down system-curator")
	cancel()
}
