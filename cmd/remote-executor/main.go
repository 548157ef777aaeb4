// Command remote-executor runs the dose-calculation/verification
// commands the Conductor dispatches, on whichever shell (local or HPC
// SSH session) the deployment configures, and reports the outcome back
// to the conductor queue.
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
	"qaorchestrator/internal/conductor"
	"qaorchestrator/internal/config"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/remoteshell"
	"qaorchestrator/internal/workerkit"
)

type executePayload struct {
	CaseID  string `json:"case_id"`
	Command string `json:"command"`
	GPUID   string `json:"gpu_id"`
	Step    string `json:"step"`
}

func main() {
	cfg, err := config.Load(os.Getenv("QAORCHESTRATOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting remote-executor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RabbitMQ.URL})
	defer redisClient.Close()

	messageBus, err := bus.NewRedisBus(ctx, redisClient, bus.WithConsumerName("remote-executor"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message bus")
	}
	defer messageBus.Close()

	var shell remoteshell.Shell = remoteshell.NewLocal()
	if cfg.HPC.Host != "" {
		sshShell, err := remoteshell.NewSSH(remoteshell.Config{
			Host: cfg.HPC.Host, Port: cfg.HPC.Port, User: cfg.HPC.User, KeyPath: cfg.HPC.KeyPath,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure remote shell")
		}
		defer sshShell.Close()
		shell = sshShell
	}

	skeleton := workerkit.New(messageBus, cfg.Queues.RemoteExecutor, cfg.Queues.Conductor, cfg.Messaging.MaxRetries, 2*time.Second)
	skeleton.Register(conductor.CommandExecute, func(ctx context.Context, env *bus.Envelope) error {
		var p executePayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("remote-executor: decode payload: %w", err)
		}

		if _, err := shell.RunAndWait(ctx, p.Command); err != nil {
			return fmt.Errorf("%w: %s", workerkit.ErrRemoteExecution, err)
		}

		return skeleton.PublishSuccess(ctx, conductor.EventExecutionSucceeded, env.CorrelationID, map[string]string{"case_id": p.CaseID, "step": p.Step})
	})

	go func() {
		if err := skeleton.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("remote-executor consume loop exited")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down remote-executor")
	cancel()
}
