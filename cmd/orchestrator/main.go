// Command orchestrator is the Orchestrator Root: it loads
// configuration, opens the State Store, wires the Message Bus,
// Conductor, and Process Supervisor together, starts the read-only
// status surface, and runs the periodic curator tick until signalled
// to shut down.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"qaorchestrator/internal/archival"
	"qaorchestrator/internal/bus"
	"qaorchestrator/internal/caseevents"
	"qaorchestrator/internal/conductor"
	"qaorchestrator/internal/config"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/metrics"
	"qaorchestrator/internal/remoteshell"
	"qaorchestrator/internal/status"
	"qaorchestrator/internal/storage"
	"qaorchestrator/internal/supervisor"
)

func main() {
	configPath := os.Getenv("QAORCHESTRATOR_CONFIG")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer store.Close()

	if cfg.Logging.StoreSink {
		logger.SetStoreSink(store)
	}

	if len(cfg.HPC.GPUIDs) > 0 {
		if err := store.SeedGPUs(ctx, cfg.HPC.GPUIDs); err != nil {
			log.Fatal().Err(err).Msg("failed to seed gpu resources")
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RabbitMQ.URL})
	defer redisClient.Close()

	messageBus, err := bus.NewRedisBus(ctx, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message bus")
	}
	defer messageBus.Close()

	eventPub := caseevents.NewRedisPub(redisClient)
	defer eventPub.Close()

	conductorCfg := conductor.Config{
		WorkflowSteps:  cfg.Workflows.DefaultQA,
		RemoteCommands: cfg.Conductor.RemoteCommands,
		UploadDir:      cfg.Conductor.RemotePaths.UploadDir,
		DownloadDir:    cfg.Conductor.RemotePaths.DownloadDir,
		RemoteQueue:    cfg.Queues.RemoteExecutor,
		ConductorQueue: cfg.Queues.Conductor,
	}
	// archival.Noop is the only Notifier this repository ships; a real
	// archiver would be selected here based on cfg.Archival.Enabled.
	cond := conductor.New(store, messageBus, conductorCfg, archival.Noop{})
	cond.SetEvents(eventPub)

	local := remoteshell.NewLocal()
	var remote remoteshell.Shell = local
	if cfg.HPC.Host != "" {
		sshShell, err := remoteshell.NewSSH(remoteshell.Config{
			Host:    cfg.HPC.Host,
			Port:    cfg.HPC.Port,
			User:    cfg.HPC.User,
			KeyPath: cfg.HPC.KeyPath,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure remote shell")
		}
		defer sshShell.Close()
		remote = sshShell
	}

	specs := make([]supervisor.ProcessSpec, 0, len(cfg.Processes))
	for name, pc := range cfg.Processes {
		specs = append(specs, supervisor.ProcessSpec{
			Name:        name,
			Command:     pc.Command,
			Remote:      pc.Remote,
			Host:        pc.Host,
			RestartBase: pc.RestartBase,
			RestartCap:  pc.RestartCap,
			MaxRestarts: pc.MaxRestarts,
		})
	}
	sup := supervisor.New(store, local, remote, specs)

	if err := sup.Adopt(ctx); err != nil {
		log.Error().Err(err).Msg("process adoption failed, continuing with fresh starts")
	}
	if err := sup.StartAll(ctx); err != nil {
		log.Error().Err(err).Msg("one or more supervised processes failed to start")
	}

	go func() {
		if err := messageBus.Consume(ctx, cfg.Queues.Conductor, cond.Handle); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("conductor consume loop exited")
		}
	}()

	monitorInterval := time.Duration(cfg.Curator.MonitorIntervalSec) * time.Second
	if monitorInterval <= 0 {
		monitorInterval = 60 * time.Second
	}
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sup.HealthProbe(ctx)
				if err := messageBus.Publish(ctx, cfg.Queues.SystemCurator, "system_monitor", struct{}{}, "", 0); err != nil {
					log.Warn().Err(err).Msg("failed to publish system_monitor tick")
				}
			}
		}
	}()

	statusCfg := status.Config{
		Addr:        cfg.Status.Addr,
		AuthEnabled: cfg.Status.AuthEnabled,
		JWTSecret:   cfg.Status.JWTSecret,
		APIKeys:     cfg.Status.APIKeys,
		RateLimit:   cfg.Status.RateLimitRPS,
	}
	queueNames := []string{cfg.Queues.Conductor, cfg.Queues.RemoteExecutor, cfg.Queues.FileTransfer, cfg.Queues.SystemCurator}
	statusServer := status.NewServer(statusCfg, store, sup, messageBus, queueNames, eventPub)
	statusServer.Start(ctx)

	httpServer := &http.Server{Addr: statusCfg.Addr, Handler: statusServer}
	go func() {
		log.Info().Str("addr", statusCfg.Addr).Msg("status api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status api server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down orchestrator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	statusServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status api shutdown error")
	}
	sup.StopAll(shutdownCtx)

	log.Info().Msg("orchestrator stopped")
}
