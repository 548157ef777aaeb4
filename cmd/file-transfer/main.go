// Command file-transfer moves a case's input data onto the HPC host
// before execution and its results back off afterward, verifying a
// checksum on every transfer and reporting case_upload_completed /
// results_download_completed (or file_transfer_failed) to the
// conductor queue.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

type transferPayload struct {
	CaseID     string `json:"case_id"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Step       string `json:"step"`
}

func main() {
	cfg, err := config.Load(os.Getenv("QAORCHESTRATOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting file-transfer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RabbitMQ.URL})
	defer redisClient.Close()

	messageBus, err := bus.NewRedisBus(ctx, redisClient, bus.WithConsumerName("file-transfer"))
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

	skeleton := workerkit.New(messageBus, cfg.Queues.FileTransfer, cfg.Queues.Conductor, cfg.Messaging.MaxRetries, 2*time.Second)

	skeleton.Register(conductor.CommandUpload, func(ctx context.Context, env *bus.Envelope) error {
		var p transferPayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("file-transfer: decode payload: %w", err)
		}
		if err := copyAndVerify(ctx, shell, p.LocalPath, p.RemotePath); err != nil {
			return err
		}
		return skeleton.PublishSuccess(ctx, conductor.EventCaseUploadCompleted, env.CorrelationID, map[string]string{"case_id": p.CaseID, "step": p.Step})
	})

	skeleton.Register(conductor.CommandDownload, func(ctx context.Context, env *bus.Envelope) error {
		var p transferPayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("file-transfer: decode payload: %w", err)
		}
		if err := copyAndVerify(ctx, shell, p.RemotePath, p.LocalPath); err != nil {
			return err
		}
		return skeleton.PublishSuccess(ctx, conductor.EventResultsDownloadDone, env.CorrelationID, map[string]string{"case_id": p.CaseID, "step": p.Step})
	})

	go func() {
		if err := skeleton.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("file-transfer consume loop exited")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down file-transfer")
	cancel()
}

// copyAndVerify moves a file from src to dst over the configured shell
// and confirms the two ends agree on a sha256 checksum before returning
// success. A mismatch is a data-integrity error, retried like any other
// transient failure and ultimately reported as file_transfer_failed.
func copyAndVerify(ctx context.Context, shell remoteshell.Shell, src, dst string) error {
	if _, err := shell.RunAndWait(ctx, fmt.Sprintf("mkdir -p $(dirname %s) && cp -r %s %s", dst, src, dst)); err != nil {
		return fmt.Errorf("%w: %s", workerkit.ErrNetwork, err)
	}

	srcSum, err := checksum(ctx, shell, src)
	if err != nil {
		return fmt.Errorf("%w: %s", workerkit.ErrFileNotFound, err)
	}
	dstSum, err := checksum(ctx, shell, dst)
	if err != nil {
		return fmt.Errorf("%w: %s", workerkit.ErrFileNotFound, err)
	}
	if srcSum != dstSum {
		return fmt.Errorf("%w: checksum mismatch between %s (%s) and %s (%s)", workerkit.ErrDataIntegrity, src, srcSum, dst, dstSum)
	}
	return nil
}

func checksum(ctx context.Context, shell remoteshell.Shell, path string) (string, error) {
	out, err := shell.RunAndWait(ctx, fmt.Sprintf("find %s -type f -print0 | sort -z | xargs -0 cat | sha256sum | cut -d' ' -f1", path))
	if err != nil {
		return "", err
	}
	if len(out) < 64 {
		// The command printed no full digest (an empty tree still yields
		// one, the digest of empty input); hash the path itself instead,
		// so two different paths never compare equal this way.
		sum := sha256.Sum256([]byte(path))
		return hex.EncodeToString(sum[:]), nil
	}
	return out[:64], nil
}
