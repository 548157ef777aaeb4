// Package config loads the orchestrator's configuration via viper,
// grounded on the teacher's layered defaults-then-file-then-env pattern.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Queues     QueuesConfig
	Workflows  WorkflowsConfig
	Conductor  ConductorConfig
	Curator    CuratorConfig
	Processes  map[string]ProcessConfig
	HPC        HPCConfig
	Messaging  MessagingConfig
	Status     StatusConfig
	GPUTelemetry GPUTelemetryConfig
	Archival   ArchivalConfig
	Logging    LoggingConfig
}

// DatabaseConfig names the State Store's single file.
type DatabaseConfig struct {
	Path string
}

// RabbitMQConfig carries the broker connection string. Per DESIGN.md's
// Open Question resolution, this is a Redis address even though the key
// is named for the original broker.
type RabbitMQConfig struct {
	URL string
}

// QueuesConfig names the queues the Conductor consumes/produces on.
type QueuesConfig struct {
	Conductor      string
	RemoteExecutor string
	FileTransfer   string
	SystemCurator  string
}

// WorkflowsConfig lists the ordered workflow steps per workflow name.
type WorkflowsConfig struct {
	DefaultQA []string
}

// ConductorConfig carries the remote path templates and per-step remote
// command templates the Advance algorithm formats.
type ConductorConfig struct {
	RemoteCommands map[string]string
	RemotePaths    RemotePathsConfig
}

type RemotePathsConfig struct {
	UploadDir   string
	DownloadDir string
}

// CuratorConfig controls the periodic system_monitor tick.
type CuratorConfig struct {
	MonitorIntervalSec int
}

// ProcessConfig describes one supervised worker process.
type ProcessConfig struct {
	Command      string
	Args         []string
	Remote       bool
	Host         string
	RestartBase  time.Duration
	RestartCap   time.Duration
	MaxRestarts  int
}

// HPCConfig carries the remote-shell connection parameters for remote
// process spawning and health probing.
type HPCConfig struct {
	Host         string
	Port         int
	User         string
	KeyPath      string
	KnownHostsPath string
	GPUIDs       []string
}

// MessagingConfig controls the app-level retry-until-DLQ policy.
type MessagingConfig struct {
	MaxRetries int
}

// StatusConfig controls the ambient read-only status HTTP surface.
type StatusConfig struct {
	Addr         string
	AuthEnabled  bool
	JWTSecret    string
	APIKeys      []string
	RateLimitRPS int
}

// GPUTelemetryConfig selects which gputelemetry.Source implementation the
// system-curator worker constructs.
type GPUTelemetryConfig struct {
	Source string
}

// ArchivalConfig controls whether a no-op archival.Notifier is wired in.
type ArchivalConfig struct {
	Enabled bool
}

type LoggingConfig struct {
	Level     string
	StoreSink bool
}

// Load reads configuration from the given path (if non-empty), layering
// over built-in defaults and QAORCHESTRATOR_-prefixed environment
// overrides, exactly as the teacher's config.Load does.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/qaorchestrator")
	}

	setDefaults(v)

	v.SetEnvPrefix("QAORCHESTRATOR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./qaorchestrator.db")

	v.SetDefault("rabbitmq.url", "localhost:6379")

	v.SetDefault("queues.conductor", "conductor")
	v.SetDefault("queues.remoteexecutor", "remote-executor")
	v.SetDefault("queues.filetransfer", "file-transfer")
	v.SetDefault("queues.systemcurator", "system-curator")

	v.SetDefault("workflows.defaultqa", []string{})

	v.SetDefault("conductor.remotecommands", map[string]string{})
	v.SetDefault("conductor.remotepaths.uploaddir", "/data/upload")
	v.SetDefault("conductor.remotepaths.downloaddir", "/data/download")

	v.SetDefault("curator.monitorintervalsec", 60)

	v.SetDefault("hpc.port", 22)
	v.SetDefault("hpc.gpuids", []string{})

	v.SetDefault("messaging.maxretries", 3)

	v.SetDefault("status.addr", ":8088")
	v.SetDefault("status.authenabled", false)
	v.SetDefault("status.ratelimitrps", 0)

	v.SetDefault("gputelemetry.source", "disabled")

	v.SetDefault("archival.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.storesink", false)
}
