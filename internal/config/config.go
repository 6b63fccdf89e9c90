package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stanstork/stratum-dq/internal/archive"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/notification"
	"github.com/stanstork/stratum-dq/internal/probe"
	"github.com/stanstork/stratum-dq/internal/temporal"
)

const (
	DispatchWorker   = "worker"
	DispatchTemporal = "temporal"
)

type EngineConfig struct {
	Container   string        `mapstructure:"container"`
	Bin         string        `mapstructure:"bin"`
	WorkDir     string        `mapstructure:"work_dir"`
	ContextRoot string        `mapstructure:"context_root"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// CheckpointTimeout bounds the checkpoint run, the only long engine step.
	CheckpointTimeout time.Duration `mapstructure:"checkpoint_timeout"`
	BatchLimit        int           `mapstructure:"batch_limit"`
}

type SSHConfig struct {
	probe.SSHConfig   `mapstructure:",squash"`
	IntrospectColumns bool `mapstructure:"introspect_columns"`
}

type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LocalDir selects the filesystem store instead of S3.
	LocalDir       string `mapstructure:"local_dir"`
	archive.Config `mapstructure:",squash"`
}

type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type RateLimitConfig struct {
	SubmitPerSecond float64 `mapstructure:"submit_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// NotificationConfig enables job completion emails when smtp_host is set.
type NotificationConfig struct {
	notification.EmailConfig `mapstructure:",squash"`
	NotifyOn                 []string `mapstructure:"notify_on"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Config struct {
	DatabaseURL    string             `mapstructure:"database_url"`
	ServerPort     string             `mapstructure:"server_port"`
	LogLevel       string             `mapstructure:"log_level"`
	AllowedOrigins []string           `mapstructure:"allowed_origins"`
	EncryptionKey  string             `mapstructure:"encryption_key"`
	DispatchMode   string             `mapstructure:"dispatch_mode"`
	Auth           AuthConfig         `mapstructure:"auth"`
	Engine         EngineConfig       `mapstructure:"engine"`
	SSH            SSHConfig          `mapstructure:"ssh"`
	Archive        ArchiveConfig      `mapstructure:"archive"`
	Temporal       temporal.Config    `mapstructure:"temporal"`
	Worker         WorkerConfig       `mapstructure:"worker"`
	RateLimit      RateLimitConfig    `mapstructure:"rate_limit"`
	Notifications  NotificationConfig `mapstructure:"notifications"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("encryption_key", "")
	v.SetDefault("dispatch_mode", DispatchWorker)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("engine.container", "dq-engine")
	v.SetDefault("engine.bin", "dq-engine")
	v.SetDefault("engine.work_dir", "/tmp/dq")
	v.SetDefault("engine.context_root", "/opt/dq/context")
	v.SetDefault("engine.step_timeout", 2*time.Minute)
	v.SetDefault("engine.checkpoint_timeout", 30*time.Minute)
	v.SetDefault("engine.batch_limit", 0)

	v.SetDefault("ssh.timeout", 10*time.Second)
	v.SetDefault("ssh.known_hosts_file", "")
	v.SetDefault("ssh.max_file_bytes", int64(64<<20))
	v.SetDefault("ssh.introspect_columns", true)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.bucket", "dq-checkpoints")
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("archive.region", "")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", temporal.TaskQueueName)
	v.SetDefault("temporal.activity_timeout", temporal.DefaultActivityTimeout)

	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("rate_limit.submit_per_second", 0.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("notifications.smtp_host", "")
	v.SetDefault("notifications.smtp_port", 587)
	v.SetDefault("notifications.from", "")
	v.SetDefault("notifications.username", "")
	v.SetDefault("notifications.password", "")
	v.SetDefault("notifications.recipients", []string{})
	v.SetDefault("notifications.notify_on", []string{"COMPLETED", "ERROR"})
}

// Load reads config.yaml from the given directories (default "." and
// "./config") and applies DQ_ prefixed environment overrides, e.g.
// DQ_ENGINE_CHECKPOINT_TIMEOUT=45m. A missing file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "database_url must be set")
	}
	if c.EncryptionKey == "" {
		problems = append(problems, "encryption_key must be set")
	}
	switch c.DispatchMode {
	case DispatchWorker, DispatchTemporal:
	default:
		problems = append(problems, fmt.Sprintf("dispatch_mode %q must be %q or %q", c.DispatchMode, DispatchWorker, DispatchTemporal))
	}
	if c.Archive.Enabled && c.Archive.LocalDir == "" && c.Archive.Endpoint == "" {
		problems = append(problems, "archive.endpoint or archive.local_dir must be set when the archive is enabled")
	}
	for _, s := range c.Notifications.NotifyOn {
		if st := models.JobStatus(strings.ToUpper(s)); !st.Terminal() {
			problems = append(problems, fmt.Sprintf("notifications.notify_on %q is not a terminal status", s))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NotifyStatuses returns the configured notification statuses.
func (c NotificationConfig) NotifyStatuses() []models.JobStatus {
	out := make([]models.JobStatus, 0, len(c.NotifyOn))
	for _, s := range c.NotifyOn {
		out = append(out, models.JobStatus(strings.ToUpper(s)))
	}
	return out
}
