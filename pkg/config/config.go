package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
	"github.com/cuemby/rollout/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Config holds process-wide settings read from the environment
type Config struct {
	DataDir     string `env:"ROLLOUT_DATA_DIR" envDefault:"/var/lib/rollout"`
	LogLevel    string `env:"ROLLOUT_LOG_LEVEL" envDefault:"info"`
	LogJSON     bool   `env:"ROLLOUT_LOG_JSON" envDefault:"false"`
	MetricsAddr string `env:"ROLLOUT_METRICS_ADDR" envDefault:":9090"`

	Namespace   string `env:"ROLLOUT_NAMESPACE" envDefault:"default"`
	KubeConfig  string `env:"KUBECONFIG" envDefault:""`
	KubeContext string `env:"ROLLOUT_KUBE_CONTEXT" envDefault:""`
	HelmDriver  string `env:"HELM_DRIVER" envDefault:"secret"`
	HelmWait    bool   `env:"ROLLOUT_HELM_WAIT" envDefault:"true"`
	HistoryMax  int    `env:"ROLLOUT_HISTORY_MAX" envDefault:"10"`

	Interval        time.Duration `env:"ROLLOUT_INTERVAL" envDefault:"30s"`
	ProbeTimeout    time.Duration `env:"ROLLOUT_PROBE_TIMEOUT" envDefault:"5s"`
	ProbePaths      []string      `env:"ROLLOUT_PROBE_PATHS" envDefault:"/health,/ready" envSeparator:","`
	ProbePort       int           `env:"ROLLOUT_PROBE_PORT" envDefault:"8080"`
	ProbeType       string        `env:"ROLLOUT_PROBE_TYPE" envDefault:"http"`
	MaxAttempts     int           `env:"ROLLOUT_MAX_ATTEMPTS" envDefault:"3"`
	MaxRestarts     int           `env:"ROLLOUT_MAX_RESTARTS" envDefault:"5"`
	VerifyChecks    int           `env:"ROLLOUT_VERIFY_CHECKS" envDefault:"3"`
	VerifyInterval  time.Duration `env:"ROLLOUT_VERIFY_INTERVAL" envDefault:"10s"`
	RollbackTimeout time.Duration `env:"ROLLOUT_ROLLBACK_TIMEOUT" envDefault:"5m"`
	Parallelism     int           `env:"ROLLOUT_PROBE_PARALLELISM" envDefault:"10"`

	RetrySteps  int           `env:"ROLLOUT_RETRY_STEPS" envDefault:"5"`
	RetryBase   time.Duration `env:"ROLLOUT_RETRY_BASE" envDefault:"500ms"`
	RetryCap    time.Duration `env:"ROLLOUT_RETRY_CAP" envDefault:"30s"`
	CallTimeout time.Duration `env:"ROLLOUT_CALL_TIMEOUT" envDefault:"30s"`

	// RedisAddr enables the Redis lineage lock; empty uses an in-process lock
	RedisAddr     string        `env:"ROLLOUT_REDIS_ADDR" envDefault:""`
	RedisPassword string        `env:"ROLLOUT_REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"ROLLOUT_REDIS_DB" envDefault:"0"`
	LockTTL       time.Duration `env:"ROLLOUT_LOCK_TTL" envDefault:"10m"`
}

// Load parses the environment into a Config
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable zero value
func (c *Config) Validate() error {
	switch {
	case c.RetrySteps < 1:
		return fmt.Errorf("ROLLOUT_RETRY_STEPS must be at least 1")
	case c.MaxAttempts < 1:
		return fmt.Errorf("ROLLOUT_MAX_ATTEMPTS must be at least 1")
	case c.ProbeType != "http" && c.ProbeType != "tcp":
		return fmt.Errorf("ROLLOUT_PROBE_TYPE must be http or tcp, got %q", c.ProbeType)
	}
	return nil
}

// Policy returns the policy defaults derived from the environment
func (c *Config) Policy() types.Policy {
	return types.Policy{
		Interval:        c.Interval,
		ProbeTimeout:    c.ProbeTimeout,
		MaxAttempts:     c.MaxAttempts,
		Paths:           c.ProbePaths,
		MaxRestarts:     int32(c.MaxRestarts),
		VerifyChecks:    c.VerifyChecks,
		VerifyInterval:  c.VerifyInterval,
		RollbackTimeout: c.RollbackTimeout,
	}
}

// Backoff returns the retry policy for transient errors
func (c *Config) Backoff() wait.Backoff {
	return wait.Backoff{
		Duration: c.RetryBase,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    c.RetrySteps,
		Cap:      c.RetryCap,
	}
}
