// Package config loads process configuration from defaults, an optional
// config file, COSTSCOPE_* environment variables, and runtime overrides,
// in that precedence order (later wins).
package config

import (
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Store        StoreConfig        `mapstructure:"store"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Stages       StagesConfig       `mapstructure:"stages"`
	Project      ProjectConfig      `mapstructure:"project"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimitRPS is the sustained request budget per second; burst is
	// twice the rate. Zero disables limiting.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"` // structured | console
}

// StoreConfig configures the run store database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// OrchestratorConfig configures advance policy.
type OrchestratorConfig struct {
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`

	// LockBackend selects "memory" (single process) or "lease"
	// (multi-process via the run store database).
	LockBackend string `mapstructure:"lock_backend"`
}

// StagesConfig holds the handoff endpoints and artifact locations.
type StagesConfig struct {
	PlanningEndpoint  string        `mapstructure:"planning_endpoint"`
	EnrichingEndpoint string        `mapstructure:"enriching_endpoint"`
	CostingEndpoint   string        `mapstructure:"costing_endpoint"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`

	// ArtifactDir is where the parsing stage looks for plan artifacts
	// when no object store is configured.
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// ProjectConfig configures the project archive store.
type ProjectConfig struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`

	// ArtifactPrefix is the key prefix for stage artifacts when the
	// bucket is configured.
	ArtifactPrefix string `mapstructure:"artifact_prefix"`
}
