package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Load builds the configuration from defaults, an optional config file
// (path if given, otherwise costscope.yaml in the working directory), the
// COSTSCOPE_* environment, and finally any runtime override maps.
func Load(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = ctx // reserved for future remote config sources

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COSTSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper has already seen, and
	// AllSettings never enumerates env-only keys. Bind every config key
	// explicitly so values without defaults (stage endpoints, project
	// store) are reachable from COSTSCOPE_* variables too.
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetConfigName("costscope")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	decode := func(in, out any) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           out,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		})
		if err != nil {
			return err
		}
		return dec.Decode(in)
	}
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configKeys lists every key Config decodes. Kept in sync with the
// mapstructure tags in config.go.
var configKeys = []string{
	"server.host",
	"server.port",
	"server.read_timeout",
	"server.write_timeout",
	"server.idle_timeout",
	"server.shutdown_timeout",
	"server.rate_limit_rps",

	"logging.level",
	"logging.profile",

	"store.path",

	"orchestrator.stage_timeout",
	"orchestrator.max_attempts",
	"orchestrator.lock_timeout",
	"orchestrator.lease_ttl",
	"orchestrator.lock_backend",

	"stages.planning_endpoint",
	"stages.enriching_endpoint",
	"stages.costing_endpoint",
	"stages.request_timeout",
	"stages.artifact_dir",

	"project.bucket",
	"project.region",
	"project.endpoint",
	"project.profile",
	"project.force_path_style",
	"project.artifact_prefix",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit_rps", 50.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("store.path", "data/costscope.db")

	v.SetDefault("orchestrator.stage_timeout", 10*time.Minute)
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.lock_timeout", 2*time.Second)
	v.SetDefault("orchestrator.lease_ttl", 15*time.Minute)
	v.SetDefault("orchestrator.lock_backend", "lease")

	v.SetDefault("stages.request_timeout", 60*time.Second)
	v.SetDefault("stages.artifact_dir", "data/artifacts")
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("config: store.path is required")
	}
	switch c.Orchestrator.LockBackend {
	case "memory", "lease":
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Orchestrator.LockBackend)
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		return fmt.Errorf("config: orchestrator.max_attempts must be positive")
	}
	if c.Orchestrator.LeaseTTL > 0 && c.Orchestrator.LeaseTTL < c.Orchestrator.StageTimeout {
		return fmt.Errorf("config: orchestrator.lease_ttl must exceed stage_timeout")
	}
	return nil
}
