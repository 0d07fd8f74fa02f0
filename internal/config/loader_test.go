package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 50.0, cfg.Server.RateLimitRPS)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "structured", cfg.Logging.Profile)

	assert.Equal(t, "data/costscope.db", cfg.Store.Path)

	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.StageTimeout)
	assert.Equal(t, 3, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.LockTimeout)
	assert.Equal(t, "lease", cfg.Orchestrator.LockBackend)

	assert.Equal(t, 60*time.Second, cfg.Stages.RequestTimeout)
	assert.Equal(t, "data/artifacts", cfg.Stages.ArtifactDir)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "costscope.yaml")
	doc := `server:
  port: 9090
  rate_limit_rps: 10
store:
  path: /var/lib/costscope/runs.db
orchestrator:
  stage_timeout: 5m
  max_attempts: 5
  lock_backend: memory
stages:
  planning_endpoint: http://planner:8081
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.Server.RateLimitRPS)
	assert.Equal(t, "/var/lib/costscope/runs.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.StageTimeout)
	assert.Equal(t, 5, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, "memory", cfg.Orchestrator.LockBackend)
	assert.Equal(t, "http://planner:8081", cfg.Stages.PlanningEndpoint)

	// Unset keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("COSTSCOPE_SERVER_PORT", "7070")
	t.Setenv("COSTSCOPE_LOGGING_LEVEL", "debug")

	// Keys without defaults must resolve from the environment too.
	t.Setenv("COSTSCOPE_STAGES_PLANNING_ENDPOINT", "http://planner:8081")
	t.Setenv("COSTSCOPE_PROJECT_BUCKET", "tf-archives")
	t.Setenv("COSTSCOPE_PROJECT_FORCE_PATH_STYLE", "true")

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://planner:8081", cfg.Stages.PlanningEndpoint)
	assert.Equal(t, "tf-archives", cfg.Project.Bucket)
	assert.True(t, cfg.Project.ForcePathStyle)
}

func TestLoadRuntimeOverridesWin(t *testing.T) {
	cfg, err := Load(context.Background(), "", map[string]any{
		"logging": map[string]any{"level": "warn"},
	})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingConfigFileIsFatalWhenExplicit(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty store path",
			mutate:  func(c *Config) { c.Store.Path = " " },
			wantErr: "store.path",
		},
		{
			name:    "unknown lock backend",
			mutate:  func(c *Config) { c.Orchestrator.LockBackend = "zookeeper" },
			wantErr: "lock backend",
		},
		{
			name:    "non-positive max attempts",
			mutate:  func(c *Config) { c.Orchestrator.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name: "lease ttl shorter than stage timeout",
			mutate: func(c *Config) {
				c.Orchestrator.LeaseTTL = time.Minute
				c.Orchestrator.StageTimeout = time.Hour
			},
			wantErr: "lease_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(context.Background(), "")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
